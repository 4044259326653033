// Package keys generates and imports Nostr signing keys, writing the secret
// to the Vault and the derived metadata to the Metadata Store. Generate and
// Import run ahead of the daemon's control-plane surface: key provisioning
// is a setup step, so the CLI calls them directly rather than through an
// IPC request tag. Delete is reached through the control plane's
// delete-key tag.
package keys

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"

	"github.com/humansinstitute/intercessio/internal/metadata"
	"github.com/humansinstitute/intercessio/internal/vault"
)

// Generate creates a new key pair, stores the private key in v, and records
// its metadata in m. label may be empty.
func Generate(ctx context.Context, v vault.Vault, m *metadata.Store, label string) (metadata.KeyMetadata, error) {
	sk := nostr.GeneratePrivateKey()
	return importPrivateKey(ctx, v, m, label, sk)
}

// Import stores an externally supplied hex or nsec-encoded private key.
func Import(ctx context.Context, v vault.Vault, m *metadata.Store, label, secret string) (metadata.KeyMetadata, error) {
	sk := secret
	if prefix, value, err := nip19.Decode(secret); err == nil && prefix == "nsec" {
		sk = value.(string)
	}
	return importPrivateKey(ctx, v, m, label, sk)
}

// Delete removes id's metadata record and its vault entry together, per
// spec.md §3: a key is deleted only on explicit user request, which also
// removes the vault entry. If id was the active key, the active pointer is
// cleared as a side effect of the metadata store's own delete (cleared only
// once no keys remain).
func Delete(ctx context.Context, v vault.Vault, m *metadata.Store, id string) error {
	km, err := m.GetKey(id)
	if err != nil {
		return fmt.Errorf("keys: resolve key %s: %w", id, err)
	}
	if err := v.Delete(ctx, km.VaultAccount); err != nil {
		return fmt.Errorf("keys: remove vault entry: %w", err)
	}
	if err := m.DeleteKey(id); err != nil {
		return fmt.Errorf("keys: remove metadata: %w", err)
	}
	return nil
}

func importPrivateKey(ctx context.Context, v vault.Vault, m *metadata.Store, label, sk string) (metadata.KeyMetadata, error) {
	pubkey, err := nostr.GetPublicKey(sk)
	if err != nil {
		return metadata.KeyMetadata{}, fmt.Errorf("keys: derive public key: %w", err)
	}
	npub, err := nip19.EncodePublicKey(pubkey)
	if err != nil {
		return metadata.KeyMetadata{}, fmt.Errorf("keys: encode npub: %w", err)
	}

	id := uuid.NewString()
	account := "key-" + id
	kind, err := v.Put(ctx, account, sk)
	if err != nil {
		return metadata.KeyMetadata{}, fmt.Errorf("keys: store secret: %w", err)
	}

	km := metadata.KeyMetadata{
		ID:           id,
		Npub:         npub,
		Pubkey:       pubkey,
		Label:        label,
		CreatedAt:    time.Now(),
		VaultAccount: account,
		StorageKind:  string(kind),
	}
	if err := m.PutKey(km); err != nil {
		return metadata.KeyMetadata{}, fmt.Errorf("keys: store metadata: %w", err)
	}
	return km, nil
}
