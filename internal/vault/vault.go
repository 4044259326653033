// Package vault stores long-term Nostr private keys and other secrets
// outside the Metadata Store, behind a narrow get/put/delete interface.
package vault

import (
	"context"
	"errors"
)

// StorageKind identifies which backend actually accepted a secret.
type StorageKind string

const (
	StorageKeyring StorageKind = "native-keyring"
	StorageFile    StorageKind = "encrypted-file"
)

// ErrNotFound is returned by Get when no secret is stored for the account.
var ErrNotFound = errors.New("vault: secret not found")

// Vault stores opaque secrets keyed by an account name (typically a key id).
// Implementations never log secret values.
type Vault interface {
	Put(ctx context.Context, account string, secret string) (StorageKind, error)
	Get(ctx context.Context, account string) (string, error)
	Delete(ctx context.Context, account string) error
}

// Open selects a vault backend for configDir. It probes for a native OS
// keyring first and falls back to an encrypted file on disk when one isn't
// available, which is always the case in a headless daemon deployment.
func Open(configDir string) (Vault, error) {
	kr := newKeyringVault()
	if kr.Probe() {
		return kr, nil
	}
	return newFileVault(configDir)
}
