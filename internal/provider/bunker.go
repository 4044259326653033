package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// BunkerAdapter advertises a bunker:// URI and waits for a client to dial
// in, per spec.md §4.8's bunker start semantics.
type BunkerAdapter struct {
	*baseAdapter
	uri string
}

// NewBunkerAdapter constructs an adapter that will advertise keys.Pubkey and
// secret once started.
func NewBunkerAdapter(relays []string, keys SignerKeys, secret string) *BunkerAdapter {
	return &BunkerAdapter{baseAdapter: newBaseAdapter(relays, keys, secret)}
}

// Start dials every relay and begins listening for kind 24133 events
// addressed to this adapter's pubkey. uri is ignored for bunker mode: the
// URI is derived from our own pubkey, relays, and secret.
func (b *BunkerAdapter) Start(ctx context.Context, _ string) error {
	if err := b.connectRelays(ctx); err != nil {
		return fmt.Errorf("bunker: start: %w", err)
	}
	b.uri = buildBunkerURI(b.keys.Pubkey, b.relays, b.secret)
	return nil
}

// BunkerURI returns the URI clients dial to pair with this session.
func (b *BunkerAdapter) BunkerURI() string {
	return b.uri
}

func buildBunkerURI(pubkey string, relays []string, secret string) string {
	q := url.Values{}
	for _, r := range relays {
		q.Add("relay", r)
	}
	if secret != "" {
		q.Set("secret", secret)
	}
	return fmt.Sprintf("bunker://%s?%s", pubkey, q.Encode())
}

// ParseBunkerURI extracts the host pubkey, relays, and secret from a
// bunker:// URI, the inverse of buildBunkerURI. Exposed for validating
// externally supplied bunker URIs (e.g. resumed from a persisted record).
func ParseBunkerURI(raw string) (pubkey string, relays []string, secret string, err error) {
	if !strings.HasPrefix(raw, "bunker://") {
		return "", nil, "", fmt.Errorf("provider: not a bunker uri: %q", raw)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", nil, "", fmt.Errorf("provider: parse bunker uri: %w", err)
	}
	pubkey = u.Host
	relays = u.Query()["relay"]
	secret = u.Query().Get("secret")
	return pubkey, relays, secret, nil
}
