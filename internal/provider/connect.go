package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// NostrConnectAdapter dials a client-supplied nostrconnect:// URI. Pairing
// completes during Start: the client's pubkey and relay set are read from
// the URI itself rather than discovered from an inbound connect event.
type NostrConnectAdapter struct {
	*baseAdapter
	uri string
}

// NewNostrConnectAdapter constructs an adapter that will dial the URI
// passed to Start.
func NewNostrConnectAdapter(keys SignerKeys) *NostrConnectAdapter {
	return &NostrConnectAdapter{baseAdapter: newBaseAdapter(nil, keys, "")}
}

// Start parses uri (nostrconnect://<client-pubkey>?relay=...&secret=...),
// binds to its relays, and registers the client as already connected.
func (n *NostrConnectAdapter) Start(ctx context.Context, uri string) error {
	client, relays, secret, err := ParseNostrConnectURI(uri)
	if err != nil {
		return fmt.Errorf("nostr-connect: start: %w", err)
	}
	n.uri = uri
	n.relays = relays
	n.secret = secret

	if err := n.connectRelays(ctx); err != nil {
		return fmt.Errorf("nostr-connect: start: %w", err)
	}

	select {
	case n.clientCh <- client:
	default:
	}
	n.emit(ProviderEvent{Type: ActivityClientConnected, Client: client})
	return nil
}

// BunkerURI is unused in nostr-connect mode; it returns the client-supplied
// URI for display purposes only.
func (n *NostrConnectAdapter) BunkerURI() string {
	return n.uri
}

// ParseNostrConnectURI extracts the client pubkey, relay set, and optional
// secret from a nostrconnect:// URI.
func ParseNostrConnectURI(raw string) (clientPubkey string, relays []string, secret string, err error) {
	if !strings.HasPrefix(raw, "nostrconnect://") {
		return "", nil, "", fmt.Errorf("provider: not a nostrconnect uri: %q", raw)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", nil, "", fmt.Errorf("provider: parse nostrconnect uri: %w", err)
	}
	clientPubkey = u.Host
	relays = u.Query()["relay"]
	secret = u.Query().Get("secret")
	return clientPubkey, relays, secret, nil
}
