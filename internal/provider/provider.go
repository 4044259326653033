// Package provider implements the Provider Adapter: a thin façade over the
// Nostr Connect / bunker wire protocol, consumed here the way the daemon's
// teacher codebase consumes go-nostr — as a trusted library for relay
// transport, event signing, and NIP-04 encryption. The adapter's job is
// narrow: normalize every inbound callback into one ProviderEvent stream
// tagged with the owning peer, and expose start/stop/resume/reply.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"
)

// EventKind is the Nostr Connect / NIP-46 transport event kind.
const EventKind = 24133

// ActivityType tags the kind of callback an Adapter emits.
type ActivityType string

const (
	ActivityConnectRequest    ActivityType = "connect-request"
	ActivitySignRequest       ActivityType = "sign-request"
	ActivitySignDecision      ActivityType = "sign-decision"
	ActivityClientConnected   ActivityType = "client-connected"
	ActivityClientDisconnected ActivityType = "client-disconnected"
	ActivityNIP04             ActivityType = "nip04"
	ActivityNIP44             ActivityType = "nip44"
)

// SignRequest is the normalized shape of an inbound "sign_event" call,
// carrying enough to run it through policy evaluation.
type SignRequest struct {
	RequestID string
	Client    string
	Draft     nostr.Event // as submitted by the client, unsigned
}

// ProviderEvent is the single variant stream every callback is normalized
// into, per spec.md's Provider Adapter design.
type ProviderEvent struct {
	Type      ActivityType
	Client    string
	SignReq   *SignRequest // set only when Type == ActivitySignRequest
}

// Adapter is the façade the Session Manager drives. BunkerAdapter and
// NostrConnectAdapter both implement it over one shared baseAdapter.
type Adapter interface {
	Start(ctx context.Context, uri string) error
	Stop(ctx context.Context) error
	BunkerURI() string
	WaitForClient(ctx context.Context) (clientPubkey string, err error)
	ResumeClient(ctx context.Context, clientPubkey, secret string) error
	Reply(ctx context.Context, req SignRequest, signed *nostr.Event, approved bool) error
	Activity() <-chan ProviderEvent
}

// SignerKeys is the minimal key material the adapter needs. The Session
// Manager fetches it from the Vault when it builds the adapter, and the
// adapter keeps it, private key included, for its whole lifetime to
// decrypt requests and sign replies.
type SignerKeys struct {
	Privkey string
	Pubkey  string
}

type baseAdapter struct {
	relays []string
	keys   SignerKeys
	secret string

	mu      sync.Mutex
	conns   []*nostr.Relay
	cancel  context.CancelFunc
	activity chan ProviderEvent

	clientCh chan string
}

func newBaseAdapter(relays []string, keys SignerKeys, secret string) *baseAdapter {
	return &baseAdapter{
		relays:   relays,
		keys:     keys,
		secret:   secret,
		activity: make(chan ProviderEvent, 64),
		clientCh: make(chan string, 1),
	}
}

func (a *baseAdapter) Activity() <-chan ProviderEvent {
	return a.activity
}

func (a *baseAdapter) emit(e ProviderEvent) {
	select {
	case a.activity <- e:
	default: // slow consumer: drop rather than block the relay read loop
	}
}

// connectRelays dials every configured relay and begins reading kind 24133
// events addressed to the signer's pubkey. One goroutine per relay;
// failures to dial a single relay are non-fatal as long as at least one
// relay connects.
func (a *baseAdapter) connectRelays(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	connected := 0
	for _, url := range a.relays {
		relay, err := nostr.RelayConnect(runCtx, url)
		if err != nil {
			continue
		}
		a.mu.Lock()
		a.conns = append(a.conns, relay)
		a.mu.Unlock()
		connected++

		filters := nostr.Filters{{
			Kinds: []int{EventKind},
			Tags:  nostr.TagMap{"p": []string{a.keys.Pubkey}},
		}}
		sub, err := relay.Subscribe(runCtx, filters)
		if err != nil {
			continue
		}
		go a.readLoop(runCtx, sub)
	}
	if connected == 0 {
		cancel()
		return fmt.Errorf("provider: no relay connected out of %d configured", len(a.relays))
	}
	return nil
}

func (a *baseAdapter) readLoop(ctx context.Context, sub *nostr.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			a.handleEvent(ctx, ev)
		}
	}
}

// rpcEnvelope is the JSON-RPC-shaped payload carried, NIP-04 encrypted,
// inside a kind 24133 event's content field.
type rpcEnvelope struct {
	ID     string          `json:"id"`
	Method string          `json:"method,omitempty"`
	Params []string        `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func (a *baseAdapter) handleEvent(ctx context.Context, ev *nostr.Event) {
	shared, err := nip04.ComputeSharedSecret(ev.PubKey, a.keys.Privkey)
	if err != nil {
		return
	}
	plain, err := nip04.Decrypt(ev.Content, shared)
	if err != nil {
		return
	}
	a.emit(ProviderEvent{Type: ActivityNIP04, Client: ev.PubKey})

	var env rpcEnvelope
	if err := json.Unmarshal([]byte(plain), &env); err != nil {
		return
	}

	switch env.Method {
	case "connect":
		a.handleConnect(ctx, ev.PubKey, env)
	case "sign_event":
		a.handleSignEvent(ctx, ev.PubKey, env)
	case "get_public_key":
		a.replyEnvelope(ctx, ev.PubKey, env.ID, fmt.Sprintf("%q", a.keys.Pubkey), "")
	}
}

func (a *baseAdapter) handleConnect(ctx context.Context, client string, env rpcEnvelope) {
	if a.secret != "" && len(env.Params) > 0 && env.Params[0] != a.secret {
		a.replyEnvelope(ctx, client, env.ID, "", "invalid secret")
		return
	}
	a.emit(ProviderEvent{Type: ActivityConnectRequest, Client: client})
	a.replyEnvelope(ctx, client, env.ID, `"ack"`, "")

	select {
	case a.clientCh <- client:
	default:
	}
	a.emit(ProviderEvent{Type: ActivityClientConnected, Client: client})
}

func (a *baseAdapter) handleSignEvent(ctx context.Context, client string, env rpcEnvelope) {
	if len(env.Params) == 0 {
		a.replyEnvelope(ctx, client, env.ID, "", "missing event parameter")
		return
	}
	var draft nostr.Event
	if err := json.Unmarshal([]byte(env.Params[0]), &draft); err != nil {
		a.replyEnvelope(ctx, client, env.ID, "", "malformed event")
		return
	}
	a.emit(ProviderEvent{
		Type:   ActivitySignRequest,
		Client: client,
		SignReq: &SignRequest{
			RequestID: env.ID,
			Client:    client,
			Draft:     draft,
		},
	})
}

// Reply completes a previously emitted sign-request with the signing
// pipeline's decision, encrypting the JSON-RPC response back to the client.
func (a *baseAdapter) Reply(ctx context.Context, req SignRequest, signed *nostr.Event, approved bool) error {
	a.emit(ProviderEvent{Type: ActivitySignDecision, Client: req.Client})

	if !approved || signed == nil {
		return a.replyEnvelope(ctx, req.Client, req.RequestID, "", "request rejected")
	}
	raw, err := json.Marshal(signed)
	if err != nil {
		return fmt.Errorf("provider: encode signed event: %w", err)
	}
	return a.replyEnvelope(ctx, req.Client, req.RequestID, string(raw), "")
}

func (a *baseAdapter) replyEnvelope(ctx context.Context, client, reqID, result, errStr string) error {
	env := rpcEnvelope{ID: reqID, Error: errStr}
	if result != "" {
		env.Result = json.RawMessage(result)
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("provider: encode response envelope: %w", err)
	}

	shared, err := nip04.ComputeSharedSecret(client, a.keys.Privkey)
	if err != nil {
		return fmt.Errorf("provider: compute shared secret: %w", err)
	}
	cipherText, err := nip04.Encrypt(string(body), shared)
	if err != nil {
		return fmt.Errorf("provider: encrypt response: %w", err)
	}

	reply := nostr.Event{
		PubKey:    a.keys.Pubkey,
		CreatedAt: nostr.Now(),
		Kind:      EventKind,
		Tags:      nostr.Tags{{"p", client}},
		Content:   cipherText,
	}
	if err := reply.Sign(a.keys.Privkey); err != nil {
		return fmt.Errorf("provider: sign response: %w", err)
	}

	a.mu.Lock()
	conns := append([]*nostr.Relay(nil), a.conns...)
	a.mu.Unlock()

	var lastErr error
	for _, relay := range conns {
		if err := relay.Publish(ctx, reply); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	if lastErr != nil {
		return fmt.Errorf("provider: publish response: %w", lastErr)
	}
	return nil
}

func (a *baseAdapter) WaitForClient(ctx context.Context) (string, error) {
	select {
	case client := <-a.clientCh:
		return client, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (a *baseAdapter) ResumeClient(ctx context.Context, clientPubkey, secret string) error {
	select {
	case a.clientCh <- clientPubkey:
	default:
	}
	a.emit(ProviderEvent{Type: ActivityClientConnected, Client: clientPubkey})
	return nil
}

func (a *baseAdapter) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, relay := range a.conns {
		relay.Close()
	}
	a.conns = nil
	return nil
}
