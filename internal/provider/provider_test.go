package provider

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"
	"github.com/stretchr/testify/require"
)

func mustKeys(t *testing.T) (sk string, pk string) {
	t.Helper()
	sk = nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	require.NoError(t, err)
	return sk, pk
}

func encryptEnvelope(t *testing.T, fromSk, toPk string, env rpcEnvelope) *nostr.Event {
	t.Helper()
	shared, err := nip04.ComputeSharedSecret(toPk, fromSk)
	require.NoError(t, err)
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	ct, err := nip04.Encrypt(string(raw), shared)
	require.NoError(t, err)

	fromPk, err := nostr.GetPublicKey(fromSk)
	require.NoError(t, err)

	ev := &nostr.Event{
		PubKey:    fromPk,
		CreatedAt: nostr.Now(),
		Kind:      EventKind,
		Content:   ct,
	}
	return ev
}

func TestHandleConnectEmitsActivityAndRegistersClient(t *testing.T) {
	signerSk, signerPk := mustKeys(t)
	clientSk, _ := mustKeys(t)

	a := newBaseAdapter(nil, SignerKeys{Privkey: signerSk, Pubkey: signerPk}, "pairing-secret")

	ev := encryptEnvelope(t, clientSk, signerPk, rpcEnvelope{ID: "req-1", Method: "connect", Params: []string{"pairing-secret"}})
	a.handleEvent(context.Background(), ev)

	select {
	case got := <-a.activity:
		require.Equal(t, ActivityNIP04, got.Type)
	case <-time.After(time.Second):
		t.Fatal("expected nip04 activity")
	}

	select {
	case got := <-a.activity:
		require.Equal(t, ActivityConnectRequest, got.Type)
	case <-time.After(time.Second):
		t.Fatal("expected connect-request activity")
	}

	select {
	case got := <-a.activity:
		require.Equal(t, ActivityClientConnected, got.Type)
	case <-time.After(time.Second):
		t.Fatal("expected client-connected activity")
	}

	select {
	case client := <-a.clientCh:
		require.Equal(t, ev.PubKey, client)
	case <-time.After(time.Second):
		t.Fatal("expected client to be registered")
	}
}

func TestHandleConnectRejectsWrongSecret(t *testing.T) {
	signerSk, signerPk := mustKeys(t)
	clientSk, _ := mustKeys(t)

	a := newBaseAdapter(nil, SignerKeys{Privkey: signerSk, Pubkey: signerPk}, "correct-secret")

	ev := encryptEnvelope(t, clientSk, signerPk, rpcEnvelope{ID: "req-1", Method: "connect", Params: []string{"wrong-secret"}})
	a.handleEvent(context.Background(), ev)

	select {
	case got := <-a.activity:
		require.Equal(t, ActivityNIP04, got.Type)
	case <-time.After(time.Second):
		t.Fatal("expected nip04 activity")
	}

	select {
	case got := <-a.activity:
		t.Fatalf("expected no connect-request activity, got %v", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHandleSignEventEmitsSignRequest(t *testing.T) {
	signerSk, signerPk := mustKeys(t)
	clientSk, _ := mustKeys(t)

	a := newBaseAdapter(nil, SignerKeys{Privkey: signerSk, Pubkey: signerPk}, "")

	draft := nostr.Event{Kind: 1, Content: "hi"}
	draftJSON, err := json.Marshal(draft)
	require.NoError(t, err)

	ev := encryptEnvelope(t, clientSk, signerPk, rpcEnvelope{ID: "req-2", Method: "sign_event", Params: []string{string(draftJSON)}})
	a.handleEvent(context.Background(), ev)

	select {
	case got := <-a.activity:
		require.Equal(t, ActivityNIP04, got.Type)
	case <-time.After(time.Second):
		t.Fatal("expected nip04 activity")
	}

	select {
	case got := <-a.activity:
		require.Equal(t, ActivitySignRequest, got.Type)
		require.NotNil(t, got.SignReq)
		require.Equal(t, "req-2", got.SignReq.RequestID)
		require.Equal(t, 1, got.SignReq.Draft.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected sign-request activity")
	}
}

func TestBunkerURIRoundTrip(t *testing.T) {
	uri := buildBunkerURI("abc123", []string{"wss://relay.one", "wss://relay.two"}, "s3cr3t")
	pubkey, relays, secret, err := ParseBunkerURI(uri)
	require.NoError(t, err)
	require.Equal(t, "abc123", pubkey)
	require.ElementsMatch(t, []string{"wss://relay.one", "wss://relay.two"}, relays)
	require.Equal(t, "s3cr3t", secret)
}

func TestParseNostrConnectURI(t *testing.T) {
	client, relays, secret, err := ParseNostrConnectURI("nostrconnect://clientpub?relay=wss://relay.one&secret=xyz")
	require.NoError(t, err)
	require.Equal(t, "clientpub", client)
	require.Equal(t, []string{"wss://relay.one"}, relays)
	require.Equal(t, "xyz", secret)
}
