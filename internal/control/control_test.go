package control

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"

	"github.com/humansinstitute/intercessio/internal/activity"
	"github.com/humansinstitute/intercessio/internal/approval"
	"github.com/humansinstitute/intercessio/internal/keys"
	"github.com/humansinstitute/intercessio/internal/metadata"
	"github.com/humansinstitute/intercessio/internal/notifier"
	"github.com/humansinstitute/intercessio/internal/policy"
	"github.com/humansinstitute/intercessio/internal/provider"
	"github.com/humansinstitute/intercessio/internal/session"
	"github.com/humansinstitute/intercessio/internal/store"
	"github.com/humansinstitute/intercessio/internal/vault"
)

// fakeAdapter is a trimmed copy of the session package's test double: it
// never dials a relay, letting the control plane be exercised end to end
// without real network I/O.
type fakeAdapter struct {
	activityCh chan provider.ProviderEvent
	repliesCh  chan struct{}
	uri        string
	client     string
}

func newFakeAdapter(uri, client string) *fakeAdapter {
	return &fakeAdapter{
		activityCh: make(chan provider.ProviderEvent, 16),
		repliesCh:  make(chan struct{}, 16),
		uri:        uri,
		client:     client,
	}
}

func (f *fakeAdapter) Start(ctx context.Context, uri string) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error               { return nil }
func (f *fakeAdapter) BunkerURI() string                            { return f.uri }
func (f *fakeAdapter) WaitForClient(ctx context.Context) (string, error) {
	return f.client, nil
}
func (f *fakeAdapter) ResumeClient(ctx context.Context, clientPubkey, secret string) error {
	return nil
}
func (f *fakeAdapter) Reply(ctx context.Context, req provider.SignRequest, signed *nostr.Event, approved bool) error {
	f.repliesCh <- struct{}{}
	return nil
}
func (f *fakeAdapter) Activity() <-chan provider.ProviderEvent { return f.activityCh }

func newTestServer(t *testing.T) (*Server, string, string) {
	t.Helper()
	dir := t.TempDir()

	st, err := store.Open("sqlite://" + filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate())
	t.Cleanup(func() { _ = st.Close() })

	md, err := metadata.Open(filepath.Join(dir, "meta"))
	require.NoError(t, err)

	v, err := vault.Open(filepath.Join(dir, "vault"))
	require.NoError(t, err)

	km, err := keys.Generate(context.Background(), v, md, "test-key")
	require.NoError(t, err)

	n := notifier.New("http://127.0.0.1:1", "", "")
	approvals := approval.New(st, n)
	log := activity.New()

	mgr := session.New(st, md, v, policy.NewRegistry(), approvals, log, time.Minute)
	mgr.SetAdapterFactories(
		func(relays []string, keys provider.SignerKeys, secret string) provider.Adapter {
			return newFakeAdapter("bunker://fake", "")
		},
		func(keys provider.SignerKeys) provider.Adapter {
			return newFakeAdapter("", "client-peer")
		},
	)

	socketPath := filepath.Join(dir, "intercessio.sock")
	srv := New(socketPath, mgr, approvals, log, md, v)
	require.NoError(t, srv.Listen())
	go srv.Serve(context.Background())
	t.Cleanup(func() { _ = srv.Close() })

	return srv, socketPath, km.ID
}

func roundTrip(t *testing.T, socketPath string, req map[string]any) response {
	t.Helper()
	conn, err := net.DialTimeout("unix", socketPath, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	body, err := json.Marshal(req)
	require.NoError(t, err)
	body = append(body, '\n')
	_, err = conn.Write(body)
	require.NoError(t, err)

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	require.NoError(t, err)

	var resp response
	require.NoError(t, json.Unmarshal(line, &resp))
	return resp
}

func TestPing(t *testing.T) {
	_, socketPath, _ := newTestServer(t)
	resp := roundTrip(t, socketPath, map[string]any{"type": "ping"})
	require.True(t, resp.OK)
	require.True(t, resp.Pong)
	require.Equal(t, Version, resp.Version)
}

func TestListKeys(t *testing.T) {
	_, socketPath, keyID := newTestServer(t)
	resp := roundTrip(t, socketPath, map[string]any{"type": "list-keys"})
	require.True(t, resp.OK)
	require.Len(t, resp.Keys, 1)
	require.Equal(t, keyID, resp.Keys[0].ID)
	require.Equal(t, "test-key", resp.Keys[0].Label)
}

func TestSelectAndDeleteKey(t *testing.T) {
	_, socketPath, keyID := newTestServer(t)

	resp := roundTrip(t, socketPath, map[string]any{"type": "select-key", "keyId": keyID})
	require.True(t, resp.OK)

	resp = roundTrip(t, socketPath, map[string]any{"type": "select-key", "keyId": "does-not-exist"})
	require.False(t, resp.OK)

	resp = roundTrip(t, socketPath, map[string]any{"type": "delete-key", "keyId": keyID})
	require.True(t, resp.OK)

	resp = roundTrip(t, socketPath, map[string]any{"type": "list-keys"})
	require.True(t, resp.OK)
	require.Empty(t, resp.Keys)
}

func TestUnknownRequest(t *testing.T) {
	_, socketPath, _ := newTestServer(t)
	resp := roundTrip(t, socketPath, map[string]any{"type": "not-a-real-tag"})
	require.False(t, resp.OK)
	require.Equal(t, "Unknown request", resp.Error)
}

func TestStartBunkerThenListSessions(t *testing.T) {
	_, socketPath, keyID := newTestServer(t)

	start := roundTrip(t, socketPath, map[string]any{
		"type":     "start-bunker",
		"keyId":    keyID,
		"alias":    "phone",
		"relays":   []string{"wss://relay.example.com"},
		"template": "auto-sign",
	})
	require.True(t, start.OK)
	require.NotEmpty(t, start.SessionID)
	require.NotEmpty(t, start.BunkerURI)

	list := roundTrip(t, socketPath, map[string]any{"type": "list-sessions"})
	require.True(t, list.OK)
	require.Len(t, list.Sessions, 1)
	require.Equal(t, start.SessionID, list.Sessions[0].ID)
}

func TestSecondListenerFailsAlreadyRunning(t *testing.T) {
	_, socketPath, _ := newTestServer(t)

	second := New(socketPath, nil, nil, nil, nil, nil)
	err := second.Listen()
	require.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestResolveApprovalAcceptsBothShapes(t *testing.T) {
	srv, socketPath, _ := newTestServer(t)

	resp := roundTrip(t, socketPath, map[string]any{"type": "resolve-approval", "id": "missing", "decision": "approve"})
	require.False(t, resp.OK)

	resp = roundTrip(t, socketPath, map[string]any{"type": "resolve-approval", "approvalId": "missing", "approved": true})
	require.False(t, resp.OK)

	_ = srv
}

func TestStopUnknownSession(t *testing.T) {
	_, socketPath, _ := newTestServer(t)
	resp := roundTrip(t, socketPath, map[string]any{"type": "stop-session", "sessionId": "does-not-exist"})
	require.False(t, resp.OK)
}
