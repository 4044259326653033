package approval

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/humansinstitute/intercessio/internal/notifier"
	"github.com/humansinstitute/intercessio/internal/store"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open("sqlite://" + filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate())
	t.Cleanup(func() { _ = st.Close() })

	n := notifier.New("http://127.0.0.1:1", "", "")
	return New(st, n)
}

func TestCreateAndResolveApprove(t *testing.T) {
	m := newTestManager(t)
	id, decision, err := m.Create(context.Background(), CreateRequest{
		SessionID: "s1", SessionAlias: "phone", SessionType: "bunker",
		Client: "peer", EventKind: 4, PolicyID: "login-and-publish", PolicyLabel: "Login + publish",
		Draft: map[string]any{"kind": 4}, TTL: time.Minute,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.NoError(t, m.Resolve(id, true))

	select {
	case approved := <-decision:
		require.True(t, approved)
	case <-time.After(time.Second):
		t.Fatal("decision never resolved")
	}

	task, err := m.Get(id)
	require.NoError(t, err)
	require.Equal(t, "approved", task.Status)
}

func TestResolveTwiceIsIdempotentNotFound(t *testing.T) {
	m := newTestManager(t)
	id, _, err := m.Create(context.Background(), CreateRequest{
		SessionID: "s1", Draft: map[string]any{}, TTL: time.Minute,
	})
	require.NoError(t, err)

	require.NoError(t, m.Resolve(id, true))
	err = m.Resolve(id, true)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestExpiryResolvesFalse(t *testing.T) {
	m := newTestManager(t)
	id, decision, err := m.Create(context.Background(), CreateRequest{
		SessionID: "s1", Draft: map[string]any{}, TTL: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	select {
	case approved := <-decision:
		require.False(t, approved)
	case <-time.After(time.Second):
		t.Fatal("expiry never resolved")
	}

	task, err := m.Get(id)
	require.NoError(t, err)
	require.Equal(t, "expired", task.Status)
}

func TestRejectForSessionWakesAllPending(t *testing.T) {
	m := newTestManager(t)
	_, d1, err := m.Create(context.Background(), CreateRequest{SessionID: "s1", Draft: map[string]any{}, TTL: time.Minute})
	require.NoError(t, err)
	_, d2, err := m.Create(context.Background(), CreateRequest{SessionID: "s1", Draft: map[string]any{}, TTL: time.Minute})
	require.NoError(t, err)
	_, otherSession, err := m.Create(context.Background(), CreateRequest{SessionID: "s2", Draft: map[string]any{}, TTL: time.Minute})
	require.NoError(t, err)

	require.NoError(t, m.RejectForSession("s1"))

	for _, d := range []<-chan bool{d1, d2} {
		select {
		case approved := <-d:
			require.False(t, approved)
		case <-time.After(time.Second):
			t.Fatal("expected rejection")
		}
	}

	select {
	case <-otherSession:
		t.Fatal("other session's task should not resolve")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRestoreTimersOnBootExpiresPastDue(t *testing.T) {
	m := newTestManager(t)
	past := time.Now().Add(-time.Hour).UnixMilli()
	task := store.ApprovalTask{
		ID: "past-task", SessionID: "s1", Draft: "{}",
		CreatedAt: past - 1000, ExpiresAt: past, Status: "pending",
	}
	require.NoError(t, m.store.InsertApprovalTask(task))

	require.NoError(t, m.RestoreTimersOnBoot())

	got, err := m.Get("past-task")
	require.NoError(t, err)
	require.Equal(t, "expired", got.Status)
}

func TestRestoreTimersOnBootRearmsFutureExpiry(t *testing.T) {
	m := newTestManager(t)
	now := time.Now().UnixMilli()
	task := store.ApprovalTask{
		ID: "future-task", SessionID: "s1", Draft: "{}",
		CreatedAt: now, ExpiresAt: now + 50, Status: "pending",
	}
	require.NoError(t, m.store.InsertApprovalTask(task))
	require.NoError(t, m.RestoreTimersOnBoot())

	time.Sleep(150 * time.Millisecond)

	got, err := m.Get("future-task")
	require.NoError(t, err)
	require.Equal(t, "expired", got.Status)
}

func TestListPending(t *testing.T) {
	m := newTestManager(t)
	_, _, err := m.Create(context.Background(), CreateRequest{SessionID: "s1", Draft: map[string]any{}, TTL: time.Minute})
	require.NoError(t, err)

	pending, err := m.ListPending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
}
