package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open("sqlite://" + filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSessionRoundTrip(t *testing.T) {
	s := newTestStore(t)

	rec := SessionRecord{
		ID:          "sess-1",
		Type:        "bunker",
		KeyID:       "key-1",
		Alias:       "phone",
		Relays:      []string{"wss://relay.example.com"},
		Secret:      "shh",
		URI:         "bunker://abc?relay=wss://relay.example.com&secret=shh",
		AutoApprove: true,
		Status:      "waiting",
		CreatedAt:   1000,
		UpdatedAt:   1000,
		Active:      true,
		Template:    "auto-sign",
	}
	require.NoError(t, s.UpsertSession(rec))

	got, err := s.GetSession("sess-1")
	require.NoError(t, err)
	require.Equal(t, rec, got)

	list, err := s.ListSessions(true)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, rec, list[0])

	require.NoError(t, s.UpdateSessionStatus("sess-1", "connected", "peerpub", true, 2000))
	got, err = s.GetSession("sess-1")
	require.NoError(t, err)
	require.Equal(t, "connected", got.Status)
	require.Equal(t, "peerpub", got.LastClient)
	require.Equal(t, int64(2000), got.UpdatedAt)

	require.NoError(t, s.DeleteSession("sess-1"))
	_, err = s.GetSession("sess-1")
	require.ErrorIs(t, err, ErrSessionNotFound)

	// delete of an absent id is a no-op
	require.NoError(t, s.DeleteSession("sess-1"))
}

func TestApprovalTaskRoundTrip(t *testing.T) {
	s := newTestStore(t)

	draft := `{"kind":4,"content":"hi"}`
	task := ApprovalTask{
		ID:           "task-1",
		SessionID:    "sess-1",
		SessionAlias: "phone",
		SessionType:  "bunker",
		Client:       "peerpub",
		EventKind:    4,
		EventSummary: "DM to self",
		PolicyID:     "login-and-publish",
		PolicyLabel:  "Login + publish",
		Draft:        draft,
		CreatedAt:    1000,
		ExpiresAt:    1000 + 10*60*1000,
		Status:       "pending",
	}
	require.NoError(t, s.InsertApprovalTask(task))

	got, err := s.GetApprovalTask("task-1")
	require.NoError(t, err)
	require.Equal(t, task, got)
	require.JSONEq(t, draft, got.Draft)

	pending, err := s.ListApprovalTasks("pending")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, s.UpdateApprovalStatus("task-1", "approved"))
	got, err = s.GetApprovalTask("task-1")
	require.NoError(t, err)
	require.Equal(t, "approved", got.Status)

	pending, err = s.ListApprovalTasks("pending")
	require.NoError(t, err)
	require.Empty(t, pending)

	forSession, err := s.ListApprovalTasksForSession("sess-1")
	require.NoError(t, err)
	require.Len(t, forSession, 1)
}

func TestGetApprovalTaskNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetApprovalTask("missing")
	require.ErrorIs(t, err, ErrApprovalNotFound)
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate())
	require.NoError(t, s.Migrate())
}
