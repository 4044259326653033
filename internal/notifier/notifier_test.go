package notifier

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNotifyNoTopicIsNoop(t *testing.T) {
	var called bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	n := New(srv.URL, "", "")
	n.Notify(context.Background(), Task{ID: "t1", SessionAlias: "phone"})

	require.False(t, called)
}

func TestNotifyPostsToTopic(t *testing.T) {
	var gotPath string
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		buf := make([]byte, 1024)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL, "approvals", "https://example.com")
	n.Notify(context.Background(), Task{
		ID:           "task-1",
		SessionAlias: "phone",
		Client:       "abcdef0123456789",
		EventKind:    4,
		PolicyLabel:  "Login + publish",
	})

	require.Equal(t, "/approvals", gotPath)
	require.Contains(t, gotBody, "phone")
	require.Contains(t, gotBody, "abcdef01")
	require.Contains(t, gotBody, "task-1")
}

func TestNotifyFailureDoesNotPanic(t *testing.T) {
	n := New("http://127.0.0.1:1", "approvals", "")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NotPanics(t, func() {
		n.Notify(ctx, Task{ID: "t1", SessionAlias: "phone"})
	})
}
