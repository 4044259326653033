package policy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAutoSignAlwaysSigns(t *testing.T) {
	r := NewRegistry()
	p, ok := r.Resolve("auto-sign")
	require.True(t, ok)
	require.Equal(t, Sign, p.Evaluate(Context{EventKind: KindEncryptedDM}))
	require.Equal(t, Sign, p.Evaluate(Context{EventKind: KindProfileUpdate}))
}

func TestOnlineLoginOnlySignsConnect(t *testing.T) {
	r := NewRegistry()
	p, _ := r.Resolve("online-login")
	require.Equal(t, Sign, p.Evaluate(Context{EventKind: KindConnectRequest}))
	require.Equal(t, Reject, p.Evaluate(Context{EventKind: KindShortTextNote}))
}

func TestLoginAndPublish(t *testing.T) {
	r := NewRegistry()
	p, _ := r.Resolve("login-and-publish")
	require.Equal(t, Sign, p.Evaluate(Context{EventKind: KindConnectRequest}))
	require.Equal(t, Sign, p.Evaluate(Context{EventKind: KindShortTextNote}))
	require.Equal(t, Reject, p.Evaluate(Context{EventKind: KindProfileUpdate}))
	require.Equal(t, Refer, p.Evaluate(Context{EventKind: KindEncryptedDM}))
}

func TestLoginAutoOthersReview(t *testing.T) {
	r := NewRegistry()
	p, _ := r.Resolve("login-auto-others-review")
	require.Equal(t, Sign, p.Evaluate(Context{EventKind: KindConnectRequest}))
	require.Equal(t, Refer, p.Evaluate(Context{EventKind: KindShortTextNote}))
}

func TestReadOnlyAlwaysRejects(t *testing.T) {
	r := NewRegistry()
	p, _ := r.Resolve("read-only")
	require.Equal(t, Reject, p.Evaluate(Context{EventKind: KindConnectRequest}))
}

func TestResolveOrDefaultFallsBack(t *testing.T) {
	r := NewRegistry()
	p := r.ResolveOrDefault("does-not-exist")
	require.Equal(t, r.DefaultID(), p.ID)

	p2 := r.ResolveOrDefault("auto-sign")
	require.Equal(t, "auto-sign", p2.ID)
}

func TestListReturnsAllPolicies(t *testing.T) {
	r := NewRegistry()
	require.Len(t, r.List(), 5)
}
