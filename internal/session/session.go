// Package session implements the Session Manager: the coordinator that
// creates, resumes, mutates, and destroys runtime pairing sessions, binds
// each to a Provider Adapter, a policy reference, and a key, and routes
// provider callbacks through policy evaluation and the approval flow.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nbd-wtf/go-nostr"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/humansinstitute/intercessio/internal/activity"
	"github.com/humansinstitute/intercessio/internal/approval"
	"github.com/humansinstitute/intercessio/internal/metadata"
	"github.com/humansinstitute/intercessio/internal/policy"
	"github.com/humansinstitute/intercessio/internal/provider"
	"github.com/humansinstitute/intercessio/internal/store"
	"github.com/humansinstitute/intercessio/internal/vault"
)

// ErrSessionNotFound mirrors the control plane's NotFound taxonomy entry.
var ErrSessionNotFound = errors.New("session: not found")

// ErrUnknownPolicy is returned only when a policy id is selected explicitly
// (update_template); implicit fallback on load never returns this.
var ErrUnknownPolicy = errors.New("session: unknown policy")

// ErrNoActiveKey is returned by StartBunker/StartNostrConnect when no keyID
// is supplied and the Metadata Store has no active key pointer set.
var ErrNoActiveKey = errors.New("session: no key specified and no active key selected")

// Runtime is the in-memory handle for one active pairing session.
type Runtime struct {
	mu       sync.Mutex
	record   store.SessionRecord
	provider provider.Adapter
	policy   atomic.Pointer[policy.Policy]
	cancel   context.CancelFunc
}

func (r *Runtime) currentPolicy() policy.Policy {
	return *r.policy.Load()
}

func (r *Runtime) snapshot() store.SessionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.record
}

// Manager is the Session Manager singleton.
type Manager struct {
	store       *store.Store
	metadata    *metadata.Store
	vault       vault.Vault
	policies    *policy.Registry
	approvals   *approval.Manager
	activityLog *activity.Log
	approvalTTL time.Duration

	runtimes   *xsync.MapOf[string, *Runtime]
	writeLocks *xsync.MapOf[string, *sync.Mutex]

	// newBunkerAdapter / newNostrConnectAdapter are factory seams so tests
	// can substitute a fake Provider Adapter instead of dialing real relays.
	// Production callers never override them.
	newBunkerAdapter       func(relays []string, keys provider.SignerKeys, secret string) provider.Adapter
	newNostrConnectAdapter func(keys provider.SignerKeys) provider.Adapter
}

// New constructs a Session Manager over its collaborators.
func New(
	st *store.Store,
	md *metadata.Store,
	v vault.Vault,
	policies *policy.Registry,
	approvals *approval.Manager,
	activityLog *activity.Log,
	approvalTTL time.Duration,
) *Manager {
	return &Manager{
		store:       st,
		metadata:    md,
		vault:       v,
		policies:    policies,
		approvals:   approvals,
		activityLog: activityLog,
		approvalTTL: approvalTTL,
		runtimes:    xsync.NewMapOf[string, *Runtime](),
		writeLocks:  xsync.NewMapOf[string, *sync.Mutex](),
		newBunkerAdapter: func(relays []string, keys provider.SignerKeys, secret string) provider.Adapter {
			return provider.NewBunkerAdapter(relays, keys, secret)
		},
		newNostrConnectAdapter: func(keys provider.SignerKeys) provider.Adapter {
			return provider.NewNostrConnectAdapter(keys)
		},
	}
}

// SetAdapterFactories overrides the Provider Adapter constructors used by
// StartBunker/StartNostrConnect/RestoreOnBoot. Exposed for tests that need
// to drive the signing pipeline without dialing real relays; production
// callers never need it.
func (m *Manager) SetAdapterFactories(
	newBunkerAdapter func(relays []string, keys provider.SignerKeys, secret string) provider.Adapter,
	newNostrConnectAdapter func(keys provider.SignerKeys) provider.Adapter,
) {
	m.newBunkerAdapter = newBunkerAdapter
	m.newNostrConnectAdapter = newNostrConnectAdapter
}

func (m *Manager) writeLock(sessionID string) *sync.Mutex {
	lock, _ := m.writeLocks.LoadOrCompute(sessionID, func() *sync.Mutex { return &sync.Mutex{} })
	return lock
}

// List reads sessions directly from the Session Store.
func (m *Manager) List(activeOnly bool) ([]store.SessionRecord, error) {
	return m.store.ListSessions(activeOnly)
}

// StartBunker creates a new bunker-mode session: it resolves the signing
// key and policy, starts the provider so it begins listening on relays,
// reads back the bunker URI it derives, and then persists a waiting
// SessionRecord carrying that URI.
func (m *Manager) StartBunker(
	ctx context.Context,
	keyID, alias string,
	relays []string,
	secret string,
	autoApprove bool,
	template string,
) (sessionID, bunkerURI string, err error) {
	keyID, err = m.resolveKeyID(keyID)
	if err != nil {
		return "", "", err
	}
	relays, err = NormalizeRelays(relays)
	if err != nil {
		return "", "", fmt.Errorf("session: normalize relays: %w", err)
	}

	keys, err := m.signerKeysFor(ctx, keyID)
	if err != nil {
		return "", "", err
	}

	if secret == "" {
		secret, err = randomSecret()
		if err != nil {
			return "", "", fmt.Errorf("session: generate pairing secret: %w", err)
		}
	}

	pol := m.policies.ResolveOrDefault(template)
	now := time.Now().UnixMilli()
	rec := store.SessionRecord{
		ID:          newSessionID(),
		Type:        "bunker",
		KeyID:       keyID,
		Alias:       alias,
		Relays:      relays,
		Secret:      secret,
		AutoApprove: autoApprove,
		Status:      "waiting",
		CreatedAt:   now,
		UpdatedAt:   now,
		Active:      true,
		Template:    pol.ID,
	}

	adapter := m.newBunkerAdapter(relays, keys, secret)
	if err := adapter.Start(ctx, ""); err != nil {
		return "", "", fmt.Errorf("session: start bunker provider: %w", err)
	}
	rec.URI = adapter.BunkerURI()

	if rec.LastClient != "" {
		if err := adapter.ResumeClient(ctx, rec.LastClient, secret); err != nil {
			slog.Warn("session: resume prior client failed", "session_id", rec.ID, "error", err)
		}
	}

	if err := m.store.UpsertSession(rec); err != nil {
		_ = adapter.Stop(ctx)
		return "", "", fmt.Errorf("session: persist record: %w", err)
	}

	rt := &Runtime{record: rec, provider: adapter}
	rt.policy.Store(&pol)
	m.registerRuntime(rec.ID, rt)

	m.activityLog.Record(activity.Entry{
		Type: activity.TypeSessionStart, SessionID: rec.ID, SessionLabel: rec.Alias,
		Summary: "bunker session started",
	})

	return rec.ID, rec.URI, nil
}

// StartNostrConnect creates a new nostr-connect-mode session: uri is the
// client-supplied nostrconnect:// URI we dial. Pairing completes as part of
// Start, so the record begins in the connected state.
func (m *Manager) StartNostrConnect(
	ctx context.Context,
	keyID, alias string,
	relays []string,
	uri string,
	autoApprove bool,
	template string,
) (sessionID string, err error) {
	if uri == "" {
		return "", fmt.Errorf("session: nostr-connect requires a uri")
	}
	keyID, err = m.resolveKeyID(keyID)
	if err != nil {
		return "", err
	}
	relays, err = NormalizeRelays(relays)
	if err != nil {
		return "", fmt.Errorf("session: normalize relays: %w", err)
	}

	keys, err := m.signerKeysFor(ctx, keyID)
	if err != nil {
		return "", err
	}

	pol := m.policies.ResolveOrDefault(template)
	now := time.Now().UnixMilli()
	rec := store.SessionRecord{
		ID:          newSessionID(),
		Type:        "nostr-connect",
		KeyID:       keyID,
		Alias:       alias,
		Relays:      relays,
		URI:         uri,
		AutoApprove: autoApprove,
		Status:      "connected",
		CreatedAt:   now,
		UpdatedAt:   now,
		Active:      true,
		Template:    pol.ID,
	}

	adapter := m.newNostrConnectAdapter(keys)
	if err := adapter.Start(ctx, uri); err != nil {
		return "", fmt.Errorf("session: start nostr-connect provider: %w", err)
	}

	client, err := adapter.WaitForClient(ctx)
	if err != nil {
		_ = adapter.Stop(ctx)
		return "", fmt.Errorf("session: await nostr-connect pairing: %w", err)
	}
	rec.LastClient = client

	if err := m.store.UpsertSession(rec); err != nil {
		_ = adapter.Stop(ctx)
		return "", fmt.Errorf("session: persist record: %w", err)
	}

	rt := &Runtime{record: rec, provider: adapter}
	rt.policy.Store(&pol)
	m.registerRuntime(rec.ID, rt)

	m.activityLog.Record(activity.Entry{
		Type: activity.TypeSessionStart, SessionID: rec.ID, SessionLabel: rec.Alias,
		Client: client, Summary: "nostr-connect session started",
	})

	return rec.ID, nil
}

// Stop tears down the runtime provider, rejects every pending approval for
// the session, and marks the record inactive; remove additionally deletes
// the row. Calling Stop on an already-stopped session is a no-op beyond the
// store/approval bookkeeping, which is itself idempotent.
func (m *Manager) Stop(sessionID string, remove bool) error {
	lock := m.writeLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	rt, running := m.runtimes.LoadAndDelete(sessionID)
	if running {
		if rt.cancel != nil {
			rt.cancel()
		}
		if err := rt.provider.Stop(context.Background()); err != nil {
			slog.Warn("session: provider stop failed", "session_id", sessionID, "error", err)
		}
	}

	if err := m.approvals.RejectForSession(sessionID); err != nil {
		slog.Warn("session: reject pending approvals failed", "session_id", sessionID, "error", err)
	}

	if remove {
		if err := m.store.DeleteSession(sessionID); err != nil {
			return fmt.Errorf("session: delete record: %w", err)
		}
		m.activityLog.Record(activity.Entry{Type: activity.TypeSessionStop, SessionID: sessionID, Summary: "session deleted"})
		return nil
	}

	var rec store.SessionRecord
	var err error
	if running {
		rec = rt.snapshot()
	} else {
		rec, err = m.store.GetSession(sessionID)
		if errors.Is(err, store.ErrSessionNotFound) {
			return ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("session: load record: %w", err)
		}
	}
	rec.Active = false
	rec.UpdatedAt = time.Now().UnixMilli()
	if err := m.store.UpsertSession(rec); err != nil {
		return fmt.Errorf("session: persist stop: %w", err)
	}

	m.activityLog.Record(activity.Entry{Type: activity.TypeSessionStop, SessionID: sessionID, SessionLabel: rec.Alias, Summary: "session stopped"})
	return nil
}

// Rename updates a running session's display alias, in both the runtime
// copy and the persisted record.
func (m *Manager) Rename(sessionID, alias string) error {
	rt, ok := m.runtimes.Load(sessionID)
	if !ok {
		return ErrSessionNotFound
	}

	lock := m.writeLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	rt.mu.Lock()
	rt.record.Alias = alias
	rt.record.UpdatedAt = time.Now().UnixMilli()
	rec := rt.record
	rt.mu.Unlock()

	if err := m.store.UpsertSession(rec); err != nil {
		return fmt.Errorf("session: persist rename: %w", err)
	}
	m.activityLog.Record(activity.Entry{Type: activity.TypeSessionUpdate, SessionID: sessionID, SessionLabel: alias, Summary: "renamed"})
	return nil
}

// UpdateTemplate resolves templateID against the Policy Registry and, if
// known, swaps the runtime policy reference so the next inbound request
// uses it. In-flight REFER tasks already hold their own policy label and
// are unaffected. An unknown templateID returns ErrUnknownPolicy rather than
// silently falling back, because this is an explicit operator selection.
func (m *Manager) UpdateTemplate(sessionID, templateID string) error {
	rt, ok := m.runtimes.Load(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	pol, ok := m.policies.Resolve(templateID)
	if !ok {
		return ErrUnknownPolicy
	}

	lock := m.writeLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	rt.policy.Store(&pol)
	rt.mu.Lock()
	rt.record.Template = pol.ID
	rt.record.UpdatedAt = time.Now().UnixMilli()
	rec := rt.record
	rt.mu.Unlock()

	if err := m.store.UpsertSession(rec); err != nil {
		return fmt.Errorf("session: persist template update: %w", err)
	}
	m.activityLog.Record(activity.Entry{
		Type: activity.TypeSessionUpdate, SessionID: sessionID, SessionLabel: rec.Alias,
		Summary: fmt.Sprintf("template changed to %s", pol.ID),
	})
	return nil
}

// RestoreOnBoot registers a runtime session for every persisted
// active=true record. A failure restoring one record is logged and skipped;
// the rest proceed, satisfying the per-record independence invariant.
func (m *Manager) RestoreOnBoot(ctx context.Context) error {
	recs, err := m.store.ListSessions(true)
	if err != nil {
		return fmt.Errorf("session: list active sessions: %w", err)
	}

	for _, rec := range recs {
		if err := m.restoreOne(ctx, rec); err != nil {
			slog.Warn("session: restore skipped", "session_id", rec.ID, "key_id", rec.KeyID, "error", err)
			continue
		}
	}
	return nil
}

func (m *Manager) restoreOne(ctx context.Context, rec store.SessionRecord) error {
	keys, err := m.signerKeysFor(ctx, rec.KeyID)
	if err != nil {
		return err
	}
	pol := m.policies.ResolveOrDefault(rec.Template)

	var adapter provider.Adapter
	switch rec.Type {
	case "bunker":
		if rec.URI != "" {
			if pubkey, _, _, parseErr := provider.ParseBunkerURI(rec.URI); parseErr != nil {
				slog.Warn("session: persisted bunker uri is malformed", "session_id", rec.ID, "error", parseErr)
			} else if pubkey != keys.Pubkey {
				slog.Warn("session: persisted bunker uri no longer matches the session's key", "session_id", rec.ID)
			}
		}
		b := m.newBunkerAdapter(rec.Relays, keys, rec.Secret)
		if err := b.Start(ctx, ""); err != nil {
			return fmt.Errorf("restart bunker provider: %w", err)
		}
		if rec.LastClient != "" {
			if err := b.ResumeClient(ctx, rec.LastClient, rec.Secret); err != nil {
				slog.Warn("session: resume client failed", "session_id", rec.ID, "error", err)
			}
		}
		adapter = b
	case "nostr-connect":
		n := m.newNostrConnectAdapter(keys)
		if err := n.Start(ctx, rec.URI); err != nil {
			return fmt.Errorf("restart nostr-connect provider: %w", err)
		}
		adapter = n
	default:
		return fmt.Errorf("unknown session type %q", rec.Type)
	}

	rt := &Runtime{record: rec, provider: adapter}
	rt.policy.Store(&pol)
	m.registerRuntime(rec.ID, rt)

	m.activityLog.Record(activity.Entry{
		Type: activity.TypeSessionStart, SessionID: rec.ID, SessionLabel: rec.Alias,
		Summary: "session resumed on boot",
	})
	return nil
}

// resolveKeyID falls back to the Metadata Store's active key pointer when
// the caller didn't name one explicitly.
func (m *Manager) resolveKeyID(keyID string) (string, error) {
	if keyID != "" {
		return keyID, nil
	}
	active, ok, err := m.metadata.GetActiveKey()
	if err != nil {
		return "", fmt.Errorf("session: resolve active key: %w", err)
	}
	if !ok {
		return "", ErrNoActiveKey
	}
	return active, nil
}

func (m *Manager) signerKeysFor(ctx context.Context, keyID string) (provider.SignerKeys, error) {
	km, err := m.metadata.GetKey(keyID)
	if err != nil {
		return provider.SignerKeys{}, fmt.Errorf("session: resolve key %s: %w", keyID, err)
	}
	sk, err := m.vault.Get(ctx, km.VaultAccount)
	if err != nil {
		return provider.SignerKeys{}, fmt.Errorf("session: fetch secret for key %s: %w", keyID, err)
	}
	return provider.SignerKeys{Privkey: sk, Pubkey: km.Pubkey}, nil
}

func randomSecret() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// registerRuntime installs rt in the runtime map and starts its activity
// consumer goroutine, which is the only place provider callbacks are
// translated into signing-pipeline work and connection bookkeeping.
func (m *Manager) registerRuntime(sessionID string, rt *Runtime) {
	ctx, cancel := context.WithCancel(context.Background())
	rt.cancel = cancel
	m.runtimes.Store(sessionID, rt)
	go m.consumeActivity(ctx, sessionID, rt)
}

func (m *Manager) consumeActivity(ctx context.Context, sessionID string, rt *Runtime) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-rt.provider.Activity():
			if !ok {
				return
			}
			m.handleProviderEvent(sessionID, rt, ev)
		}
	}
}

func (m *Manager) handleProviderEvent(sessionID string, rt *Runtime, ev provider.ProviderEvent) {
	switch ev.Type {
	case provider.ActivitySignRequest:
		m.handleSignRequest(sessionID, rt, ev)
	case provider.ActivityClientConnected:
		m.handleClientConnected(sessionID, rt, ev.Client)
	case provider.ActivityClientDisconnected:
		m.activityLog.Record(activity.Entry{
			Type: activity.TypeProviderDisconnect, SessionID: sessionID,
			SessionLabel: rt.snapshot().Alias, Client: ev.Client,
			Summary: "client disconnected",
		})
	case provider.ActivityConnectRequest:
		// authorization for pairing, not for signing: per spec.md this
		// never touches the SessionRecord, only the activity feed.
		m.activityLog.Record(activity.Entry{
			Type: activity.TypeProviderConnect, SessionID: sessionID,
			SessionLabel: rt.snapshot().Alias, Client: ev.Client,
			Summary: "connect request received",
		})
	case provider.ActivityNIP04:
		m.activityLog.Record(activity.Entry{Type: activity.TypeNIP04, SessionID: sessionID, Client: ev.Client})
	case provider.ActivityNIP44:
		m.activityLog.Record(activity.Entry{Type: activity.TypeNIP44, SessionID: sessionID, Client: ev.Client})
	}
}

func (m *Manager) handleClientConnected(sessionID string, rt *Runtime, client string) {
	lock := m.writeLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	rt.mu.Lock()
	rt.record.Status = "connected"
	rt.record.LastClient = client
	rt.record.Active = true
	rt.record.UpdatedAt = time.Now().UnixMilli()
	rec := rt.record
	rt.mu.Unlock()

	if err := m.store.UpdateSessionStatus(sessionID, rec.Status, rec.LastClient, rec.Active, rec.UpdatedAt); err != nil {
		slog.Warn("session: persist client-connected failed", "session_id", sessionID, "error", err)
	}
	m.activityLog.Record(activity.Entry{
		Type: activity.TypeProviderConnect, SessionID: sessionID,
		SessionLabel: rec.Alias, Client: client, Summary: "client connected",
	})
}

// handleSignRequest is the signing pipeline's entry point for one inbound
// sign-request: record → evaluate → sign/reject immediately, or refer and
// suspend in a dedicated goroutine so other requests (this session's or any
// other's) keep flowing while a human decision is pending.
func (m *Manager) handleSignRequest(sessionID string, rt *Runtime, ev provider.ProviderEvent) {
	req := ev.SignReq
	if req == nil {
		return
	}
	rec := rt.snapshot()
	pol := rt.currentPolicy()

	m.activityLog.Record(activity.Entry{
		Type: activity.TypeSignRequest, SessionID: sessionID, SessionLabel: rec.Alias,
		Client: req.Client, Summary: truncate(fmt.Sprintf("kind=%d", req.Draft.Kind), 80),
	})

	decision := m.evaluatePolicy(pol, *req, rec)

	switch decision {
	case policy.Sign:
		m.completeSign(context.Background(), sessionID, rt, *req, true)
	case policy.Reject:
		m.completeSign(context.Background(), sessionID, rt, *req, false)
	case policy.Refer:
		if rec.AutoApprove {
			// auto_approve bypasses the human-in-the-loop REFER queue: the
			// session owner has already told us to treat referrals as
			// approved, so there is no one left to ask.
			m.activityLog.Record(activity.Entry{
				Type: activity.TypeSignRequest, SessionID: sessionID, SessionLabel: rec.Alias,
				Client: req.Client, Summary: "auto-approved referred request",
			})
			m.completeSign(context.Background(), sessionID, rt, *req, true)
			return
		}
		go m.referSignRequest(sessionID, rt, rec, pol, *req)
	}
}

// evaluatePolicy runs pol.Evaluate, converting any panic into a REJECT per
// spec.md §7: "Policy evaluate exceptions are caught and treated as REJECT."
func (m *Manager) evaluatePolicy(pol policy.Policy, req provider.SignRequest, rec store.SessionRecord) (decision policy.Decision) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("session: policy evaluation panicked, treating as reject", "policy_id", pol.ID, "panic", r)
			decision = policy.Reject
		}
	}()
	return pol.Evaluate(policy.Context{
		EventKind: req.Draft.Kind,
		Client:    req.Client,
		Session:   policy.SessionSummary{ID: rec.ID, Alias: rec.Alias, Type: rec.Type},
	})
}

func (m *Manager) referSignRequest(sessionID string, rt *Runtime, rec store.SessionRecord, pol policy.Policy, req provider.SignRequest) {
	ctx := context.Background()
	_, decisionCh, err := m.approvals.Create(ctx, approval.CreateRequest{
		SessionID:    sessionID,
		SessionAlias: rec.Alias,
		SessionType:  rec.Type,
		Client:       req.Client,
		EventKind:    req.Draft.Kind,
		EventSummary: truncate(req.Draft.Content, 140),
		PolicyID:     pol.ID,
		PolicyLabel:  pol.Label,
		Draft:        req.Draft,
		TTL:          m.approvalTTL,
	})
	if err != nil {
		slog.Error("session: create approval task failed", "session_id", sessionID, "error", err)
		m.completeSign(ctx, sessionID, rt, req, false)
		return
	}

	approved := <-decisionCh
	m.completeSign(ctx, sessionID, rt, req, approved)
}

func (m *Manager) completeSign(ctx context.Context, sessionID string, rt *Runtime, req provider.SignRequest, approved bool) {
	var signed *nostr.Event
	if approved {
		keys, err := m.signerKeysFor(ctx, rt.snapshot().KeyID)
		if err != nil {
			slog.Error("session: fetch signing key failed", "session_id", sessionID, "error", err)
			approved = false
		} else {
			ev := req.Draft
			if err := ev.Sign(keys.Privkey); err != nil {
				slog.Error("session: sign event failed", "session_id", sessionID, "error", err)
				approved = false
			} else {
				signed = &ev
			}
		}
	}

	if err := rt.provider.Reply(ctx, req, signed, approved); err != nil {
		slog.Warn("session: reply to client failed", "session_id", sessionID, "error", err)
	}

	m.activityLog.Record(activity.Entry{
		Type: activity.TypeSignResult, SessionID: sessionID, Client: req.Client,
		Summary:  fmt.Sprintf("approved=%v", approved),
		Metadata: map[string]any{"approved": approved},
	})
}

func newSessionID() string {
	return uuid.NewString()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
