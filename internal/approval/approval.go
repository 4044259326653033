// Package approval implements the Approval Manager: the durable queue of
// REFER decisions awaiting human resolution. Each pending task owns a
// one-shot timer and an in-memory resolver that the signing pipeline
// suspends on; resolution is guaranteed at-most-once per task.
package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/humansinstitute/intercessio/internal/notifier"
	"github.com/humansinstitute/intercessio/internal/store"
)

// ErrNotFound mirrors spec.md's NotFound taxonomy entry: resolving a task
// that is not pending (already resolved, expired, or unknown) is reported
// as NotFound and is idempotent from the caller's perspective.
var ErrNotFound = errors.New("approval: task not found or already resolved")

// CreateRequest is everything needed to open a new approval task.
type CreateRequest struct {
	SessionID    string
	SessionAlias string
	SessionType  string
	Client       string
	EventKind    int
	EventSummary string
	PolicyID     string
	PolicyLabel  string
	Draft        any
	TTL          time.Duration
}

type pendingTask struct {
	cancelTimer func() bool
	resolve     chan<- bool
}

// Manager owns the durable queue and its in-memory resolvers.
type Manager struct {
	store    *store.Store
	notifier *notifier.Notifier
	pending  *xsync.MapOf[string, *pendingTask]
}

// New constructs a Manager over an opened Session Store and Notifier.
func New(st *store.Store, n *notifier.Notifier) *Manager {
	return &Manager{
		store:    st,
		notifier: n,
		pending:  xsync.NewMapOf[string, *pendingTask](),
	}
}

// Create persists a pending approval task, arms its expiry timer, registers
// an in-memory resolver, fires a best-effort notification, and returns a
// channel the signing pipeline receives the eventual decision from. The
// channel is closed by the package after sending exactly one value.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (taskID string, decision <-chan bool, err error) {
	draftJSON, err := json.Marshal(req.Draft)
	if err != nil {
		return "", nil, fmt.Errorf("approval: encode draft: %w", err)
	}

	now := time.Now()
	id := uuid.NewString()
	task := store.ApprovalTask{
		ID:           id,
		SessionID:    req.SessionID,
		SessionAlias: req.SessionAlias,
		SessionType:  req.SessionType,
		Client:       req.Client,
		EventKind:    req.EventKind,
		EventSummary: req.EventSummary,
		PolicyID:     req.PolicyID,
		PolicyLabel:  req.PolicyLabel,
		Draft:        string(draftJSON),
		CreatedAt:    now.UnixMilli(),
		ExpiresAt:    now.Add(req.TTL).UnixMilli(),
		Status:       "pending",
	}
	if err := m.store.InsertApprovalTask(task); err != nil {
		return "", nil, fmt.Errorf("approval: persist task: %w", err)
	}

	ch := make(chan bool, 1)
	timer := time.AfterFunc(req.TTL, func() {
		m.settle(id, false, "expired")
	})
	m.pending.Store(id, &pendingTask{cancelTimer: timer.Stop, resolve: ch})

	if m.notifier != nil {
		m.notifier.Notify(ctx, notifier.Task{
			ID:           id,
			SessionAlias: req.SessionAlias,
			Client:       req.Client,
			EventKind:    req.EventKind,
			PolicyLabel:  req.PolicyLabel,
		})
	}

	return id, ch, nil
}

// Resolve applies an explicit human decision to a pending task. Resolving a
// task that is no longer pending returns ErrNotFound, which callers treat
// as an idempotent no-op.
func (m *Manager) Resolve(taskID string, approved bool) error {
	status := "rejected"
	if approved {
		status = "approved"
	}
	if !m.settle(taskID, approved, status) {
		return ErrNotFound
	}
	return nil
}

// RejectForSession marks every pending task belonging to sessionID as
// rejected and wakes their waiters with false. Invoked on session stop or
// delete.
func (m *Manager) RejectForSession(sessionID string) error {
	tasks, err := m.store.ListApprovalTasksForSession(sessionID)
	if err != nil {
		return fmt.Errorf("approval: list tasks for session: %w", err)
	}
	for _, t := range tasks {
		if t.Status != "pending" {
			continue
		}
		m.settle(t.ID, false, "rejected")
	}
	return nil
}

// settle is the single code path allowed to resolve a task's waiter,
// guarded by the pending map's atomic LoadAndDelete so at-most-once holds
// regardless of whether Resolve, RejectForSession, or the expiry timer
// wins the race.
func (m *Manager) settle(taskID string, approved bool, status string) bool {
	pt, ok := m.pending.LoadAndDelete(taskID)
	if !ok {
		return false
	}
	pt.cancelTimer()

	if err := m.store.UpdateApprovalStatus(taskID, status); err != nil {
		// the row write failing does not prevent the waiter from being
		// woken; the StoreFailure is logged here rather than returned.
		slog.Warn("approval: persist task status failed", "task_id", taskID, "status", status, "error", err)
	}

	pt.resolve <- approved
	close(pt.resolve)
	return true
}

// RestoreTimersOnBoot loads every pending row. Rows already past
// expires_at transition immediately to expired. Remaining rows get an
// orphan timer that expires them if no owning session re-registers a
// waiter before it fires; the old row is never revived once a provider
// resumes and issues a fresh request.
func (m *Manager) RestoreTimersOnBoot() error {
	tasks, err := m.store.ListApprovalTasks("pending")
	if err != nil {
		return fmt.Errorf("approval: list pending tasks: %w", err)
	}

	now := time.Now().UnixMilli()
	for _, t := range tasks {
		if t.ExpiresAt <= now {
			if err := m.store.UpdateApprovalStatus(t.ID, "expired"); err != nil {
				return fmt.Errorf("approval: expire stale task %s: %w", t.ID, err)
			}
			continue
		}

		remaining := time.Duration(t.ExpiresAt-now) * time.Millisecond
		ch := make(chan bool, 1)
		taskID := t.ID
		timer := time.AfterFunc(remaining, func() {
			m.settle(taskID, false, "expired")
		})
		m.pending.Store(taskID, &pendingTask{cancelTimer: timer.Stop, resolve: ch})
	}
	return nil
}

// Get returns a single task for the control plane's read-only surface.
func (m *Manager) Get(taskID string) (store.ApprovalTask, error) {
	t, err := m.store.GetApprovalTask(taskID)
	if err != nil {
		return store.ApprovalTask{}, err
	}
	return t, nil
}

// ListPending returns every task currently pending.
func (m *Manager) ListPending() ([]store.ApprovalTask, error) {
	return m.store.ListApprovalTasks("pending")
}
