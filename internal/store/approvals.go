package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// ErrApprovalNotFound is returned when an approval task id has no row.
var ErrApprovalNotFound = errors.New("store: approval task not found")

// ApprovalTask mirrors the approval_tasks table, field for field. Draft is
// kept as a raw JSON string so it round-trips byte-for-byte.
type ApprovalTask struct {
	ID           string
	SessionID    string
	SessionAlias string
	SessionType  string
	Client       string
	EventKind    int
	EventSummary string
	PolicyID     string
	PolicyLabel  string
	Draft        string // raw JSON
	CreatedAt    int64  // epoch ms
	ExpiresAt    int64  // epoch ms
	Status       string // "pending" | "approved" | "rejected" | "expired"
}

// InsertApprovalTask inserts a new approval task row.
func (s *Store) InsertApprovalTask(t ApprovalTask) error {
	_, err := s.db.Exec(fmt.Sprintf(`
		INSERT INTO approval_tasks (id, session_id, session_alias, session_type, client, event_kind, event_summary, policy_id, policy_label, draft_json, created_at, expires_at, status)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8), s.ph(9), s.ph(10), s.ph(11), s.ph(12), s.ph(13)),
		t.ID, t.SessionID, t.SessionAlias, t.SessionType, t.Client, t.EventKind, t.EventSummary,
		t.PolicyID, t.PolicyLabel, t.Draft, t.CreatedAt, t.ExpiresAt, t.Status)
	if err != nil {
		return fmt.Errorf("store: insert approval task: %w", err)
	}
	return nil
}

// GetApprovalTask returns a single approval task row.
func (s *Store) GetApprovalTask(id string) (ApprovalTask, error) {
	row := s.db.QueryRow(fmt.Sprintf(`
		SELECT id, session_id, session_alias, session_type, client, event_kind, event_summary, policy_id, policy_label, draft_json, created_at, expires_at, status
		FROM approval_tasks WHERE id = %s`, s.ph(1)), id)
	t, err := scanApprovalTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ApprovalTask{}, ErrApprovalNotFound
	}
	if err != nil {
		return ApprovalTask{}, fmt.Errorf("store: get approval task: %w", err)
	}
	return t, nil
}

// ListApprovalTasks returns every task matching status. An empty status
// returns every task regardless of status.
func (s *Store) ListApprovalTasks(status string) ([]ApprovalTask, error) {
	query := `SELECT id, session_id, session_alias, session_type, client, event_kind, event_summary, policy_id, policy_label, draft_json, created_at, expires_at, status FROM approval_tasks`
	var rows *sql.Rows
	var err error
	if status != "" {
		query += fmt.Sprintf(` WHERE status = %s`, s.ph(1))
		query += ` ORDER BY created_at ASC`
		rows, err = s.db.Query(query, status)
	} else {
		query += ` ORDER BY created_at ASC`
		rows, err = s.db.Query(query)
	}
	if err != nil {
		return nil, fmt.Errorf("store: list approval tasks: %w", err)
	}
	defer rows.Close()

	var out []ApprovalTask
	for rows.Next() {
		t, err := scanApprovalTask(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan approval task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListApprovalTasksForSession returns every task for a session regardless
// of status, used by reject_for_session.
func (s *Store) ListApprovalTasksForSession(sessionID string) ([]ApprovalTask, error) {
	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT id, session_id, session_alias, session_type, client, event_kind, event_summary, policy_id, policy_label, draft_json, created_at, expires_at, status
		FROM approval_tasks WHERE session_id = %s ORDER BY created_at ASC`, s.ph(1)), sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: list approval tasks for session: %w", err)
	}
	defer rows.Close()

	var out []ApprovalTask
	for rows.Next() {
		t, err := scanApprovalTask(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan approval task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateApprovalStatus transitions a task's status. Status is monotonic:
// callers must only move a task out of "pending" once.
func (s *Store) UpdateApprovalStatus(id, status string) error {
	_, err := s.db.Exec(fmt.Sprintf(`UPDATE approval_tasks SET status = %s WHERE id = %s`, s.ph(1), s.ph(2)), status, id)
	if err != nil {
		return fmt.Errorf("store: update approval status: %w", err)
	}
	return nil
}

func scanApprovalTask(row scannable) (ApprovalTask, error) {
	var t ApprovalTask
	if err := row.Scan(&t.ID, &t.SessionID, &t.SessionAlias, &t.SessionType, &t.Client, &t.EventKind,
		&t.EventSummary, &t.PolicyID, &t.PolicyLabel, &t.Draft, &t.CreatedAt, &t.ExpiresAt, &t.Status); err != nil {
		return ApprovalTask{}, err
	}
	return t, nil
}
