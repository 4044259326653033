package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrSessionNotFound is returned when a session id has no row.
var ErrSessionNotFound = errors.New("store: session not found")

// SessionRecord mirrors the sessions table, field for field.
type SessionRecord struct {
	ID          string
	Type        string // "bunker" | "nostr-connect"
	KeyID       string
	Alias       string
	Relays      []string
	Secret      string // empty for nostr-connect
	URI         string
	AutoApprove bool
	Status      string // "waiting" | "connected"
	LastClient  string
	CreatedAt   int64 // epoch ms
	UpdatedAt   int64 // epoch ms
	Active      bool
	Template    string
}

// UpsertSession inserts or replaces a session row by id.
func (s *Store) UpsertSession(r SessionRecord) error {
	relaysJSON, err := json.Marshal(r.Relays)
	if err != nil {
		return fmt.Errorf("store: encode relays: %w", err)
	}

	_, err = s.db.Exec(fmt.Sprintf(`
		INSERT INTO sessions (id, type, key_id, alias, relays_json, secret, uri, auto_approve, status, last_client, created_at, updated_at, active, template)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)
		ON CONFLICT(id) DO UPDATE SET
			type=excluded.type, key_id=excluded.key_id, alias=excluded.alias,
			relays_json=excluded.relays_json, secret=excluded.secret, uri=excluded.uri,
			auto_approve=excluded.auto_approve, status=excluded.status, last_client=excluded.last_client,
			updated_at=excluded.updated_at, active=excluded.active, template=excluded.template
	`, s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8), s.ph(9), s.ph(10), s.ph(11), s.ph(12), s.ph(13), s.ph(14)),
		r.ID, r.Type, r.KeyID, r.Alias, string(relaysJSON), nullable(r.Secret), nullable(r.URI),
		boolToInt(r.AutoApprove), r.Status, nullable(r.LastClient), r.CreatedAt, r.UpdatedAt, boolToInt(r.Active), r.Template)
	if err != nil {
		return fmt.Errorf("store: upsert session: %w", err)
	}
	return nil
}

// GetSession returns a single session row.
func (s *Store) GetSession(id string) (SessionRecord, error) {
	row := s.db.QueryRow(fmt.Sprintf(`
		SELECT id, type, key_id, alias, relays_json, secret, uri, auto_approve, status, last_client, created_at, updated_at, active, template
		FROM sessions WHERE id = %s`, s.ph(1)), id)
	r, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, ErrSessionNotFound
	}
	if err != nil {
		return SessionRecord{}, fmt.Errorf("store: get session: %w", err)
	}
	return r, nil
}

// ListSessions returns every session, optionally filtered to active=true.
func (s *Store) ListSessions(activeOnly bool) ([]SessionRecord, error) {
	query := `SELECT id, type, key_id, alias, relays_json, secret, uri, auto_approve, status, last_client, created_at, updated_at, active, template FROM sessions`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		r, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan session: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateSessionStatus updates the status/last_client/active/updated_at
// fields of a session, used by connection-event handling.
func (s *Store) UpdateSessionStatus(id, status, lastClient string, active bool, updatedAt int64) error {
	_, err := s.db.Exec(fmt.Sprintf(`
		UPDATE sessions SET status = %s, last_client = %s, active = %s, updated_at = %s WHERE id = %s`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5)),
		status, nullable(lastClient), boolToInt(active), updatedAt, id)
	if err != nil {
		return fmt.Errorf("store: update session status: %w", err)
	}
	return nil
}

// DeleteSession removes a session row. Deleting an absent id is a no-op.
func (s *Store) DeleteSession(id string) error {
	_, err := s.db.Exec(fmt.Sprintf(`DELETE FROM sessions WHERE id = %s`, s.ph(1)), id)
	if err != nil {
		return fmt.Errorf("store: delete session: %w", err)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSession(row scannable) (SessionRecord, error) {
	var r SessionRecord
	var relaysJSON string
	var secret, uri, lastClient sql.NullString
	var autoApprove, active int

	if err := row.Scan(&r.ID, &r.Type, &r.KeyID, &r.Alias, &relaysJSON, &secret, &uri,
		&autoApprove, &r.Status, &lastClient, &r.CreatedAt, &r.UpdatedAt, &active, &r.Template); err != nil {
		return SessionRecord{}, err
	}

	r.Secret = secret.String
	r.URI = uri.String
	r.LastClient = lastClient.String
	r.AutoApprove = autoApprove != 0
	r.Active = active != 0

	if err := json.Unmarshal([]byte(relaysJSON), &r.Relays); err != nil {
		return SessionRecord{}, fmt.Errorf("decode relays_json: %w", err)
	}
	return r, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
