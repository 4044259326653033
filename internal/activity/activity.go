// Package activity implements the Activity Log: a bounded, in-memory,
// newest-first ring buffer of recent daemon events for the (out-of-core)
// dashboard. Nothing here is persisted; loss on restart is acceptable.
package activity

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Capacity is the maximum number of entries retained.
const Capacity = 200

// Type enumerates the kinds of event the log records.
type Type string

const (
	TypeSessionStart       Type = "session-start"
	TypeSessionStop        Type = "session-stop"
	TypeSessionUpdate      Type = "session-update"
	TypeProviderConnect    Type = "provider-connect"
	TypeProviderDisconnect Type = "provider-disconnect"
	TypeSignRequest        Type = "sign-request"
	TypeSignResult         Type = "sign-result"
	TypeNIP04              Type = "nip04"
	TypeNIP44              Type = "nip44"
)

// Entry is one ephemeral observation record.
type Entry struct {
	ID           string         `json:"id"`
	Timestamp    int64          `json:"timestamp"` // epoch ms
	Type         Type           `json:"type"`
	Summary      string         `json:"summary"`
	SessionID    string         `json:"session_id,omitempty"`
	SessionLabel string         `json:"session_label,omitempty"`
	Client       string         `json:"client,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Log is a mutex-guarded ring buffer capped at Capacity, newest entry
// first. Grounded on the same slice-trim shape the teacher uses for its
// log-line ring buffer, adapted from an append-and-trim-from-front tail to
// an insert-at-front event feed.
type Log struct {
	mu  sync.Mutex
	buf []Entry
}

// New returns an empty Activity Log.
func New() *Log {
	return &Log{buf: make([]Entry, 0, Capacity)}
}

// Record stamps ID and Timestamp when unset, then inserts the entry at the
// front of the buffer, dropping the oldest entry once Capacity is exceeded.
func (l *Log) Record(e Entry) Entry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().UnixMilli()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf = append([]Entry{e}, l.buf...)
	if len(l.buf) > Capacity {
		l.buf = l.buf[:Capacity]
	}
	return e
}

// List returns a newest-first snapshot of the buffer.
func (l *Log) List() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, len(l.buf))
	copy(out, l.buf)
	return out
}
