// Package metadata persists non-secret key records and daemon-level pointers
// as flat JSON documents under the config directory, atomically rewritten on
// every change.
package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrKeyNotFound is returned when a key id has no metadata record.
var ErrKeyNotFound = errors.New("metadata: key not found")

// KeyMetadata describes one managed signing key. The secret itself lives in
// the vault, retrievable via VaultAccount.
type KeyMetadata struct {
	ID          string    `json:"id"`
	Npub        string    `json:"npub"`
	Pubkey      string    `json:"pubkey"`
	Label       string    `json:"label"`
	CreatedAt   time.Time `json:"created_at"`
	VaultAccount string   `json:"vault_account"`
	StorageKind  string   `json:"storage_kind"` // "native-keyring" | "encrypted-file"
}

// ActiveKeyPointer records which key id the daemon currently treats as the
// default for operations that don't name one explicitly.
type ActiveKeyPointer struct {
	KeyID     string    `json:"key_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

type keysDocument struct {
	Keys []KeyMetadata `json:"keys"`
}

type stateDocument struct {
	Active *ActiveKeyPointer `json:"active,omitempty"`
}

// Store is the JSON-file-backed Metadata Store.
type Store struct {
	keysPath  string
	statePath string

	mu sync.Mutex
}

// Open returns a Store rooted at configDir. Missing documents are treated as
// empty rather than errors.
func Open(configDir string) (*Store, error) {
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return nil, fmt.Errorf("metadata: create config dir: %w", err)
	}
	return &Store{
		keysPath:  filepath.Join(configDir, "keys.json"),
		statePath: filepath.Join(configDir, "state.json"),
	}, nil
}

// ListKeys returns every known key, in no particular order.
func (s *Store) ListKeys() ([]KeyMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readKeys()
	if err != nil {
		return nil, err
	}
	return doc.Keys, nil
}

// GetKey returns the metadata for a single key id.
func (s *Store) GetKey(id string) (KeyMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readKeys()
	if err != nil {
		return KeyMetadata{}, err
	}
	for _, k := range doc.Keys {
		if k.ID == id {
			return k, nil
		}
	}
	return KeyMetadata{}, ErrKeyNotFound
}

// PutKey inserts or overwrites a key record.
func (s *Store) PutKey(km KeyMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readKeys()
	if err != nil {
		return err
	}
	replaced := false
	for i, k := range doc.Keys {
		if k.ID == km.ID {
			doc.Keys[i] = km
			replaced = true
			break
		}
	}
	if !replaced {
		doc.Keys = append(doc.Keys, km)
	}
	return s.writeKeys(doc)
}

// DeleteKey removes a key record. Deleting an absent id is a no-op. Per
// spec.md §3 the active key pointer is cleared only once all keys are gone,
// never just because the active key itself was the one deleted.
func (s *Store) DeleteKey(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readKeys()
	if err != nil {
		return err
	}
	out := doc.Keys[:0]
	for _, k := range doc.Keys {
		if k.ID != id {
			out = append(out, k)
		}
	}
	doc.Keys = out
	if err := s.writeKeys(doc); err != nil {
		return err
	}

	if len(doc.Keys) > 0 {
		return nil
	}
	state, err := s.readState()
	if err != nil {
		return err
	}
	if state.Active == nil {
		return nil
	}
	state.Active = nil
	return s.writeState(state)
}

// GetActiveKey returns the currently active key id, if one is set.
func (s *Store) GetActiveKey() (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readState()
	if err != nil {
		return "", false, err
	}
	if doc.Active == nil {
		return "", false, nil
	}
	return doc.Active.KeyID, true, nil
}

// SetActiveKey marks id as the active key.
func (s *Store) SetActiveKey(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readState()
	if err != nil {
		return err
	}
	doc.Active = &ActiveKeyPointer{KeyID: id, UpdatedAt: time.Now()}
	return s.writeState(doc)
}

// ClearActiveKey removes the active key pointer entirely.
func (s *Store) ClearActiveKey() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readState()
	if err != nil {
		return err
	}
	doc.Active = nil
	return s.writeState(doc)
}

func (s *Store) readKeys() (keysDocument, error) {
	var doc keysDocument
	raw, err := os.ReadFile(s.keysPath)
	if os.IsNotExist(err) {
		return doc, nil
	}
	if err != nil {
		return doc, fmt.Errorf("metadata: read keys.json: %w", err)
	}
	if len(raw) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("metadata: decode keys.json: %w", err)
	}
	return doc, nil
}

func (s *Store) writeKeys(doc keysDocument) error {
	return writeAtomic(s.keysPath, doc)
}

func (s *Store) readState() (stateDocument, error) {
	var doc stateDocument
	raw, err := os.ReadFile(s.statePath)
	if os.IsNotExist(err) {
		return doc, nil
	}
	if err != nil {
		return doc, fmt.Errorf("metadata: read state.json: %w", err)
	}
	if len(raw) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("metadata: decode state.json: %w", err)
	}
	return doc, nil
}

func (s *Store) writeState(doc stateDocument) error {
	return writeAtomic(s.statePath, doc)
}

func writeAtomic(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("metadata: encode %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("metadata: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("metadata: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("metadata: close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("metadata: rename temp file: %w", err)
	}
	return nil
}
