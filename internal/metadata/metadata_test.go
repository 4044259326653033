package metadata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKeyRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	_, err = s.GetKey("missing")
	require.ErrorIs(t, err, ErrKeyNotFound)

	km := KeyMetadata{ID: "k1", Npub: "npub1xyz", Pubkey: "abc123", Label: "main", CreatedAt: time.Now()}
	require.NoError(t, s.PutKey(km))

	got, err := s.GetKey("k1")
	require.NoError(t, err)
	require.Equal(t, km.Label, got.Label)

	keys, err := s.ListKeys()
	require.NoError(t, err)
	require.Len(t, keys, 1)

	km.Label = "renamed"
	require.NoError(t, s.PutKey(km))
	got, err = s.GetKey("k1")
	require.NoError(t, err)
	require.Equal(t, "renamed", got.Label)

	require.NoError(t, s.DeleteKey("k1"))
	_, err = s.GetKey("k1")
	require.ErrorIs(t, err, ErrKeyNotFound)

	// delete of an absent id is a no-op
	require.NoError(t, s.DeleteKey("k1"))
}

func TestActiveKeyPointer(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	_, ok, err := s.GetActiveKey()
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.SetActiveKey("k1"))
	id, ok, err := s.GetActiveKey()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "k1", id)

	require.NoError(t, s.ClearActiveKey())
	_, ok, err = s.GetActiveKey()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDeleteKeyClearsActiveOnlyWhenEmpty(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.PutKey(KeyMetadata{ID: "k1", Label: "one"}))
	require.NoError(t, s.PutKey(KeyMetadata{ID: "k2", Label: "two"}))
	require.NoError(t, s.SetActiveKey("k1"))

	// deleting a non-active key, or the active key while others remain,
	// must not touch the pointer
	require.NoError(t, s.DeleteKey("k2"))
	id, ok, err := s.GetActiveKey()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "k1", id)

	// deleting the last key clears the pointer
	require.NoError(t, s.DeleteKey("k1"))
	_, ok, err = s.GetActiveKey()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s1, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s1.PutKey(KeyMetadata{ID: "k1", Label: "main"}))
	require.NoError(t, s1.SetActiveKey("k1"))

	s2, err := Open(dir)
	require.NoError(t, err)
	got, err := s2.GetKey("k1")
	require.NoError(t, err)
	require.Equal(t, "main", got.Label)

	id, ok, err := s2.GetActiveKey()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "k1", id)
}
