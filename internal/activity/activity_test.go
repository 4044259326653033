package activity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordStampsIDAndTimestamp(t *testing.T) {
	l := New()
	e := l.Record(Entry{Type: TypeSignRequest, Summary: "kind=1"})
	require.NotEmpty(t, e.ID)
	require.NotZero(t, e.Timestamp)
}

func TestListIsNewestFirst(t *testing.T) {
	l := New()
	l.Record(Entry{ID: "a", Timestamp: 1, Type: TypeSessionStart})
	l.Record(Entry{ID: "b", Timestamp: 2, Type: TypeSessionStop})

	got := l.List()
	require.Len(t, got, 2)
	require.Equal(t, "b", got[0].ID)
	require.Equal(t, "a", got[1].ID)
}

func TestListIsDefensiveCopy(t *testing.T) {
	l := New()
	l.Record(Entry{ID: "a"})

	snap := l.List()
	snap[0].ID = "mutated"

	got := l.List()
	require.Equal(t, "a", got[0].ID)
}

func TestCapacityDropsOldest(t *testing.T) {
	l := New()
	for i := 0; i < Capacity+10; i++ {
		l.Record(Entry{ID: string(rune('a' + i%26))})
	}
	got := l.List()
	require.Len(t, got, Capacity)
}
