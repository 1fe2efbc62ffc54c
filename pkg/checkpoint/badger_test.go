package checkpoint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *BadgerStore {
	t.Helper()

	store, err := OpenBadger(t.TempDir())
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	return store
}

func TestBadgerStore_Get_AbsentIsNotAnError(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)

	cp, found, err := store.Get("github-issues")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, Checkpoint{}, cp)
}

func TestBadgerStore_SetGet_RoundTrip(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)

	want := Checkpoint{
		Source:       "github-issues",
		Cursor:       "2025-06-01T12:00:00Z",
		LastRunAt:    time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC),
		RecordsTotal: 420,
	}
	require.NoError(t, store.Set(want))

	got, found, err := store.Get("github-issues")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, want, got)
}

func TestBadgerStore_Set_ReplacesPriorValue(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)

	first := Checkpoint{Source: "github-issues", Cursor: "2025-01-01T00:00:00Z"}
	require.NoError(t, store.Set(first))

	second := Checkpoint{Source: "github-issues", Cursor: "2025-02-01T00:00:00Z", RecordsTotal: 10}
	require.NoError(t, store.Set(second))

	got, found, err := store.Get("github-issues")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, second, got)
}

func TestBadgerStore_SourcesAreIndependentKeys(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)

	require.NoError(t, store.Set(Checkpoint{Source: "a", Cursor: "1"}))
	require.NoError(t, store.Set(Checkpoint{Source: "b", Cursor: "2"}))

	gotA, foundA, err := store.Get("a")
	require.NoError(t, err)
	require.True(t, foundA)
	assert.Equal(t, "1", gotA.Cursor)

	gotB, foundB, err := store.Get("b")
	require.NoError(t, err)
	require.True(t, foundB)
	assert.Equal(t, "2", gotB.Cursor)
}

func TestBadgerStore_Delete(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)

	require.NoError(t, store.Set(Checkpoint{Source: "a", Cursor: "1"}))
	require.NoError(t, store.Delete("a"))

	_, found, err := store.Get("a")
	require.NoError(t, err)
	assert.False(t, found)

	// Deleting a source that never had a checkpoint is a no-op.
	require.NoError(t, store.Delete("never-seen"))
}

func TestBadgerStore_List_SortedBySource(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)

	require.NoError(t, store.Set(Checkpoint{Source: "zebra", Cursor: "3"}))
	require.NoError(t, store.Set(Checkpoint{Source: "alpha", Cursor: "1"}))
	require.NoError(t, store.Set(Checkpoint{Source: "mango", Cursor: "2"}))

	got, err := store.List()
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "alpha", got[0].Source)
	assert.Equal(t, "mango", got[1].Source)
	assert.Equal(t, "zebra", got[2].Source)
}
