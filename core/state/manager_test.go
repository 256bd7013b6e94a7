package state

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"bunnyriven/storage"
)

type testRow struct {
	Committed *uint256.Int
	Label     string
}

func TestManagerKVRoundTrip(t *testing.T) {
	m := NewManager(storage.NewMemDB())

	ok, err := m.KVGet([]byte("missing"), &testRow{})
	require.NoError(t, err)
	require.False(t, ok)

	row := testRow{Committed: uint256.NewInt(42), Label: "ticket"}
	require.NoError(t, m.KVPut([]byte("row"), row))

	var got testRow
	ok, err = m.KVGet([]byte("row"), &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(42), got.Committed.Uint64())
	require.Equal(t, "ticket", got.Label)
}

func TestManagerRevertRestoresEarlierWrites(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	require.NoError(t, m.KVPut([]byte("a"), uint64(1)))

	snap := m.Snapshot()
	require.NoError(t, m.KVPut([]byte("a"), uint64(2)))
	require.NoError(t, m.KVPut([]byte("b"), uint64(3)))
	require.NoError(t, m.KVDelete([]byte("a")))
	m.RevertToSnapshot(snap)

	var a uint64
	ok, err := m.KVGet([]byte("a"), &a)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), a)

	ok, err = m.KVGet([]byte("b"), nil)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestManagerCommitPersistsAndDiscardDrops(t *testing.T) {
	db := storage.NewMemDB()
	m := NewManager(db)
	require.NoError(t, m.KVPut([]byte("kept"), "yes"))
	require.NoError(t, m.Commit())
	require.Equal(t, 0, m.Pending())
	require.Equal(t, 1, db.Len())

	require.NoError(t, m.KVPut([]byte("dropped"), "no"))
	m.Discard()

	fresh := NewManager(db)
	var kept string
	ok, err := fresh.KVGet([]byte("kept"), &kept)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "yes", kept)

	ok, err = fresh.KVGet([]byte("dropped"), nil)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestManagerListHelpers(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	var empty [][]byte
	require.NoError(t, m.KVGetList([]byte("index"), &empty))
	require.Len(t, empty, 0)

	require.NoError(t, m.KVAppend([]byte("index"), []byte("one")))
	require.NoError(t, m.KVAppend([]byte("index"), []byte("two")))

	var list [][]byte
	require.NoError(t, m.KVGetList([]byte("index"), &list))
	require.Equal(t, [][]byte{[]byte("one"), []byte("two")}, list)
}
