package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemDBWriteAppliesPutsAndDeletes(t *testing.T) {
	db := NewMemDB()
	require.NoError(t, db.Put([]byte("stale"), []byte("x")))

	require.NoError(t, db.Write(map[string][]byte{
		"fresh": []byte("value"),
		"stale": nil,
	}))

	got, err := db.Get([]byte("fresh"))
	require.NoError(t, err)
	require.Equal(t, []byte("value"), got)

	_, err = db.Get([]byte("stale"))
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, 1, db.Len())
}

func TestLevelDBPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	db1, err := NewLevelDB(dir)
	require.NoError(t, err)
	require.NoError(t, db1.Write(map[string][]byte{"key": []byte("value")}))
	db1.Close()

	db2, err := NewLevelDB(dir)
	require.NoError(t, err)
	defer db2.Close()

	got, err := db2.Get([]byte("key"))
	require.NoError(t, err)
	require.Equal(t, []byte("value"), got)

	_, err = db2.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db2.Delete([]byte("key")))
	_, err = db2.Get([]byte("key"))
	require.ErrorIs(t, err, ErrNotFound)
}
