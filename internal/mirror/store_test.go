package mirror

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) *Store {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store := NewStore(db, zerolog.Nop())
	require.NoError(t, store.InitSchema())
	return store
}

func testRecord(id string) *JobRecord {
	return &JobRecord{
		ID:        id,
		Name:      "sweep " + id,
		Status:    "running",
		Total:     10,
		Completed: 3,
		Detail:    []Detail{{Name: "alloc", Count: 2, Values: []string{"10", "20"}}},
		CreatedAt: time.Now().UnixMilli(),
	}
}

func TestPutAndGet(t *testing.T) {
	store := setupStore(t)

	record := testRecord("job-1")
	require.NoError(t, store.Put(record))

	loaded, err := store.Get("job-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, record.Name, loaded.Name)
	assert.Equal(t, record.Status, loaded.Status)
	assert.Equal(t, record.Detail, loaded.Detail)
}

func TestGetUnknownReturnsNil(t *testing.T) {
	store := setupStore(t)

	loaded, err := store.Get("missing")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestPutOverwrites(t *testing.T) {
	store := setupStore(t)

	record := testRecord("job-1")
	require.NoError(t, store.Put(record))

	record.Status = "finished"
	record.Completed = 10
	require.NoError(t, store.Put(record))

	loaded, err := store.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, "finished", loaded.Status)
	assert.Equal(t, 10, loaded.Completed)
}

func TestList(t *testing.T) {
	store := setupStore(t)

	require.NoError(t, store.Put(testRecord("job-1")))
	done := testRecord("job-2")
	done.Status = "finished"
	require.NoError(t, store.Put(done))

	records, err := store.List()
	require.NoError(t, err)
	assert.Len(t, records, 2)

	active := 0
	for _, r := range records {
		if r.Active() {
			active++
		}
	}
	assert.Equal(t, 1, active)
}

func TestDelete(t *testing.T) {
	store := setupStore(t)

	require.NoError(t, store.Put(testRecord("job-1")))
	require.NoError(t, store.Delete("job-1"))

	loaded, err := store.Get("job-1")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestDeleteExpired(t *testing.T) {
	store := setupStore(t)

	require.NoError(t, store.Put(testRecord("job-old")))
	stale := time.Now().Add(-48 * time.Hour).UnixMilli()
	_, err := store.db.Exec(`UPDATE batch_job_mirror SET updated_at = ? WHERE job_id = ?`, stale, "job-old")
	require.NoError(t, err)

	require.NoError(t, store.Put(testRecord("job-fresh")))

	deleted, err := store.DeleteExpired(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	loaded, err := store.Get("job-old")
	require.NoError(t, err)
	assert.Nil(t, loaded)

	loaded, err = store.Get("job-fresh")
	require.NoError(t, err)
	assert.NotNil(t, loaded)
}
