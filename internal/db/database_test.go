package db

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manpreetbhatti/canvasflow/internal/apperr"
	"github.com/manpreetbhatti/canvasflow/internal/oplog"
)

func setupTestDB(t *testing.T) *Database {
	t.Helper()

	db, err := New(MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleOps(n int) []oplog.Operation {
	ops := make([]oplog.Operation, n)
	for i := range ops {
		ops[i] = oplog.Operation{
			ID:        fmt.Sprintf("op-%d", i),
			UserID:    "u1",
			Type:      oplog.TypeRect,
			Data:      json.RawMessage(fmt.Sprintf(`{"x":%d}`, i)),
			Timestamp: int64(i),
		}
	}
	return ops
}

func TestCreateAndGetCheckpoint(t *testing.T) {
	db := setupTestDB(t)

	cp, err := db.CreateCheckpoint(NewCheckpoint{
		RoomID:    "r1",
		Name:      "before cleanup",
		CreatedBy: "Ann",
		Ops:       sampleOps(3),
	})
	require.NoError(t, err)
	assert.NotZero(t, cp.ID)
	assert.Equal(t, "before cleanup", cp.Name)
	assert.Equal(t, 3, cp.OpCount)
	assert.Equal(t, HashOps(sampleOps(3)), cp.ContentHash)
	assert.False(t, cp.IsAuto)

	got, err := db.GetCheckpoint(cp.ID)
	require.NoError(t, err)
	require.Len(t, got.Ops, 3)
	assert.Equal(t, "op-2", got.Ops[2].ID)
	assert.JSONEq(t, `{"x":2}`, string(got.Ops[2].Data))
	assert.WithinDuration(t, time.Now(), got.CreatedAt, time.Minute)
}

func TestCreateCheckpointDefaults(t *testing.T) {
	db := setupTestDB(t)

	cp, err := db.CreateCheckpoint(NewCheckpoint{RoomID: "r1"})
	require.NoError(t, err)
	assert.Contains(t, cp.Name, "Checkpoint ")
	assert.Equal(t, 0, cp.OpCount)

	_, err = db.CreateCheckpoint(NewCheckpoint{})
	assert.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))
}

func TestGetMissingCheckpoint(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.GetCheckpoint(404)
	assert.True(t, apperr.IsNotFound(err))

	_, err = db.LatestCheckpoint("nowhere")
	assert.True(t, apperr.IsNotFound(err))

	assert.True(t, apperr.IsNotFound(db.DeleteCheckpoint(404)))
}

func TestListNewestFirstWithoutOps(t *testing.T) {
	db := setupTestDB(t)
	for i := 0; i < 3; i++ {
		_, err := db.CreateCheckpoint(NewCheckpoint{RoomID: "r1", Name: fmt.Sprintf("v%d", i), Ops: sampleOps(i + 1)})
		require.NoError(t, err)
	}
	_, err := db.CreateCheckpoint(NewCheckpoint{RoomID: "r2", Name: "other"})
	require.NoError(t, err)

	list, err := db.ListCheckpoints("r1", 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"v2", "v1", "v0"}, []string{list[0].Name, list[1].Name, list[2].Name})
	assert.Nil(t, list[0].Ops)
	assert.Equal(t, 3, list[0].OpCount)

	page, err := db.ListCheckpoints("r1", 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "v1", page[0].Name)

	count, err := db.CountCheckpoints("r1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	empty, err := db.ListCheckpoints("r9", 10, 0)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestDeleteCheckpoint(t *testing.T) {
	db := setupTestDB(t)
	cp, err := db.CreateCheckpoint(NewCheckpoint{RoomID: "r1"})
	require.NoError(t, err)

	require.NoError(t, db.DeleteCheckpoint(cp.ID))
	_, err = db.GetCheckpoint(cp.ID)
	assert.True(t, apperr.IsNotFound(err))
}

func TestAutoCheckpointDedupAndTrim(t *testing.T) {
	db := setupTestDB(t)

	first, created, err := db.CreateAutoCheckpoint("r1", sampleOps(1), 2)
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, first.IsAuto)
	assert.Contains(t, first.Name, "Auto-save ")

	again, created, err := db.CreateAutoCheckpoint("r1", sampleOps(1), 2)
	require.NoError(t, err)
	assert.False(t, created, "same content as latest is skipped")
	assert.Equal(t, first.ID, again.ID)

	for n := 2; n <= 4; n++ {
		_, created, err = db.CreateAutoCheckpoint("r1", sampleOps(n), 2)
		require.NoError(t, err)
		assert.True(t, created)
	}

	manual, err := db.CreateCheckpoint(NewCheckpoint{RoomID: "r1", Name: "keep me", Ops: sampleOps(9)})
	require.NoError(t, err)

	list, err := db.ListCheckpoints("r1", 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 3, "two newest autos plus the manual one")
	assert.Equal(t, manual.ID, list[0].ID)
	assert.Equal(t, 4, list[1].OpCount)
	assert.Equal(t, 3, list[2].OpCount)
}

func TestStats(t *testing.T) {
	db := setupTestDB(t)
	for _, room := range []string{"a", "a", "b"} {
		_, err := db.CreateCheckpoint(NewCheckpoint{RoomID: room})
		require.NoError(t, err)
	}

	stats, err := db.GetStats()
	require.NoError(t, err)
	assert.Equal(t, Stats{Checkpoints: 3, Rooms: 2}, stats)
}

func TestFileBackedStoreReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "canvas.db")

	db, err := New(path)
	require.NoError(t, err)
	cp, err := db.CreateCheckpoint(NewCheckpoint{RoomID: "r1", Ops: sampleOps(2)})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = New(path)
	require.NoError(t, err)
	defer db.Close()

	got, err := db.GetCheckpoint(cp.ID)
	require.NoError(t, err)
	assert.Len(t, got.Ops, 2)
}

func TestHashOpsNilEqualsEmpty(t *testing.T) {
	assert.Equal(t, HashOps(nil), HashOps([]oplog.Operation{}))
	assert.NotEqual(t, HashOps(sampleOps(1)), HashOps(sampleOps(2)))
}
