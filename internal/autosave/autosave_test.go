package autosave

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manpreetbhatti/canvasflow/internal/db"
	"github.com/manpreetbhatti/canvasflow/internal/oplog"
	"github.com/manpreetbhatti/canvasflow/internal/room"
)

func setupService(t *testing.T, cfg Config) (*Service, *room.Registry, *db.Database) {
	t.Helper()
	database, err := db.New(db.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	registry := room.NewRegistry(nil)
	return New(registry, database, cfg, nil), registry, database
}

func commit(r *room.Room, typ oplog.Type) {
	r.Do(func(tx *room.Tx) {
		tx.Log().Append(oplog.NewOperation("u1", typ, nil, time.Now()))
	})
}

func TestSaveAllOnlyChangedRooms(t *testing.T) {
	svc, registry, database := setupService(t, DefaultConfig())

	busy := registry.GetOrCreate("busy")
	registry.GetOrCreate("idle")
	commit(busy, oplog.TypeRect)

	assert.Equal(t, 1, svc.SaveAll())
	assert.Equal(t, 0, svc.SaveAll(), "nothing changed since last pass")

	commit(busy, oplog.TypeLine)
	assert.Equal(t, 1, svc.SaveAll())

	count, err := database.CountCheckpoints("busy")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = database.CountCheckpoints("idle")
	require.NoError(t, err)
	assert.Zero(t, count, "empty rooms are not checkpointed")
}

func TestSaveAllAfterUndoStoresNewContent(t *testing.T) {
	svc, registry, database := setupService(t, DefaultConfig())
	r := registry.GetOrCreate("r1")
	commit(r, oplog.TypeRect)
	commit(r, oplog.TypeRect)
	svc.SaveAll()

	r.Do(func(tx *room.Tx) { tx.Log().Undo() })
	assert.Equal(t, 1, svc.SaveAll())

	latest, err := database.LatestCheckpoint("r1")
	require.NoError(t, err)
	assert.Equal(t, 1, latest.OpCount)
	assert.True(t, latest.IsAuto)
}

func TestKeepAutoLimit(t *testing.T) {
	svc, registry, database := setupService(t, Config{Interval: time.Hour, KeepAuto: 2})
	r := registry.GetOrCreate("r1")
	for i := 0; i < 4; i++ {
		commit(r, oplog.TypeCircle)
		svc.SaveAll()
	}

	count, err := database.CountCheckpoints("r1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestStartStop(t *testing.T) {
	svc, registry, database := setupService(t, Config{Interval: 20 * time.Millisecond, KeepAuto: 5})
	commit(registry.GetOrCreate("r1"), oplog.TypeText)

	svc.Start()
	assert.Eventually(t, func() bool {
		n, err := database.CountCheckpoints("r1")
		return err == nil && n == 1
	}, 2*time.Second, 10*time.Millisecond)
	svc.Stop()
	svc.Stop()
}
