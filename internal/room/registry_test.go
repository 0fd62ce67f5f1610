package room

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manpreetbhatti/canvasflow/internal/oplog"
)

func TestNormalizeID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", DefaultID},
		{"   ", DefaultID},
		{"\t\n", DefaultID},
		{"r1", "r1"},
		{" r1 ", " r1 "},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeID(tt.in), "input %q", tt.in)
	}
}

func TestGetOrCreateReturnsSameRoom(t *testing.T) {
	reg := NewRegistry(nil)

	r1 := reg.GetOrCreate("test-room")
	r2 := reg.GetOrCreate("test-room")
	r3 := reg.GetOrCreate("other-room")

	assert.Same(t, r1, r2)
	assert.NotSame(t, r1, r3)
	assert.Equal(t, 2, reg.RoomCount())
	assert.Empty(t, r1.Snapshot())
	assert.Empty(t, r1.Users())
}

func TestBlankRoomMapsToDefault(t *testing.T) {
	reg := NewRegistry(nil)
	r := reg.GetOrCreate("  ")
	assert.Equal(t, DefaultID, r.ID)

	got, ok := reg.Get("")
	require.True(t, ok)
	assert.Same(t, r, got)
}

func TestGetUnknownRoom(t *testing.T) {
	reg := NewRegistry(nil)
	_, ok := reg.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, 0, reg.RoomCount())
}

func TestRoomSurvivesEmptying(t *testing.T) {
	reg := NewRegistry(nil)
	r := reg.GetOrCreate("r1")
	r.Do(func(tx *Tx) {
		tx.Join("s1", UserInfo{UserID: "s1"}, nil)
		tx.Log().Clear("s1")
		tx.Leave("s1")
	})

	again := reg.GetOrCreate("r1")
	assert.Same(t, r, again)
	assert.Equal(t, 1, again.OpCount())
}

func TestRegistryStats(t *testing.T) {
	reg := NewRegistry(nil)
	reg.GetOrCreate("a").Do(func(tx *Tx) {
		tx.Join("s1", UserInfo{UserID: "s1"}, nil)
		tx.Join("s2", UserInfo{UserID: "s2"}, nil)
		tx.Log().Append(oplog.Operation{ID: "x", Type: oplog.TypeRect})
	})
	reg.GetOrCreate("b").Do(func(tx *Tx) {
		tx.Join("s3", UserInfo{UserID: "s3"}, nil)
	})

	assert.Equal(t, Stats{Rooms: 2, TotalUsers: 3, TotalOps: 1}, reg.Stats())

	rooms := reg.Rooms()
	require.Len(t, rooms, 2)
	assert.Equal(t, "a", rooms[0].ID)
	assert.Equal(t, "b", rooms[1].ID)
}

func TestConcurrentGetOrCreate(t *testing.T) {
	reg := NewRegistry(nil)

	var wg sync.WaitGroup
	rooms := make([]*Room, 50)
	for i := range rooms {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rooms[i] = reg.GetOrCreate("shared")
		}(i)
	}
	wg.Wait()

	for _, r := range rooms {
		assert.Same(t, rooms[0], r)
	}
	assert.Equal(t, 1, reg.RoomCount())
}
