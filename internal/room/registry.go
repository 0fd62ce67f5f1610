package room

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Room id used when a client joins with a blank one
const DefaultID = "default"

// Maps blank ids to DefaultID
func NormalizeID(roomID string) string {
	if strings.TrimSpace(roomID) == "" {
		return DefaultID
	}
	return roomID
}

// Owns every room for the lifetime of the process. Rooms are created on
// first join and never torn down, so an emptied room can be rejoined.
type Registry struct {
	rooms  map[string]*Room
	logger *slog.Logger
	mu     sync.RWMutex
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		rooms:  make(map[string]*Room),
		logger: logger,
	}
}

// Returns the room for roomID, creating it if needed
func (g *Registry) GetOrCreate(roomID string) *Room {
	id := NormalizeID(roomID)

	g.mu.RLock()
	r, ok := g.rooms[id]
	g.mu.RUnlock()
	if ok {
		return r
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.rooms[id]; ok {
		return r
	}
	r = New(id)
	g.rooms[id] = r
	g.logger.Info("room created", "room_id", id, "total_rooms", len(g.rooms))
	return r
}

// Looks up an existing room without creating it
func (g *Registry) Get(roomID string) (*Room, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.rooms[NormalizeID(roomID)]
	return r, ok
}

// All rooms sorted by id
func (g *Registry) Rooms() []*Room {
	g.mu.RLock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.mu.RUnlock()

	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })
	return rooms
}

func (g *Registry) RoomCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}

type Stats struct {
	Rooms      int `json:"rooms"`
	TotalUsers int `json:"totalUsers"`
	TotalOps   int `json:"totalOps"`
}

// Aggregate room, member and operation counts
func (g *Registry) Stats() Stats {
	var s Stats
	for _, r := range g.Rooms() {
		s.Rooms++
		s.TotalUsers += r.MemberCount()
		s.TotalOps += r.OpCount()
	}
	return s
}
