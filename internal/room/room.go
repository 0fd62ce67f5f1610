package room

import (
	"sync"
	"time"

	"github.com/manpreetbhatti/canvasflow/internal/oplog"
	"github.com/manpreetbhatti/canvasflow/internal/stroke"
)

// A member of a room as seen by other clients
type UserInfo struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Color    string `json:"color"`
}

// Last known pointer position of a member
type Cursor struct {
	UserID string  `json:"userId"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Color  string  `json:"color"`
}

// Receives encoded outbound frames for one session. Send must not block.
type Peer interface {
	Send(msg []byte) bool
}

// One collaborative drawing session. All state is guarded by mu and is
// only reachable through Do, so every mutation and the broadcast it
// produces are observed as a single step.
type Room struct {
	ID        string
	CreatedAt time.Time

	users   map[string]UserInfo
	order   []string
	cursors map[string]Cursor
	peers   map[string]Peer
	strokes *stroke.Aggregator
	log     *oplog.Log
	mu      sync.Mutex
}

// Creates an empty room with a fresh operation log
func New(id string) *Room {
	return &Room{
		ID:        id,
		CreatedAt: time.Now(),
		users:     make(map[string]UserInfo),
		order:     make([]string, 0),
		cursors:   make(map[string]Cursor),
		peers:     make(map[string]Peer),
		strokes:   stroke.NewAggregator(),
		log:       oplog.New(),
	}
}

// Runs fn with exclusive access to the room
func (r *Room) Do(fn func(tx *Tx)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&Tx{r: r})
}

// Returns the current members in join order
func (r *Room) Users() []UserInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listUsersLocked()
}

func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

// Committed history, safe to call without Do
func (r *Room) Snapshot() []oplog.Operation {
	return r.log.Snapshot()
}

func (r *Room) OpCount() int {
	return r.log.Len()
}

func (r *Room) listUsersLocked() []UserInfo {
	users := make([]UserInfo, 0, len(r.order))
	for _, id := range r.order {
		if u, ok := r.users[id]; ok {
			users = append(users, u)
		}
	}
	return users
}

// Exclusive view of a room handed out by Do. It must not be retained.
type Tx struct {
	r *Room
}

func (tx *Tx) RoomID() string {
	return tx.r.ID
}

func (tx *Tx) Log() *oplog.Log {
	return tx.r.log
}

func (tx *Tx) Strokes() *stroke.Aggregator {
	return tx.r.strokes
}

// Number of members; also the palette index for the next joiner
func (tx *Tx) MemberCount() int {
	return len(tx.r.users)
}

// Inserts sessionID as a member. Usernames are not required to be unique.
func (tx *Tx) Join(sessionID string, info UserInfo, peer Peer) {
	r := tx.r
	if _, exists := r.users[sessionID]; !exists {
		r.order = append(r.order, sessionID)
	}
	r.users[sessionID] = info
	if peer != nil {
		r.peers[sessionID] = peer
	}
}

// Removes sessionID from members and cursors. Live strokes are left to
// the caller.
func (tx *Tx) Leave(sessionID string) bool {
	r := tx.r
	if _, ok := r.users[sessionID]; !ok {
		return false
	}
	delete(r.users, sessionID)
	delete(r.cursors, sessionID)
	delete(r.peers, sessionID)
	for i, id := range r.order {
		if id == sessionID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

func (tx *Tx) User(sessionID string) (UserInfo, bool) {
	u, ok := tx.r.users[sessionID]
	return u, ok
}

func (tx *Tx) ListUsers() []UserInfo {
	return tx.r.listUsersLocked()
}

func (tx *Tx) SetCursor(c Cursor) {
	tx.r.cursors[c.UserID] = c
}

func (tx *Tx) Cursors() []Cursor {
	out := make([]Cursor, 0, len(tx.r.cursors))
	for _, id := range tx.r.order {
		if c, ok := tx.r.cursors[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Delivers msg to one member
func (tx *Tx) Send(sessionID string, msg []byte) bool {
	p, ok := tx.r.peers[sessionID]
	if !ok {
		return false
	}
	return p.Send(msg)
}

// Delivers msg to every member except the given session ids, in join
// order. Returns how many peers accepted it.
func (tx *Tx) Broadcast(msg []byte, except ...string) int {
	sent := 0
	for _, id := range tx.r.order {
		if contains(except, id) {
			continue
		}
		if p, ok := tx.r.peers[id]; ok && p.Send(msg) {
			sent++
		}
	}
	return sent
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
