// Package session binds one transport connection to a user identity and
// a current room, and turns inbound protocol events into room mutations
// and outbound broadcasts.
package session

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/manpreetbhatti/canvasflow/internal/oplog"
	"github.com/manpreetbhatti/canvasflow/internal/protocol"
	"github.com/manpreetbhatti/canvasflow/internal/room"
)

// Connection lifecycle: Connected -> InRoom -> Disconnected
type State int

const (
	StateConnected State = iota
	StateInRoom
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateInRoom:
		return "in_room"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

type Session struct {
	id       string
	registry *room.Registry
	peer     room.Peer
	logger   *slog.Logger
	now      func() time.Time

	state State
	room  *room.Room
	user  room.UserInfo
	mu    sync.Mutex
}

// Creates a session in the Connected state. id doubles as the user id.
func New(id string, registry *room.Registry, peer room.Peer, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		id:       id,
		registry: registry,
		peer:     peer,
		logger:   logger.With("session_id", id),
		now:      time.Now,
		state:    StateConnected,
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Current room id, empty outside a room
func (s *Session) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room == nil {
		return ""
	}
	return s.room.ID
}

func (s *Session) User() room.UserInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// Applies one inbound event. Events that need a room are ignored until
// the session has joined one; nothing here returns an error to the client.
func (s *Session) Handle(in protocol.Inbound) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDisconnected {
		return
	}

	switch ev := in.(type) {
	case protocol.JoinRoom:
		s.join(ev)
	case protocol.Ping:
		s.send(protocol.Ack{ID: ev.ID})
	case protocol.StartStroke:
		s.inRoom(func(tx *room.Tx) { s.startStroke(tx, ev) })
	case protocol.DrawStroke:
		s.inRoom(func(tx *room.Tx) { s.drawStroke(tx, ev) })
	case protocol.EndStroke:
		s.inRoom(func(tx *room.Tx) { s.endStroke(tx, ev) })
	case protocol.CommitOp:
		s.inRoom(func(tx *room.Tx) { s.commitOp(tx, ev) })
	case protocol.CursorMove:
		s.inRoom(func(tx *room.Tx) { s.cursorMove(tx, ev) })
	case protocol.Undo:
		s.inRoom(func(tx *room.Tx) {
			tx.Log().Undo()
			s.broadcastState(tx)
		})
	case protocol.Redo:
		s.inRoom(func(tx *room.Tx) {
			tx.Log().Redo()
			s.broadcastState(tx)
		})
	case protocol.Clear:
		s.inRoom(func(tx *room.Tx) {
			tx.Log().Clear(s.id)
			s.broadcastState(tx)
		})
	default:
		s.logger.Debug("unhandled event", "event", in.Event())
	}
}

// Leaves the current room and moves to Disconnected. Any live stroke is
// abandoned; committed history is untouched.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDisconnected {
		return
	}
	if s.state == StateInRoom {
		s.leave()
	}
	s.state = StateDisconnected
}

func (s *Session) inRoom(fn func(tx *room.Tx)) {
	if s.state != StateInRoom || s.room == nil {
		return
	}
	s.room.Do(fn)
}

func (s *Session) join(ev protocol.JoinRoom) {
	if s.state == StateInRoom {
		s.leave()
	}

	r := s.registry.GetOrCreate(ev.RoomID)
	name := strings.TrimSpace(ev.Username)
	if name == "" {
		name = room.GenerateUsername()
	}

	r.Do(func(tx *room.Tx) {
		s.user = room.UserInfo{
			UserID:   s.id,
			Username: name,
			Color:    room.GenerateColor(tx.MemberCount()),
		}
		tx.Join(s.id, s.user, s.peer)

		users := tx.ListUsers()
		if frame := s.encode(protocol.RoomState{Ops: tx.Log().Snapshot(), Users: users}); frame != nil {
			tx.Send(s.id, frame)
		}
		if frame := s.encode(protocol.UpdateUsers{Users: users}); frame != nil {
			tx.Broadcast(frame, s.id)
		}
	})

	s.room = r
	s.state = StateInRoom
	s.logger.Info("joined room", "room_id", r.ID, "username", name, "color", s.user.Color)
}

func (s *Session) leave() {
	r := s.room
	r.Do(func(tx *room.Tx) {
		if tx.Strokes().Discard(s.id) {
			s.logger.Debug("abandoned live stroke", "room_id", r.ID)
		}
		tx.Leave(s.id)
		if frame := s.encode(protocol.UpdateUsers{Users: tx.ListUsers()}); frame != nil {
			tx.Broadcast(frame)
		}
		if tx.MemberCount() == 0 {
			s.logger.Info("room is now empty", "room_id", r.ID, "ops", tx.Log().Len())
		}
	})

	s.logger.Info("left room", "room_id", r.ID)
	s.room = nil
	s.state = StateConnected
}

func (s *Session) startStroke(tx *room.Tx, ev protocol.StartStroke) {
	tx.Strokes().Begin(s.id, ev.Tool, ev.Color, ev.Width, ev.Point())
	s.relay(tx, protocol.StrokeRelay{
		UserID: s.id,
		X:      ev.X,
		Y:      ev.Y,
		Color:  ev.Color,
		Width:  ev.Width,
		Tool:   ev.Tool,
	})
}

func (s *Session) drawStroke(tx *room.Tx, ev protocol.DrawStroke) {
	points := ev.Points()
	if len(points) == 0 {
		return
	}
	if !tx.Strokes().AppendPoints(s.id, points) {
		return
	}
	s.relay(tx, protocol.StrokeRelay{
		UserID:    s.id,
		PathChunk: points,
		Color:     ev.Color,
		Width:     ev.Width,
		Tool:      ev.Tool,
	})
}

func (s *Session) endStroke(tx *room.Tx, ev protocol.EndStroke) {
	st, ok := tx.Strokes().End(s.id)
	if !ok {
		return
	}
	op := oplog.NewOperation(s.id, oplog.TypeStroke, st.Data(), s.now())
	tx.Log().Append(op)
	s.relay(tx, protocol.StrokeRelay{
		UserID:   s.id,
		Path:     st.Path,
		Color:    st.Color,
		Width:    st.StrokeWidth,
		Tool:     st.Tool,
		StrokeID: ev.StrokeID,
		End:      true,
	})
}

func (s *Session) commitOp(tx *room.Tx, ev protocol.CommitOp) {
	if !ev.Type.Atomic() {
		s.logger.Debug("ignoring commit_op", "type", ev.Type)
		return
	}
	op := oplog.NewOperation(s.id, ev.Type, ev.Data, s.now())
	tx.Log().Append(op)
	s.relay(tx, protocol.OpCommitted{Op: op})
}

func (s *Session) cursorMove(tx *room.Tx, ev protocol.CursorMove) {
	if ev.X == nil || ev.Y == nil {
		return
	}
	c := room.Cursor{UserID: s.id, X: *ev.X, Y: *ev.Y, Color: s.user.Color}
	tx.SetCursor(c)
	s.relay(tx, protocol.CursorRelay{UserID: c.UserID, X: c.X, Y: c.Y, Color: c.Color})
}

// Sends the recomputed snapshot to every member, sender included
func (s *Session) broadcastState(tx *room.Tx) {
	frame := s.encode(protocol.RoomState{Ops: tx.Log().Snapshot(), Users: tx.ListUsers()})
	if frame != nil {
		tx.Broadcast(frame)
	}
}

// Sends to every member except this session
func (s *Session) relay(tx *room.Tx, out protocol.Outbound) {
	if frame := s.encode(out); frame != nil {
		tx.Broadcast(frame, s.id)
	}
}

func (s *Session) send(out protocol.Outbound) {
	if frame := s.encode(out); frame != nil && s.peer != nil {
		s.peer.Send(frame)
	}
}

func (s *Session) encode(out protocol.Outbound) []byte {
	frame, err := protocol.Encode(out)
	if err != nil {
		s.logger.Error("encode outbound event", "event", out.Event(), "error", err)
		return nil
	}
	return frame
}
