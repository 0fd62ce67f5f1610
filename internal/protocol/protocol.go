// Package protocol defines the JSON event contract spoken over each
// websocket connection. Inbound (client to server) and outbound (server to
// client) events are closed sets of concrete types; Decode and Encode are
// the only places event names are mapped to types.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/manpreetbhatti/canvasflow/internal/oplog"
	"github.com/manpreetbhatti/canvasflow/internal/stroke"
)

// Wire name of an event
type Event string

const (
	EventJoinRoom    Event = "join_room"
	EventStartStroke Event = "start_stroke"
	EventDrawStroke  Event = "draw_stroke"
	EventEndStroke   Event = "end_stroke"
	EventCommitOp    Event = "commit_op"
	EventCursorMove  Event = "cursor_move"
	EventUndo        Event = "undo"
	EventRedo        Event = "redo"
	EventClear       Event = "clear"
	EventPing        Event = "ping"

	EventRoomState   Event = "room_state"
	EventUpdateUsers Event = "update_users"
	EventAck         Event = "ack"
)

var ErrUnknownEvent = errors.New("unknown event")

// Frame layout shared by both directions. ID correlates a ping with its ack.
type Envelope struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	ID    *int64          `json:"id,omitempty"`
}

// A client to server event
type Inbound interface {
	Event() Event
	inbound()
}

type JoinRoom struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
}

type StartStroke struct {
	X     *float64 `json:"x,omitempty"`
	Y     *float64 `json:"y,omitempty"`
	Color string   `json:"color"`
	Width float64  `json:"width"`
	Tool  string   `json:"tool"`
}

// The start point, or nil when either coordinate is missing
func (s StartStroke) Point() *stroke.Point {
	if s.X == nil || s.Y == nil {
		return nil
	}
	return &stroke.Point{X: *s.X, Y: *s.Y}
}

// A point as received; either coordinate may be missing
type RawPoint struct {
	X *float64 `json:"x,omitempty"`
	Y *float64 `json:"y,omitempty"`
}

type DrawStroke struct {
	PathChunk []RawPoint `json:"pathChunk"`
	Color     string     `json:"color,omitempty"`
	Width     float64    `json:"width,omitempty"`
	Tool      string     `json:"tool,omitempty"`
}

// Complete points of the chunk, in order
func (d DrawStroke) Points() []stroke.Point {
	pts := make([]stroke.Point, 0, len(d.PathChunk))
	for _, p := range d.PathChunk {
		if p.X == nil || p.Y == nil {
			continue
		}
		pts = append(pts, stroke.Point{X: *p.X, Y: *p.Y})
	}
	return pts
}

// Wire form of a run of points
func PathChunk(points []stroke.Point) []RawPoint {
	chunk := make([]RawPoint, len(points))
	for i := range points {
		chunk[i] = RawPoint{X: &points[i].X, Y: &points[i].Y}
	}
	return chunk
}

type EndStroke struct {
	StrokeID string `json:"strokeId,omitempty"`
}

type CommitOp struct {
	Type oplog.Type      `json:"type"`
	Data json.RawMessage `json:"data"`
}

type CursorMove struct {
	X *float64 `json:"x,omitempty"`
	Y *float64 `json:"y,omitempty"`
}

type Undo struct {
	UserID string `json:"userId,omitempty"`
}

type Redo struct {
	UserID string `json:"userId,omitempty"`
}

type Clear struct {
	UserID string `json:"userId,omitempty"`
}

// Latency probe. ID is echoed back in the ack.
type Ping struct {
	ID *int64 `json:"-"`
}

func (JoinRoom) Event() Event    { return EventJoinRoom }
func (StartStroke) Event() Event { return EventStartStroke }
func (DrawStroke) Event() Event  { return EventDrawStroke }
func (EndStroke) Event() Event   { return EventEndStroke }
func (CommitOp) Event() Event    { return EventCommitOp }
func (CursorMove) Event() Event  { return EventCursorMove }
func (Undo) Event() Event        { return EventUndo }
func (Redo) Event() Event        { return EventRedo }
func (Clear) Event() Event       { return EventClear }
func (Ping) Event() Event        { return EventPing }

func (JoinRoom) inbound()    {}
func (StartStroke) inbound() {}
func (DrawStroke) inbound()  {}
func (EndStroke) inbound()   {}
func (CommitOp) inbound()    {}
func (CursorMove) inbound()  {}
func (Undo) inbound()        {}
func (Redo) inbound()        {}
func (Clear) inbound()       {}
func (Ping) inbound()        {}

// Parses one client frame
func Decode(frame []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	var in Inbound
	var err error
	switch env.Event {
	case EventJoinRoom:
		in, err = decodeData[JoinRoom](env.Data)
	case EventStartStroke:
		in, err = decodeData[StartStroke](env.Data)
	case EventDrawStroke:
		in, err = decodeData[DrawStroke](env.Data)
	case EventEndStroke:
		in, err = decodeData[EndStroke](env.Data)
	case EventCommitOp:
		in, err = decodeData[CommitOp](env.Data)
	case EventCursorMove:
		in, err = decodeData[CursorMove](env.Data)
	case EventUndo:
		in, err = decodeData[Undo](env.Data)
	case EventRedo:
		in, err = decodeData[Redo](env.Data)
	case EventClear:
		in, err = decodeData[Clear](env.Data)
	case EventPing:
		in = Ping{ID: env.ID}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Event, err)
	}
	return in, nil
}

// Builds a client frame; id is only sent for pings
func EncodeInbound(in Inbound) ([]byte, error) {
	env := Envelope{Event: in.Event()}
	if p, ok := in.(Ping); ok {
		env.ID = p.ID
		env.Data = json.RawMessage(`{}`)
		return json.Marshal(env)
	}
	data, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	env.Data = data
	return json.Marshal(env)
}

func decodeData[T any](data json.RawMessage) (T, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	err := json.Unmarshal(data, &v)
	return v, err
}
