package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/manpreetbhatti/canvasflow/internal/oplog"
	"github.com/manpreetbhatti/canvasflow/internal/room"
	"github.com/manpreetbhatti/canvasflow/internal/stroke"
)

// A server to client event
type Outbound interface {
	Event() Event
	outbound()
}

// Full committed history plus membership
type RoomState struct {
	Ops   []oplog.Operation `json:"ops"`
	Users []room.UserInfo   `json:"users"`
}

type UpdateUsers struct {
	Users []room.UserInfo `json:"users"`
}

// Relay of a live stroke event. Start frames carry X/Y, fragments carry
// PathChunk, and the completion frame has End with the whole Path.
type StrokeRelay struct {
	UserID    string         `json:"userId"`
	X         *float64       `json:"x,omitempty"`
	Y         *float64       `json:"y,omitempty"`
	PathChunk []stroke.Point `json:"pathChunk,omitempty"`
	Path      []stroke.Point `json:"path,omitempty"`
	Color     string         `json:"color,omitempty"`
	Width     float64        `json:"width,omitempty"`
	Tool      string         `json:"tool,omitempty"`
	StrokeID  string         `json:"strokeId,omitempty"`
	End       bool           `json:"end,omitempty"`
}

type CursorRelay struct {
	UserID string  `json:"userId"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Color  string  `json:"color"`
}

// An atomic operation committed by another member
type OpCommitted struct {
	Op oplog.Operation `json:"op"`
}

// Reply to a ping, carries no payload
type Ack struct {
	ID *int64 `json:"-"`
}

func (RoomState) Event() Event   { return EventRoomState }
func (UpdateUsers) Event() Event { return EventUpdateUsers }
func (StrokeRelay) Event() Event { return EventDrawStroke }
func (CursorRelay) Event() Event { return EventCursorMove }
func (OpCommitted) Event() Event { return EventCommitOp }
func (Ack) Event() Event         { return EventAck }

func (RoomState) outbound()   {}
func (UpdateUsers) outbound() {}
func (StrokeRelay) outbound() {}
func (CursorRelay) outbound() {}
func (OpCommitted) outbound() {}
func (Ack) outbound()         {}

// Builds a server frame
func Encode(out Outbound) ([]byte, error) {
	env := Envelope{Event: out.Event()}
	if a, ok := out.(Ack); ok {
		env.ID = a.ID
		return json.Marshal(env)
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", out.Event(), err)
	}
	env.Data = data
	return json.Marshal(env)
}

// Parses one server frame
func DecodeOutbound(frame []byte) (Outbound, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	var out Outbound
	var err error
	switch env.Event {
	case EventRoomState:
		out, err = decodeData[RoomState](env.Data)
	case EventUpdateUsers:
		out, err = decodeData[UpdateUsers](env.Data)
	case EventDrawStroke:
		out, err = decodeData[StrokeRelay](env.Data)
	case EventCursorMove:
		out, err = decodeData[CursorRelay](env.Data)
	case EventCommitOp:
		out, err = decodeData[OpCommitted](env.Data)
	case EventAck:
		out = Ack{ID: env.ID}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Event, err)
	}
	return out, nil
}
