package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manpreetbhatti/canvasflow/internal/oplog"
	"github.com/manpreetbhatti/canvasflow/internal/room"
	"github.com/manpreetbhatti/canvasflow/internal/stroke"
)

func TestDecodeInbound(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		check func(t *testing.T, in Inbound)
	}{
		{
			name:  "join room",
			frame: `{"event":"join_room","data":{"roomId":"r1","username":"Ann"}}`,
			check: func(t *testing.T, in Inbound) {
				assert.Equal(t, JoinRoom{RoomID: "r1", Username: "Ann"}, in)
			},
		},
		{
			name:  "start stroke",
			frame: `{"event":"start_stroke","data":{"x":0,"y":0,"color":"#fff","width":4,"tool":"brush"}}`,
			check: func(t *testing.T, in Inbound) {
				s := in.(StartStroke)
				require.NotNil(t, s.Point())
				assert.Equal(t, stroke.Point{X: 0, Y: 0}, *s.Point())
				assert.Equal(t, "#fff", s.Color)
				assert.Equal(t, 4.0, s.Width)
				assert.Equal(t, "brush", s.Tool)
			},
		},
		{
			name:  "start stroke missing y",
			frame: `{"event":"start_stroke","data":{"x":3,"tool":"brush"}}`,
			check: func(t *testing.T, in Inbound) {
				assert.Nil(t, in.(StartStroke).Point())
			},
		},
		{
			name:  "draw stroke skips partial points",
			frame: `{"event":"draw_stroke","data":{"pathChunk":[{"x":1,"y":1},{"x":2},{"y":3},{"x":4,"y":5}]}}`,
			check: func(t *testing.T, in Inbound) {
				assert.Equal(t, []stroke.Point{{X: 1, Y: 1}, {X: 4, Y: 5}}, in.(DrawStroke).Points())
			},
		},
		{
			name:  "end stroke without data",
			frame: `{"event":"end_stroke"}`,
			check: func(t *testing.T, in Inbound) {
				assert.Equal(t, EndStroke{}, in)
			},
		},
		{
			name:  "commit op keeps raw data",
			frame: `{"event":"commit_op","data":{"type":"rect","data":{"x":1,"y":2,"w":3,"h":4}}}`,
			check: func(t *testing.T, in Inbound) {
				c := in.(CommitOp)
				assert.Equal(t, oplog.TypeRect, c.Type)
				assert.JSONEq(t, `{"x":1,"y":2,"w":3,"h":4}`, string(c.Data))
			},
		},
		{
			name:  "undo with user id",
			frame: `{"event":"undo","data":{"userId":"abc"}}`,
			check: func(t *testing.T, in Inbound) {
				assert.Equal(t, Undo{UserID: "abc"}, in)
			},
		},
		{
			name:  "redo null data",
			frame: `{"event":"redo","data":null}`,
			check: func(t *testing.T, in Inbound) {
				assert.Equal(t, Redo{}, in)
			},
		},
		{
			name:  "clear",
			frame: `{"event":"clear","data":{}}`,
			check: func(t *testing.T, in Inbound) {
				assert.Equal(t, Clear{}, in)
			},
		},
		{
			name:  "cursor missing x",
			frame: `{"event":"cursor_move","data":{"y":9}}`,
			check: func(t *testing.T, in Inbound) {
				c := in.(CursorMove)
				assert.Nil(t, c.X)
				require.NotNil(t, c.Y)
				assert.Equal(t, 9.0, *c.Y)
			},
		},
		{
			name:  "ping carries id",
			frame: `{"event":"ping","data":{},"id":42}`,
			check: func(t *testing.T, in Inbound) {
				p := in.(Ping)
				require.NotNil(t, p.ID)
				assert.Equal(t, int64(42), *p.ID)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := Decode([]byte(tt.frame))
			require.NoError(t, err)
			tt.check(t, in)
		})
	}
}

func TestDecodeRejects(t *testing.T) {
	_, err := Decode([]byte(`{"event":"teleport","data":{}}`))
	assert.True(t, errors.Is(err, ErrUnknownEvent))

	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"event":"draw_stroke","data":{"pathChunk":"nope"}}`))
	assert.Error(t, err)
}

func TestEncodeRoomState(t *testing.T) {
	frame, err := Encode(RoomState{
		Ops:   []oplog.Operation{},
		Users: []room.UserInfo{{UserID: "a", Username: "Ann", Color: "#ef4444"}},
	})
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"event":"room_state","data":{"ops":[],"users":[{"userId":"a","username":"Ann","color":"#ef4444"}]}}`,
		string(frame))
}

func TestEncodeStrokeEnd(t *testing.T) {
	frame, err := Encode(StrokeRelay{
		UserID: "a",
		End:    true,
		Tool:   "brush",
		Color:  "#fff",
		Width:  4,
		Path:   []stroke.Point{{X: 0, Y: 0}, {X: 1, Y: 1}},
	})
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"event":"draw_stroke","data":{"userId":"a","end":true,"tool":"brush","color":"#fff","width":4,"path":[{"x":0,"y":0},{"x":1,"y":1}]}}`,
		string(frame))
}

func TestEncodeAck(t *testing.T) {
	id := int64(7)
	frame, err := Encode(Ack{ID: &id})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"ack","id":7}`, string(frame))
}

func TestInboundRoundTripThroughEncoder(t *testing.T) {
	x, y := 1.5, 2.5
	id := int64(3)
	inputs := []Inbound{
		JoinRoom{RoomID: "r1", Username: "Bo"},
		StartStroke{X: &x, Y: &y, Color: "#000", Width: 2, Tool: "pen"},
		CursorMove{X: &x, Y: &y},
		Ping{ID: &id},
	}
	for _, in := range inputs {
		frame, err := EncodeInbound(in)
		require.NoError(t, err)
		got, err := Decode(frame)
		require.NoError(t, err)
		assert.Equal(t, in, got)
	}
}

func TestDecodeOutbound(t *testing.T) {
	op := oplog.Operation{ID: "o1", UserID: "a", Type: oplog.TypeLine, Data: json.RawMessage(`{"x1":1}`), Timestamp: 5}
	frame, err := Encode(OpCommitted{Op: op})
	require.NoError(t, err)

	out, err := DecodeOutbound(frame)
	require.NoError(t, err)
	got := out.(OpCommitted)
	assert.Equal(t, "o1", got.Op.ID)
	assert.JSONEq(t, `{"x1":1}`, string(got.Op.Data))

	_, err = DecodeOutbound([]byte(`{"event":"join_room"}`))
	assert.True(t, errors.Is(err, ErrUnknownEvent))
}

func TestPathChunkRoundTrip(t *testing.T) {
	pts := []stroke.Point{{X: 1, Y: 2}, {X: 3, Y: 4}}
	frame, err := EncodeInbound(DrawStroke{PathChunk: PathChunk(pts), Tool: "brush"})
	require.NoError(t, err)

	in, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, pts, in.(DrawStroke).Points())
}

func TestDecodeToleratesMistypedNumbers(t *testing.T) {
	t.Run("bad point keeps its neighbours", func(t *testing.T) {
		in, err := Decode([]byte(`{"event":"draw_stroke","data":{"pathChunk":[{"x":1,"y":1},{"x":"bad","y":2},null,7,{"x":3,"y":3}]}}`))
		require.NoError(t, err)
		assert.Equal(t, []stroke.Point{{X: 1, Y: 1}, {X: 3, Y: 3}}, in.(DrawStroke).Points())
	})

	t.Run("string width on start", func(t *testing.T) {
		in, err := Decode([]byte(`{"event":"start_stroke","data":{"x":5,"y":6,"width":"4","color":"#000","tool":"brush"}}`))
		require.NoError(t, err)
		s := in.(StartStroke)
		require.NotNil(t, s.Point())
		assert.Equal(t, stroke.Point{X: 5, Y: 6}, *s.Point())
		assert.Equal(t, 0.0, s.Width)
		assert.Equal(t, "brush", s.Tool)
	})

	t.Run("start point with mistyped coordinate", func(t *testing.T) {
		in, err := Decode([]byte(`{"event":"start_stroke","data":{"x":true,"y":6,"tool":"brush"}}`))
		require.NoError(t, err)
		assert.Nil(t, in.(StartStroke).Point())
	})

	t.Run("cursor with null coordinate", func(t *testing.T) {
		in, err := Decode([]byte(`{"event":"cursor_move","data":{"x":null,"y":"2"}}`))
		require.NoError(t, err)
		assert.Equal(t, CursorMove{}, in)
	})

	t.Run("mistyped tool and color on draw", func(t *testing.T) {
		in, err := Decode([]byte(`{"event":"draw_stroke","data":{"pathChunk":[{"x":1,"y":2}],"tool":3,"color":{}}}`))
		require.NoError(t, err)
		d := in.(DrawStroke)
		assert.Empty(t, d.Tool)
		assert.Equal(t, []stroke.Point{{X: 1, Y: 2}}, d.Points())
	})
}
