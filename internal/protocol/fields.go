package protocol

import (
	"bytes"
	"encoding/json"
)

// Raw members of a JSON object payload. Lookups never fail: a missing,
// null or mistyped member reads as absent so one bad field cannot cost
// the rest of the frame.
type fields map[string]json.RawMessage

var jsonNull = []byte("null")

func (f fields) number(key string) *float64 {
	raw, ok := f[key]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), jsonNull) {
		return nil
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return &v
}

// Zero when absent
func (f fields) float(key string) float64 {
	if v := f.number(key); v != nil {
		return *v
	}
	return 0
}

func (f fields) string(key string) string {
	var s string
	if raw, ok := f[key]; ok {
		_ = json.Unmarshal(raw, &s)
	}
	return s
}

func (p *RawPoint) UnmarshalJSON(b []byte) error {
	var f fields
	if err := json.Unmarshal(b, &f); err != nil {
		// not an object; the point is skipped
		*p = RawPoint{}
		return nil
	}
	*p = RawPoint{X: f.number("x"), Y: f.number("y")}
	return nil
}

func (s *StartStroke) UnmarshalJSON(b []byte) error {
	var f fields
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*s = StartStroke{
		X:     f.number("x"),
		Y:     f.number("y"),
		Color: f.string("color"),
		Width: f.float("width"),
		Tool:  f.string("tool"),
	}
	return nil
}

// A pathChunk that is not an array fails the frame; individual bad
// points inside it do not.
func (d *DrawStroke) UnmarshalJSON(b []byte) error {
	var f fields
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	var chunk []RawPoint
	if raw, ok := f["pathChunk"]; ok {
		if err := json.Unmarshal(raw, &chunk); err != nil {
			return err
		}
	}
	*d = DrawStroke{
		PathChunk: chunk,
		Color:     f.string("color"),
		Width:     f.float("width"),
		Tool:      f.string("tool"),
	}
	return nil
}

func (c *CursorMove) UnmarshalJSON(b []byte) error {
	var f fields
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*c = CursorMove{X: f.number("x"), Y: f.number("y")}
	return nil
}
