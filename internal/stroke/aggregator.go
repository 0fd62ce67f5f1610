// Package stroke assembles streamed point fragments into whole strokes
// before they are committed to a room's operation log.
package stroke

import (
	"encoding/json"
	"sync"
)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// A stroke being drawn but not yet committed. It is also the payload of
// a committed stroke operation.
type Stroke struct {
	Tool        string  `json:"tool"`
	Color       string  `json:"color"`
	StrokeWidth float64 `json:"width"`
	Path        []Point `json:"path"`
}

// Encodes the stroke as operation data
func (s Stroke) Data() json.RawMessage {
	b, err := json.Marshal(s)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}

func (s Stroke) clone() Stroke {
	path := make([]Point, len(s.Path))
	copy(path, s.Path)
	s.Path = path
	return s
}

// Per-session buffers of in-progress strokes. A session owns at most one
// live stroke and only that session's fragments touch it.
type Aggregator struct {
	live map[string]*Stroke
	mu   sync.Mutex
}

func NewAggregator() *Aggregator {
	return &Aggregator{live: make(map[string]*Stroke)}
}

// Starts a stroke for sessionID, discarding any abandoned one. A nil
// start point begins an empty path.
func (a *Aggregator) Begin(sessionID, tool, color string, width float64, start *Point) {
	s := &Stroke{
		Tool:        tool,
		Color:       color,
		StrokeWidth: width,
		Path:        make([]Point, 0, 64),
	}
	if start != nil {
		s.Path = append(s.Path, *start)
	}

	a.mu.Lock()
	a.live[sessionID] = s
	a.mu.Unlock()
}

// Extends the session's live stroke. Fragments with no active stroke are
// dropped and reported as false.
func (a *Aggregator) AppendPoints(sessionID string, points []Point) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.live[sessionID]
	if !ok {
		return false
	}
	s.Path = append(s.Path, points...)
	return true
}

// Removes and returns the session's live stroke
func (a *Aggregator) End(sessionID string) (Stroke, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.live[sessionID]
	if !ok {
		return Stroke{}, false
	}
	delete(a.live, sessionID)
	return *s, true
}

// Drops the session's live stroke without returning it
func (a *Aggregator) Discard(sessionID string) bool {
	_, ok := a.End(sessionID)
	return ok
}

// Returns the session's live stroke without removing it
func (a *Aggregator) Get(sessionID string) (Stroke, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.live[sessionID]
	if !ok {
		return Stroke{}, false
	}
	return s.clone(), true
}

// Copies every live stroke keyed by owning session
func (a *Aggregator) LiveSnapshot() map[string]Stroke {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string]Stroke, len(a.live))
	for id, s := range a.live {
		out[id] = s.clone()
	}
	return out
}

func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}
