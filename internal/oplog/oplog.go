package oplog

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// The kind of a committed drawing operation
type Type string

const (
	TypeStroke Type = "stroke"
	TypeLine   Type = "line"
	TypeRect   Type = "rect"
	TypeCircle Type = "circle"
	TypeText   Type = "text"
	TypeImage  Type = "image"
	TypeClear  Type = "clear"
)

// Reports whether t may be committed in a single commit_op message
func (t Type) Atomic() bool {
	switch t {
	case TypeLine, TypeRect, TypeCircle, TypeText, TypeImage:
		return true
	}
	return false
}

// One committed, replayable drawing action. Data is kept as the raw
// payload; the log never inspects it.
type Operation struct {
	ID        string          `json:"opId"`
	UserID    string          `json:"userId"`
	Type      Type            `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

var emptyData = json.RawMessage(`{}`)

// Builds an operation with a fresh id stamped at now
func NewOperation(userID string, typ Type, data json.RawMessage, now time.Time) Operation {
	if len(data) == 0 {
		data = emptyData
	}
	return Operation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      typ,
		Data:      data,
		Timestamp: now.UnixMilli(),
	}
}

// Append-only operation history with a linear undo/redo stack
type Log struct {
	history []Operation
	undone  []Operation
	now     func() time.Time
	mu      sync.RWMutex
}

func New() *Log {
	return &Log{
		history: make([]Operation, 0),
		undone:  make([]Operation, 0),
		now:     time.Now,
	}
}

// Overrides the clock used to stamp clear operations
func (l *Log) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Adds op to the end of history and drops the redo future
func (l *Log) Append(op Operation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.appendLocked(op)
}

// Appends ops in order as a single step
func (l *Log) AppendAll(ops []Operation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, op := range ops {
		l.appendLocked(op)
	}
}

func (l *Log) appendLocked(op Operation) {
	l.history = append(l.history, op)
	l.undone = l.undone[:0]
}

// Moves the newest operation onto the undone stack. ok is false when
// there is nothing to undo.
func (l *Log) Undo() (op Operation, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := len(l.history)
	if n == 0 {
		return Operation{}, false
	}
	op = l.history[n-1]
	l.history = l.history[:n-1]
	l.undone = append(l.undone, op)
	return op, true
}

// Moves the most recently undone operation back onto history
func (l *Log) Redo() (op Operation, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := len(l.undone)
	if n == 0 {
		return Operation{}, false
	}
	op = l.undone[n-1]
	l.undone = l.undone[:n-1]
	l.history = append(l.history, op)
	return op, true
}

// Appends a synthetic clear operation. History is not emptied; replaying
// the clear erases what was drawn before it.
func (l *Log) Clear(userID string) Operation {
	l.mu.Lock()
	defer l.mu.Unlock()

	op := NewOperation(userID, TypeClear, nil, l.now())
	l.appendLocked(op)
	return op
}

// Returns a copy of the committed history in commit order
func (l *Log) Snapshot() []Operation {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ops := make([]Operation, len(l.history))
	copy(ops, l.history)
	return ops
}

// Number of committed operations
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.history)
}

// Number of operations available to redo
func (l *Log) UndoneLen() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.undone)
}
