package db

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/manpreetbhatti/canvasflow/internal/apperr"
	"github.com/manpreetbhatti/canvasflow/internal/oplog"
)

// Path used for a store that lives only as long as the process
const MemoryPath = ":memory:"

type Database struct {
	db  *sql.DB
	now func() time.Time
}

// A named copy of a room's committed history
type Checkpoint struct {
	ID          int64             `json:"id"`
	RoomID      string            `json:"room_id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Ops         []oplog.Operation `json:"ops,omitempty"`
	OpCount     int               `json:"op_count"`
	ContentHash string            `json:"content_hash"`
	CreatedBy   string            `json:"created_by"`
	IsAuto      bool              `json:"is_auto"`
	CreatedAt   time.Time         `json:"created_at"`
}

type NewCheckpoint struct {
	RoomID      string
	Name        string
	Description string
	CreatedBy   string
	Ops         []oplog.Operation
	IsAuto      bool
}

type Stats struct {
	Checkpoints int `json:"checkpoints"`
	Rooms       int `json:"rooms"`
}

func New(dbPath string) (*Database, error) {
	if dbPath != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if dbPath == MemoryPath {
		// each connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &Database{db: db, now: time.Now}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		ops TEXT NOT NULL,
		op_count INTEGER NOT NULL DEFAULT 0,
		content_hash TEXT NOT NULL,
		created_by TEXT NOT NULL DEFAULT '',
		is_auto BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_checkpoints_room_id ON checkpoints(room_id, id DESC);
	`

	_, err := db.Exec(schema)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Stable digest of a history, used to skip duplicate auto-checkpoints
func HashOps(ops []oplog.Operation) string {
	if ops == nil {
		ops = []oplog.Operation{}
	}
	b, _ := json.Marshal(ops)
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:8])
}

// Default name for checkpoints created without one
func DefaultName(isAuto bool, t time.Time) string {
	if isAuto {
		return fmt.Sprintf("Auto-save %s", t.Format("Jan 2, 3:04 PM"))
	}
	return fmt.Sprintf("Checkpoint %s", t.Format("Jan 2, 3:04 PM"))
}

func (d *Database) CreateCheckpoint(in NewCheckpoint) (*Checkpoint, error) {
	if in.RoomID == "" {
		return nil, apperr.InvalidInput("room_id is required")
	}

	ops := in.Ops
	if ops == nil {
		ops = []oplog.Operation{}
	}
	encoded, err := json.Marshal(ops)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInvalidInput, "operations cannot be encoded")
	}

	now := d.now().UTC()
	name := in.Name
	if name == "" {
		name = DefaultName(in.IsAuto, now)
	}

	result, err := d.db.Exec(`
		INSERT INTO checkpoints (room_id, name, description, ops, op_count, content_hash, created_by, is_auto, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, in.RoomID, name, in.Description, string(encoded), len(ops), HashOps(ops), in.CreatedBy, in.IsAuto, now)
	if err != nil {
		return nil, apperr.Internal(err, "failed to create checkpoint")
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, apperr.Internal(err, "failed to create checkpoint")
	}
	return d.GetCheckpoint(id)
}

// Stores an auto checkpoint unless ops match the room's latest checkpoint,
// then trims auto checkpoints down to keep. created is false for a skip.
func (d *Database) CreateAutoCheckpoint(roomID string, ops []oplog.Operation, keep int) (cp *Checkpoint, created bool, err error) {
	latest, err := d.LatestCheckpoint(roomID)
	switch {
	case err == nil && latest.ContentHash == HashOps(ops):
		return latest, false, nil
	case err != nil && !apperr.IsNotFound(err):
		return nil, false, err
	}

	cp, err = d.CreateCheckpoint(NewCheckpoint{RoomID: roomID, Ops: ops, IsAuto: true})
	if err != nil {
		return nil, false, err
	}
	if _, err := d.DeleteOldAutoCheckpoints(roomID, keep); err != nil {
		return cp, true, err
	}
	return cp, true, nil
}

const checkpointColumns = `id, room_id, name, description, ops, op_count, content_hash, created_by, is_auto, created_at`

const summaryColumns = `id, room_id, name, description, '', op_count, content_hash, created_by, is_auto, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row scanner) (*Checkpoint, error) {
	var cp Checkpoint
	var ops string
	if err := row.Scan(&cp.ID, &cp.RoomID, &cp.Name, &cp.Description, &ops, &cp.OpCount,
		&cp.ContentHash, &cp.CreatedBy, &cp.IsAuto, &cp.CreatedAt); err != nil {
		return nil, err
	}
	if ops != "" {
		if err := json.Unmarshal([]byte(ops), &cp.Ops); err != nil {
			return nil, fmt.Errorf("decode ops of checkpoint %d: %w", cp.ID, err)
		}
	}
	return &cp, nil
}

// Returns one checkpoint with its operations
func (d *Database) GetCheckpoint(id int64) (*Checkpoint, error) {
	row := d.db.QueryRow(`SELECT `+checkpointColumns+` FROM checkpoints WHERE id = ?`, id)

	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("checkpoint %d not found", id)
	}
	if err != nil {
		return nil, apperr.Internal(err, "failed to get checkpoint")
	}
	return cp, nil
}

// Lists a room's checkpoints newest first, without operations
func (d *Database) ListCheckpoints(roomID string, limit, offset int) ([]Checkpoint, error) {
	rows, err := d.db.Query(`
		SELECT `+summaryColumns+`
		FROM checkpoints
		WHERE room_id = ?
		ORDER BY id DESC
		LIMIT ? OFFSET ?
	`, roomID, limit, offset)
	if err != nil {
		return nil, apperr.Internal(err, "failed to list checkpoints")
	}
	defer rows.Close()

	checkpoints := make([]Checkpoint, 0)
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, apperr.Internal(err, "failed to list checkpoints")
		}
		checkpoints = append(checkpoints, *cp)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal(err, "failed to list checkpoints")
	}
	return checkpoints, nil
}

func (d *Database) CountCheckpoints(roomID string) (int, error) {
	var count int
	err := d.db.QueryRow("SELECT COUNT(*) FROM checkpoints WHERE room_id = ?", roomID).Scan(&count)
	if err != nil {
		return 0, apperr.Internal(err, "failed to count checkpoints")
	}
	return count, nil
}

func (d *Database) LatestCheckpoint(roomID string) (*Checkpoint, error) {
	row := d.db.QueryRow(`
		SELECT `+checkpointColumns+`
		FROM checkpoints
		WHERE room_id = ?
		ORDER BY id DESC
		LIMIT 1
	`, roomID)

	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("room %s has no checkpoints", roomID)
	}
	if err != nil {
		return nil, apperr.Internal(err, "failed to get latest checkpoint")
	}
	return cp, nil
}

func (d *Database) DeleteCheckpoint(id int64) error {
	result, err := d.db.Exec("DELETE FROM checkpoints WHERE id = ?", id)
	if err != nil {
		return apperr.Internal(err, "failed to delete checkpoint")
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return apperr.NotFound("checkpoint %d not found", id)
	}
	return nil
}

// Removes old auto checkpoints, keeping the most recent keepCount
func (d *Database) DeleteOldAutoCheckpoints(roomID string, keepCount int) (int64, error) {
	result, err := d.db.Exec(`
		DELETE FROM checkpoints
		WHERE room_id = ? AND is_auto = TRUE AND id NOT IN (
			SELECT id FROM checkpoints
			WHERE room_id = ? AND is_auto = TRUE
			ORDER BY id DESC
			LIMIT ?
		)
	`, roomID, roomID, keepCount)
	if err != nil {
		return 0, apperr.Internal(err, "failed to trim auto checkpoints")
	}
	n, _ := result.RowsAffected()
	return n, nil
}

func (d *Database) GetStats() (Stats, error) {
	var s Stats
	err := d.db.QueryRow("SELECT COUNT(*), COUNT(DISTINCT room_id) FROM checkpoints").Scan(&s.Checkpoints, &s.Rooms)
	if err != nil {
		return Stats{}, apperr.Internal(err, "failed to read store stats")
	}
	return s, nil
}
