package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/manpreetbhatti/canvasflow/internal/apperr"
	"github.com/manpreetbhatti/canvasflow/internal/db"
	"github.com/manpreetbhatti/canvasflow/internal/oplog"
	"github.com/manpreetbhatti/canvasflow/internal/protocol"
	"github.com/manpreetbhatti/canvasflow/internal/room"
	"github.com/manpreetbhatti/canvasflow/internal/ws"
)

// Author recorded on operations the server itself appends
const systemUser = "system"

type API struct {
	hub      *ws.Hub
	registry *room.Registry
	database *db.Database
	logger   *slog.Logger
	started  time.Time
	now      func() time.Time
}

func New(hub *ws.Hub, database *db.Database, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		hub:      hub,
		registry: hub.Registry(),
		database: database,
		logger:   logger,
		started:  time.Now(),
		now:      time.Now,
	}
}

// Registers every HTTP route on mux
func (a *API) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", a.HealthHandler)
	mux.HandleFunc("GET /api/stats", a.StatsHandler)

	mux.HandleFunc("GET /api/rooms", a.ListRoomsHandler)
	mux.HandleFunc("POST /api/rooms", a.CreateRoomHandler)
	mux.HandleFunc("GET /api/rooms/{id}", a.GetRoomHandler)

	mux.HandleFunc("GET /api/rooms/{id}/checkpoints", a.ListCheckpointsHandler)
	mux.HandleFunc("POST /api/rooms/{id}/checkpoints", a.CreateCheckpointHandler)
	mux.HandleFunc("GET /api/checkpoints/diff", a.DiffCheckpointsHandler)
	mux.HandleFunc("GET /api/checkpoints/{cid}", a.GetCheckpointHandler)
	mux.HandleFunc("DELETE /api/checkpoints/{cid}", a.DeleteCheckpointHandler)
	mux.HandleFunc("POST /api/checkpoints/{cid}/restore", a.RestoreCheckpointHandler)
}

func (a *API) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.logger.Error("encode JSON response", "error", err)
	}
}

func (a *API) errorResponse(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed", "error", err)
	}
	a.jsonResponse(w, status, map[string]string{
		"error": apperr.Message(err),
		"code":  apperr.CodeOf(err),
	})
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	stats := a.registry.Stats()
	a.jsonResponse(w, http.StatusOK, map[string]any{
		"status":     "OK",
		"timestamp":  a.now().UTC().Format(time.RFC3339),
		"uptime":     time.Since(a.started).Seconds(),
		"rooms":      stats.Rooms,
		"totalUsers": stats.TotalUsers,
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := a.registry.Stats()
	active := 0
	for _, rm := range a.registry.Rooms() {
		if rm.MemberCount() > 0 {
			active++
		}
	}

	resp := map[string]any{
		"rooms":             stats.Rooms,
		"active_rooms":      active,
		"connected_clients": a.hub.ClientCount(),
		"total_users":       stats.TotalUsers,
		"total_ops":         stats.TotalOps,
		"timestamp":         a.now().UTC().Format(time.RFC3339),
	}

	if a.database != nil {
		if dbStats, err := a.database.GetStats(); err == nil {
			resp["checkpoints"] = dbStats.Checkpoints
		} else {
			a.logger.Warn("read store stats", "error", err)
		}
	}

	a.jsonResponse(w, http.StatusOK, resp)
}

// Room handlers

type RoomResponse struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	UserCount int             `json:"user_count"`
	OpCount   int             `json:"op_count"`
	Users     []room.UserInfo `json:"users,omitempty"`
}

type CreateRoomRequest struct {
	ID string `json:"id"`
}

func roomResponse(r *room.Room, withUsers bool) RoomResponse {
	resp := RoomResponse{
		ID:        r.ID,
		CreatedAt: r.CreatedAt,
		OpCount:   r.OpCount(),
	}
	users := r.Users()
	resp.UserCount = len(users)
	if withUsers {
		resp.Users = users
	}
	return resp
}

func (a *API) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	rooms := a.registry.Rooms()
	response := make([]RoomResponse, len(rooms))
	for i, rm := range rooms {
		response[i] = roomResponse(rm, false)
	}

	a.jsonResponse(w, http.StatusOK, map[string]any{
		"rooms": response,
		"total": len(response),
	})
}

func (a *API) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.errorResponse(w, apperr.InvalidInput("invalid request body"))
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		a.errorResponse(w, apperr.InvalidInput("room id is required"))
		return
	}

	rm := a.registry.GetOrCreate(req.ID)
	a.jsonResponse(w, http.StatusCreated, roomResponse(rm, false))
}

func (a *API) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	rm, err := a.lookupRoom(r.PathValue("id"))
	if err != nil {
		a.errorResponse(w, err)
		return
	}
	a.jsonResponse(w, http.StatusOK, roomResponse(rm, true))
}

func (a *API) lookupRoom(id string) (*room.Room, error) {
	rm, ok := a.registry.Get(id)
	if !ok {
		return nil, apperr.NotFound("room %s not found", room.NormalizeID(id))
	}
	return rm, nil
}

// Checkpoint handlers

type CreateCheckpointRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	CreatedBy   string `json:"created_by"`
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}

func parseCheckpointID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.InvalidInput("invalid checkpoint id %q", raw)
	}
	return id, nil
}

func (a *API) ListCheckpointsHandler(w http.ResponseWriter, r *http.Request) {
	roomID := room.NormalizeID(r.PathValue("id"))
	limit := queryInt(r, "limit", 50)
	if limit == 0 || limit > 100 {
		limit = 50
	}
	offset := queryInt(r, "offset", 0)

	checkpoints, err := a.database.ListCheckpoints(roomID, limit, offset)
	if err != nil {
		a.errorResponse(w, err)
		return
	}
	total, err := a.database.CountCheckpoints(roomID)
	if err != nil {
		a.errorResponse(w, err)
		return
	}

	a.jsonResponse(w, http.StatusOK, map[string]any{
		"checkpoints": checkpoints,
		"total":       total,
		"limit":       limit,
		"offset":      offset,
	})
}

// Stores the room's current history under a name
func (a *API) CreateCheckpointHandler(w http.ResponseWriter, r *http.Request) {
	rm, err := a.lookupRoom(r.PathValue("id"))
	if err != nil {
		a.errorResponse(w, err)
		return
	}

	var req CreateCheckpointRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			a.errorResponse(w, apperr.InvalidInput("invalid request body"))
			return
		}
	}

	cp, err := a.database.CreateCheckpoint(db.NewCheckpoint{
		RoomID:      rm.ID,
		Name:        req.Name,
		Description: req.Description,
		CreatedBy:   req.CreatedBy,
		Ops:         rm.Snapshot(),
	})
	if err != nil {
		a.errorResponse(w, err)
		return
	}

	a.logger.Info("checkpoint created", "room_id", rm.ID, "checkpoint_id", cp.ID, "ops", cp.OpCount)
	cp.Ops = nil
	a.jsonResponse(w, http.StatusCreated, cp)
}

func (a *API) GetCheckpointHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseCheckpointID(r.PathValue("cid"))
	if err != nil {
		a.errorResponse(w, err)
		return
	}

	cp, err := a.database.GetCheckpoint(id)
	if err != nil {
		a.errorResponse(w, err)
		return
	}
	if cp.Ops == nil {
		cp.Ops = []oplog.Operation{}
	}
	a.jsonResponse(w, http.StatusOK, cp)
}

func (a *API) DeleteCheckpointHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseCheckpointID(r.PathValue("cid"))
	if err != nil {
		a.errorResponse(w, err)
		return
	}

	if err := a.database.DeleteCheckpoint(id); err != nil {
		a.errorResponse(w, err)
		return
	}
	a.jsonResponse(w, http.StatusOK, map[string]string{"message": "Checkpoint deleted"})
}

// Op-level diff between two checkpoints
func (a *API) DiffCheckpointsHandler(w http.ResponseWriter, r *http.Request) {
	fromID, err := parseCheckpointID(r.URL.Query().Get("from"))
	if err != nil {
		a.errorResponse(w, err)
		return
	}
	toID, err := parseCheckpointID(r.URL.Query().Get("to"))
	if err != nil {
		a.errorResponse(w, err)
		return
	}

	from, err := a.database.GetCheckpoint(fromID)
	if err != nil {
		a.errorResponse(w, err)
		return
	}
	to, err := a.database.GetCheckpoint(toID)
	if err != nil {
		a.errorResponse(w, err)
		return
	}

	diff, err := computeDiff(from.Ops, to.Ops)
	if err != nil {
		a.errorResponse(w, err)
		return
	}
	summary := map[string]int{"added": 0, "removed": 0, "unchanged": 0}
	for _, d := range diff {
		summary[d.Type]++
	}
	from.Ops, to.Ops = nil, nil

	a.jsonResponse(w, http.StatusOK, map[string]any{
		"from":    from,
		"to":      to,
		"diff":    diff,
		"summary": summary,
	})
}

// Appends a clear followed by fresh copies of the checkpoint's operations
// as one step, then sends the new snapshot to everyone in the room.
func (a *API) RestoreCheckpointHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseCheckpointID(r.PathValue("cid"))
	if err != nil {
		a.errorResponse(w, err)
		return
	}

	cp, err := a.database.GetCheckpoint(id)
	if err != nil {
		a.errorResponse(w, err)
		return
	}

	rm := a.registry.GetOrCreate(cp.RoomID)
	now := a.now()
	var total int
	var sendErr error

	rm.Do(func(tx *room.Tx) {
		ops := make([]oplog.Operation, 0, len(cp.Ops)+1)
		ops = append(ops, oplog.NewOperation(systemUser, oplog.TypeClear, nil, now))
		for _, op := range cp.Ops {
			ops = append(ops, oplog.NewOperation(op.UserID, op.Type, op.Data, now))
		}
		tx.Log().AppendAll(ops)

		snapshot := tx.Log().Snapshot()
		total = len(snapshot)
		frame, err := protocol.Encode(protocol.RoomState{Ops: snapshot, Users: tx.ListUsers()})
		if err != nil {
			sendErr = err
			return
		}
		tx.Broadcast(frame)
	})
	if sendErr != nil {
		a.logger.Error("encode restored state", "room_id", rm.ID, "error", sendErr)
	}

	a.logger.Info("checkpoint restored", "room_id", rm.ID, "checkpoint_id", cp.ID, "ops", len(cp.Ops))
	a.jsonResponse(w, http.StatusOK, map[string]any{
		"message":       fmt.Sprintf("Restored %q", cp.Name),
		"restored_from": cp.ID,
		"room_id":       rm.ID,
		"restored_ops":  len(cp.Ops),
		"total_ops":     total,
	})
}
