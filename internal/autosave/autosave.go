// Package autosave periodically stores auto checkpoints of rooms whose
// history has changed.
package autosave

import (
	"log/slog"
	"sync"
	"time"

	"github.com/manpreetbhatti/canvasflow/internal/db"
	"github.com/manpreetbhatti/canvasflow/internal/room"
)

type Config struct {
	Interval time.Duration
	KeepAuto int
}

func DefaultConfig() Config {
	return Config{
		Interval: 5 * time.Minute,
		KeepAuto: 20,
	}
}

type Service struct {
	registry *room.Registry
	database *db.Database
	config   Config
	logger   *slog.Logger

	// op count seen at the last pass, per room
	seen map[string]int

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex
}

func New(registry *room.Registry, database *db.Database, config Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		registry: registry,
		database: database,
		config:   config,
		logger:   logger,
		seen:     make(map[string]int),
		stop:     make(chan struct{}),
	}
}

func (s *Service) Start() {
	s.wg.Add(1)
	go s.run()
	s.logger.Info("autosave started", "interval", s.config.Interval, "keep_auto", s.config.KeepAuto)
}

// Stops the ticker and waits for an in-flight pass
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	s.wg.Wait()
	s.logger.Info("autosave stopped")
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.SaveAll()
		}
	}
}

// Checkpoints every room whose history length changed since the last
// pass. Returns how many checkpoints were stored.
func (s *Service) SaveAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := 0
	for _, r := range s.registry.Rooms() {
		ops := r.Snapshot()
		prev, known := s.seen[r.ID]
		if known && prev == len(ops) {
			continue
		}
		if !known && len(ops) == 0 {
			s.seen[r.ID] = 0
			continue
		}

		_, created, err := s.database.CreateAutoCheckpoint(r.ID, ops, s.config.KeepAuto)
		if err != nil {
			s.logger.Error("autosave failed", "room_id", r.ID, "error", err)
			continue
		}
		s.seen[r.ID] = len(ops)
		if created {
			saved++
		}
	}

	if saved > 0 {
		s.logger.Info("autosaved rooms", "count", saved)
	}
	return saved
}
