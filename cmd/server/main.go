package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/manpreetbhatti/canvasflow/internal/api"
	"github.com/manpreetbhatti/canvasflow/internal/autosave"
	"github.com/manpreetbhatti/canvasflow/internal/config"
	"github.com/manpreetbhatti/canvasflow/internal/db"
	"github.com/manpreetbhatti/canvasflow/internal/discovery"
	"github.com/manpreetbhatti/canvasflow/internal/logging"
	"github.com/manpreetbhatti/canvasflow/internal/room"
	"github.com/manpreetbhatti/canvasflow/internal/ws"
)

func main() {
	configPath := flag.String("config", envOr("CANVAS_CONFIG", "canvas.toml"), "config file (toml, yaml or json)")
	watch := flag.Bool("watch", true, "reload the config file when it changes")
	flag.Parse()

	loader := config.NewLoader(*configPath)
	cfg, err := loader.Load()
	if err != nil {
		logging.New("error", "text").Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format)

	database, err := db.New(cfg.Store.Path)
	if err != nil {
		logger.Error("failed to initialize checkpoint store", "path", cfg.Store.Path, "error", err)
		os.Exit(1)
	}
	defer database.Close()

	registry := room.NewRegistry(logger.Logger)
	hub := ws.NewHub(registry, hubSettings(cfg), logger.Logger)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go hub.Run(ctx)

	var saver *autosave.Service
	if cfg.Autosave.Enabled {
		saver = autosave.New(registry, database, autosave.Config{
			Interval: cfg.Autosave.Interval(),
			KeepAuto: cfg.Autosave.KeepAuto,
		}, logger.Logger)
		saver.Start()
	}

	if *watch {
		loader.OnChange(func(next *config.Config) {
			logger.SetLevel(next.Log.Level)
			hub.UpdateSettings(hubSettings(next))
			logger.Info("config reloaded", "log_level", next.Log.Level)
		})
		if err := loader.Watch(); err != nil {
			logger.Warn("config watch disabled", "error", err)
		} else {
			go func() {
				for err := range loader.Errors() {
					logger.Warn("config reload rejected", "error", err)
				}
			}()
		}
	}
	defer loader.Close()

	if cfg.Discovery.MDNS {
		if port, err := discovery.PortFromAddr(cfg.Server.Addr); err != nil {
			logger.Warn("mDNS disabled", "error", err)
		} else if adv, err := discovery.Advertise(cfg.Discovery.Instance, port, "path=/ws"); err != nil {
			logger.Warn("mDNS disabled", "error", err)
		} else {
			defer adv.Shutdown()
			logger.Info("advertising on LAN", "service", discovery.ServiceType, "port", port)
		}
	}

	apiHandler := api.New(hub, database, logger.Logger)
	apiMux := http.NewServeMux()
	apiHandler.Routes(apiMux)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWs)
	mux.Handle("/", apiHandler.Middleware(apiMux))

	server := &http.Server{
		Addr:        cfg.Server.Addr,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("canvas server starting",
			"addr", cfg.Server.Addr,
			"store", cfg.Store.Path,
			"autosave", cfg.Autosave.Enabled)
		logger.Debug("endpoints",
			"ws", "/ws",
			"health", "GET /health",
			"stats", "GET /api/stats",
			"rooms", "GET/POST /api/rooms, GET /api/rooms/{id}",
			"checkpoints", "GET/POST /api/rooms/{id}/checkpoints, GET/DELETE /api/checkpoints/{cid}",
			"diff", "GET /api/checkpoints/diff?from=X&to=Y",
			"restore", "POST /api/checkpoints/{cid}/restore")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	stop()
	if saver != nil {
		saver.Stop()
	}
	logger.Info("server stopped")
}

func hubSettings(cfg *config.Config) ws.Settings {
	return ws.Settings{
		ReadBufferSize:    cfg.Server.ReadBuffer,
		WriteBufferSize:   cfg.Server.WriteBuffer,
		MaxMessageSize:    cfg.Server.MaxMessageSize,
		MessagesPerSecond: cfg.RateLimit.MessagesPerSecond,
		Burst:             cfg.RateLimit.Burst,
		MaxStrikes:        cfg.RateLimit.MaxStrikes,
		CheckOrigin:       cfg.Server.OriginAllowed,
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
