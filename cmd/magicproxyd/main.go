package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"

	"github.com/melih/magicproxy/internal/adapters/docker"
	httpadapter "github.com/melih/magicproxy/internal/adapters/http"
	"github.com/melih/magicproxy/internal/backend"
	"github.com/melih/magicproxy/internal/config"
	"github.com/melih/magicproxy/internal/core/domain"
	"github.com/melih/magicproxy/internal/core/hostdb"
	"github.com/melih/magicproxy/internal/core/ports"
	"github.com/melih/magicproxy/internal/provider"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg)

	// 1. Infrastructure adapters
	engine, err := docker.NewAdapter()
	if err != nil {
		logger.Error("failed to initialize docker adapter", "error", err)
		os.Exit(1)
	}

	be, err := backend.New(cfg.Backend, logger)
	if err != nil {
		logger.Error("failed to select backend", "error", err)
		os.Exit(1)
	}
	if err := be.Initialize(ports.BackendConfig{
		TemplatesDir: cfg.TemplatesDir,
		OutputFile:   cfg.OutputFile,
		HistoryDir:   cfg.HistoryDir,
	}); err != nil {
		logger.Error("failed to initialize backend", "error", err)
		os.Exit(1)
	}

	// 2. Host table, feeding table events into the backend
	db := hostdb.New(logger)
	db.Subscribe(func(ev domain.HostEvent) {
		ctx := context.Background()
		switch ev.Type {
		case domain.HostAdded, domain.HostUpdated:
			if err := be.AddProxiedApp(ctx, ev.Entry); err != nil {
				logger.Error("failed to register app with backend",
					"identity", ev.Entry.Identity, "error", err)
			}
		case domain.HostRemoved:
			if err := be.RemoveProxiedApp(ctx, ev.Entry.Identity); err != nil {
				logger.Error("failed to remove app from backend",
					"identity", ev.Entry.Identity, "error", err)
			}
		}
	})

	// 3. Sync engine
	prov := provider.New(engine, db, logger)
	if err := prov.Start(context.Background()); err != nil {
		logger.Error("failed to start provider", "error", err)
		os.Exit(1)
	}

	// 4. Read-only status API
	handler := httpadapter.NewStatusHandler(db, be, func() string {
		return string(prov.State())
	})

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/healthz", handler.Healthz)
	api := app.Group("/api")
	v1 := api.Group("/v1")
	v1.Get("/status", handler.GetStatus)
	v1.Get("/hosts", handler.ListHosts)

	go func() {
		logger.Info("status API listening", "addr", cfg.ListenAddr)
		if err := app.Listen(cfg.ListenAddr); err != nil {
			logger.Error("status API failed", "error", err)
		}
	}()

	// 5. Run until signalled
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	prov.Stop()
	if err := app.Shutdown(); err != nil {
		logger.Error("status API shutdown failed", "error", err)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
