// Package app wires the store, engine and key directory from a Config.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"agentdesk/internal/config"
	"agentdesk/internal/engine"
	"agentdesk/internal/engine/auth"
	"agentdesk/internal/events"
	"agentdesk/internal/store"
)

// App holds the services shared by the HTTP server and the CLI.
type App struct {
	Config    *config.Config
	Store     store.Store
	Engine    *engine.Engine
	Directory *auth.Service
	Logger    *slog.Logger
}

// Build opens the configured store and constructs the services on top of
// it. The caller owns the returned App and must Close it.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	ttl, err := cfg.TokenTTL()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(ctx, store.Options{
		Driver:    cfg.Store.Driver,
		DSN:       cfg.Store.DSN,
		Workspace: cfg.Store.Workspace,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	eng := engine.New(st, cfg, logger.With("component", "engine"))
	dir := &auth.Service{
		Store:         st,
		Events:        events.Writer{},
		Logger:        logger.With("component", "auth"),
		JWTSecret:     cfg.Server.JWTSecret,
		TokenTTL:      ttl,
		DefaultModel:  cfg.Models.Default,
		AllowedModels: cfg.Models.Allowed,
	}
	return &App{Config: cfg, Store: st, Engine: eng, Directory: dir, Logger: logger}, nil
}

func (a *App) Close() error {
	if a == nil || a.Store == nil {
		return nil
	}
	return a.Store.Close()
}

// NewLogger builds a slog logger writing to w. Unknown levels fall back to
// info.
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
