// Package app encapsulates the server components and lifecycle.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"querydesk/internal/retention"
	"querydesk/pkg/api"
	"querydesk/pkg/api/handlers"
	"querydesk/pkg/archive"
	"querydesk/pkg/banner"
	"querydesk/pkg/cleanup"
	"querydesk/pkg/config"
	"querydesk/pkg/logger"
	"querydesk/pkg/notify"
	"querydesk/pkg/query"
	"querydesk/pkg/resolution"
	"querydesk/pkg/store"
	"querydesk/pkg/thread"
)

// App owns the wired components and the HTTP server handle.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	notifier *notify.Broadcaster
	srv      *http.Server
}

// New initializes resources that do not require a running context (store,
// collaborators, notifier). Call Run to start the HTTP server and block
// until shutdown.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string) (*App, error) {
	if eff.DBPath == "" {
		return nil, fmt.Errorf("db path is required (use --db or QUERYDESK_DB_PATH)")
	}
	if err := store.Open(eff.DBPath); err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", eff.DBPath, err)
	}

	notifier, err := notify.New(eff.Config.Notify.RedisURL, eff.Config.Notify.Channel)
	if err != nil {
		return nil, fmt.Errorf("failed to connect notifier: %w", err)
	}

	return &App{
		eff:       eff,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		notifier:  notifier,
	}, nil
}

// Run starts the retention scheduler and the HTTP server, and blocks
// until ctx is canceled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	stopRetention, err := retention.Start(ctx, a.eff.Config.Retention)
	if err != nil {
		return err
	}
	defer stopRetention()

	banner.PrintWithEff(a.eff, a.version)

	errCh := a.startHTTP(ctx)

	select {
	case <-ctx.Done():
		a.shutdown()
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// buildRouter wires the resolution core out of its collaborators.
func (a *App) buildRouter() http.Handler {
	threads := thread.New(thread.PebbleBackend{})
	queries := query.NewStore()
	actions := query.NewActionStore()
	archiver := archive.NewManager(threads)
	coordinator := cleanup.NewCoordinator(queries, query.NewSanctionedStore(), query.NewAppStore())
	machine := resolution.NewMachine(queries, actions, threads, archiver, coordinator, a.notifier)

	return api.NewRouter(api.Deps{
		QueryActions: &handlers.QueryActions{
			Machine: machine,
			Threads: threads,
			Actions: actions,
			Updates: a.notifier,
		},
		RateLimit: api.RateLimit{
			RPS:   a.eff.Config.Security.RateLimit.RPS,
			Burst: a.eff.Config.Security.RateLimit.Burst,
		},
	})
}

// shutdown drains the HTTP server and closes shared resources.
func (a *App) shutdown() {
	if a.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.srv.Shutdown(ctx); err != nil {
			logger.Error("http_shutdown_failed", "error", err)
		}
	}
	if err := a.notifier.Close(); err != nil {
		logger.Error("notifier_close_failed", "error", err)
	}
	if err := store.Close(); err != nil {
		logger.Error("store_close_failed", "error", err)
	}
}
