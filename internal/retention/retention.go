// Package retention prunes aged entries from the durable broadcast update
// log on a cron schedule. Polling consumers that lag further than the
// retention window are expected to re-read current state instead.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"querydesk/pkg/config"
	"querydesk/pkg/logger"
	"querydesk/pkg/store"
)

// DefaultMaxAge bounds the update log when no max_age is configured.
const DefaultMaxAge = 7 * 24 * time.Hour

// Start starts the retention scheduler if enabled. Returns a cancel func.
func Start(ctx context.Context, cfg config.RetentionConfig) (context.CancelFunc, error) {
	if !cfg.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}

	// map empty cron to default daily @02:00
	cronExpr := cfg.Cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", cfg.Cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", cfg.Cron)
	}

	maxAge := cfg.MaxAge.Duration()
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}

	logger.Info("retention_enabled", "cron", cronExpr, "max_age", maxAge.String())
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, cronExpr, maxAge)
	return cancel, nil
}

// runScheduler uses gronx to compute the next tick for the configured
// cron expression and sleeps until that time.
func runScheduler(ctx context.Context, cronExpr string, maxAge time.Duration) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}

		if err := RunOnce(maxAge); err != nil {
			logger.Error("retention_run_error", "error", err)
		}
	}
}

// RunOnce performs a single pruning pass. Exposed so tests and admin
// triggers can invoke retention on demand.
func RunOnce(maxAge time.Duration) error {
	cutoff := time.Now().UTC().Add(-maxAge).UnixNano()
	deleted, err := store.PruneUpdatesBefore(cutoff)
	if err != nil {
		return err
	}
	logger.Info("retention_run_complete", "deleted", deleted)
	return nil
}
