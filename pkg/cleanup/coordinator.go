// Package cleanup removes an application's sanctioned-case record once
// every query raised against it has been resolved. Scoped strictly to one
// application per run; there is no bulk path.
package cleanup

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"querydesk/pkg/logger"
	"querydesk/pkg/models"
	"querydesk/pkg/store"
)

// QueryLister reads the sibling queries of an application.
type QueryLister interface {
	ListByApp(ctx context.Context, appNo string) ([]models.Query, error)
}

// SanctionedCases is the dedicated sanctioned-record write.
type SanctionedCases interface {
	DeleteByAppID(ctx context.Context, appNo string) error
}

// AppStatusWriter is the generic application-status write.
type AppStatusWriter interface {
	SetStatus(ctx context.Context, appNo, status string) error
}

// ResolvedStatus is what the generic application record is set to when the
// sanctioned case is cleared.
const ResolvedStatus = "queries_resolved"

// Coordinator checks sibling queries after a terminal transition and
// clears the sanctioned case when everything is in a resolved-family
// status.
type Coordinator struct {
	queries    QueryLister
	sanctioned SanctionedCases
	apps       AppStatusWriter

	// RetryDelay is the pause before the single retry of a failed
	// downstream write.
	RetryDelay time.Duration
}

func NewCoordinator(queries QueryLister, sanctioned SanctionedCases, apps AppStatusWriter) *Coordinator {
	return &Coordinator{
		queries:    queries,
		sanctioned: sanctioned,
		apps:       apps,
		RetryDelay: 2 * time.Second,
	}
}

// Run re-reads the application's sibling queries and, only when every
// sub-query of every sibling is resolved, attempts the two downstream
// writes. Success is declared when at least one write lands; the other is
// retried once after RetryDelay. Total failure leaves the application
// visible for the next convergent retry. The returned bool reports
// whether the sanctioned case was removed.
func (c *Coordinator) Run(ctx context.Context, appNo string) (bool, error) {
	if appNo == "" {
		return false, nil
	}
	siblings, err := c.queries.ListByApp(ctx, appNo)
	if err != nil {
		store.CleanupRuns.WithLabelValues("read_failed").Inc()
		return false, err
	}
	if len(siblings) == 0 {
		store.CleanupRuns.WithLabelValues("no_queries").Inc()
		return false, nil
	}
	for _, q := range siblings {
		if !q.Status.ResolvedFamily() {
			store.CleanupRuns.WithLabelValues("pending_siblings").Inc()
			logger.Debug("cleanup_siblings_pending", "app", appNo, "query", q.CanonicalID, "status", q.Status)
			return false, nil
		}
		for _, sq := range q.SubQueries {
			if !sq.Status.ResolvedFamily() {
				store.CleanupRuns.WithLabelValues("pending_siblings").Inc()
				logger.Debug("cleanup_subqueries_pending", "app", appNo, "query", q.CanonicalID)
				return false, nil
			}
		}
	}

	delErr := c.withRetry(ctx, func() error { return c.sanctioned.DeleteByAppID(ctx, appNo) })
	statusErr := c.withRetry(ctx, func() error { return c.apps.SetStatus(ctx, appNo, ResolvedStatus) })

	switch {
	case delErr == nil && statusErr == nil:
		store.CleanupRuns.WithLabelValues("removed").Inc()
		logger.Info("sanctioned_case_cleared", "app", appNo)
		return true, nil
	case delErr == nil || statusErr == nil:
		// one of the two cooperating writes landed; that is enough to
		// declare success, the stale side converges on the next run
		store.CleanupRuns.WithLabelValues("partial").Inc()
		logger.Warn("sanctioned_cleanup_partial", "app", appNo, "delete_error", delErr, "status_error", statusErr)
		return true, nil
	default:
		store.CleanupRuns.WithLabelValues("failed").Inc()
		logger.Error("sanctioned_cleanup_failed", "app", appNo, "delete_error", delErr, "status_error", statusErr)
		return false, fmt.Errorf("%w: sanctioned cleanup for %s: %v", models.ErrDownstream, appNo, delErr)
	}
}

// withRetry runs op and, on failure, retries exactly once after
// RetryDelay.
func (c *Coordinator) withRetry(ctx context.Context, op func() error) error {
	bo := backoff.WithMaxRetries(backoff.NewConstantBackOff(c.RetryDelay), 1)
	return backoff.Retry(op, backoff.WithContext(bo, ctx))
}
