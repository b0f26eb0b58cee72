// Package archive snapshots a query's full thread into an immutable
// archive record when the query reaches a terminal status.
package archive

import (
	"context"
	"time"

	"querydesk/pkg/logger"
	"querydesk/pkg/models"
	"querydesk/pkg/store"
	"querydesk/pkg/thread"
)

// Manager writes archived thread snapshots. Safe to call repeatedly for
// the same query: the archive is an upsert keyed by canonical identity, so
// a revert followed by a re-resolve updates the snapshot in place.
type Manager struct {
	threads *thread.Store
}

func NewManager(threads *thread.Store) *Manager {
	return &Manager{threads: threads}
}

// Archive pulls the current thread and upserts the snapshot.
func (m *Manager) Archive(ctx context.Context, canonical string, meta models.Query, reason string) (*models.ArchivedThread, error) {
	msgs, err := m.threads.List(ctx, canonical)
	if err != nil {
		return nil, err
	}
	at := models.ArchivedThread{
		CanonicalID:     canonical,
		AppNo:           meta.AppNo,
		CustomerName:    meta.CustomerName,
		QueryTitle:      meta.Title,
		StatusAtArchive: meta.Status,
		Team:            meta.Team,
		Messages:        msgs,
		ArchivedAt:      time.Now().UTC().UnixNano(),
		ArchiveReason:   reason,
	}
	if err := store.SaveArchive(at); err != nil {
		return nil, err
	}
	logger.Info("thread_archived", "query", canonical, "messages", len(msgs), "reason", reason)
	return &at, nil
}

// Get returns the stored archive for a query, or false when none exists.
func (m *Manager) Get(ctx context.Context, canonical string) (models.ArchivedThread, bool, error) {
	return store.GetArchive(canonical)
}
