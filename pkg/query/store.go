// Package query exposes the collaborator stores the resolution core
// writes through: the authoritative query records and the per-application
// sanctioned case records.
package query

import (
	"context"
	"fmt"
	"time"

	"querydesk/pkg/logger"
	"querydesk/pkg/models"
	"querydesk/pkg/store"
)

// Store persists authoritative query records keyed by canonical identity.
type Store struct{}

func NewStore() *Store { return &Store{} }

// Get returns the query record for a canonical identity.
func (s *Store) Get(ctx context.Context, canonical string) (models.Query, bool, error) {
	return store.GetQuery(canonical)
}

// Ensure returns the stored query record, creating a pending one when the
// query has never been seen before.
func (s *Store) Ensure(ctx context.Context, canonical, appNo string) (models.Query, error) {
	q, ok, err := store.GetQuery(canonical)
	if err != nil {
		return models.Query{}, err
	}
	if ok {
		if appNo != "" && q.AppNo == "" {
			q.AppNo = appNo
			if err := store.SaveQuery(q); err != nil {
				return models.Query{}, err
			}
		}
		return q, nil
	}
	now := time.Now().UTC().UnixNano()
	q = models.Query{
		CanonicalID: canonical,
		AppNo:       appNo,
		Status:      models.StatusPending,
		CreatedTS:   now,
		UpdatedTS:   now,
	}
	if err := store.SaveQuery(q); err != nil {
		return models.Query{}, err
	}
	logger.Info("query_created", "query", canonical, "app", appNo)
	return q, nil
}

// UpdateQuery applies a partial patch to the stored record with a
// read-modify-write, returning the resulting record.
func (s *Store) UpdateQuery(ctx context.Context, canonical string, patch models.QueryPatch) (models.Query, error) {
	q, ok, err := store.GetQuery(canonical)
	if err != nil {
		return models.Query{}, err
	}
	if !ok {
		return models.Query{}, fmt.Errorf("%w: unknown query %q", models.ErrStore, canonical)
	}
	if patch.Status != nil {
		q.Status = *patch.Status
		// sub-queries carry the query-level resolution unless tracked
		// separately by the caller
		for i := range q.SubQueries {
			q.SubQueries[i].Status = *patch.Status
		}
	}
	if patch.ClearResolution {
		q.ResolvedAt = 0
		q.ResolvedBy = ""
		q.ResolutionReason = ""
	}
	if patch.ResolvedAt != nil {
		q.ResolvedAt = *patch.ResolvedAt
	}
	if patch.ResolvedBy != nil {
		q.ResolvedBy = *patch.ResolvedBy
	}
	if patch.ResolutionReason != nil {
		q.ResolutionReason = *patch.ResolutionReason
	}
	q.UpdatedTS = time.Now().UTC().UnixNano()
	if err := store.SaveQuery(q); err != nil {
		return models.Query{}, err
	}
	logger.Info("query_updated", "query", canonical, "status", q.Status)
	return q, nil
}

// ListByApp returns every sibling query of the given application.
func (s *Store) ListByApp(ctx context.Context, appNo string) ([]models.Query, error) {
	return store.ListQueriesByApp(appNo)
}

// AppStore writes the generic application-status record, the second of
// the two cooperating downstream writes performed on full resolution.
type AppStore struct{}

func NewAppStore() *AppStore { return &AppStore{} }

// SetStatus records an application-level status.
func (s *AppStore) SetStatus(ctx context.Context, appNo, status string) error {
	return store.SetAppStatus(appNo, status)
}

// GetStatus returns the recorded application-level status, if any.
func (s *AppStore) GetStatus(ctx context.Context, appNo string) (string, bool, error) {
	return store.GetAppStatus(appNo)
}

// SanctionedStore persists the "needs attention" records removed once an
// application's queries are all resolved.
type SanctionedStore struct{}

func NewSanctionedStore() *SanctionedStore { return &SanctionedStore{} }

// Upsert records an application as sanctioned.
func (s *SanctionedStore) Upsert(ctx context.Context, c models.SanctionedCase) error {
	c.UpdatedTS = time.Now().UTC().UnixNano()
	return store.SaveSanctionedCase(c)
}

// DeleteByAppID removes the sanctioned record for exactly one application.
func (s *SanctionedStore) DeleteByAppID(ctx context.Context, appNo string) error {
	return store.DeleteSanctionedCase(appNo)
}

// UpdateStatus flags the application record without removing it.
func (s *SanctionedStore) UpdateStatus(ctx context.Context, appNo, status string) error {
	c, ok, err := store.GetSanctionedCase(appNo)
	if err != nil {
		return err
	}
	if !ok {
		c = models.SanctionedCase{AppNo: appNo}
	}
	c.Status = status
	c.UpdatedTS = time.Now().UTC().UnixNano()
	return store.SaveSanctionedCase(c)
}
