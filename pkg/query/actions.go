package query

import (
	"context"
	"sort"

	"querydesk/pkg/ident"
	"querydesk/pkg/models"
	"querydesk/pkg/store"
)

// ActionStore is the append-only action record collection.
type ActionStore struct{}

func NewActionStore() *ActionStore { return &ActionStore{} }

// SaveActionRecord appends one immutable action record.
func (a *ActionStore) SaveActionRecord(rec models.QueryActionRecord) error {
	return store.SaveActionRecord(rec)
}

// List returns the action records for a query in timestamp order. An
// empty identifier yields an empty list.
func (a *ActionStore) List(ctx context.Context, canonical string) ([]models.QueryActionRecord, error) {
	if canonical == "" {
		return []models.QueryActionRecord{}, nil
	}
	recs, err := store.ListActionRecords(canonical)
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []models.QueryActionRecord{}
	}
	return recs, nil
}

// ListByIdentifier resolves the identifier through its variation set and
// returns the matching action records, so a record written under "42" is
// found when the caller asks with "uuid-query-42". The same exact-match
// rule as thread retrieval applies.
func (a *ActionStore) ListByIdentifier(ctx context.Context, rawID string) ([]models.QueryActionRecord, error) {
	if rawID == "" {
		return []models.QueryActionRecord{}, nil
	}
	id, err := ident.Normalize(rawID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	out := []models.QueryActionRecord{}
	for v := range id.Variations {
		recs, err := store.ListActionRecords(v)
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			if _, dup := seen[r.ID]; dup {
				continue
			}
			if !id.Matches(r.CanonicalID, r.OriginalID) {
				continue
			}
			seen[r.ID] = struct{}{}
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TS < out[j].TS })
	return out, nil
}
