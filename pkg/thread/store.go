// Package thread persists and retrieves query discussion threads keyed
// strictly by canonical query identity. It owns the two properties the
// rest of the system leans on: appends are idempotent under at-least-once
// delivery, and a read for one query can never return another query's
// messages.
package thread

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"querydesk/pkg/ident"
	"querydesk/pkg/locks"
	"querydesk/pkg/logger"
	"querydesk/pkg/models"
	"querydesk/pkg/store"
)

// DuplicateWindow is the span within which an identical (canonical, body,
// sender) append is treated as a redelivery of the same message.
const DuplicateWindow = 5 * time.Second

// Backend is the message collection this store writes through. Split out
// so tests can substitute a failing or recording implementation.
type Backend interface {
	SaveChatMessage(canonical string, msg models.ChatMessage) error
	ListChatMessages(canonical string) ([]models.ChatMessage, error)
}

// PebbleBackend routes the message collection to the process-wide pebble
// store.
type PebbleBackend struct{}

func (PebbleBackend) SaveChatMessage(canonical string, msg models.ChatMessage) error {
	return store.SaveChatMessage(canonical, msg)
}

func (PebbleBackend) ListChatMessages(canonical string) ([]models.ChatMessage, error) {
	return store.ListChatMessages(canonical)
}

// Store is the thread isolation store.
type Store struct {
	backend Backend
	locks   *locks.Keyed
}

func New(backend Backend) *Store {
	return &Store{backend: backend, locks: locks.NewKeyed()}
}

// Append stores a chat or system message under the canonical identity of
// its query. Identity reconciliation failures reject the message. An
// identical message from the same sender within DuplicateWindow returns
// the already-stored record instead of inserting a new one.
func (s *Store) Append(ctx context.Context, msg models.ChatMessage) (*models.ChatMessage, error) {
	raw := msg.OriginalID
	if raw == "" {
		raw = msg.CanonicalID
	}
	id, err := ident.Normalize(raw)
	if err != nil {
		logger.Error("append_identity_rejected", "raw", raw, "error", err)
		return nil, err
	}

	msg.CanonicalID = id.Canonical
	msg.OriginalID = raw
	msg.IsolationKey = "query_" + id.Canonical
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.TS == 0 {
		msg.TS = time.Now().UTC().UnixNano()
	}
	if msg.ActionType == "" {
		msg.ActionType = models.MessageActionMessage
	}

	// the duplicate scan and the insert must not interleave with another
	// append for the same query
	unlock := s.locks.Lock(id.Canonical)
	defer unlock()

	existing, err := s.backend.ListChatMessages(id.Canonical)
	if err != nil {
		return nil, fmt.Errorf("duplicate check: %w", err)
	}
	window := DuplicateWindow.Nanoseconds()
	for i := range existing {
		e := &existing[i]
		if e.Body == msg.Body && e.Sender == msg.Sender && absDiff(e.TS, msg.TS) <= window {
			store.DuplicatesSuppressed.Inc()
			logger.Info("duplicate_message_suppressed", "query", id.Canonical, "msg_id", e.ID, "sender", e.Sender)
			return e, nil
		}
	}

	if err := s.backend.SaveChatMessage(id.Canonical, msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// List returns the thread for the given identifier, resolved through the
// variation set so any historically-used format reaches the same thread.
// An empty identifier yields an empty slice rather than every thread.
func (s *Store) List(ctx context.Context, rawID string) ([]models.ChatMessage, error) {
	if rawID == "" {
		return []models.ChatMessage{}, nil
	}
	id, err := ident.Normalize(rawID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var out []models.ChatMessage
	for v := range id.Variations {
		msgs, err := s.backend.ListChatMessages(v)
		if err != nil {
			return nil, err
		}
		for _, m := range msgs {
			if _, dup := seen[m.ID]; dup {
				continue
			}
			// exact-match filter: the stored canonical or original id must
			// itself be one of the lookup variations
			if !id.Matches(m.CanonicalID, m.OriginalID) {
				store.ContaminationTrips.Inc()
				logger.Warn("contamination_guard_trip",
					"lookup", rawID, "stored_canonical", m.CanonicalID, "stored_original", m.OriginalID)
				continue
			}
			seen[m.ID] = struct{}{}
			out = append(out, m)
		}
	}

	// revalidate every candidate a second time before returning; a message
	// from another query must never leave this package
	final := out[:0]
	for _, m := range out {
		if !id.Matches(m.CanonicalID, m.OriginalID) {
			store.ContaminationTrips.Inc()
			logger.Warn("contamination_guard_trip", "lookup", rawID, "stored_canonical", m.CanonicalID)
			continue
		}
		final = append(final, m)
	}

	sort.SliceStable(final, func(i, j int) bool { return final[i].TS < final[j].TS })
	if final == nil {
		final = []models.ChatMessage{}
	}
	return final, nil
}

func absDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
