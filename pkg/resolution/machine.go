// Package resolution drives a query through its resolution lifecycle. The
// state machine validates an action request, computes the resulting
// status and audit message, and executes the terminal side effects in a
// fixed order: status write, archive, system message, downstream cleanup,
// broadcast. Every step is idempotent so the whole sequence is safe to
// replay after a partial failure.
package resolution

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"querydesk/pkg/ident"
	"querydesk/pkg/locks"
	"querydesk/pkg/logger"
	"querydesk/pkg/models"
)

// QueryStore is the collaborator holding authoritative query status.
type QueryStore interface {
	Ensure(ctx context.Context, canonical, appNo string) (models.Query, error)
	UpdateQuery(ctx context.Context, canonical string, patch models.QueryPatch) (models.Query, error)
}

// ActionLog is the append-only action record collection.
type ActionLog interface {
	SaveActionRecord(rec models.QueryActionRecord) error
}

// Threads is the isolated message store the machine appends system
// messages to.
type Threads interface {
	Append(ctx context.Context, msg models.ChatMessage) (*models.ChatMessage, error)
}

// Archiver snapshots a thread at terminal transitions.
type Archiver interface {
	Archive(ctx context.Context, canonical string, meta models.Query, reason string) (*models.ArchivedThread, error)
}

// Cleaner is the downstream sanctioned-case coordinator.
type Cleaner interface {
	Run(ctx context.Context, appNo string) (bool, error)
}

// Notifier fans out state-change events.
type Notifier interface {
	Publish(ctx context.Context, ev models.UpdateEvent)
}

// Outcome is what an applied action produced.
type Outcome struct {
	NewStatus     models.ResolutionStatus
	AuditMessage  string
	IsTerminal    bool
	Duplicate     bool
	Record        models.QueryActionRecord
	SystemMessage *models.ChatMessage
	Query         models.Query
}

// Machine applies action requests. Operations on the same canonical
// identity are serialized through a keyed mutex; distinct queries proceed
// concurrently.
type Machine struct {
	queries  QueryStore
	actions  ActionLog
	threads  Threads
	archiver Archiver
	cleaner  Cleaner
	notifier Notifier
	locks    *locks.Keyed
}

func NewMachine(queries QueryStore, actions ActionLog, threads Threads, archiver Archiver, cleaner Cleaner, notifier Notifier) *Machine {
	return &Machine{
		queries:  queries,
		actions:  actions,
		threads:  threads,
		archiver: archiver,
		cleaner:  cleaner,
		notifier: notifier,
		locks:    locks.NewKeyed(),
	}
}

// Apply validates and executes one action request.
func (m *Machine) Apply(ctx context.Context, req Request) (*Outcome, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	id, err := ident.Normalize(req.Target)
	if err != nil {
		return nil, err
	}
	canonical := id.Canonical

	unlock := m.locks.Lock(canonical)
	defer unlock()

	q, err := m.queries.Ensure(ctx, canonical, req.AppNo)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rec := models.QueryActionRecord{
		ID:          uuid.NewString(),
		CanonicalID: canonical,
		OriginalID:  req.Target,
		Action:      req.Kind.String(),
		Actor:       req.Actor,
		ApprovedBy:  req.ApprovedBy,
		Team:        req.Team,
		Remarks:     req.Remarks,
		TS:          now.UnixNano(),
		Status:      "completed",
	}

	switch {
	case req.Kind.Terminal():
		return m.applyTerminal(ctx, req, q, rec, now)
	case req.Kind == KindRevert:
		return m.applyRevert(ctx, req, q, rec, now)
	default:
		return m.applySide(ctx, req, q, rec, now)
	}
}

// applyTerminal resolves the query and runs the terminal side-effect
// sequence.
func (m *Machine) applyTerminal(ctx context.Context, req Request, q models.Query, rec models.QueryActionRecord, now time.Time) (*Outcome, error) {
	target := req.Kind.Status()
	audit := auditMessage(req, now)

	if q.Status.Terminal() {
		// late redelivery or competing submission of an already-settled
		// query: record it for audit completeness, never flip the settled
		// status
		rec.Late = true
		if err := m.actions.SaveActionRecord(rec); err != nil {
			return nil, err
		}
		logger.Warn("late_terminal_action",
			"query", q.CanonicalID, "settled", q.Status, "requested", target, "actor", req.Actor)
		return &Outcome{
			NewStatus:    q.Status,
			AuditMessage: audit,
			IsTerminal:   false,
			Duplicate:    true,
			Record:       rec,
			Query:        q,
		}, nil
	}

	// 1. status write
	resolvedAt := now.UnixNano()
	resolvedBy := displayName(req)
	updated, err := m.queries.UpdateQuery(ctx, q.CanonicalID, models.QueryPatch{
		Status:           &target,
		ResolvedAt:       &resolvedAt,
		ResolvedBy:       &resolvedBy,
		ResolutionReason: &req.Remarks,
	})
	if err != nil {
		return nil, err
	}
	if err := m.actions.SaveActionRecord(rec); err != nil {
		// the transition is committed; the record write is replay-safe
		logger.Error("action_record_write_failed", "query", q.CanonicalID, "error", err)
	}

	out := &Outcome{
		NewStatus:    target,
		AuditMessage: audit,
		IsTerminal:   true,
		Record:       rec,
		Query:        updated,
	}

	// 2. archive the thread at its terminal state
	if _, err := m.archiver.Archive(ctx, q.CanonicalID, updated, "resolution:"+req.Kind.String()); err != nil {
		logger.Error("terminal_archive_failed", "query", q.CanonicalID, "error", err)
	}

	// 3. system message into the thread
	out.SystemMessage = m.appendSystem(ctx, req, updated, audit, models.MessageActionResolution)

	// 4. downstream sanctioned-case check, scoped to this application
	if _, err := m.cleaner.Run(ctx, updated.AppNo); err != nil {
		logger.Error("downstream_cleanup_failed", "query", q.CanonicalID, "app", updated.AppNo, "error", err)
	}

	// 5. broadcast
	m.publish(ctx, req, updated)
	return out, nil
}

// applyRevert reopens a resolved query.
func (m *Machine) applyRevert(ctx context.Context, req Request, q models.Query, rec models.QueryActionRecord, now time.Time) (*Outcome, error) {
	audit := auditMessage(req, now)
	pending := models.StatusPending
	updated, err := m.queries.UpdateQuery(ctx, q.CanonicalID, models.QueryPatch{
		Status:          &pending,
		ClearResolution: true,
	})
	if err != nil {
		return nil, err
	}
	if err := m.actions.SaveActionRecord(rec); err != nil {
		logger.Error("action_record_write_failed", "query", q.CanonicalID, "error", err)
	}

	out := &Outcome{
		NewStatus:    pending,
		AuditMessage: audit,
		Record:       rec,
		Query:        updated,
	}
	out.SystemMessage = m.appendSystem(ctx, req, updated, audit, models.MessageActionRevert)
	m.publish(ctx, req, updated)
	logger.Info("query_reverted", "query", q.CanonicalID, "actor", req.Actor)
	return out, nil
}

// applySide handles escalate/respond/assign-branch, which never change
// resolution status.
func (m *Machine) applySide(ctx context.Context, req Request, q models.Query, rec models.QueryActionRecord, now time.Time) (*Outcome, error) {
	audit := auditMessage(req, now)
	if err := m.actions.SaveActionRecord(rec); err != nil {
		return nil, err
	}
	out := &Outcome{
		NewStatus:    q.Status,
		AuditMessage: audit,
		Record:       rec,
		Query:        q,
	}
	out.SystemMessage = m.appendSystem(ctx, req, q, audit, models.MessageActionMessage)
	m.publish(ctx, req, q)
	return out, nil
}

// appendSystem writes the audit text into the thread as a system message.
// Failures here never undo the committed transition.
func (m *Machine) appendSystem(ctx context.Context, req Request, q models.Query, audit string, at models.MessageAction) *models.ChatMessage {
	msg, err := m.threads.Append(ctx, models.ChatMessage{
		OriginalID: req.Target,
		Body:       audit,
		Sender:     "system",
		SenderRole: "system",
		Team:       req.Team,
		System:     true,
		ActionType: at,
	})
	if err != nil {
		logger.Error("system_message_append_failed", "query", q.CanonicalID, "error", err)
		return nil
	}
	return msg
}

func (m *Machine) publish(ctx context.Context, req Request, q models.Query) {
	m.notifier.Publish(ctx, models.UpdateEvent{
		ID:          uuid.NewString(),
		CanonicalID: q.CanonicalID,
		AppNo:       q.AppNo,
		Action:      req.Kind.String(),
		Status:      q.Status,
		Actor:       req.Actor,
		TS:          time.Now().UTC().UnixNano(),
	})
}

// displayName renders actor attribution: when a distinct approving
// authority is supplied, both identities are shown.
func displayName(req Request) string {
	actor := req.Actor
	if actor == "" {
		actor = "unknown"
	}
	if req.ApprovedBy != "" && req.ApprovedBy != req.Actor {
		return fmt.Sprintf("%s (via %s)", req.ApprovedBy, actor)
	}
	if req.ApprovedBy != "" {
		return req.ApprovedBy
	}
	return actor
}

// remarksOrPlaceholder guarantees remarks are never silently omitted from
// an audit message.
func remarksOrPlaceholder(remarks string) string {
	if remarks == "" {
		return "no remarks"
	}
	return remarks
}

// auditTimeFormat is the human-readable stamp embedded in audit messages.
const auditTimeFormat = "02 Jan 2006 15:04:05 MST"

// auditMessage renders the deterministic per-action audit template.
func auditMessage(req Request, now time.Time) string {
	who := displayName(req)
	when := now.Format(auditTimeFormat)
	remarks := remarksOrPlaceholder(req.Remarks)
	switch req.Kind {
	case KindApprove:
		return fmt.Sprintf("Query approved by %s on %s. Remarks: %s", who, when, remarks)
	case KindDeferral:
		return fmt.Sprintf("Query deferred by %s on %s. Remarks: %s", who, when, remarks)
	case KindOtc:
		return fmt.Sprintf("Query marked OTC by %s on %s. Remarks: %s", who, when, remarks)
	case KindWaiver:
		return fmt.Sprintf("Query waived by %s on %s. Remarks: %s", who, when, remarks)
	case KindRevert:
		return fmt.Sprintf("Query reverted to pending by %s on %s. Remarks: %s", who, when, remarks)
	case KindAssignBranch:
		return fmt.Sprintf("Query assigned to branch %s by %s on %s", req.AssignedToBranch, who, when)
	case KindRespond:
		return fmt.Sprintf("Response added by %s on %s. Remarks: %s", who, when, remarks)
	case KindEscalate:
		return fmt.Sprintf("Query escalated by %s on %s. Remarks: %s", who, when, remarks)
	}
	return fmt.Sprintf("Query updated by %s on %s. Remarks: %s", who, when, remarks)
}
