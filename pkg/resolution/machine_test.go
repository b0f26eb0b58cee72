package resolution

import (
	"context"
	"strings"
	"testing"

	"querydesk/pkg/models"
)

// fakeQueryStore is an in-memory QueryStore recording patches.
type fakeQueryStore struct {
	queries map[string]models.Query
}

func newFakeQueryStore() *fakeQueryStore {
	return &fakeQueryStore{queries: map[string]models.Query{}}
}

func (f *fakeQueryStore) Ensure(ctx context.Context, canonical, appNo string) (models.Query, error) {
	if q, ok := f.queries[canonical]; ok {
		return q, nil
	}
	q := models.Query{CanonicalID: canonical, AppNo: appNo, Status: models.StatusPending}
	f.queries[canonical] = q
	return q, nil
}

func (f *fakeQueryStore) UpdateQuery(ctx context.Context, canonical string, patch models.QueryPatch) (models.Query, error) {
	q := f.queries[canonical]
	if patch.Status != nil {
		q.Status = *patch.Status
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
	if patch.ClearResolution {
		q.ResolvedAt = 0
		q.ResolvedBy = ""
		q.ResolutionReason = ""
	}
	f.queries[canonical] = q
	return q, nil
}

type fakeActionLog struct {
	records []models.QueryActionRecord
}

func (f *fakeActionLog) SaveActionRecord(rec models.QueryActionRecord) error {
	f.records = append(f.records, rec)
	return nil
}

type fakeThreads struct {
	messages []models.ChatMessage
}

func (f *fakeThreads) Append(ctx context.Context, msg models.ChatMessage) (*models.ChatMessage, error) {
	f.messages = append(f.messages, msg)
	return &msg, nil
}

type fakeArchiver struct {
	calls []string
}

func (f *fakeArchiver) Archive(ctx context.Context, canonical string, meta models.Query, reason string) (*models.ArchivedThread, error) {
	f.calls = append(f.calls, canonical+"|"+reason)
	return &models.ArchivedThread{CanonicalID: canonical, ArchiveReason: reason}, nil
}

type fakeCleaner struct {
	apps []string
}

func (f *fakeCleaner) Run(ctx context.Context, appNo string) (bool, error) {
	f.apps = append(f.apps, appNo)
	return false, nil
}

type fakeNotifier struct {
	events []models.UpdateEvent
}

func (f *fakeNotifier) Publish(ctx context.Context, ev models.UpdateEvent) {
	f.events = append(f.events, ev)
}

type harness struct {
	queries  *fakeQueryStore
	actions  *fakeActionLog
	threads  *fakeThreads
	archiver *fakeArchiver
	cleaner  *fakeCleaner
	notifier *fakeNotifier
	machine  *Machine
}

func newHarness() *harness {
	h := &harness{
		queries:  newFakeQueryStore(),
		actions:  &fakeActionLog{},
		threads:  &fakeThreads{},
		archiver: &fakeArchiver{},
		cleaner:  &fakeCleaner{},
		notifier: &fakeNotifier{},
	}
	h.machine = NewMachine(h.queries, h.actions, h.threads, h.archiver, h.cleaner, h.notifier)
	return h
}

// TestTerminalActionsAuditCompleteness applies each terminal action to a
// fresh query and checks the full side-effect set: status, action record,
// archive, system message, broadcast.
func TestTerminalActionsAuditCompleteness(t *testing.T) {
	cases := []struct {
		kind   ActionKind
		status models.ResolutionStatus
		phrase string
	}{
		{KindApprove, models.StatusApproved, "Query approved by"},
		{KindDeferral, models.StatusDeferred, "Query deferred by"},
		{KindOtc, models.StatusOTC, "Query marked OTC by"},
		{KindWaiver, models.StatusWaived, "Query waived by"},
	}
	for _, tc := range cases {
		h := newHarness()
		out, err := h.machine.Apply(context.Background(), Request{
			Target:  "42",
			Kind:    tc.kind,
			Actor:   "ops1",
			Team:    "operations",
			Remarks: "all documents received",
			AppNo:   "APP-9",
		})
		if err != nil {
			t.Fatalf("%s: Apply: %v", tc.kind, err)
		}
		if out.NewStatus != tc.status || !out.IsTerminal {
			t.Fatalf("%s: outcome %+v", tc.kind, out)
		}
		if !strings.Contains(out.AuditMessage, tc.phrase) || !strings.Contains(out.AuditMessage, "all documents received") {
			t.Fatalf("%s: audit message %q", tc.kind, out.AuditMessage)
		}
		if len(h.actions.records) != 1 || h.actions.records[0].Action != tc.kind.String() {
			t.Fatalf("%s: action records %+v", tc.kind, h.actions.records)
		}
		if len(h.archiver.calls) != 1 || !strings.HasSuffix(h.archiver.calls[0], "resolution:"+tc.kind.String()) {
			t.Fatalf("%s: archive calls %v", tc.kind, h.archiver.calls)
		}
		if len(h.threads.messages) != 1 || !h.threads.messages[0].System {
			t.Fatalf("%s: system messages %+v", tc.kind, h.threads.messages)
		}
		if h.threads.messages[0].ActionType != models.MessageActionResolution {
			t.Fatalf("%s: system message action type %q", tc.kind, h.threads.messages[0].ActionType)
		}
		if len(h.cleaner.apps) != 1 || h.cleaner.apps[0] != "APP-9" {
			t.Fatalf("%s: cleanup apps %v", tc.kind, h.cleaner.apps)
		}
		if len(h.notifier.events) != 1 || h.notifier.events[0].Status != tc.status {
			t.Fatalf("%s: events %+v", tc.kind, h.notifier.events)
		}
		q := h.queries.queries[out.Query.CanonicalID]
		if q.ResolvedAt == 0 || q.ResolvedBy == "" || q.ResolutionReason != "all documents received" {
			t.Fatalf("%s: resolution metadata not written: %+v", tc.kind, q)
		}
	}
}

// TestAuditRemarksPlaceholder never omits remarks from the audit trail.
func TestAuditRemarksPlaceholder(t *testing.T) {
	h := newHarness()
	out, err := h.machine.Apply(context.Background(), Request{Target: "42", Kind: KindApprove, Actor: "ops1"})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !strings.Contains(out.AuditMessage, "Remarks: no remarks") {
		t.Fatalf("missing remarks placeholder: %q", out.AuditMessage)
	}
}

// TestApproverAttribution shows both identities when a distinct approving
// authority is supplied.
func TestApproverAttribution(t *testing.T) {
	h := newHarness()
	out, err := h.machine.Apply(context.Background(), Request{
		Target:     "42",
		Kind:       KindApprove,
		Actor:      "ops1",
		ApprovedBy: "credit-head",
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !strings.Contains(out.AuditMessage, "credit-head (via ops1)") {
		t.Fatalf("audit attribution: %q", out.AuditMessage)
	}
	if out.Query.ResolvedBy != "credit-head (via ops1)" {
		t.Fatalf("resolvedBy = %q", out.Query.ResolvedBy)
	}
}

// TestRevertRoundTrip resolves a query, reverts it, and checks pending
// status with cleared resolution metadata.
func TestRevertRoundTrip(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	if _, err := h.machine.Apply(ctx, Request{Target: "42", Kind: KindApprove, Actor: "ops1", Remarks: "ok"}); err != nil {
		t.Fatalf("approve: %v", err)
	}
	out, err := h.machine.Apply(ctx, Request{Target: "42", Kind: KindRevert, Actor: "credit1", Remarks: "documents incomplete"})
	if err != nil {
		t.Fatalf("revert: %v", err)
	}
	if out.NewStatus != models.StatusPending || out.IsTerminal {
		t.Fatalf("revert outcome %+v", out)
	}
	q := h.queries.queries[out.Query.CanonicalID]
	if q.Status != models.StatusPending {
		t.Fatalf("status = %q after revert", q.Status)
	}
	if q.ResolvedAt != 0 || q.ResolvedBy != "" || q.ResolutionReason != "" {
		t.Fatalf("resolution metadata not cleared: %+v", q)
	}
	// revert appends a revert-typed system message and broadcasts
	last := h.threads.messages[len(h.threads.messages)-1]
	if last.ActionType != models.MessageActionRevert {
		t.Fatalf("system message type %q", last.ActionType)
	}
	if len(h.notifier.events) != 2 {
		t.Fatalf("events %d, want 2", len(h.notifier.events))
	}
}

// TestRevertRequiresRemarks rejects an unjustified revert.
func TestRevertRequiresRemarks(t *testing.T) {
	h := newHarness()
	_, err := h.machine.Apply(context.Background(), Request{Target: "42", Kind: KindRevert, Actor: "credit1"})
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

// TestLateTerminalActionDoesNotFlip records a competing terminal action
// against a settled query without changing the settled status.
func TestLateTerminalActionDoesNotFlip(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	if _, err := h.machine.Apply(ctx, Request{Target: "42", Kind: KindApprove, Actor: "ops1", Remarks: "ok"}); err != nil {
		t.Fatalf("approve: %v", err)
	}
	archives := len(h.archiver.calls)

	out, err := h.machine.Apply(ctx, Request{Target: "42", Kind: KindDeferral, Actor: "ops2", Remarks: "late"})
	if err != nil {
		t.Fatalf("late deferral: %v", err)
	}
	if !out.Duplicate || out.IsTerminal {
		t.Fatalf("late outcome %+v", out)
	}
	if out.NewStatus != models.StatusApproved {
		t.Fatalf("settled status flipped to %q", out.NewStatus)
	}
	if h.queries.queries["42"].Status != models.StatusApproved {
		t.Fatalf("stored status flipped")
	}
	if len(h.archiver.calls) != archives {
		t.Fatalf("late action re-archived the thread")
	}
	// both attempts are on the audit log, the late one flagged
	if len(h.actions.records) != 2 || !h.actions.records[1].Late {
		t.Fatalf("action records %+v", h.actions.records)
	}
}

// TestSideActionsKeepStatus verifies escalate/respond/assign-branch leave
// resolution status untouched while still producing records and messages.
func TestSideActionsKeepStatus(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	out, err := h.machine.Apply(ctx, Request{Target: "42", Kind: KindEscalate, Actor: "rm1", Remarks: "needs credit view"})
	if err != nil {
		t.Fatalf("escalate: %v", err)
	}
	if out.NewStatus != models.StatusPending || out.IsTerminal {
		t.Fatalf("escalate outcome %+v", out)
	}
	if len(h.archiver.calls) != 0 || len(h.cleaner.apps) != 0 {
		t.Fatalf("side action triggered terminal side effects")
	}
	if len(h.actions.records) != 1 || len(h.threads.messages) != 1 || len(h.notifier.events) != 1 {
		t.Fatalf("side action side effects: %d records, %d msgs, %d events",
			len(h.actions.records), len(h.threads.messages), len(h.notifier.events))
	}
	if at := h.threads.messages[0].ActionType; at != models.MessageActionMessage {
		t.Fatalf("side action system message tagged %q, want %q", at, models.MessageActionMessage)
	}
}

// TestAssignBranchValidation requires a branch and mentions it in the
// audit message.
func TestAssignBranchValidation(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	if _, err := h.machine.Apply(ctx, Request{Target: "42", Kind: KindAssignBranch, Actor: "ops1"}); err == nil {
		t.Fatalf("expected validation error without branch")
	}
	out, err := h.machine.Apply(ctx, Request{Target: "42", Kind: KindAssignBranch, Actor: "ops1", AssignedToBranch: "MUM-02"})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if !strings.Contains(out.AuditMessage, "assigned to branch MUM-02") {
		t.Fatalf("audit message %q", out.AuditMessage)
	}
}

// TestApplyRejectsBadIdentity surfaces reconciliation failures instead of
// assigning a random identity.
func TestApplyRejectsBadIdentity(t *testing.T) {
	h := newHarness()
	if _, err := h.machine.Apply(context.Background(), Request{Target: "   ", Kind: KindApprove, Actor: "ops1"}); err == nil {
		t.Fatalf("expected identity error")
	}
	if len(h.actions.records) != 0 {
		t.Fatalf("rejected request left records behind")
	}
}

// TestParseActionKind covers the accepted spellings and the rejection of
// unknown actions.
func TestParseActionKind(t *testing.T) {
	for in, want := range map[string]ActionKind{
		"approve":  KindApprove,
		"Deferral": KindDeferral,
		" otc ":    KindOtc,
		"waiver":   KindWaiver,
		"revert":   KindRevert,
	} {
		got, err := ParseActionKind(in)
		if err != nil {
			t.Fatalf("ParseActionKind(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseActionKind(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseActionKind("destroy"); err == nil {
		t.Fatalf("unknown action accepted")
	}
}
