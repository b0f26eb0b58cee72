package resolution

import (
	"fmt"
	"strings"

	"querydesk/pkg/models"
)

// ActionKind is the closed set of actions a caller can apply to a query.
// The wire payload is parsed into this tag once, at the boundary; nothing
// downstream inspects loose strings.
type ActionKind int

const (
	KindApprove ActionKind = iota
	KindDeferral
	KindOtc
	KindWaiver
	KindRevert
	KindAssignBranch
	KindRespond
	KindEscalate
)

var kindNames = map[ActionKind]string{
	KindApprove:      "approve",
	KindDeferral:     "deferral",
	KindOtc:          "otc",
	KindWaiver:       "waiver",
	KindRevert:       "revert",
	KindAssignBranch: "assign-branch",
	KindRespond:      "respond",
	KindEscalate:     "escalate",
}

func (k ActionKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("action(%d)", int(k))
}

// ParseActionKind maps a wire string onto an ActionKind. Unknown actions
// are a validation error, never a silent default.
func ParseActionKind(s string) (ActionKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approve":
		return KindApprove, nil
	case "deferral":
		return KindDeferral, nil
	case "otc":
		return KindOtc, nil
	case "waiver":
		return KindWaiver, nil
	case "revert":
		return KindRevert, nil
	case "assign-branch":
		return KindAssignBranch, nil
	case "respond":
		return KindRespond, nil
	case "escalate":
		return KindEscalate, nil
	}
	return 0, fmt.Errorf("%w: unknown action %q", models.ErrValidation, s)
}

// Terminal reports whether the action resolves the query.
func (k ActionKind) Terminal() bool {
	switch k {
	case KindApprove, KindDeferral, KindOtc, KindWaiver:
		return true
	}
	return false
}

// Status returns the resolution status a terminal action maps to. Revert
// maps back to pending; side actions map to the empty status.
func (k ActionKind) Status() models.ResolutionStatus {
	switch k {
	case KindApprove:
		return models.StatusApproved
	case KindDeferral:
		return models.StatusDeferred
	case KindOtc:
		return models.StatusOTC
	case KindWaiver:
		return models.StatusWaived
	case KindRevert:
		return models.StatusPending
	}
	return ""
}

// Request is one validated action application.
type Request struct {
	Target           string // query identifier as supplied by the caller
	Kind             ActionKind
	Actor            string
	ApprovedBy       string
	Team             string
	Remarks          string
	AppNo            string
	AssignedTo       string
	AssignedToBranch string
}

// Validate enforces the request-level invariants: a target is always
// required, and a revert without remarks is rejected.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Target) == "" {
		return fmt.Errorf("%w: queryId is required", models.ErrValidation)
	}
	if r.Kind == KindRevert && strings.TrimSpace(r.Remarks) == "" {
		return fmt.Errorf("%w: revert requires remarks", models.ErrValidation)
	}
	if r.Kind == KindAssignBranch && strings.TrimSpace(r.AssignedToBranch) == "" {
		return fmt.Errorf("%w: assign-branch requires assignedToBranch", models.ErrValidation)
	}
	return nil
}
