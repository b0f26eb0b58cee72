package models

// ResolutionStatus is a query's authoritative resolution state.
type ResolutionStatus string

const (
	StatusPending  ResolutionStatus = "pending"
	StatusApproved ResolutionStatus = "approved"
	StatusDeferred ResolutionStatus = "deferred"
	StatusOTC      ResolutionStatus = "otc"
	StatusWaived   ResolutionStatus = "waived"
	StatusReverted ResolutionStatus = "reverted"
	StatusResolved ResolutionStatus = "resolved"
)

// ResolvedFamily reports whether s counts as resolved for downstream
// cleanup purposes.
func (s ResolutionStatus) ResolvedFamily() bool {
	switch s {
	case StatusApproved, StatusDeferred, StatusOTC, StatusWaived, StatusResolved:
		return true
	}
	return false
}

// Terminal reports whether s is a terminal resolution for a single query.
func (s ResolutionStatus) Terminal() bool {
	switch s {
	case StatusApproved, StatusDeferred, StatusOTC, StatusWaived:
		return true
	}
	return false
}

// SubQuery is one clarification item inside a query record.
type SubQuery struct {
	Title  string           `json:"title,omitempty"`
	Status ResolutionStatus `json:"status"`
}

// Query is the authoritative record for a clarification query raised
// against a loan application.
type Query struct {
	CanonicalID  string           `json:"canonicalQueryId"`
	AppNo        string           `json:"appNo,omitempty"`
	CustomerName string           `json:"customerName,omitempty"`
	Title        string           `json:"title,omitempty"`
	Team         string           `json:"team,omitempty"`
	Status       ResolutionStatus `json:"status"`
	SubQueries   []SubQuery       `json:"subQueries,omitempty"`
	CreatedTS    int64            `json:"createdTs,omitempty"`
	UpdatedTS    int64            `json:"updatedTs,omitempty"`

	// Resolution metadata; cleared again when a query is reverted.
	ResolvedAt       int64  `json:"resolvedAt,omitempty"`
	ResolvedBy       string `json:"resolvedBy,omitempty"`
	ResolutionReason string `json:"resolutionReason,omitempty"`
}

// QueryPatch is a partial update applied to a Query by the state machine.
// Nil fields are left untouched; ClearResolution wipes the resolution
// metadata regardless of the other fields.
type QueryPatch struct {
	Status           *ResolutionStatus
	ResolvedAt       *int64
	ResolvedBy       *string
	ResolutionReason *string
	ClearResolution  bool
}

// SanctionedCase is the "needs attention" record kept per application
// while any of its queries remain unresolved.
type SanctionedCase struct {
	AppNo        string `json:"appNo"`
	CustomerName string `json:"customerName,omitempty"`
	Status       string `json:"status"`
	UpdatedTS    int64  `json:"updatedTs,omitempty"`
}
