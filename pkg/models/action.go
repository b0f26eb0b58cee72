package models

// QueryActionRecord is the immutable audit record written once per action
// attempt. Retries of the same logical action reuse the original record;
// late duplicates after a terminal transition get their own record so the
// audit trail stays complete.
type QueryActionRecord struct {
	ID          string `json:"id"`
	CanonicalID string `json:"canonicalQueryId"`
	OriginalID  string `json:"originalQueryId,omitempty"`
	Action      string `json:"action"`
	Actor       string `json:"actor"`
	ApprovedBy  string `json:"approvedBy,omitempty"`
	Team        string `json:"team,omitempty"`
	Remarks     string `json:"remarks,omitempty"`
	TS          int64  `json:"ts"`
	Status      string `json:"status"`
	Late        bool   `json:"late,omitempty"`
}

// ArchivedThread is the immutable snapshot of a query's full thread taken
// at a terminal transition. Upserted, keyed by canonical id, so a revert
// followed by a re-resolve updates rather than duplicates it.
type ArchivedThread struct {
	CanonicalID     string           `json:"canonicalQueryId"`
	AppNo           string           `json:"appNo,omitempty"`
	CustomerName    string           `json:"customerName,omitempty"`
	QueryTitle      string           `json:"queryTitle,omitempty"`
	StatusAtArchive ResolutionStatus `json:"statusAtArchive"`
	Team            string           `json:"team,omitempty"`
	Messages        []ChatMessage    `json:"messages"`
	ArchivedAt      int64            `json:"archivedAt"`
	ArchiveReason   string           `json:"archiveReason,omitempty"`
}

// UpdateEvent is one entry in the broadcast update log. Push consumers get
// it over pub/sub; polling consumers tail the durable log.
type UpdateEvent struct {
	ID          string           `json:"id"`
	CanonicalID string           `json:"canonicalQueryId"`
	AppNo       string           `json:"appNo,omitempty"`
	Action      string           `json:"action"`
	Status      ResolutionStatus `json:"status,omitempty"`
	Actor       string           `json:"actor,omitempty"`
	TS          int64            `json:"ts"`
}
