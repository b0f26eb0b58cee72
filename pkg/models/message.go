package models

// MessageAction classifies what produced a chat message.
type MessageAction string

const (
	MessageActionMessage    MessageAction = "message"
	MessageActionApproval   MessageAction = "approval"
	MessageActionRevert     MessageAction = "revert"
	MessageActionResolution MessageAction = "resolution"
)

// ChatMessage is one entry in a query's discussion thread. CanonicalID is
// the storage identity assigned by the reconciler; OriginalID is whatever
// the caller supplied. The two together make cross-format lookups possible
// without ever relaxing the per-query isolation guarantee.
type ChatMessage struct {
	ID           string            `json:"id"`
	CanonicalID  string            `json:"canonicalQueryId"`
	OriginalID   string            `json:"originalId,omitempty"`
	IsolationKey string            `json:"isolationKey"`
	Body         string            `json:"body"`
	Sender       string            `json:"sender"`
	SenderRole   string            `json:"senderRole,omitempty"`
	Team         string            `json:"team,omitempty"`
	TS           int64             `json:"ts"`
	System       bool              `json:"isSystemMessage,omitempty"`
	ActionType   MessageAction     `json:"actionType"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}
