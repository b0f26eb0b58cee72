// Package handlers implements the /v1/query-actions HTTP surface.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"querydesk/pkg/logger"
	"querydesk/pkg/models"
	"querydesk/pkg/query"
	"querydesk/pkg/resolution"
	"querydesk/pkg/thread"
	"querydesk/pkg/utils"
)

// Updates serves the polling fallback of the broadcast log.
type Updates interface {
	Updates(ctx context.Context, afterTS int64) ([]models.UpdateEvent, error)
}

// QueryActions bundles the collaborators behind the query-actions
// endpoints.
type QueryActions struct {
	Machine *resolution.Machine
	Threads *thread.Store
	Actions *query.ActionStore
	Updates Updates
}

// Register wires the query-actions routes onto the router.
func (h *QueryActions) Register(r *mux.Router) {
	r.HandleFunc("/query-actions", h.post).Methods(http.MethodPost)
	r.HandleFunc("/query-actions", h.get).Methods(http.MethodGet)
	r.HandleFunc("/query-actions/updates", h.updates).Methods(http.MethodGet)
}

// actionRequest is the wire payload of POST /v1/query-actions.
type actionRequest struct {
	Type             string `json:"type"`
	QueryID          string `json:"queryId"`
	Action           string `json:"action,omitempty"`
	Remarks          string `json:"remarks,omitempty"`
	Team             string `json:"team,omitempty"`
	Sender           string `json:"sender,omitempty"`
	AddedBy          string `json:"addedBy,omitempty"`
	SenderRole       string `json:"senderRole,omitempty"`
	Message          string `json:"message,omitempty"`
	ApprovedBy       string `json:"approvedBy,omitempty"`
	AssignedTo       string `json:"assignedTo,omitempty"`
	AssignedToBranch string `json:"assignedToBranch,omitempty"`
	AppNo            string `json:"appNo,omitempty"`
}

// sender accepts either of the historical field names.
func (r actionRequest) sender() string {
	if r.Sender != "" {
		return r.Sender
	}
	return r.AddedBy
}

func (h *QueryActions) post(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	switch strings.ToLower(strings.TrimSpace(req.Type)) {
	case "message":
		h.postMessage(w, r, req)
	case "action":
		if strings.TrimSpace(req.Action) == "" {
			utils.JSONError(w, http.StatusBadRequest, "action is required")
			return
		}
		h.postAction(w, r, req, req.Action)
	case "revert":
		h.postAction(w, r, req, "revert")
	default:
		utils.JSONError(w, http.StatusBadRequest, "type must be one of action, message, revert")
	}
}

func (h *QueryActions) postMessage(w http.ResponseWriter, r *http.Request, req actionRequest) {
	if strings.TrimSpace(req.QueryID) == "" {
		utils.JSONError(w, http.StatusBadRequest, "queryId is required")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		utils.JSONError(w, http.StatusBadRequest, "message is required")
		return
	}
	msg, err := h.Threads.Append(r.Context(), models.ChatMessage{
		OriginalID: req.QueryID,
		Body:       req.Message,
		Sender:     req.sender(),
		SenderRole: req.SenderRole,
		Team:       req.Team,
		ActionType: models.MessageActionMessage,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    msg,
	})
}

func (h *QueryActions) postAction(w http.ResponseWriter, r *http.Request, req actionRequest, action string) {
	kind, err := resolution.ParseActionKind(action)
	if err != nil {
		writeError(w, err)
		return
	}
	out, err := h.Machine.Apply(r.Context(), resolution.Request{
		Target:           req.QueryID,
		Kind:             kind,
		Actor:            req.sender(),
		ApprovedBy:       req.ApprovedBy,
		Team:             req.Team,
		Remarks:          req.Remarks,
		AppNo:            req.AppNo,
		AssignedTo:       req.AssignedTo,
		AssignedToBranch: req.AssignedToBranch,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	resp := map[string]any{
		"success": true,
		"data":    out.Record,
		"message": out.AuditMessage,
		"status":  out.NewStatus,
	}
	if out.SystemMessage != nil {
		resp["systemMessage"] = out.SystemMessage
	}
	_ = utils.JSONWrite(w, http.StatusOK, resp)
}

func (h *QueryActions) get(w http.ResponseWriter, r *http.Request) {
	queryID := r.URL.Query().Get("queryId")
	kind := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("type")))

	switch kind {
	case "actions":
		recs, err := h.Actions.ListByIdentifier(r.Context(), queryID)
		if err != nil {
			writeError(w, err)
			return
		}
		_ = utils.JSONWrite(w, http.StatusOK, map[string]any{"success": true, "data": recs})
	case "messages":
		msgs, err := h.Threads.List(r.Context(), queryID)
		if err != nil {
			writeError(w, err)
			return
		}
		_ = utils.JSONWrite(w, http.StatusOK, map[string]any{"success": true, "data": msgs})
	case "":
		recs, err := h.Actions.ListByIdentifier(r.Context(), queryID)
		if err != nil {
			writeError(w, err)
			return
		}
		msgs, err := h.Threads.List(r.Context(), queryID)
		if err != nil {
			writeError(w, err)
			return
		}
		_ = utils.JSONWrite(w, http.StatusOK, map[string]any{
			"success":  true,
			"actions":  recs,
			"messages": msgs,
		})
	default:
		utils.JSONError(w, http.StatusBadRequest, "type must be actions or messages")
	}
}

func (h *QueryActions) updates(w http.ResponseWriter, r *http.Request) {
	var after int64
	if s := r.URL.Query().Get("after"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			utils.JSONError(w, http.StatusBadRequest, "after must be a unix-nano timestamp")
			return
		}
		after = v
	}
	evs, err := h.Updates.Updates(r.Context(), after)
	if err != nil {
		writeError(w, err)
		return
	}
	if evs == nil {
		evs = []models.UpdateEvent{}
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{"success": true, "data": evs})
}

// writeError maps the error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrIdentity):
		utils.JSONError(w, http.StatusBadRequest, err.Error())
	default:
		logger.Error("request_failed", "error", err)
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
	}
}
