package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"querydesk/pkg/archive"
	"querydesk/pkg/cleanup"
	"querydesk/pkg/notify"
	"querydesk/pkg/query"
	"querydesk/pkg/resolution"
	"querydesk/pkg/store"
	"querydesk/pkg/thread"
)

// setupServer builds a fully wired handler over a scratch pebble store.
func setupServer(t *testing.T) *httptest.Server {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	threads := thread.New(thread.PebbleBackend{})
	queries := query.NewStore()
	actions := query.NewActionStore()
	notifier, err := notify.New("", "")
	if err != nil {
		t.Fatalf("notify.New: %v", err)
	}
	coordinator := cleanup.NewCoordinator(queries, query.NewSanctionedStore(), query.NewAppStore())
	machine := resolution.NewMachine(queries, actions, threads, archive.NewManager(threads), coordinator, notifier)

	r := mux.NewRouter()
	h := &QueryActions{Machine: machine, Threads: threads, Actions: actions, Updates: notifier}
	h.Register(r.PathPrefix("/v1").Subrouter())

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, payload map[string]any) (*http.Response, map[string]any) {
	t.Helper()
	body, _ := json.Marshal(payload)
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, out
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, out
}

// TestPostMessageAndList posts a chat message and reads it back through
// the combined and the messages-only views.
func TestPostMessageAndList(t *testing.T) {
	srv := setupServer(t)

	resp, out := postJSON(t, srv.URL+"/v1/query-actions", map[string]any{
		"type":    "message",
		"queryId": "42",
		"message": "please share the income proof",
		"sender":  "rm1",
		"team":    "sales",
	})
	if resp.StatusCode != http.StatusOK || out["success"] != true {
		t.Fatalf("post message: %d %v", resp.StatusCode, out)
	}

	resp, out = getJSON(t, srv.URL+"/v1/query-actions?queryId=42&type=messages")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list messages: %d", resp.StatusCode)
	}
	msgs := out["data"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("messages = %v", msgs)
	}
	m := msgs[0].(map[string]any)
	if m["canonicalQueryId"] != "42" || m["body"] != "please share the income proof" {
		t.Fatalf("message = %v", m)
	}
}

// TestPostActionResolvesQuery drives a full approve through the HTTP
// surface and checks record, status, and system message in the response.
func TestPostActionResolvesQuery(t *testing.T) {
	srv := setupServer(t)

	resp, out := postJSON(t, srv.URL+"/v1/query-actions", map[string]any{
		"type":    "action",
		"action":  "approve",
		"queryId": "42",
		"sender":  "ops1",
		"remarks": "documents verified",
		"appNo":   "APP-1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("post action: %d %v", resp.StatusCode, out)
	}
	if out["status"] != "approved" {
		t.Fatalf("status = %v", out["status"])
	}
	if _, ok := out["systemMessage"]; !ok {
		t.Fatalf("no system message in response: %v", out)
	}

	// the audit record is visible through the actions view
	_, got := getJSON(t, srv.URL+"/v1/query-actions?queryId=uuid-query-42&type=actions")
	recs := got["data"].([]any)
	if len(recs) != 1 {
		t.Fatalf("actions = %v", recs)
	}
	if recs[0].(map[string]any)["action"] != "approve" {
		t.Fatalf("record = %v", recs[0])
	}

	// and the system message landed in the thread
	_, got = getJSON(t, srv.URL+"/v1/query-actions?queryId=42&type=messages")
	msgs := got["data"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("messages = %v", msgs)
	}
	if msgs[0].(map[string]any)["isSystemMessage"] != true {
		t.Fatalf("thread message = %v", msgs[0])
	}
}

// TestPostRevertAfterApprove reopens an approved query via the revert
// type.
func TestPostRevertAfterApprove(t *testing.T) {
	srv := setupServer(t)

	postJSON(t, srv.URL+"/v1/query-actions", map[string]any{
		"type": "action", "action": "approve", "queryId": "42", "sender": "ops1", "remarks": "ok",
	})
	resp, out := postJSON(t, srv.URL+"/v1/query-actions", map[string]any{
		"type": "revert", "queryId": "42", "sender": "credit1", "remarks": "documents incomplete",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("revert: %d %v", resp.StatusCode, out)
	}
	if out["status"] != "pending" {
		t.Fatalf("status after revert = %v", out["status"])
	}
}

// TestGetWithoutQueryID returns empty lists rather than every thread.
func TestGetWithoutQueryID(t *testing.T) {
	srv := setupServer(t)

	postJSON(t, srv.URL+"/v1/query-actions", map[string]any{
		"type": "message", "queryId": "42", "message": "hello", "sender": "rm1",
	})

	resp, out := getJSON(t, srv.URL+"/v1/query-actions")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: %d", resp.StatusCode)
	}
	if len(out["actions"].([]any)) != 0 || len(out["messages"].([]any)) != 0 {
		t.Fatalf("unscoped get leaked data: %v", out)
	}
}

// TestPostValidationErrors covers the 400 surface.
func TestPostValidationErrors(t *testing.T) {
	srv := setupServer(t)
	url := srv.URL + "/v1/query-actions"

	cases := []map[string]any{
		{"type": "message", "queryId": "42"},                                          // missing message
		{"type": "message", "message": "hi"},                                          // missing queryId
		{"type": "action", "queryId": "42"},                                           // missing action
		{"type": "action", "action": "destroy", "queryId": "42"},                      // unknown action
		{"type": "revert", "queryId": "42"},                                           // revert without remarks
		{"type": "action", "action": "approve", "queryId": "  "},                      // blank identifier
		{"type": "wat", "queryId": "42"},                                              // unknown type
		{"type": "action", "action": "assign-branch", "queryId": "42", "sender": "x"}, // missing branch
	}
	for _, c := range cases {
		resp, out := postJSON(t, url, c)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("payload %v: status %d body %v", c, resp.StatusCode, out)
		}
		if out["success"] != false {
			t.Fatalf("payload %v: body %v", c, out)
		}
	}
}

// TestLateActionReturnsSettledStatus submits a competing terminal action
// and expects the settled status back, not an error.
func TestLateActionReturnsSettledStatus(t *testing.T) {
	srv := setupServer(t)
	url := srv.URL + "/v1/query-actions"

	postJSON(t, url, map[string]any{"type": "action", "action": "approve", "queryId": "42", "sender": "ops1", "remarks": "ok"})
	resp, out := postJSON(t, url, map[string]any{"type": "action", "action": "deferral", "queryId": "42", "sender": "ops2", "remarks": "late"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("late action: %d %v", resp.StatusCode, out)
	}
	if out["status"] != "approved" {
		t.Fatalf("late action flipped status: %v", out["status"])
	}
}

// TestUpdatesFeed polls the durable update log with a cursor.
func TestUpdatesFeed(t *testing.T) {
	srv := setupServer(t)
	url := srv.URL + "/v1/query-actions"

	postJSON(t, url, map[string]any{"type": "action", "action": "approve", "queryId": "42", "sender": "ops1", "remarks": "ok"})

	resp, out := getJSON(t, srv.URL+"/v1/query-actions/updates?after=0")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("updates: %d", resp.StatusCode)
	}
	evs := out["data"].([]any)
	if len(evs) != 1 {
		t.Fatalf("updates = %v", evs)
	}
	ev := evs[0].(map[string]any)
	if ev["canonicalQueryId"] != "42" || ev["status"] != "approved" {
		t.Fatalf("event = %v", ev)
	}

	if resp, _ := getJSON(t, srv.URL+"/v1/query-actions/updates?after=not-a-ts"); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad cursor accepted")
	}
}
