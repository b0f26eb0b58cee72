package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/pebble"

	"querydesk/pkg/logger"
	"querydesk/pkg/models"
)

var db *pebble.DB

// dbPath remembers the opened path for diagnostics.
var dbPath string

// seq reduces key collisions when multiple records share the same
// nanosecond timestamp.
var seq uint64

// Key namespaces. Message keys embed a sortable timestamp so a prefix scan
// returns a thread in insertion order, which doubles as the
// (canonicalId, timestamp) compound index.
const (
	msgKeyFmt       = "query:%s:msg:%020d-%06d"
	msgPrefixFmt    = "query:%s:msg:"
	queryMetaFmt    = "query:%s:meta"
	actionKeyFmt    = "action:%s:%020d-%06d"
	actionPrefixFmt = "action:%s:"
	archiveKeyFmt   = "archive:query:%s"
	sanctionedFmt   = "sanctioned:app:%s"
	appIdxFmt       = "appidx:%s:%s"
	appIdxPrefixFmt = "appidx:%s:"
	updateKeyFmt    = "update:%020d-%06d"
	updatePrefix    = "update:"
)

// Open opens (or creates) a Pebble database at the given path and keeps a
// global handle for simple usage in this package.
func Open(path string) error {
	var err error
	logger.Info("opening_pebble_db", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return err
	}
	dbPath = path
	logger.Info("pebble_opened", "path", path)
	return nil
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool {
	return db != nil
}

func notOpen() error {
	return fmt.Errorf("%w: pebble not opened; call store.Open first", models.ErrStore)
}

// nextSeq returns a monotonically increasing tiebreaker for key building.
func nextSeq() uint64 {
	return atomic.AddUint64(&seq, 1)
}

// scanPrefix collects all values stored under the given key prefix in key
// order.
func scanPrefix(prefix string) ([][]byte, error) {
	if db == nil {
		return nil, notOpen()
	}
	p := []byte(prefix)
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStore, err)
	}
	defer iter.Close()
	var out [][]byte
	for iter.SeekGE(p); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), p) {
			break
		}
		out = append(out, append([]byte(nil), iter.Value()...))
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStore, err)
	}
	return out, nil
}

func setJSON(key string, v any) error {
	if db == nil {
		return notOpen()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: marshal %s: %v", models.ErrStore, key, err)
	}
	if err := db.Set([]byte(key), data, pebble.Sync); err != nil {
		logger.Error("pebble_set_failed", "key", key, "error", err)
		return fmt.Errorf("%w: %v", models.ErrStore, err)
	}
	return nil
}

func getJSON(key string, v any) (bool, error) {
	if db == nil {
		return false, notOpen()
	}
	data, closer, err := db.Get([]byte(key))
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", models.ErrStore, err)
	}
	defer closer.Close()
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("%w: unmarshal %s: %v", models.ErrStore, key, err)
	}
	return true, nil
}

// SaveChatMessage appends a chat message to a query's thread.
func SaveChatMessage(canonical string, msg models.ChatMessage) error {
	key := fmt.Sprintf(msgKeyFmt, canonical, msg.TS, nextSeq())
	if err := setJSON(key, msg); err != nil {
		logger.Error("save_message_failed", "query", canonical, "key", key, "error", err)
		return err
	}
	MessagesAppended.Inc()
	logger.Info("message_saved", "query", canonical, "key", key, "msg_id", msg.ID)
	return nil
}

// ListChatMessages returns all messages stored under a canonical query
// identity, in insertion (timestamp) order.
func ListChatMessages(canonical string) ([]models.ChatMessage, error) {
	vals, err := scanPrefix(fmt.Sprintf(msgPrefixFmt, canonical))
	if err != nil {
		return nil, err
	}
	out := make([]models.ChatMessage, 0, len(vals))
	for _, v := range vals {
		var m models.ChatMessage
		if err := json.Unmarshal(v, &m); err != nil {
			return nil, fmt.Errorf("%w: invalid stored message: %v", models.ErrStore, err)
		}
		out = append(out, m)
	}
	return out, nil
}

// SaveActionRecord appends an immutable action record for a query.
func SaveActionRecord(rec models.QueryActionRecord) error {
	key := fmt.Sprintf(actionKeyFmt, rec.CanonicalID, rec.TS, nextSeq())
	if err := setJSON(key, rec); err != nil {
		return err
	}
	ActionsRecorded.Inc()
	logger.Info("action_recorded", "query", rec.CanonicalID, "action", rec.Action, "id", rec.ID)
	return nil
}

// ListActionRecords returns all action records for a canonical query
// identity in timestamp order.
func ListActionRecords(canonical string) ([]models.QueryActionRecord, error) {
	vals, err := scanPrefix(fmt.Sprintf(actionPrefixFmt, canonical))
	if err != nil {
		return nil, err
	}
	out := make([]models.QueryActionRecord, 0, len(vals))
	for _, v := range vals {
		var r models.QueryActionRecord
		if err := json.Unmarshal(v, &r); err != nil {
			return nil, fmt.Errorf("%w: invalid stored action record: %v", models.ErrStore, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// SaveArchive upserts the archived thread snapshot for a query.
func SaveArchive(at models.ArchivedThread) error {
	return setJSON(fmt.Sprintf(archiveKeyFmt, at.CanonicalID), at)
}

// GetArchive returns the archived thread for a query, or false when none
// exists.
func GetArchive(canonical string) (models.ArchivedThread, bool, error) {
	var at models.ArchivedThread
	ok, err := getJSON(fmt.Sprintf(archiveKeyFmt, canonical), &at)
	return at, ok, err
}

// SaveQuery stores the authoritative query record and maintains the
// per-application sibling index.
func SaveQuery(q models.Query) error {
	if err := setJSON(fmt.Sprintf(queryMetaFmt, q.CanonicalID), q); err != nil {
		return err
	}
	if q.AppNo != "" {
		if err := setJSON(fmt.Sprintf(appIdxFmt, q.AppNo, q.CanonicalID), q.CanonicalID); err != nil {
			return err
		}
	}
	return nil
}

// GetQuery returns the stored query record, or false when none exists.
func GetQuery(canonical string) (models.Query, bool, error) {
	var q models.Query
	ok, err := getJSON(fmt.Sprintf(queryMetaFmt, canonical), &q)
	return q, ok, err
}

// ListQueriesByApp returns every query belonging to the given application
// number, via the sibling index.
func ListQueriesByApp(appNo string) ([]models.Query, error) {
	vals, err := scanPrefix(fmt.Sprintf(appIdxPrefixFmt, appNo))
	if err != nil {
		return nil, err
	}
	out := make([]models.Query, 0, len(vals))
	for _, v := range vals {
		var canonical string
		if err := json.Unmarshal(v, &canonical); err != nil {
			return nil, fmt.Errorf("%w: invalid app index entry: %v", models.ErrStore, err)
		}
		q, ok, err := GetQuery(canonical)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, q)
		}
	}
	return out, nil
}

// SaveSanctionedCase upserts the sanctioned case record for an
// application.
func SaveSanctionedCase(c models.SanctionedCase) error {
	return setJSON(fmt.Sprintf(sanctionedFmt, c.AppNo), c)
}

// GetSanctionedCase returns the sanctioned case record for an application,
// or false when none exists.
func GetSanctionedCase(appNo string) (models.SanctionedCase, bool, error) {
	var c models.SanctionedCase
	ok, err := getJSON(fmt.Sprintf(sanctionedFmt, appNo), &c)
	return c, ok, err
}

// DeleteSanctionedCase removes the sanctioned case record for exactly one
// application.
func DeleteSanctionedCase(appNo string) error {
	if db == nil {
		return notOpen()
	}
	key := fmt.Sprintf(sanctionedFmt, appNo)
	if err := db.Delete([]byte(key), pebble.Sync); err != nil {
		logger.Error("delete_sanctioned_failed", "app", appNo, "error", err)
		return fmt.Errorf("%w: %v", models.ErrStore, err)
	}
	logger.Info("sanctioned_case_deleted", "app", appNo)
	return nil
}

// SetAppStatus writes the generic application-status record.
func SetAppStatus(appNo, status string) error {
	return setJSON("appstatus:"+appNo, status)
}

// GetAppStatus returns the generic application-status record, or false
// when none exists.
func GetAppStatus(appNo string) (string, bool, error) {
	var s string
	ok, err := getJSON("appstatus:"+appNo, &s)
	return s, ok, err
}

// AppendUpdate appends an event to the durable broadcast update log.
func AppendUpdate(ev models.UpdateEvent) error {
	return setJSON(fmt.Sprintf(updateKeyFmt, ev.TS, nextSeq()), ev)
}

// ListUpdatesAfter returns all update events with a timestamp strictly
// greater than afterTS, oldest first.
func ListUpdatesAfter(afterTS int64) ([]models.UpdateEvent, error) {
	vals, err := scanPrefix(updatePrefix)
	if err != nil {
		return nil, err
	}
	out := make([]models.UpdateEvent, 0, len(vals))
	for _, v := range vals {
		var ev models.UpdateEvent
		if err := json.Unmarshal(v, &ev); err != nil {
			return nil, fmt.Errorf("%w: invalid update entry: %v", models.ErrStore, err)
		}
		if ev.TS > afterTS {
			out = append(out, ev)
		}
	}
	return out, nil
}

// PruneUpdatesBefore removes update-log entries with a timestamp older
// than cutoffTS. Returns the number of deleted entries.
func PruneUpdatesBefore(cutoffTS int64) (int, error) {
	if db == nil {
		return 0, notOpen()
	}
	cut := []byte(fmt.Sprintf(updateKeyFmt, cutoffTS, uint64(0)))
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", models.ErrStore, err)
	}
	defer iter.Close()
	var keys [][]byte
	for iter.SeekGE([]byte(updatePrefix)); iter.Valid(); iter.Next() {
		k := iter.Key()
		if !bytes.HasPrefix(k, []byte(updatePrefix)) || bytes.Compare(k, cut) >= 0 {
			break
		}
		keys = append(keys, append([]byte(nil), k...))
	}
	if err := iter.Error(); err != nil {
		return 0, fmt.Errorf("%w: %v", models.ErrStore, err)
	}
	for _, k := range keys {
		if err := db.Delete(k, pebble.Sync); err != nil {
			return 0, fmt.Errorf("%w: %v", models.ErrStore, err)
		}
	}
	if len(keys) > 0 {
		logger.Info("update_log_pruned", "deleted", len(keys))
	}
	return len(keys), nil
}

// ListKeys returns all keys (as strings) that start with the given prefix.
// Used by admin tooling and tests.
func ListKeys(prefix string) ([]string, error) {
	if db == nil {
		return nil, notOpen()
	}
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStore, err)
	}
	defer iter.Close()
	var out []string
	p := []byte(prefix)
	for iter.SeekGE(p); iter.Valid(); iter.Next() {
		if prefix != "" && !bytes.HasPrefix(iter.Key(), p) {
			break
		}
		out = append(out, string(iter.Key()))
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStore, err)
	}
	return out, nil
}
