package retention

import (
	"context"
	"testing"
	"time"

	"querydesk/pkg/config"
	"querydesk/pkg/models"
	"querydesk/pkg/store"
)

func openStore(t *testing.T) {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
}

// TestRunOncePrunesOldUpdates removes entries older than the window and
// keeps newer ones.
func TestRunOncePrunesOldUpdates(t *testing.T) {
	openStore(t)

	now := time.Now().UTC()
	old := models.UpdateEvent{ID: "old", CanonicalID: "1", TS: now.Add(-48 * time.Hour).UnixNano()}
	fresh := models.UpdateEvent{ID: "fresh", CanonicalID: "2", TS: now.UnixNano()}
	if err := store.AppendUpdate(old); err != nil {
		t.Fatalf("AppendUpdate: %v", err)
	}
	if err := store.AppendUpdate(fresh); err != nil {
		t.Fatalf("AppendUpdate: %v", err)
	}

	if err := RunOnce(24 * time.Hour); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	got, err := store.ListUpdatesAfter(0)
	if err != nil {
		t.Fatalf("ListUpdatesAfter: %v", err)
	}
	if len(got) != 1 || got[0].ID != "fresh" {
		t.Fatalf("surviving updates = %+v", got)
	}
}

// TestStartDisabled is a no-op returning a usable cancel func.
func TestStartDisabled(t *testing.T) {
	cancel, err := Start(context.Background(), config.RetentionConfig{Enabled: false})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()
}

// TestStartRejectsBadCron surfaces an invalid schedule at startup.
func TestStartRejectsBadCron(t *testing.T) {
	_, err := Start(context.Background(), config.RetentionConfig{Enabled: true, Cron: "not a cron"})
	if err == nil {
		t.Fatalf("invalid cron accepted")
	}
}
