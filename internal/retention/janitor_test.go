package retention

import (
	"context"
	"testing"
	"time"

	"github.com/verdin-ai/verdin/internal/config"
	"github.com/verdin-ai/verdin/internal/store"
	"github.com/verdin-ai/verdin/pkg/models"
)

func testJanitor(s store.Store) *Janitor {
	return NewJanitor(s, config.RetentionConfig{
		SweepInterval: time.Hour,
		TaskWindow:    7 * 24 * time.Hour,
		ReceiptWindow: 90 * 24 * time.Hour,
	})
}

func TestCyclePurgesAgedCompletedTasks(t *testing.T) {
	mem := store.NewMemoryStore()
	ctx := context.Background()
	j := testJanitor(mem)

	old, _ := mem.EnqueueTask(ctx, "old done", models.TierFlash, time.Now().Add(time.Hour), 200)
	if err := mem.CompleteTask(ctx, old, "resp", models.Receipt{ID: "rec_old", CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	mem.SetTaskCreatedAt(old, time.Now().Add(-8*24*time.Hour))

	recent, _ := mem.EnqueueTask(ctx, "recent done", models.TierFlash, time.Now().Add(time.Hour), 200)
	if err := mem.CompleteTask(ctx, recent, "resp", models.Receipt{ID: "rec_recent", CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	stats := j.runCycle(ctx)
	if stats.TasksPurged != 1 {
		t.Errorf("TasksPurged = %d, want 1", stats.TasksPurged)
	}
	if _, err := mem.GetTask(ctx, old); !store.IsNotFound(err) {
		t.Errorf("aged task still present: %v", err)
	}
	if _, err := mem.GetTask(ctx, recent); err != nil {
		t.Errorf("recent task purged: %v", err)
	}
}

func TestCycleNeverPurgesDeferredTasks(t *testing.T) {
	mem := store.NewMemoryStore()
	ctx := context.Background()
	j := testJanitor(mem)

	id, _ := mem.EnqueueTask(ctx, "still queued", models.TierPro, time.Now().Add(time.Hour), 200)
	mem.SetTaskCreatedAt(id, time.Now().Add(-30*24*time.Hour))

	stats := j.runCycle(ctx)
	if stats.TasksPurged != 0 {
		t.Errorf("TasksPurged = %d, deferred tasks must survive", stats.TasksPurged)
	}
	if _, err := mem.GetTask(ctx, id); err != nil {
		t.Errorf("deferred task purged: %v", err)
	}
}

func TestCyclePurgesAgedReceipts(t *testing.T) {
	mem := store.NewMemoryStore()
	ctx := context.Background()
	j := testJanitor(mem)

	aged := &models.Receipt{ID: "rec_aged", CreatedAt: time.Now().Add(-91 * 24 * time.Hour)}
	fresh := &models.Receipt{ID: "rec_fresh", CreatedAt: time.Now().UTC()}
	if err := mem.SaveReceipt(ctx, aged); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := mem.SaveReceipt(ctx, fresh); err != nil {
		t.Fatalf("save: %v", err)
	}

	stats := j.runCycle(ctx)
	if stats.ReceiptsPurged != 1 {
		t.Errorf("ReceiptsPurged = %d, want 1", stats.ReceiptsPurged)
	}
	if _, err := mem.GetReceipt(ctx, "rec_fresh"); err != nil {
		t.Errorf("fresh receipt purged: %v", err)
	}
}

func TestCycleSurvivesStoreOutage(t *testing.T) {
	mem := store.NewMemoryStore()
	mem.SetDown(true)
	j := testJanitor(mem)

	stats := j.runCycle(context.Background())
	if stats.TasksPurged != 0 || stats.ReceiptsPurged != 0 {
		t.Errorf("stats = %+v, want zero during outage", stats)
	}
}

func TestNewJanitorRaisesTinyInterval(t *testing.T) {
	j := NewJanitor(store.NewMemoryStore(), config.RetentionConfig{SweepInterval: time.Second})
	if j.cfg.SweepInterval != time.Hour {
		t.Errorf("SweepInterval = %v, want raised to 1h", j.cfg.SweepInterval)
	}
}
