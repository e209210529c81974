package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/verdin-ai/verdin/pkg/models"
)

func TestEnqueueAssignsSequentialIDs(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	deadline := time.Now().Add(time.Hour)

	first, err := s.EnqueueTask(ctx, "one", models.TierFlash, deadline, 200)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	second, err := s.EnqueueTask(ctx, "two", models.TierPro, deadline, 200)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if second != first+1 {
		t.Errorf("ids %d, %d: want sequential", first, second)
	}
}

func TestRunnableTasksPredicate(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	far := time.Now().Add(12 * time.Hour)
	past := time.Now().Add(-time.Minute)

	cleanEnough, _ := s.EnqueueTask(ctx, "clean grid", models.TierPro, far, 300)
	tooDirty, _ := s.EnqueueTask(ctx, "still waiting", models.TierPro, far, 100)
	expired, _ := s.EnqueueTask(ctx, "deadline passed", models.TierFlash, past, 100)

	tasks, err := s.RunnableTasks(ctx, 250)
	if err != nil {
		t.Fatalf("runnable: %v", err)
	}

	got := make(map[int64]bool, len(tasks))
	for _, task := range tasks {
		got[task.ID] = true
	}
	if !got[cleanEnough] {
		t.Error("task with target above current intensity should be runnable")
	}
	if got[tooDirty] {
		t.Error("task waiting for a cleaner grid must not be runnable")
	}
	if !got[expired] {
		t.Error("task past its deadline must run regardless of intensity")
	}
}

func TestRunnableTasksOrderedByDeadline(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	late, _ := s.EnqueueTask(ctx, "later", models.TierPro, now.Add(3*time.Hour), 500)
	early, _ := s.EnqueueTask(ctx, "sooner", models.TierPro, now.Add(time.Hour), 500)

	tasks, err := s.RunnableTasks(ctx, 100)
	if err != nil {
		t.Fatalf("runnable: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("got %d tasks, want 2", len(tasks))
	}
	if tasks[0].ID != early || tasks[1].ID != late {
		t.Errorf("order = [%d %d], want earliest deadline first", tasks[0].ID, tasks[1].ID)
	}
}

func TestCompleteTaskIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	id, _ := s.EnqueueTask(ctx, "prompt", models.TierFlash, time.Now().Add(time.Hour), 200)
	receipt := models.Receipt{ID: "rec_test"}

	if err := s.CompleteTask(ctx, id, "answer", receipt); err != nil {
		t.Fatalf("first complete: %v", err)
	}
	err := s.CompleteTask(ctx, id, "answer again", receipt)
	if !errors.Is(err, ErrConflict) {
		t.Errorf("second complete err = %v, want ErrConflict", err)
	}
	if n := s.ReceiptCount(); n != 1 {
		t.Errorf("receipt count = %d, want 1 (no double write)", n)
	}

	task, err := s.GetTask(ctx, id)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.Status != models.TaskCompleted {
		t.Errorf("status = %q, want completed", task.Status)
	}
}

func TestCompleteTaskNotFound(t *testing.T) {
	s := NewMemoryStore()
	err := s.CompleteTask(context.Background(), 999, "x", models.Receipt{ID: "rec_x"})
	if !IsNotFound(err) {
		t.Errorf("err = %v, want NotFoundError", err)
	}
}

func TestSaveReceiptIgnoresDuplicate(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	r := &models.Receipt{ID: "rec_dup", NetSavings: 1.5}

	if err := s.SaveReceipt(ctx, r); err != nil {
		t.Fatalf("save: %v", err)
	}
	changed := &models.Receipt{ID: "rec_dup", NetSavings: 99}
	if err := s.SaveReceipt(ctx, changed); err != nil {
		t.Fatalf("duplicate save: %v", err)
	}

	got, err := s.GetReceipt(ctx, "rec_dup")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.NetSavings != 1.5 {
		t.Errorf("NetSavings = %v, first write must win", got.NetSavings)
	}
}

func TestOutageSurfacesUnavailable(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.SetDown(true)

	if _, err := s.EnqueueTask(ctx, "p", models.TierPro, time.Now(), 200); !IsUnavailable(err) {
		t.Errorf("enqueue err = %v, want UnavailableError", err)
	}
	if _, err := s.RunnableTasks(ctx, 100); !IsUnavailable(err) {
		t.Errorf("runnable err = %v, want UnavailableError", err)
	}
	if err := s.Ping(ctx); !IsUnavailable(err) {
		t.Errorf("ping err = %v, want UnavailableError", err)
	}

	s.SetDown(false)
	if err := s.Ping(ctx); err != nil {
		t.Errorf("ping after recovery: %v", err)
	}
}
