// Package store — in-memory Store implementation.
// Used when PostgreSQL is not available (local dev, tests).
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/verdin-ai/verdin/pkg/models"
)

// MemoryStore implements Store with in-memory maps.
type MemoryStore struct {
	mu       sync.RWMutex
	tasks    map[int64]*models.DeferredTask
	receipts map[string]*models.Receipt
	taskRcpt map[int64]string // task id -> receipt id
	nextID   int64

	// down simulates an unreachable store; every call fails with
	// UnavailableError while set. Tests use SetDown.
	down bool
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:    make(map[int64]*models.DeferredTask),
		receipts: make(map[string]*models.Receipt),
		taskRcpt: make(map[int64]string),
	}
}

// SetDown toggles simulated unavailability.
func (m *MemoryStore) SetDown(down bool) {
	m.mu.Lock()
	m.down = down
	m.mu.Unlock()
}

func (m *MemoryStore) unavailable() error {
	if m.down {
		return &UnavailableError{Err: errors.New("simulated outage")}
	}
	return nil
}

func (m *MemoryStore) EnqueueTask(_ context.Context, prompt string, tier models.ModelTier, deadline time.Time, targetIntensity float64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.unavailable(); err != nil {
		return 0, err
	}

	m.nextID++
	task := &models.DeferredTask{
		ID:              m.nextID,
		Prompt:          prompt,
		ModelTier:       tier,
		Deadline:        deadline.UTC(),
		TargetIntensity: targetIntensity,
		Status:          models.TaskDeferred,
		CreatedAt:       time.Now().UTC(),
	}
	m.tasks[task.ID] = task
	return task.ID, nil
}

func (m *MemoryStore) RunnableTasks(_ context.Context, currentIntensity float64) ([]models.DeferredTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.unavailable(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var out []models.DeferredTask
	for _, t := range m.tasks {
		if t.Runnable(currentIntensity, now) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Deadline.Equal(out[j].Deadline) {
			return out[i].Deadline.Before(out[j].Deadline)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) CompleteTask(_ context.Context, taskID int64, response string, receipt models.Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.unavailable(); err != nil {
		return err
	}

	task, ok := m.tasks[taskID]
	if !ok {
		return &NotFoundError{Entity: "task", Key: fmt.Sprint(taskID)}
	}
	if task.Status != models.TaskDeferred {
		return ErrConflict
	}

	// Status flip and receipt write happen under one lock hold: the
	// in-memory analogue of the Postgres transaction.
	task.Status = models.TaskCompleted
	stored := receipt
	m.receipts[stored.ID] = &stored
	m.taskRcpt[taskID] = stored.ID
	_ = response
	return nil
}

func (m *MemoryStore) GetTask(_ context.Context, taskID int64) (*models.DeferredTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.unavailable(); err != nil {
		return nil, err
	}

	task, ok := m.tasks[taskID]
	if !ok {
		return nil, &NotFoundError{Entity: "task", Key: fmt.Sprint(taskID)}
	}
	copied := *task
	return &copied, nil
}

func (m *MemoryStore) SaveReceipt(_ context.Context, receipt *models.Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.unavailable(); err != nil {
		return err
	}

	if _, exists := m.receipts[receipt.ID]; exists {
		return nil
	}
	stored := *receipt
	m.receipts[stored.ID] = &stored
	return nil
}

func (m *MemoryStore) GetReceipt(_ context.Context, receiptID string) (*models.Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.unavailable(); err != nil {
		return nil, err
	}

	r, ok := m.receipts[receiptID]
	if !ok {
		return nil, &NotFoundError{Entity: "receipt", Key: receiptID}
	}
	copied := *r
	return &copied, nil
}

func (m *MemoryStore) PurgeCompletedTasks(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.unavailable(); err != nil {
		return 0, err
	}

	var purged int64
	for id, t := range m.tasks {
		if t.Status == models.TaskCompleted && t.CreatedAt.Before(cutoff) {
			delete(m.tasks, id)
			delete(m.taskRcpt, id)
			purged++
		}
	}
	return purged, nil
}

func (m *MemoryStore) PurgeReceipts(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.unavailable(); err != nil {
		return 0, err
	}

	var purged int64
	for id, r := range m.receipts {
		if r.CreatedAt.Before(cutoff) {
			delete(m.receipts, id)
			purged++
		}
	}
	return purged, nil
}

// ReceiptCount reports stored receipts; used by tests asserting that
// completion never double-writes.
func (m *MemoryStore) ReceiptCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.receipts)
}

// SetTaskCreatedAt backdates a task; used by retention tests.
func (m *MemoryStore) SetTaskCreatedAt(taskID int64, createdAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[taskID]; ok {
		t.CreatedAt = createdAt.UTC()
	}
}

func (m *MemoryStore) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unavailable()
}

func (m *MemoryStore) Close() error { return nil }
