// Package store provides the durable deferred-task queue and receipt ledger.
// The PostgreSQL implementation backs production; the in-memory one backs
// tests and zero-config local runs.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/verdin-ai/verdin/pkg/models"
)

// Store is the narrow contract all task and receipt mutation goes through.
type Store interface {
	// EnqueueTask persists a deferred task and returns its store-assigned id.
	// Retried enqueues may create duplicates: deferral is at-least-once.
	EnqueueTask(ctx context.Context, prompt string, tier models.ModelTier, deadline time.Time, targetIntensity float64) (int64, error)

	// RunnableTasks returns deferred tasks whose condition is satisfied:
	// targetIntensity >= currentIntensity OR deadline <= now. Ordered by
	// deadline ascending, ties broken by id.
	RunnableTasks(ctx context.Context, currentIntensity float64) ([]models.DeferredTask, error)

	// CompleteTask flips the task to completed and persists its receipt in
	// one atomic unit of work. Completing an already-completed task returns
	// ErrConflict and writes nothing; savings are never double-counted.
	CompleteTask(ctx context.Context, taskID int64, response string, receipt models.Receipt) error

	// GetTask returns the task or a NotFoundError.
	GetTask(ctx context.Context, taskID int64) (*models.DeferredTask, error)

	// SaveReceipt persists a receipt for an immediately executed request
	// (no associated task).
	SaveReceipt(ctx context.Context, receipt *models.Receipt) error

	// GetReceipt returns the receipt or a NotFoundError.
	GetReceipt(ctx context.Context, receiptID string) (*models.Receipt, error)

	// PurgeCompletedTasks deletes completed tasks created before cutoff and
	// returns the number removed. Deferred tasks are never purged.
	PurgeCompletedTasks(ctx context.Context, cutoff time.Time) (int64, error)

	// PurgeReceipts deletes receipts created before cutoff and returns the
	// number removed.
	PurgeReceipts(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping checks whether the store is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// ErrConflict is returned when completing a task that is no longer in the
// deferred state.
var ErrConflict = errors.New("task already completed")

// NotFoundError is returned when a requested entity does not exist.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return e.Entity + " not found: " + e.Key
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// UnavailableError marks the durable store as unreachable. Callers use this
// distinct failure kind to degrade (execute immediately instead of
// deferring) rather than fail the request.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return "store unavailable: " + e.Err.Error()
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// IsUnavailable reports whether err is an UnavailableError.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}
