package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/verdin-ai/verdin/pkg/models"
)

// PostgresStore implements Store on PostgreSQL via pgxpool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects, pings and migrates.
func NewPostgresStore(ctx context.Context, connURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &UnavailableError{Err: err}
	}

	s := &PostgresStore{pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}

	log.Info().Msg("PostgreSQL task store initialized")
	return s, nil
}

// Migrate creates the tasks and receipts relations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS tasks (
			id               BIGSERIAL PRIMARY KEY,
			prompt           TEXT NOT NULL,
			model_tier       TEXT NOT NULL,
			deadline         TIMESTAMPTZ NOT NULL,
			target_intensity DOUBLE PRECISION NOT NULL,
			status           TEXT NOT NULL DEFAULT 'deferred',
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS receipts (
			id           TEXT PRIMARY KEY,
			task_id      BIGINT REFERENCES tasks(id) ON DELETE SET NULL,
			response     TEXT NOT NULL DEFAULT '',
			co2_saved_g  DOUBLE PRECISION NOT NULL DEFAULT 0,
			payload      JSONB NOT NULL DEFAULT '{}',
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_tasks_status_deadline ON tasks (status, deadline);
	`
	_, err := s.pool.Exec(ctx, ddl)
	return err
}

func (s *PostgresStore) EnqueueTask(ctx context.Context, prompt string, tier models.ModelTier, deadline time.Time, targetIntensity float64) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO tasks (prompt, model_tier, deadline, target_intensity, status)
		VALUES ($1, $2, $3, $4, 'deferred')
		RETURNING id
	`, prompt, string(tier), deadline.UTC(), targetIntensity).Scan(&id)
	if err != nil {
		return 0, &UnavailableError{Err: err}
	}
	return id, nil
}

func (s *PostgresStore) RunnableTasks(ctx context.Context, currentIntensity float64) ([]models.DeferredTask, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, prompt, model_tier, deadline, target_intensity, status, created_at
		FROM tasks
		WHERE status = 'deferred'
		  AND (target_intensity >= $1 OR deadline <= $2)
		ORDER BY deadline ASC, id ASC
	`, currentIntensity, time.Now().UTC())
	if err != nil {
		return nil, &UnavailableError{Err: err}
	}
	defer rows.Close()

	var tasks []models.DeferredTask
	for rows.Next() {
		var t models.DeferredTask
		var tier, status string
		if err := rows.Scan(&t.ID, &t.Prompt, &tier, &t.Deadline, &t.TargetIntensity, &status, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.ModelTier = models.ModelTier(tier)
		t.Status = models.TaskStatus(status)
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// CompleteTask performs the status flip and receipt insert in a single
// transaction. The guarded UPDATE makes a second completion a no-op that
// surfaces as ErrConflict.
func (s *PostgresStore) CompleteTask(ctx context.Context, taskID int64, response string, receipt models.Receipt) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &UnavailableError{Err: err}
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE tasks SET status = 'completed' WHERE id = $1 AND status = 'deferred'
	`, taskID)
	if err != nil {
		return fmt.Errorf("complete task %d: %w", taskID, err)
	}
	if tag.RowsAffected() == 0 {
		var status string
		err := tx.QueryRow(ctx, `SELECT status FROM tasks WHERE id = $1`, taskID).Scan(&status)
		if err == pgx.ErrNoRows {
			return &NotFoundError{Entity: "task", Key: fmt.Sprint(taskID)}
		}
		if err != nil {
			return fmt.Errorf("complete task %d: %w", taskID, err)
		}
		return ErrConflict
	}

	payload, err := json.Marshal(receipt)
	if err != nil {
		return fmt.Errorf("marshal receipt: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO receipts (id, task_id, response, co2_saved_g, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, receipt.ID, taskID, response, receipt.NetSavings, payload, receipt.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert receipt: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID int64) (*models.DeferredTask, error) {
	var t models.DeferredTask
	var tier, status string
	err := s.pool.QueryRow(ctx, `
		SELECT id, prompt, model_tier, deadline, target_intensity, status, created_at
		FROM tasks WHERE id = $1
	`, taskID).Scan(&t.ID, &t.Prompt, &tier, &t.Deadline, &t.TargetIntensity, &status, &t.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, &NotFoundError{Entity: "task", Key: fmt.Sprint(taskID)}
	}
	if err != nil {
		return nil, &UnavailableError{Err: err}
	}
	t.ModelTier = models.ModelTier(tier)
	t.Status = models.TaskStatus(status)
	return &t, nil
}

func (s *PostgresStore) SaveReceipt(ctx context.Context, receipt *models.Receipt) error {
	payload, err := json.Marshal(receipt)
	if err != nil {
		return fmt.Errorf("marshal receipt: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO receipts (id, response, co2_saved_g, payload, created_at)
		VALUES ($1, '', $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, receipt.ID, receipt.NetSavings, payload, receipt.CreatedAt.UTC())
	if err != nil {
		return &UnavailableError{Err: err}
	}
	return nil
}

func (s *PostgresStore) GetReceipt(ctx context.Context, receiptID string) (*models.Receipt, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `SELECT payload FROM receipts WHERE id = $1`, receiptID).Scan(&payload)
	if err == pgx.ErrNoRows {
		return nil, &NotFoundError{Entity: "receipt", Key: receiptID}
	}
	if err != nil {
		return nil, &UnavailableError{Err: err}
	}
	var r models.Receipt
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, fmt.Errorf("unmarshal receipt %s: %w", receiptID, err)
	}
	return &r, nil
}

func (s *PostgresStore) PurgeCompletedTasks(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM tasks WHERE status = 'completed' AND created_at < $1
	`, cutoff.UTC())
	if err != nil {
		return 0, &UnavailableError{Err: err}
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) PurgeReceipts(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM receipts WHERE created_at < $1
	`, cutoff.UTC())
	if err != nil {
		return 0, &UnavailableError{Err: err}
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return &UnavailableError{Err: err}
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
