package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/seantiz/urumi/internal/model"
	"github.com/seantiz/urumi/internal/sqlitedb"
)

const createJobsTable = `
CREATE TABLE IF NOT EXISTS jobs (
    id         TEXT PRIMARY KEY,
    store_id   TEXT NOT NULL,
    payload    BLOB NOT NULL,
    attempts   INTEGER NOT NULL DEFAULT 0,
    visible_at INTEGER NOT NULL,
    created_at INTEGER NOT NULL
)`

const createJobsIndex = `CREATE INDEX IF NOT EXISTS jobs_visible_at ON jobs (visible_at, created_at)`

const (
	// DefaultVisibilityTimeout must exceed the provisioning timeout so a
	// job is not redelivered while its first attempt is still running.
	DefaultVisibilityTimeout = 10 * time.Minute
	defaultPollInterval      = time.Second
)

// Compile-time interface satisfaction check.
var _ Queue = (*SQLiteQueue)(nil)

// SQLiteQueue is a durable queue stored in a SQLite table. Claiming a job
// pushes its visible_at into the future; Ack deletes the row.
type SQLiteQueue struct {
	db           *sql.DB
	visibility   time.Duration
	pollInterval time.Duration
	now          func() time.Time
	wake         chan struct{}
}

// SQLiteOption configures a SQLiteQueue.
type SQLiteOption func(*SQLiteQueue)

// WithVisibilityTimeout sets how long a claimed job stays hidden.
func WithVisibilityTimeout(d time.Duration) SQLiteOption {
	return func(q *SQLiteQueue) { q.visibility = d }
}

// WithPollInterval sets how often Dequeue re-checks an empty queue.
func WithPollInterval(d time.Duration) SQLiteOption {
	return func(q *SQLiteQueue) { q.pollInterval = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) SQLiteOption {
	return func(q *SQLiteQueue) { q.now = now }
}

// NewSQLiteQueue opens the queue database at path and runs migrations.
func NewSQLiteQueue(path string, opts ...SQLiteOption) (*SQLiteQueue, error) {
	db, err := sqlitedb.Open(path)
	if err != nil {
		return nil, err
	}

	for _, stmt := range []string{createJobsTable, createJobsIndex} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create jobs table: %w", err)
		}
	}

	q := &SQLiteQueue{
		db:           db,
		visibility:   DefaultVisibilityTimeout,
		pollInterval: defaultPollInterval,
		now:          time.Now,
		wake:         make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// Close closes the underlying database connection.
func (q *SQLiteQueue) Close() error {
	return q.db.Close()
}

// Enqueue stores job, visible immediately.
func (q *SQLiteQueue) Enqueue(ctx context.Context, job model.Job) error {
	if job.ID == "" {
		job.ID = model.NewID()
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	now := q.now().UnixNano()
	if _, err := q.db.ExecContext(ctx,
		`INSERT INTO jobs (id, store_id, payload, attempts, visible_at, created_at)
		VALUES (?, ?, ?, 0, ?, ?)`,
		job.ID, job.StoreID, payload, now, now,
	); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Dequeue claims the oldest visible job, waiting for one if necessary.
func (q *SQLiteQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	for {
		d, err := q.claim(ctx)
		if err != nil || d != nil {
			return d, err
		}

		timer := time.NewTimer(q.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// claim hides the oldest visible job for the visibility timeout in a single
// statement, so two consumers can never claim the same delivery.
func (q *SQLiteQueue) claim(ctx context.Context) (*Delivery, error) {
	now := q.now()
	var (
		id       string
		payload  []byte
		attempts int
	)
	err := q.db.QueryRowContext(ctx,
		`UPDATE jobs SET visible_at = ?, attempts = attempts + 1
		WHERE id = (
			SELECT id FROM jobs WHERE visible_at <= ?
			ORDER BY created_at, id LIMIT 1
		)
		RETURNING id, payload, attempts`,
		now.Add(q.visibility).UnixNano(), now.UnixNano(),
	).Scan(&id, &payload, &attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}

	var job model.Job
	if err := json.Unmarshal(payload, &job); err != nil {
		if _, derr := q.db.ExecContext(ctx, "DELETE FROM jobs WHERE id = ?", id); derr != nil {
			return nil, fmt.Errorf("discard job %s: %w", id, derr)
		}
		return nil, fmt.Errorf("%w: job %s: %v", ErrMalformed, id, err)
	}

	return &Delivery{
		Job:     job,
		Receipt: id + "/" + strconv.Itoa(attempts),
		Attempt: attempts,
	}, nil
}

// parseReceipt splits a receipt into the job id and the attempt it was
// issued for. A receipt from an earlier attempt no longer matches the row.
func parseReceipt(receipt string) (string, int, error) {
	i := strings.LastIndexByte(receipt, '/')
	if i < 0 {
		return "", 0, fmt.Errorf("invalid receipt %q", receipt)
	}
	attempt, err := strconv.Atoi(receipt[i+1:])
	if err != nil {
		return "", 0, fmt.Errorf("invalid receipt %q", receipt)
	}
	return receipt[:i], attempt, nil
}

// Ack deletes the delivered job. Acking a stale receipt is a no-op.
func (q *SQLiteQueue) Ack(ctx context.Context, d *Delivery) error {
	id, attempt, err := parseReceipt(d.Receipt)
	if err != nil {
		return err
	}
	if _, err := q.db.ExecContext(ctx,
		"DELETE FROM jobs WHERE id = ? AND attempts = ?", id, attempt,
	); err != nil {
		return fmt.Errorf("ack job: %w", err)
	}
	return nil
}

// Nack makes the delivered job visible again immediately.
func (q *SQLiteQueue) Nack(ctx context.Context, d *Delivery) error {
	id, attempt, err := parseReceipt(d.Receipt)
	if err != nil {
		return err
	}
	if _, err := q.db.ExecContext(ctx,
		"UPDATE jobs SET visible_at = ? WHERE id = ? AND attempts = ?",
		q.now().UnixNano(), id, attempt,
	); err != nil {
		return fmt.Errorf("nack job: %w", err)
	}
	return nil
}

// Len returns the number of jobs not yet acknowledged, visible or not.
func (q *SQLiteQueue) Len(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs").Scan(&n); err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	return n, nil
}
