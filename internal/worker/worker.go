package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/seantiz/urumi/internal/catalog"
	"github.com/seantiz/urumi/internal/deploy"
	"github.com/seantiz/urumi/internal/model"
	"github.com/seantiz/urumi/internal/queue"
	"github.com/seantiz/urumi/internal/store"
)

// DefaultProvisionTimeout bounds a single deployment attempt when none is configured.
const DefaultProvisionTimeout = 5 * time.Minute

// defaultRetryDelay is the pause after a queue or registry error.
const defaultRetryDelay = 2 * time.Second

// outputTailBytes is how much tool output is kept in failure logs.
const outputTailBytes = 4096

// Config tunes a Worker.
type Config struct {
	// Mode selects the catalog values file (production or local).
	Mode string
	// ProvisionTimeout bounds each deployment attempt.
	ProvisionTimeout time.Duration
	// RetryDelay is the pause after a failed dequeue or a nacked job.
	RetryDelay time.Duration
}

// Worker consumes provisioning jobs one at a time.
type Worker struct {
	store      store.Store
	queue      queue.Consumer
	catalog    *catalog.Catalog
	driver     deploy.Driver
	broker     *LogBroker
	logger     *slog.Logger
	mode       string
	timeout    time.Duration
	retryDelay time.Duration
}

// New creates a worker.
func New(s store.Store, q queue.Consumer, cat *catalog.Catalog, d deploy.Driver, cfg Config, logger *slog.Logger) *Worker {
	if cfg.ProvisionTimeout <= 0 {
		cfg.ProvisionTimeout = DefaultProvisionTimeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	return &Worker{
		store:      s,
		queue:      q,
		catalog:    cat,
		driver:     d,
		broker:     NewLogBroker(),
		logger:     logger,
		mode:       cfg.Mode,
		timeout:    cfg.ProvisionTimeout,
		retryDelay: cfg.RetryDelay,
	}
}

// Broker returns the worker's log broker for SSE subscription.
func (w *Worker) Broker() *LogBroker {
	return w.broker
}

// Run consumes jobs until ctx is cancelled. A job that is in flight when ctx
// is cancelled runs to completion first, so Run returning means no attempt
// is left half done.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", "mode", w.mode, "provision_timeout", w.timeout.String())
	defer w.logger.Info("worker stopped")

	for {
		d, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, queue.ErrMalformed) {
				w.logger.Warn("discarded malformed job", "error", err)
				continue
			}
			w.logger.Error("dequeue failed", "error", err)
			if !sleep(ctx, w.retryDelay) {
				return nil
			}
			continue
		}

		w.handle(ctx, d)
	}
}

// handle processes one delivery on a context detached from shutdown and
// settles it with the queue.
func (w *Worker) handle(ctx context.Context, d *queue.Delivery) {
	attemptCtx := context.WithoutCancel(ctx)

	logger := w.logger.With("store_id", d.Job.StoreID, "job_id", d.Job.ID, "type", d.Job.Type, "attempt", d.Attempt)
	logger.Info("processing job")

	if _, err := w.Process(attemptCtx, d.Job); err != nil {
		logger.Error("job failed, releasing for redelivery", "error", err)
		if nerr := w.queue.Nack(attemptCtx, d); nerr != nil {
			logger.Error("failed to release job", "error", nerr)
		}
		sleep(ctx, w.retryDelay)
		return
	}

	if err := w.queue.Ack(attemptCtx, d); err != nil {
		logger.Error("failed to acknowledge job", "error", err)
	}
}

// Process drives the store named by job from Provisioning to a terminal
// status and returns the outcome label. A non-nil error means the registry
// could not be read or written and the job should be retried; deployment
// failures are not errors, they end in Failed.
func (w *Worker) Process(ctx context.Context, job model.Job) (string, error) {
	busy.Set(1)
	defer busy.Set(0)

	logger := w.logger.With("store_id", job.StoreID, "job_id", job.ID)

	st, err := w.store.GetStore(ctx, job.StoreID)
	if errors.Is(err, store.ErrNotFound) {
		logger.Info("store no longer exists, skipping job")
		return w.skip(job.StoreID, true), nil
	}
	if err != nil {
		return "", fmt.Errorf("get store: %w", err)
	}
	if model.IsTerminal(st.Status) {
		logger.Info("store already finished, skipping job", "status", st.Status)
		return w.skip(job.StoreID, false), nil
	}

	start := time.Now()

	tmpl, err := w.catalog.Resolve(job.Type, w.mode, catalog.Vars{StoreID: job.StoreID, Hostname: job.Hostname})
	if err != nil {
		logger.Warn("cannot resolve engine", "error", err)
		return w.finish(ctx, job, model.StatusFailed, start)
	}

	rel := deploy.Release{
		Name:       job.StoreID,
		Namespace:  job.StoreID,
		Chart:      tmpl.Chart,
		ValuesFile: tmpl.ValuesFile,
		Params:     make([]deploy.Param, 0, len(tmpl.Overrides)),
		Timeout:    w.timeout,
		LogWriter: func(line string) {
			w.broker.Publish(job.StoreID, line)
		},
	}
	for _, o := range tmpl.Overrides {
		rel.Params = append(rel.Params, deploy.Param{Key: o.Key, Value: o.Value})
	}

	res, err := w.driver.Apply(ctx, rel)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, deploy.ErrTimeout) {
			msg = fmt.Sprintf("deployment timed out after %s", w.timeout)
		}
		logger.Warn("deployment failed",
			"error", msg,
			"exit_code", res.ExitCode,
			"duration_ms", res.DurationMS,
			"output", tail(res.Output, outputTailBytes),
		)
		return w.finish(ctx, job, model.StatusFailed, start)
	}

	logger.Info("deployment succeeded", "duration_ms", res.DurationMS)
	return w.finish(ctx, job, model.StatusReady, start)
}

// finish writes the terminal status through the registry's transition guard.
// Losing the race to a delete or to another attempt is not an error.
func (w *Worker) finish(ctx context.Context, job model.Job, status string, start time.Time) (string, error) {
	err := w.store.UpdateStoreStatus(ctx, job.StoreID, status)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		w.logger.Info("store deleted during provisioning", "store_id", job.StoreID)
		return w.skip(job.StoreID, true), nil
	case errors.Is(err, store.ErrInvalidTransition):
		w.logger.Info("store already finished", "store_id", job.StoreID, "status", status)
		return w.skip(job.StoreID, false), nil
	default:
		return "", fmt.Errorf("update status to %s: %w", status, err)
	}

	w.broker.Close(job.StoreID)

	outcome := OutcomeFailed
	if status == model.StatusReady {
		outcome = OutcomeReady
	}
	jobsTotal.WithLabelValues(outcome).Inc()
	provisionDuration.WithLabelValues(job.Type).Observe(time.Since(start).Seconds())

	w.logger.Info("store provisioned", "store_id", job.StoreID, "status", status)
	return outcome, nil
}

// skip ends any log stream for storeID. A store that no longer exists
// leaves no finished marker behind.
func (w *Worker) skip(storeID string, gone bool) string {
	if gone {
		w.broker.Forget(storeID)
	} else {
		w.broker.Close(storeID)
	}
	jobsTotal.WithLabelValues(OutcomeSkipped).Inc()
	return OutcomeSkipped
}

// tail returns at most the last n bytes of s.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// sleep waits for d or until ctx is done, reporting whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
