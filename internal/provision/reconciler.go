package provision

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/urumi/internal/endpoint"
	"github.com/seantiz/urumi/internal/model"
	"github.com/seantiz/urumi/internal/queue"
	"github.com/seantiz/urumi/internal/store"
)

// DefaultGracePeriod is how long a store may stay Provisioning before its
// job is re-enqueued.
const DefaultGracePeriod = 15 * time.Minute

// Reconciler finds stores stuck in Provisioning and enqueues their job again.
// A store is re-enqueued at most once per grace period.
type Reconciler struct {
	store    store.Store
	producer queue.Producer
	endpoint endpoint.Config
	grace    time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	requeued map[string]time.Time
}

// NewReconciler creates a reconciler.
func NewReconciler(s store.Store, p queue.Producer, ep endpoint.Config, grace time.Duration, logger *slog.Logger) *Reconciler {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &Reconciler{
		store:    s,
		producer: p,
		endpoint: ep,
		grace:    grace,
		logger:   logger,
		now:      time.Now,
		requeued: make(map[string]time.Time),
	}
}

// Sweep re-enqueues every overdue Provisioning store and returns how many
// jobs it enqueued.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	now := r.now()
	stuck, err := r.store.ListStuck(ctx, model.StatusProvisioning, now.Add(-r.grace))
	if err != nil {
		return 0, fmt.Errorf("list stuck stores: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	live := make(map[string]bool, len(stuck))
	n := 0
	for _, st := range stuck {
		live[st.ID] = true
		if last, ok := r.requeued[st.ID]; ok && now.Sub(last) < r.grace {
			continue
		}

		job := model.Job{
			ID:       model.NewID(),
			StoreID:  st.ID,
			Hostname: endpoint.Resolve(st.ID, r.endpoint).Hostname,
			Type:     st.Type,
		}
		if err := r.producer.Enqueue(ctx, job); err != nil {
			return n, fmt.Errorf("enqueue %s: %w", st.ID, err)
		}
		r.requeued[st.ID] = now
		jobsRequeued.Inc()
		n++
		r.logger.Warn("re-enqueued stuck store",
			"store_id", st.ID,
			"job_id", job.ID,
			"age", now.Sub(st.CreatedAt).Round(time.Second).String(),
		)
	}

	for id := range r.requeued {
		if !live[id] {
			delete(r.requeued, id)
		}
	}
	return n, nil
}

// Run sweeps every interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	r.logger.Info("reconciler started", "interval", interval.String(), "grace", r.grace.String())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("reconcile sweep failed", "error", err)
			}
		}
	}
}
