package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/seantiz/urumi/internal/admission"
	"github.com/seantiz/urumi/internal/catalog"
	"github.com/seantiz/urumi/internal/deploy"
	"github.com/seantiz/urumi/internal/endpoint"
	"github.com/seantiz/urumi/internal/model"
	"github.com/seantiz/urumi/internal/queue"
	"github.com/seantiz/urumi/internal/store"
)

// DefaultTeardownTimeout bounds a teardown when none is configured.
const DefaultTeardownTimeout = 5 * time.Minute

// idAttempts is how many store ids Create tries before giving up on collisions.
const idAttempts = 3

var (
	// ErrEnqueueFailed is returned when a store could not be handed to the
	// work queue. The record has been removed again.
	ErrEnqueueFailed = errors.New("enqueue failed")

	// ErrTeardownFailed is returned when a store's deployment could not be
	// removed. The record is kept so the delete can be retried.
	ErrTeardownFailed = errors.New("teardown failed")
)

// Config tunes a Service.
type Config struct {
	Endpoint        endpoint.Config
	TeardownTimeout time.Duration
}

// Service implements the store operations behind the HTTP API.
type Service struct {
	store           store.Store
	producer        queue.Producer
	catalog         *catalog.Catalog
	admission       admission.Chain
	driver          deploy.Driver
	endpoint        endpoint.Config
	teardownTimeout time.Duration
	validate        *validatorv10.Validate
	logger          *slog.Logger

	now   func() time.Time
	newID func() string
}

// New creates a provisioning service.
func New(cfg Config, s store.Store, p queue.Producer, cat *catalog.Catalog, chain admission.Chain, d deploy.Driver, logger *slog.Logger) *Service {
	if cfg.TeardownTimeout <= 0 {
		cfg.TeardownTimeout = DefaultTeardownTimeout
	}
	return &Service{
		store:           s,
		producer:        p,
		catalog:         cat,
		admission:       chain,
		driver:          d,
		endpoint:        cfg.Endpoint,
		teardownTimeout: cfg.TeardownTimeout,
		validate:        newValidator(),
		logger:          logger,
		now:             time.Now,
		newID:           model.NewStoreID,
	}
}

// List returns every store, newest first.
func (s *Service) List(ctx context.Context) ([]*model.Store, error) {
	stores, err := s.store.ListStores(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stores: %w", err)
	}
	return stores, nil
}

// Get returns a single store. It returns store.ErrNotFound if absent.
func (s *Service) Get(ctx context.Context, id string) (*model.Store, error) {
	st, err := s.store.GetStore(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get store: %w", err)
	}
	return st, nil
}

// Stats returns fleet counts.
func (s *Service) Stats(ctx context.Context) (*store.Stats, error) {
	stats, err := s.store.GetStoreStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}
	return stats, nil
}

// Create validates and admits req, records the store as Provisioning and
// enqueues its job. The record is always written before the job can be
// seen by a worker.
func (s *Service) Create(ctx context.Context, req CreateRequest, origin string) (*model.Store, error) {
	req = req.normalize()
	if err := validateRequest(s.validate, req); err != nil {
		return nil, err
	}
	if _, err := s.catalog.Lookup(req.Type); err != nil {
		return nil, err
	}

	admReq := admission.Request{Origin: origin, Type: req.Type}
	if err := s.admission.Admit(ctx, admReq); err != nil {
		return nil, err
	}

	st, ep, err := s.insert(ctx, req)
	if err != nil {
		s.admission.Release(context.WithoutCancel(ctx), admReq)
		return nil, err
	}

	job := model.Job{
		ID:       model.NewID(),
		StoreID:  st.ID,
		Hostname: ep.Hostname,
		Type:     st.Type,
	}
	if err := s.producer.Enqueue(ctx, job); err != nil {
		s.logger.Error("enqueue failed, removing store record", "store_id", st.ID, "error", err)
		detached := context.WithoutCancel(ctx)
		if derr := s.store.DeleteStore(detached, st.ID); derr != nil {
			s.logger.Error("failed to remove store record", "store_id", st.ID, "error", derr)
		}
		s.admission.Release(detached, admReq)
		return nil, fmt.Errorf("%w: %w", ErrEnqueueFailed, err)
	}

	storesCreated.WithLabelValues(st.Type).Inc()
	s.logger.Info("store accepted",
		"store_id", st.ID,
		"job_id", job.ID,
		"type", st.Type,
		"origin", origin,
	)
	return st, nil
}

// insert writes a new Provisioning record under a fresh id, retrying on id
// collisions.
func (s *Service) insert(ctx context.Context, req CreateRequest) (*model.Store, endpoint.Endpoint, error) {
	for attempt := 1; ; attempt++ {
		id := s.newID()
		ep := endpoint.Resolve(id, s.endpoint)
		st := &model.Store{
			ID:        id,
			Name:      req.Name,
			Type:      req.Type,
			Status:    model.StatusProvisioning,
			URL:       ep.URL,
			CreatedAt: s.now().UTC(),
		}

		err := s.store.CreateStore(ctx, st)
		if err == nil {
			return st, ep, nil
		}
		if !errors.Is(err, store.ErrDuplicateKey) || attempt == idAttempts {
			return nil, endpoint.Endpoint{}, fmt.Errorf("create store: %w", err)
		}
		s.logger.Warn("store id collision, retrying", "store_id", id, "attempt", attempt)
	}
}

// Delete tears down the store's deployment and then removes its record. A
// failed teardown leaves the record in place and returns ErrTeardownFailed.
// It returns store.ErrNotFound if the id is unknown, without tearing
// anything down.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.store.GetStore(ctx, id); err != nil {
		return fmt.Errorf("get store: %w", err)
	}

	// Teardown and the record delete complete together even if the caller
	// goes away.
	ctx = context.WithoutCancel(ctx)
	res, err := s.driver.Teardown(ctx, id, s.teardownTimeout)
	if err != nil {
		teardownFailures.Inc()
		s.logger.Warn("teardown failed",
			"store_id", id,
			"error", err,
			"exit_code", res.ExitCode,
			"output", res.Output,
		)
		return fmt.Errorf("%w: %w", ErrTeardownFailed, err)
	}

	if err := s.store.DeleteStore(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("delete store: %w", err)
	}

	storesDeleted.Inc()
	s.logger.Info("store deleted", "store_id", id, "duration_ms", res.DurationMS)
	return nil
}
