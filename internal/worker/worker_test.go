package worker_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/seantiz/urumi/internal/catalog"
	"github.com/seantiz/urumi/internal/deploy"
	"github.com/seantiz/urumi/internal/deploy/deploytest"
	"github.com/seantiz/urumi/internal/endpoint"
	"github.com/seantiz/urumi/internal/model"
	"github.com/seantiz/urumi/internal/queue"
	"github.com/seantiz/urumi/internal/store"
	"github.com/seantiz/urumi/internal/worker"
)

type harness struct {
	w      *worker.Worker
	store  *store.SQLiteStore
	queue  *queue.SQLiteQueue
	driver *deploytest.Driver
}

func newHarness(t *testing.T, d *deploytest.Driver, cfg worker.Config) *harness {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	q, err := queue.NewSQLiteQueue(":memory:", queue.WithPollInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewSQLiteQueue: %v", err)
	}
	t.Cleanup(func() { q.Close() })

	if cfg.Mode == "" {
		cfg.Mode = endpoint.ModeLocal
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 10 * time.Millisecond
	}

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	w := worker.New(s, q, catalog.Default("charts"), d, cfg, logger)
	return &harness{w: w, store: s, queue: q, driver: d}
}

// createStore inserts a Provisioning record and returns the job that would
// have been enqueued for it.
func (h *harness) createStore(t *testing.T, typ string) model.Job {
	t.Helper()
	id := model.NewStoreID()
	ep := endpoint.Resolve(id, endpoint.Config{Mode: endpoint.ModeLocal})
	st := &model.Store{
		ID:        id,
		Name:      "Demo",
		Type:      typ,
		Status:    model.StatusProvisioning,
		URL:       ep.URL,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.CreateStore(context.Background(), st); err != nil {
		t.Fatalf("CreateStore: %v", err)
	}
	return model.Job{ID: model.NewID(), StoreID: id, Hostname: ep.Hostname, Type: typ}
}

func (h *harness) status(t *testing.T, id string) string {
	t.Helper()
	st, err := h.store.GetStore(context.Background(), id)
	if err != nil {
		t.Fatalf("GetStore: %v", err)
	}
	return st.Status
}

// waitForStatus polls the registry until the store reaches the expected status.
func waitForStatus(t *testing.T, s store.Store, id, expected string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		st, err := s.GetStore(context.Background(), id)
		if err != nil {
			t.Fatalf("GetStore: %v", err)
		}
		if st.Status == expected {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("store %s did not reach status %q within %v", id, expected, timeout)
}

func TestProcessReady(t *testing.T) {
	h := newHarness(t, &deploytest.Driver{}, worker.Config{ProvisionTimeout: time.Minute})
	job := h.createStore(t, catalog.EngineWooCommerce)

	outcome, err := h.w.Process(context.Background(), job)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if outcome != worker.OutcomeReady {
		t.Errorf("outcome = %q, want %q", outcome, worker.OutcomeReady)
	}
	if got := h.status(t, job.StoreID); got != model.StatusReady {
		t.Errorf("status = %q, want Ready", got)
	}

	applied := h.driver.Applied()
	if len(applied) != 1 {
		t.Fatalf("Apply called %d times, want 1", len(applied))
	}
	rel := applied[0]
	if rel.Name != job.StoreID || rel.Namespace != job.StoreID {
		t.Errorf("release %s in %s, want both %s", rel.Name, rel.Namespace, job.StoreID)
	}
	if rel.Chart != "charts/wc-store" {
		t.Errorf("chart = %q, want charts/wc-store", rel.Chart)
	}
	if rel.ValuesFile != "charts/wc-store/values-local.yaml" {
		t.Errorf("values = %q, want charts/wc-store/values-local.yaml", rel.ValuesFile)
	}
	if rel.Timeout != time.Minute {
		t.Errorf("timeout = %v, want 1m", rel.Timeout)
	}
	want := deploy.Param{Key: "wordpress.ingress.hostname", Value: job.Hostname}
	if len(rel.Params) != 1 || rel.Params[0] != want {
		t.Errorf("params = %+v, want [%+v]", rel.Params, want)
	}
}

func TestProcessProductionValues(t *testing.T) {
	h := newHarness(t, &deploytest.Driver{}, worker.Config{Mode: endpoint.ModeProduction})
	job := h.createStore(t, catalog.EngineMedusa)

	if _, err := h.w.Process(context.Background(), job); err != nil {
		t.Fatalf("Process: %v", err)
	}

	rel := h.driver.Applied()[0]
	if rel.ValuesFile != "charts/medusa-stub/values-prod.yaml" {
		t.Errorf("values = %q, want charts/medusa-stub/values-prod.yaml", rel.ValuesFile)
	}
	if len(rel.Params) != 0 {
		t.Errorf("params = %+v, want none", rel.Params)
	}
	if rel.Timeout != worker.DefaultProvisionTimeout {
		t.Errorf("timeout = %v, want default %v", rel.Timeout, worker.DefaultProvisionTimeout)
	}
}

func TestProcessFailure(t *testing.T) {
	d := &deploytest.Driver{
		ApplyFunc: func(deploy.Release) (deploy.Result, error) {
			return deploy.Result{ExitCode: 1, Output: "Error: INSTALLATION FAILED"},
				&deploy.CommandError{Command: "helm upgrade", ExitCode: 1}
		},
	}
	h := newHarness(t, d, worker.Config{})
	job := h.createStore(t, catalog.EngineWooCommerce)

	outcome, err := h.w.Process(context.Background(), job)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if outcome != worker.OutcomeFailed {
		t.Errorf("outcome = %q, want %q", outcome, worker.OutcomeFailed)
	}
	if got := h.status(t, job.StoreID); got != model.StatusFailed {
		t.Errorf("status = %q, want Failed", got)
	}
}

func TestProcessTimeout(t *testing.T) {
	d := &deploytest.Driver{Delay: 5 * time.Second}
	h := newHarness(t, d, worker.Config{ProvisionTimeout: 50 * time.Millisecond})
	job := h.createStore(t, catalog.EngineWooCommerce)

	start := time.Now()
	outcome, err := h.w.Process(context.Background(), job)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Process took %v, want bounded by the provision timeout", elapsed)
	}
	if outcome != worker.OutcomeFailed {
		t.Errorf("outcome = %q, want %q", outcome, worker.OutcomeFailed)
	}
	if got := h.status(t, job.StoreID); got != model.StatusFailed {
		t.Errorf("status = %q, want Failed", got)
	}
}

func TestProcessUnknownEngine(t *testing.T) {
	h := newHarness(t, &deploytest.Driver{}, worker.Config{})
	job := h.createStore(t, "shopify")

	outcome, err := h.w.Process(context.Background(), job)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if outcome != worker.OutcomeFailed {
		t.Errorf("outcome = %q, want %q", outcome, worker.OutcomeFailed)
	}
	if n := len(h.driver.Applied()); n != 0 {
		t.Errorf("Apply called %d times, want 0", n)
	}
	if got := h.status(t, job.StoreID); got != model.StatusFailed {
		t.Errorf("status = %q, want Failed", got)
	}
}

func TestProcessRedeliveryIsIdempotent(t *testing.T) {
	h := newHarness(t, &deploytest.Driver{}, worker.Config{})
	job := h.createStore(t, catalog.EngineWooCommerce)

	first, err := h.w.Process(context.Background(), job)
	if err != nil {
		t.Fatalf("first Process: %v", err)
	}
	second, err := h.w.Process(context.Background(), job)
	if err != nil {
		t.Fatalf("second Process: %v", err)
	}

	if first != worker.OutcomeReady || second != worker.OutcomeSkipped {
		t.Errorf("outcomes = %q, %q; want ready, skipped", first, second)
	}
	if n := len(h.driver.Applied()); n != 1 {
		t.Errorf("Apply called %d times, want 1", n)
	}
	if got := h.status(t, job.StoreID); got != model.StatusReady {
		t.Errorf("status = %q, want Ready", got)
	}
}

func TestProcessFailedStoreStaysFailed(t *testing.T) {
	h := newHarness(t, &deploytest.Driver{}, worker.Config{})
	job := h.createStore(t, catalog.EngineWooCommerce)
	if err := h.store.UpdateStoreStatus(context.Background(), job.StoreID, model.StatusFailed); err != nil {
		t.Fatalf("UpdateStoreStatus: %v", err)
	}

	if _, err := h.w.Process(context.Background(), job); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if n := len(h.driver.Applied()); n != 0 {
		t.Errorf("Apply called %d times, want 0", n)
	}
	if got := h.status(t, job.StoreID); got != model.StatusFailed {
		t.Errorf("status = %q, want Failed", got)
	}
}

func TestProcessDeletedStore(t *testing.T) {
	h := newHarness(t, &deploytest.Driver{}, worker.Config{})
	job := model.Job{ID: model.NewID(), StoreID: "urumi-00000", Hostname: "urumi-00000.localtest.me", Type: catalog.EngineWooCommerce}

	outcome, err := h.w.Process(context.Background(), job)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if outcome != worker.OutcomeSkipped {
		t.Errorf("outcome = %q, want %q", outcome, worker.OutcomeSkipped)
	}
	if n := len(h.driver.Applied()); n != 0 {
		t.Errorf("Apply called %d times, want 0", n)
	}
	if n := h.w.Broker().Markers(); n != 0 {
		t.Errorf("broker holds %d finished markers for a missing store, want 0", n)
	}
}

func TestProcessStoreDeletedDuringApply(t *testing.T) {
	var h *harness
	var job model.Job
	d := &deploytest.Driver{
		ApplyFunc: func(deploy.Release) (deploy.Result, error) {
			if err := h.store.DeleteStore(context.Background(), job.StoreID); err != nil {
				t.Errorf("DeleteStore: %v", err)
			}
			return deploy.Result{}, nil
		},
	}
	h = newHarness(t, d, worker.Config{})
	job = h.createStore(t, catalog.EngineWooCommerce)

	outcome, err := h.w.Process(context.Background(), job)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if outcome != worker.OutcomeSkipped {
		t.Errorf("outcome = %q, want %q", outcome, worker.OutcomeSkipped)
	}
	if _, err := h.store.GetStore(context.Background(), job.StoreID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetStore error = %v, want ErrNotFound", err)
	}
	if n := h.w.Broker().Markers(); n != 0 {
		t.Errorf("broker holds %d finished markers for a deleted store, want 0", n)
	}
}

func TestProcessRegistryErrorIsReturned(t *testing.T) {
	h := newHarness(t, &deploytest.Driver{}, worker.Config{})
	job := h.createStore(t, catalog.EngineWooCommerce)
	h.store.Close()

	if _, err := h.w.Process(context.Background(), job); err == nil {
		t.Fatal("expected error from closed registry")
	}
	if n := len(h.driver.Applied()); n != 0 {
		t.Errorf("Apply called %d times, want 0", n)
	}
}

func TestProcessPublishesToolOutput(t *testing.T) {
	lines := []string{"Release \"x\" does not exist. Installing it now.", "STATUS: deployed"}
	h := newHarness(t, &deploytest.Driver{LogLines: lines}, worker.Config{})
	job := h.createStore(t, catalog.EngineWooCommerce)

	ch, unsub := h.w.Broker().Subscribe(job.StoreID)
	defer unsub()

	if _, err := h.w.Process(context.Background(), job); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got := drain(ch)
	if len(got) != len(lines) {
		t.Fatalf("got %d lines, want %d", len(got), len(lines))
	}
	for i := range lines {
		if got[i] != lines[i] {
			t.Errorf("line[%d] = %q, want %q", i, got[i], lines[i])
		}
	}
}

func TestRunConsumesQueue(t *testing.T) {
	h := newHarness(t, &deploytest.Driver{}, worker.Config{})
	ready := h.createStore(t, catalog.EngineWooCommerce)
	failed := h.createStore(t, "shopify")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.w.Run(ctx) }()

	for _, job := range []model.Job{ready, failed} {
		if err := h.queue.Enqueue(context.Background(), job); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	waitForStatus(t, h.store, ready.StoreID, model.StatusReady, 5*time.Second)
	waitForStatus(t, h.store, failed.StoreID, model.StatusFailed, 5*time.Second)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	n, err := h.queue.Len(context.Background())
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if n != 0 {
		t.Errorf("queue length = %d, want 0 after acks", n)
	}
}

func TestRunFinishesInFlightAttemptOnShutdown(t *testing.T) {
	h := newHarness(t, &deploytest.Driver{Delay: 300 * time.Millisecond}, worker.Config{})
	job := h.createStore(t, catalog.EngineWooCommerce)
	if err := h.queue.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.w.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for len(h.driver.Applied()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("job was never applied")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if got := h.status(t, job.StoreID); got != model.StatusReady {
		t.Errorf("status = %q, want Ready after graceful shutdown", got)
	}
}
