// testserver runs the urumi API and worker against in-memory storage and a
// stub deployment driver, for end-to-end tests.
// Usage: go run ./cmd/testserver
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/seantiz/urumi/internal/admission"
	"github.com/seantiz/urumi/internal/api"
	"github.com/seantiz/urumi/internal/catalog"
	"github.com/seantiz/urumi/internal/config"
	"github.com/seantiz/urumi/internal/deploy"
	"github.com/seantiz/urumi/internal/deploy/deploytest"
	"github.com/seantiz/urumi/internal/provision"
	"github.com/seantiz/urumi/internal/queue"
	"github.com/seantiz/urumi/internal/store"
	"github.com/seantiz/urumi/internal/worker"
)

// engineBroken is an extra engine whose deployments always fail.
const engineBroken = "broken"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		log.Fatalf("failed to open registry: %v", err)
	}
	defer db.Close()

	q, err := queue.NewSQLiteQueue(":memory:", queue.WithPollInterval(50*time.Millisecond))
	if err != nil {
		log.Fatalf("failed to open queue: %v", err)
	}
	defer q.Close()

	cat := catalog.Default(cfg.ChartsBasePath)
	cat.Register(catalog.Engine{Name: engineBroken, Chart: engineBroken})

	driver := &deploytest.Driver{
		Delay: 500 * time.Millisecond,
		LogLines: []string{
			"Release does not exist. Installing it now.",
			"NAME: stub",
			"STATUS: deployed",
		},
		ApplyFunc: func(rel deploy.Release) (deploy.Result, error) {
			if strings.HasSuffix(rel.Chart, engineBroken) {
				return deploy.Result{ExitCode: 1, Output: "Error: INSTALLATION FAILED"},
					&deploy.CommandError{Command: "helm upgrade", ExitCode: 1}
			}
			return deploy.Result{}, nil
		},
		TeardownFunc: func(storeID string) (deploy.Result, error) {
			if fail := os.Getenv("URUMI_TEST_TEARDOWN_FAIL"); fail == "all" || fail == storeID {
				return deploy.Result{ExitCode: 1}, errors.New("stub teardown failure")
			}
			return deploy.Result{}, nil
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w := worker.New(db, q, cat, driver, worker.Config{
		Mode:             cfg.Endpoint.Mode,
		ProvisionTimeout: cfg.ProvisionTimeout,
		RetryDelay:       100 * time.Millisecond,
	}, logger)

	var wg sync.WaitGroup
	wg.Go(func() {
		if err := w.Run(ctx); err != nil {
			logger.Error("worker stopped with error", "error", err)
		}
	})

	chain := admission.Chain{admission.NewSlidingWindow(cfg.RateLimit, cfg.RateWindow)}
	svc := provision.New(provision.Config{Endpoint: cfg.Endpoint, TeardownTimeout: cfg.TeardownTimeout}, db, q, cat, chain, driver, logger)
	srv := api.NewServer(cfg.ListenAddr, svc, cat, w.Broker(), logger, api.WithTrustedProxy())

	logger.Info("testserver: starting", "addr", cfg.ListenAddr)
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
	stop()
	wg.Wait()
}
