package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/seantiz/urumi/internal/admission"
	"github.com/seantiz/urumi/internal/api"
	"github.com/seantiz/urumi/internal/config"
	"github.com/seantiz/urumi/internal/deploy"
	"github.com/seantiz/urumi/internal/provision"
	"github.com/seantiz/urumi/internal/worker"
)

// roles selects what a process runs.
type roles struct {
	api    bool
	worker bool
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the provisioning worker in one process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), roles{api: true, worker: true})
		},
	}
}

func newAPICommand() *cobra.Command {
	return &cobra.Command{
		Use:   "api",
		Short: "Run only the HTTP API",
		Long: `Run only the HTTP API. Jobs are left on the queue for a separate
worker process; live log streams are not available in this mode.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), roles{api: true})
		},
	}
}

func newWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run only the provisioning worker and reconciler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), roles{worker: true})
		},
	}
}

func run(parent context.Context, r roles) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("urumi: starting",
		"api", r.api,
		"worker", r.worker,
		"mode", cfg.Endpoint.Mode,
		"listen_addr", cfg.ListenAddr,
	)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := openDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := d.Close(); err != nil {
			logger.Error("close connections", "error", err)
		}
	}()

	driver := deploy.NewHelmDriver(cfg.HelmBin, cfg.KubectlBin, logger)

	var (
		wg     sync.WaitGroup
		broker *worker.LogBroker
	)

	if r.worker {
		w := worker.New(d.store, d.queue, d.catalog, driver, worker.Config{
			Mode:             cfg.Endpoint.Mode,
			ProvisionTimeout: cfg.ProvisionTimeout,
		}, logger)
		broker = w.Broker()

		wg.Go(func() {
			if err := w.Run(ctx); err != nil {
				logger.Error("worker stopped with error", "error", err)
			}
		})

		if cfg.ReconcileInterval > 0 {
			rec := provision.NewReconciler(d.store, d.queue, cfg.Endpoint, cfg.ReconcileGrace, logger)
			wg.Go(func() { rec.Run(ctx, cfg.ReconcileInterval) })
		}
	}

	var runErr error
	if r.api {
		chain := admission.Chain{admission.NewSlidingWindow(cfg.RateLimit, cfg.RateWindow)}
		svc := provision.New(provision.Config{
			Endpoint:        cfg.Endpoint,
			TeardownTimeout: cfg.TeardownTimeout,
		}, d.store, d.queue, d.catalog, chain, driver, logger)

		var opts []api.Option
		if cfg.TrustProxyHeaders {
			opts = append(opts, api.WithTrustedProxy())
		}
		srv := api.NewServer(cfg.ListenAddr, svc, d.catalog, broker, logger, opts...)

		runErr = srv.Run(ctx)
		// A failed listener stops the worker too.
		stop()
	} else {
		<-ctx.Done()
		logger.Info("shutting down")
	}

	wg.Wait()
	if runErr != nil {
		return fmt.Errorf("api: %w", runErr)
	}
	return nil
}
