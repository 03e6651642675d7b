package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ssd-technologies/gitagent/internal/config"
	"github.com/ssd-technologies/gitagent/internal/execx"
	"github.com/ssd-technologies/gitagent/internal/orchestrator"
	"github.com/ssd-technologies/gitagent/internal/registry"
	"github.com/ssd-technologies/gitagent/internal/server"
	"github.com/ssd-technologies/gitagent/internal/storage"
	"github.com/ssd-technologies/gitagent/internal/supervisor"
	"github.com/ssd-technologies/gitagent/internal/vault"
	"github.com/ssd-technologies/gitagent/internal/workspace"
)

const shutdownTimeout = 15 * time.Second

// stack is every long-lived component of a running daemon.
type stack struct {
	db         *storage.DB
	vault      *vault.Vault
	supervisor *supervisor.Adapter
	native     *supervisor.Native
	orch       *orchestrator.Orchestrator
}

func buildStack(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stack, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.Open(cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s := &stack{db: db}
	fail := func(err error) (*stack, error) {
		db.Close()
		return nil, err
	}

	s.vault, err = vault.New(db, cfg.MasterSecret, cfg.Cipher, logger.With("component", "vault"))
	if err != nil {
		return fail(err)
	}
	reg, err := buildRegistry(ctx, cfg, logger)
	if err != nil {
		return fail(err)
	}

	runner := execx.NewRealRunner()
	install, _ := cfg.InstallArgs()
	command, _ := cfg.AgentArgs()
	ws, err := workspace.New(cfg.AgentsDir, runner, install, logger.With("component", "workspace"))
	if err != nil {
		return fail(err)
	}

	var mgr supervisor.Manager
	switch cfg.Supervisor.Kind {
	case config.SupervisorPM2:
		mgr = supervisor.NewPM2(runner, cfg.Supervisor.PM2Bin, "")
	default:
		s.native = supervisor.NewNative()
		mgr = s.native
	}
	s.supervisor, err = supervisor.NewAdapter(mgr, cfg.LogsDir, command, logger.With("component", "supervisor"))
	if err != nil {
		return fail(err)
	}

	s.orch = orchestrator.New(db, reg, s.vault, ws, s.supervisor, orchestrator.Config{
		BackendURL:       cfg.BackendURL,
		RPCURL:           cfg.Registry.RPCURL,
		Workers:          cfg.Pipeline.Workers,
		QueueSize:        cfg.Pipeline.QueueSize,
		PropagationDelay: cfg.Registry.PropagationDelay,
		SweepInterval:    cfg.Pipeline.SweepInterval,
	}, logger.With("component", "orchestrator"))
	return s, nil
}

func buildRegistry(ctx context.Context, cfg *config.Config, logger *slog.Logger) (registry.Registry, error) {
	if cfg.Registry.Kind == config.RegistryMemory {
		logger.Warn("using in-memory registry; addresses are not on-chain")
		return registry.NewMemory(), nil
	}
	eth, err := registry.DialEth(ctx, registry.EthConfig{
		RPCURL:         cfg.Registry.RPCURL,
		FactoryAddress: cfg.Registry.FactoryAddress,
		PrivateKey:     cfg.Registry.PrivateKey,
		ConfirmTimeout: cfg.Registry.ConfirmTimeout,
	})
	if err != nil {
		return nil, err
	}
	if !eth.Writable() {
		logger.Warn("registry is read-only; new branches cannot be registered",
			"factory_configured", cfg.Registry.FactoryAddress != "")
	}
	return eth, nil
}

func (s *stack) close(ctx context.Context, logger *slog.Logger) {
	if s.native != nil {
		if err := s.native.Close(ctx); err != nil {
			logger.Warn("stop agent processes", "error", err)
		}
	}
	s.db.Close()
}

func newServeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook receiver, Control API and deploy workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			logger := newLogger(cmd.ErrOrStderr(), cfg)
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	s, err := buildStack(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.close(closeCtx, logger)
	}()

	rep, err := s.orch.Reconcile(ctx, true)
	if err != nil {
		logger.Error("startup reconcile", "error", err)
	} else {
		logger.Info("startup reconcile", "checked", rep.Checked, "running", rep.Running, "resumed", rep.Resumed, "failed", rep.Failed)
	}

	srv := server.New(s.db, s.orch, s.vault, s.supervisor, server.Options{
		WebhookSecret: cfg.WebhookSecret,
		APIToken:      cfg.APIToken,
		WebhookRate:   cfg.RateLimit.Webhook,
		MetricsRate:   cfg.RateLimit.Metrics,
		Logger:        logger.With("component", "server"),
	})
	if cfg.WebhookSecret == "" {
		logger.Warn("webhook signature verification disabled")
	}
	if cfg.APIToken == "" {
		logger.Warn("control API writes are unauthenticated")
	}
	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	srv.StartWorkers(gctx)
	g.Go(func() error {
		s.orch.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("gitagentd listening", "addr", cfg.Addr, "data_dir", cfg.DataDir, "supervisor", cfg.Supervisor.Kind)
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		s.orch.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newReconcileCmd(flags *globalFlags) *cobra.Command {
	var resume bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Align recorded agent status with the process manager",
		Long: `Align recorded agent status with the process manager.

Only meaningful with the pm2 supervisor: natively supervised agents are
children of the serve process, which reconciles them itself at startup.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if cfg.Supervisor.Kind != config.SupervisorPM2 {
				return errors.New("reconcile needs the pm2 supervisor; serve reconciles native agents at startup")
			}
			logger := newLogger(cmd.ErrOrStderr(), cfg)
			s, err := buildStack(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer s.close(cmd.Context(), logger)

			rep, err := s.orch.Reconcile(cmd.Context(), resume)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "checked %d, running %d, resumed %d, failed %d\n",
				rep.Checked, rep.Running, rep.Resumed, rep.Failed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&resume, "resume", false, "relaunch running agents whose process is gone")
	return cmd
}
