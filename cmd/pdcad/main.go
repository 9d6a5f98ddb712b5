// Pdcad is the PDCA workflow daemon. It coordinates delegated agent
// sessions, tracks per-feature phase state, and maintains the shared
// team directory, mailboxes, and task board.
//
// It exposes its operations to agents as MCP tools over stdio and to
// operators over an HTTP API.
//
// Usage:
//
//	# Start with defaults (~/.config/pdcad/config.yaml if present)
//	pdcad
//
//	# Explicit config file
//	pdcad --config /etc/pdcad/config.yaml
//
//	# Configure via environment
//	PDCAD_SERVER_PORT=8080 pdcad
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pdcad/internal/board"
	"github.com/fyrsmithlabs/pdcad/internal/config"
	"github.com/fyrsmithlabs/pdcad/internal/evaluate"
	httpapi "github.com/fyrsmithlabs/pdcad/internal/http"
	"github.com/fyrsmithlabs/pdcad/internal/jobs"
	"github.com/fyrsmithlabs/pdcad/internal/ledger"
	"github.com/fyrsmithlabs/pdcad/internal/logging"
	mcpserver "github.com/fyrsmithlabs/pdcad/internal/mcp"
	"github.com/fyrsmithlabs/pdcad/internal/orchestrator"
	"github.com/fyrsmithlabs/pdcad/internal/platform"
	"github.com/fyrsmithlabs/pdcad/internal/registry"
	"github.com/fyrsmithlabs/pdcad/internal/roles"
	"github.com/fyrsmithlabs/pdcad/internal/team"
	"github.com/fyrsmithlabs/pdcad/internal/watch"
)

var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var configPath string

var rootCmd = &cobra.Command{
	Use:     "pdcad",
	Short:   "PDCA workflow daemon",
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "config file path (default ~/.config/pdcad/config.yaml)")
}

func run() error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting pdcad",
		zap.String("version", version),
		zap.String("state_dir", cfg.State.Dir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	// Services, bottom up.
	roleReg, err := roles.Load(cfg.Roles.Path, logger)
	if err != nil {
		return fmt.Errorf("loading roles: %w", err)
	}

	client, err := platform.NewHTTPClient(platform.HTTPConfig{
		BaseURL:        cfg.Platform.BaseURL,
		RequestTimeout: cfg.Platform.RequestTimeout.Duration(),
	}, logger)
	if err != nil {
		return fmt.Errorf("creating platform client: %w", err)
	}

	jobStore, err := jobs.NewStore(jobs.Config{
		Dir:            filepath.Join(cfg.State.Dir, "jobs"),
		ResultMaxBytes: cfg.Delegate.ResultMaxBytes,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating job store: %w", err)
	}

	reg := registry.New(logger)
	if err := reg.HydrateFromDisk(ctx, jobStore); err != nil {
		logger.Warn("registry hydration failed", zap.Error(err))
	}

	teamDir, err := team.NewDirectory(filepath.Join(cfg.State.Dir, "team.json"), logger)
	if err != nil {
		return fmt.Errorf("creating team directory: %w", err)
	}
	mailbox, err := team.NewMailbox(filepath.Join(cfg.State.Dir, "mail"), roleReg, logger)
	if err != nil {
		return fmt.Errorf("creating mailbox: %w", err)
	}

	taskBoard, err := board.New(board.Config{
		Path:        filepath.Join(cfg.State.Dir, "board.json"),
		Coordinator: cfg.Team.CoordinatorRole,
	}, mailbox, logger)
	if err != nil {
		return fmt.Errorf("creating task board: %w", err)
	}

	ledgerStore, err := ledger.NewStore(&ledger.Config{
		Path:         filepath.Join(cfg.State.Dir, "ledger.json"),
		HistoryLimit: cfg.Ledger.HistoryLimit,
		MaxFeatures:  cfg.Ledger.MaxFeatures,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating ledger store: %w", err)
	}

	orch, err := orchestrator.New(orchestrator.Config{
		MaxDepth:         cfg.Delegate.MaxDepth,
		SyncWait:         cfg.Delegate.SyncWait.Duration(),
		PollInterval:     cfg.Delegate.PollInterval.Duration(),
		IdleRechecks:     cfg.Delegate.IdleRechecks,
		IdleRecheckDelay: cfg.Delegate.IdleRecheckDelay.Duration(),
		ResultMaxBytes:   cfg.Delegate.ResultMaxBytes,
	}, orchestrator.Deps{
		Client:   client,
		Roles:    roleReg,
		Registry: reg,
		Jobs:     jobStore,
		Team:     teamDir,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating orchestrator: %w", err)
	}

	// Background liveness reaper for in-flight jobs.
	go orch.Run(ctx)

	// Advisory document scoring through a delegated evaluator session,
	// when the roles file defines one.
	var evaluator *evaluate.Evaluator
	if _, err := roleReg.Lookup("evaluator"); err == nil {
		runner := evaluate.RunnerFunc(func(ctx context.Context, docPath string) (string, error) {
			res, err := orch.Delegate(ctx, "evaluator",
				fmt.Sprintf("Review the document at %s and reply with a line of the form score: <0-100>.", docPath),
				orchestrator.Options{})
			if err != nil {
				return "", err
			}
			return res.Output, nil
		})
		evaluator = evaluate.New(evaluate.DefaultConfig(), runner, logger)
	}

	// Best-effort document-write phase signals.
	if cfg.Watch.Enabled {
		watcher, err := watch.New(watch.Config{
			DocsDir:  cfg.Watch.DocsDir,
			Debounce: cfg.Watch.Debounce.Duration(),
		}, ledgerStore, evaluator, logger)
		if err != nil {
			return fmt.Errorf("creating docs watcher: %w", err)
		}
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.Warn("docs watcher stopped", zap.Error(err))
			}
		}()
	}

	httpSrv, err := httpapi.NewServer(&httpapi.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	}, orch, ledgerStore, taskBoard, teamDir, logger)
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	mcpSrv, err := mcpserver.NewServer(&mcpserver.Config{
		Version: version,
		Logger:  logger,
	}, orch, ledgerStore, taskBoard, mailbox, teamDir)
	if err != nil {
		return fmt.Errorf("creating mcp server: %w", err)
	}
	go func() {
		if err := mcpSrv.Run(ctx); err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("mcp server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server failed", zap.Error(err))
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		cfg.Server.ShutdownTimeout.Duration())
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", zap.Error(err))
	}
	return nil
}
