// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Graft Contributors

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/grafthost/graft/internal/bootstrap"
	"github.com/grafthost/graft/internal/bus"
	"github.com/grafthost/graft/internal/config"
	"github.com/grafthost/graft/internal/extension"
	"github.com/grafthost/graft/internal/hostsim"
	"github.com/grafthost/graft/internal/logging"
	"github.com/grafthost/graft/internal/observability"
	"github.com/grafthost/graft/internal/persist"
	"github.com/grafthost/graft/internal/resolve"
	"github.com/grafthost/graft/internal/runtime"
	"github.com/grafthost/graft/internal/runtime/luahost"
	"github.com/grafthost/graft/internal/xdg"
)

// NewRunCmd creates the run subcommand: the embedded demo host plus the
// full bootstrap sequence in one process.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the embedded demo host with the full bootstrap sequence",
		Long: `Run starts the embedded demo host, waits for its readiness signal,
joins its update loop and loads the extension runtime. Extensions are
discovered under the extensions directory; if an extension runtime wasm
entry binary is present it is loaded through the module resolver instead.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHost(cmd.Context(), cmd)
		},
	}

	flags := cmd.Flags()
	flags.String("log.format", "", "log format (text or json)")
	flags.String("data.dir", "", "data directory (default: XDG data dir)")
	flags.String("data.extensions_dir", "", "extensions directory")
	flags.Bool("metrics.enabled", false, "enable the metrics/health HTTP server")
	flags.String("metrics.addr", "", "metrics/health HTTP address")
	flags.String("save.path", "", "save database path (default: <data dir>/saves.db)")

	return cmd
}

func runHost(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}

	logW, closeLog, err := logWriter(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	logger := logging.Setup("graft", cmd.Root().Version, cfg.Log.Format, logW)
	slog.SetDefault(logger)

	for _, dir := range []string{cfg.Data.Dir, cfg.Data.ExtensionsDir} {
		if err := xdg.EnsureDir(dir); err != nil {
			return err
		}
	}

	// Bus and persistence outlive any single game session.
	broadcast := bus.NewBroadcast(logger)
	named := bus.NewNamed(logger)
	registry := persist.NewRegistry(logger)

	root := &extension.RootContext{
		Logger:        logger,
		Broadcast:     broadcast,
		Named:         named,
		Persist:       registry,
		DataDir:       cfg.Data.Dir,
		ExtensionsDir: cfg.Data.ExtensionsDir,
	}

	savePath := cfg.Save.Path
	if savePath == "" {
		savePath = filepath.Join(cfg.Data.Dir, "saves.db")
	}
	store, err := hostsim.OpenStore(savePath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Warn("error closing save store", slog.String("error", closeErr.Error()))
		}
	}()

	sim := hostsim.New(logger, hostsim.Options{
		TickRate:        cfg.Host.TickRate,
		BootDelay:       cfg.Host.BootDelay,
		WorldReadyDelay: cfg.Host.WorldReadyDelay,
	})

	saveMgr := hostsim.NewSaveManager(logger, broadcast, store)
	registry.AttachManager(saveMgr)

	mgr := runtime.NewManager(runtime.WithLuaHost(luahost.New(root)))
	defer func() {
		if closeErr := mgr.Close(context.Background()); closeErr != nil {
			logger.Warn("error closing extension manager", slog.String("error", closeErr.Error()))
		}
	}()

	resolveRuntime := func(ctx context.Context, root *extension.RootContext) error {
		return loadRuntime(ctx, logger, mgr, root)
	}

	boot := bootstrap.New(logger, sim.Hooks(), resolveRuntime, root, bootstrap.Options{
		PollInterval:       cfg.Bootstrap.PollInterval,
		PollAttempts:       uint64(cfg.Bootstrap.MaxAttempts),
		WorldReadyBudget:   cfg.Bootstrap.WorldBudget,
		StabilizationDelay: cfg.Bootstrap.Stabilization,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	boot.Start(ctx)

	if cfg.Metrics.Enabled {
		obsServer := observability.NewServer(cfg.Metrics.Addr, boot.Ready)
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return fmt.Errorf("failed to start observability server: %w", err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer stopCancel()
			if stopErr := obsServer.Stop(stopCtx); stopErr != nil {
				logger.Warn("error stopping observability server", slog.String("error", stopErr.Error()))
			}
		}()
		logger.Info("observability server started", slog.String("addr", obsServer.Addr()))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	hostErr := make(chan error, 1)
	go func() { hostErr <- sim.Run(ctx) }()

	cmd.Println("Host started")
	logger.Info("host running",
		slog.String("extensions_dir", cfg.Data.ExtensionsDir),
		slog.String("save_path", savePath))

	hostStopped := false
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	case err := <-hostErr:
		hostStopped = true
		if err != nil {
			return fmt.Errorf("host loop error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	cancel()
	if !hostStopped {
		<-hostErr
	}

	logger.Info("shutdown complete")
	return nil
}

// loadRuntime loads the extension runtime: the wasm entry binary through
// the module resolver when one is installed, otherwise the in-process
// reference runtime.
func loadRuntime(ctx context.Context, logger *slog.Logger, mgr *runtime.Manager, root *extension.RootContext) error {
	loader, err := resolve.NewWazeroLoader(ctx, root)
	if err != nil {
		return err
	}
	resolver := resolve.New(logger, loader, root.ExtensionsDir, root.DataDir)

	if _, statErr := os.Stat(resolver.EntryPath()); statErr == nil {
		return resolver.LoadExtensionRuntime(ctx)
	}
	if closeErr := loader.Close(ctx); closeErr != nil {
		logger.Warn("error closing wasm loader", slog.String("error", closeErr.Error()))
	}

	if err := extension.CheckAPIVersion(mgr.APIVersion()); err != nil {
		return err
	}
	return mgr.Load(ctx, root)
}

// logWriter selects the log sink: a file when configured, stderr otherwise.
func logWriter(cfg *config.Config) (io.Writer, func(), error) {
	if cfg.Log.File == "" {
		return os.Stderr, func() {}, nil
	}
	f, err := logging.OpenLogFile(filepath.Dir(cfg.Log.File), filepath.Base(cfg.Log.File))
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

// monitorServerErrors cancels the context when a server reports an error.
// It exits when an error arrives, the channel closes, or ctx is done.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}
