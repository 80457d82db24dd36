// Package main is cascade-memory's entry point: a cobra root command with a
// serve subcommand (the line-delimited stdio loop) plus status/stats/sweep/
// version utility commands, following the rootCmd + PersistentPreRunE zap
// setup codeNERD's CLI uses, adapted from an interactive chat agent's
// command surface to a small fixed set of service-lifecycle verbs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/For-Sunny/cascade-memory/internal/cascade"
	"github.com/For-Sunny/cascade-memory/internal/config"
	"github.com/For-Sunny/cascade-memory/internal/logging"
	"github.com/For-Sunny/cascade-memory/internal/server"
)

var (
	verbose    bool
	configPath string
	logger     *zap.Logger
)

const version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:   "cascade-memory",
	Short: "cascade-memory - structured persistent memory service for AI agents",
	Long: `cascade-memory is a dual-write, decay-aware memory store exposed over a
line-delimited tool protocol on standard streams. It auto-routes incoming
records across six cognitive layers and periodically sweeps stored
importance down through an exponential decay model.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CASCADE_CONFIG_PATH"), "path to config.yaml (or set CASCADE_CONFIG_PATH)")

	rootCmd.AddCommand(serveCmd, statusCmd, statsCmd, sweepCmd, versionCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the line-delimited stdio memory service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, engine, err := bootstrap()
		if err != nil {
			return err
		}
		defer engine.shutdown()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigCh
			logger.Info("shutdown signal received")
			cancel()
		}()

		if configPath != "" {
			watcher := config.NewWatcher(configPath, func(reloaded *config.Config) {
				engine.dispatcher.NoteConfigReload(time.Now())
			})
			go func() {
				if err := watcher.Run(ctx); err != nil && err != context.Canceled {
					logger.Warn("config watcher stopped", zap.Error(err))
				}
			}()
		}

		srv := server.NewStdio(engine.dispatcher, os.Stdin, os.Stdout)
		logger.Info("cascade-memory serving", zap.String("durable_root", cfg.Storage.DurableRoot), zap.Bool("dual_write", engine.coordinator.DualWriteConfigured()))
		return srv.Serve(ctx)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "print coordinator and decay-engine health",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, engine, err := bootstrap()
		if err != nil {
			return err
		}
		defer engine.shutdown()

		health := engine.coordinator.Health()
		fmt.Printf("overall: %s\n", health.Overall)
		for _, l := range cascade.Layers {
			h := health.Layers[l]
			fmt.Printf("  %-10s %s\n", l, h.Status)
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "print per-layer record statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, engine, err := bootstrap()
		if err != nil {
			return err
		}
		defer engine.shutdown()

		for _, l := range cascade.Layers {
			store, err := engine.coordinator.ReadStore(l)
			if err != nil {
				fmt.Printf("%-10s error: %v\n", l, err)
				continue
			}
			st, err := store.GetStats(engine.decay.ImmortalThreshold(), engine.decay.VisibilityThreshold())
			if err != nil {
				fmt.Printf("%-10s error: %v\n", l, err)
				continue
			}
			fmt.Printf("%-10s count=%d active=%d decayed=%d immortal=%d avg_importance=%.3f\n",
				l, st.Count, st.ActiveCount, st.DecayedCount, st.ImmortalCount, st.AvgImportance)
		}
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "force an immediate decay sweep across all layers",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, engine, err := bootstrap()
		if err != nil {
			return err
		}
		defer engine.shutdown()

		engine.decay.Sweep(float64(time.Now().UnixNano()) / 1e9)
		stats := engine.decay.LastSweep()
		fmt.Printf("sweep %d complete in %s: %v\n", stats.Sequence, stats.Duration, stats.Updated)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print the cascade-memory version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}

// runtime bundles the components bootstrap wires together so commands can
// share a single construction path and shutdown sequence.
type runtime struct {
	coordinator *cascade.Coordinator
	decay       *cascade.DecayEngine
	limiter     *cascade.RateLimiter
	audit       *logging.AuditBuffer
	dispatcher  *cascade.Dispatcher
}

func (r *runtime) shutdown() {
	r.decay.Stop()
	r.limiter.Stop()
	if r.audit != nil {
		_ = r.audit.Flush()
	}
	_ = r.coordinator.Close()
}

func bootstrap() (*config.Config, *runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	if err := logging.Initialize(cfg.Storage.DurableRoot, cfg.LoggingSettings()); err != nil {
		return nil, nil, fmt.Errorf("initialize logging: %w", err)
	}

	coordinator, err := cascade.NewCoordinator(cfg.Storage.DurableRoot, cfg.Storage.CacheRoot, cfg.Decay.ImmortalThreshold)
	if err != nil {
		return nil, nil, err
	}

	decay := cascade.NewDecayEngine(coordinator, cfg.Decay.BaseRatePerDay, cfg.Decay.ImmortalThreshold, cfg.Decay.VisibilityThreshold, cfg.Decay.SweepBatchSize, cfg.SweepInterval())
	if cfg.Decay.Enabled {
		decay.Start()
	}

	limiter := cascade.NewRateLimiter(time.Duration(cfg.RateLimit.WindowSeconds)*time.Second, cfg.RateLimit.GlobalCap, cfg.RateLimit.OpCaps, 60)
	limiter.StartCleanup()

	var audit *logging.AuditBuffer
	if cfg.Logging.AuditPath != "" {
		audit = logging.NewAuditBuffer(1000, cfg.Logging.AuditPath)
	}

	dispatcher := cascade.NewDispatcher(coordinator, decay, limiter, audit, cfg)

	return cfg, &runtime{coordinator: coordinator, decay: decay, limiter: limiter, audit: audit, dispatcher: dispatcher}, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
