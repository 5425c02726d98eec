package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/grafana/pyroscope-go"
	"github.com/newthinker/tickflow/internal/app"
	"github.com/newthinker/tickflow/internal/broadcast"
	"github.com/newthinker/tickflow/internal/config"
	"github.com/newthinker/tickflow/internal/eventlog"
	"github.com/newthinker/tickflow/internal/logger"
	"github.com/newthinker/tickflow/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	inMemory bool
	stages   []string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline stages",
	Long: `Run starts the selected stages (all of them by default) in one process.
Stages can be split across processes with --stages; they coordinate only through
the event log.`,
	RunE: runPipeline,
}

func init() {
	runCmd.Flags().BoolVar(&inMemory, "memory", false, "use an in-process event log instead of Redis")
	runCmd.Flags().StringSliceVar(&stages, "stages", nil, "comma-separated stages to run (default all)")
	rootCmd.AddCommand(runCmd)
}

func loadConfig(log *zap.Logger) (*config.Config, error) {
	if cfgFile == "" {
		log.Warn("no config file specified, using defaults")
		return config.Defaults(), nil
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func runPipeline(cmd *cobra.Command, args []string) error {
	boot := logger.Must("", debug)
	cfg, err := loadConfig(boot)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	level, development := cfg.Log.Level, cfg.Log.Development
	if debug {
		level, development = "debug", true
	}
	log, err := logger.New(level, development)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer log.Sync()

	if cfg.Profiling.Enabled {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "tickflow",
			ServerAddress:   cfg.Profiling.ServerAddress,
			Logger:          log.Sugar(),
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			return fmt.Errorf("starting profiler: %w", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	var events eventlog.Log
	if inMemory {
		log.Warn("using in-memory event log; nothing survives a restart")
		events = eventlog.NewMemory()
	} else {
		events, err = eventlog.NewRedis(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
	}
	defer events.Close()

	reg := metrics.NewRegistry()
	application, err := app.New(cfg, events, app.Options{Stages: stages}, reg, log)
	if err != nil {
		return err
	}
	defer application.Close()

	server := newServer(cfg, application, reg, log)
	if server != nil {
		go func() {
			log.Info("http server listening", zap.String("addr", server.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("server error", zap.Error(err))
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := application.Run(ctx)
	log.Info("shutting down tickflow", zap.Any("stats", application.Stats()))

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown", zap.Error(err))
		}
	}
	return runErr
}

// newServer exposes metrics and the broadcast WebSocket on the metrics address. It
// returns nil when neither is enabled.
func newServer(cfg *config.Config, application *app.App, reg *metrics.Registry, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	routes := 0
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		routes++
	}
	if hub := application.Hub(); hub != nil {
		mux.Handle(cfg.Broadcast.Path, broadcast.Handler(hub, log))
		routes++
	}
	if routes == 0 {
		return nil
	}
	return &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           metrics.HTTPMiddleware(reg)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
