package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/docpipe/internal/adapters/scheduler"
	"github.com/kirillkom/docpipe/internal/bootstrap"
	"github.com/kirillkom/docpipe/internal/config"
	"github.com/kirillkom/docpipe/internal/core/domain"
	"github.com/kirillkom/docpipe/internal/core/ports"
	"github.com/kirillkom/docpipe/internal/observability/logging"
	"github.com/kirillkom/docpipe/internal/observability/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.NewJSONLogger("worker", "info").Error("config_invalid", "error", err)
		os.Exit(1)
	}
	logger := logging.NewJSONLogger("worker", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics("worker")
	app, err := bootstrap.New(ctx, cfg, logger, bootstrap.WithStageMetrics(workerMetrics))
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	if err := run(ctx, cfg, app, workerMetrics, logger); err != nil {
		logger.Error("worker_failed", "error", err)
		os.Exit(1)
	}
	logger.Info("worker_stopped")
}

func run(ctx context.Context, cfg config.Config, app *bootstrap.App, workerMetrics *metrics.WorkerMetrics, logger *slog.Logger) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("worker_consuming", "dispatcher", cfg.DispatcherBackend, "concurrency", cfg.WorkerConcurrency)
		return app.Consumer.Consume(gctx, stageHandler(app.Pipeline, workerMetrics, stageTimeout(cfg)))
	})

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           metricsMux(workerMetrics),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		logger.Info("worker_metrics_listening", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	housekeeping := scheduler.New(app.HousekeepingUC, app.DiagnosticsUC,
		scheduler.WithObserver(workerMetrics),
		scheduler.WithLogger(logger),
	)
	if err := housekeeping.Start(cfg.HousekeepingSchedule); err != nil {
		return err
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		housekeeping.Stop(shutdownCtx)
		return metricsServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// stageHandler bounds each stage run and records how late the task started.
func stageHandler(handler ports.StageHandler, workerMetrics *metrics.WorkerMetrics, timeout time.Duration) func(context.Context, domain.StageTask) error {
	return func(ctx context.Context, task domain.StageTask) error {
		workerMetrics.ObserveQueueLag(task, time.Now().UTC())
		stageCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return handler.HandleTask(stageCtx, task)
	}
}

func stageTimeout(cfg config.Config) time.Duration {
	return max(cfg.OllamaTimeout(), cfg.CloudTimeout()) + time.Minute
}

func metricsMux(workerMetrics *metrics.WorkerMetrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", workerMetrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}
