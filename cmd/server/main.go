package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"encode-hub/internal/encctx"
	"encode-hub/internal/pipeline"
	"encode-hub/internal/platform/config"
	"encode-hub/internal/platform/logger"
	"encode-hub/internal/platform/metrics"
	"encode-hub/internal/statfile"

	"github.com/go-chi/chi/v5"
)

const shutdownTimeout = 10 * time.Second

// appCallback stands in for the application handle the encoder reports to.
type appCallback struct {
	name string
}

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	statsPath := config.GetEnv("STATS_FILE", "")
	statsCompress := config.GetEnvBool("STATS_COMPRESS", false)
	runFrames := config.GetEnvInt("RUN_FRAMES", 0)
	runWorkers := config.GetEnvInt("RUN_WORKERS", 4)
	gopSize := config.GetEnvInt("GOP_SIZE", pipeline.DefaultGOPSize)

	log := logger.New(logLevel, logFormat)
	met := metrics.New()
	cfg := encctx.ConfigFromEnv()

	opts := []encctx.Option{encctx.WithLogger(log), encctx.WithMetrics(met)}
	var statsFile *statfile.Writer
	if statsPath != "" {
		w, err := statfile.Create(statsPath, statsCompress)
		if err != nil {
			log.Error("stats file error", "path", statsPath, "error", err)
			os.Exit(1)
		}
		statsFile = w
		opts = append(opts, encctx.WithStatSink(w))
	}

	ec, err := encctx.New(cfg, &appCallback{name: "encode-hub"}, opts...)
	if err != nil {
		log.Error("encode context error", "error", err)
		closeStatsFile(log, statsFile)
		os.Exit(1)
	}

	h := encctx.NewHandler(ec, log, met)
	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() {
			met.SetStatsPending(ec.StatsLog().Pending())
			met.SetRCHead(ec.RateControlRing().Head())
			met.SetReconFrames(ec.ReconFrames())
		}).ServeHTTP(w, r)
	})
	h.Routes(r)

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"lookahead_buffers", cfg.LookAheadBuffers,
		"parallel_gops", cfg.ParallelGOPs,
		"stats_file", statsPath,
		"log_level", logLevel,
	)

	runCtx, stopRun := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if runFrames <= 0 {
			return
		}
		res, err := pipeline.Run(runCtx, ec, runFrames, runWorkers,
			pipeline.WithGOPSize(gopSize), pipeline.WithLogger(log))
		if err != nil {
			log.Error("pipeline run failed", "error", err)
			return
		}
		log.Info("pipeline run finished", "pictures", len(res.Packetized), "gops", res.GOPs)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
	}

	stopRun()
	<-runDone
	ec.Destroy()
	closeStatsFile(log, statsFile)

	log.Info("server stopped")
}

func closeStatsFile(log *slog.Logger, w *statfile.Writer) {
	if w == nil {
		return
	}
	if err := w.Close(); err != nil {
		log.Error("stats file close error", "error", err)
	}
}
