package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"ragfolio/internal/activities"
	"ragfolio/internal/app"
	"ragfolio/internal/config"
	"ragfolio/internal/logging"
	"ragfolio/internal/workflows"

	"github.com/joho/godotenv"
	"go.temporal.io/sdk/worker"
)

func main() {
	_ = godotenv.Load(".env")
	cfg, err := config.LoadFile(os.Getenv("RAGFOLIO_CONFIG_FILE"))
	if err != nil {
		logging.New(config.Load()).Error("load config", "error", err)
		os.Exit(1)
	}
	log := logging.New(cfg)
	if err := cfg.Validate(); err != nil {
		log.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if cfg.DispatchMode == config.DispatchLocal {
		// The api process runs ingestion and requeues uploads itself.
		go a.Sweeper.Run(ctx, cfg.SweepInterval)
		log.Info("ragfolio worker sweeping only", "dispatch", cfg.DispatchMode, "interval", cfg.SweepInterval)
		<-ctx.Done()
		return
	}

	c, err := a.Temporal()
	if err != nil {
		log.Error("temporal client", "error", err)
		os.Exit(1)
	}
	defer c.Close()

	a.Sweeper.WithDispatcher(workflows.NewDispatcher(c, cfg.TemporalTaskQueue, int(cfg.IngestTimeout.Seconds())))
	go a.Sweeper.Run(ctx, cfg.SweepInterval)

	w := worker.New(c, cfg.TemporalTaskQueue, worker.Options{})
	workflows.Register(w)
	activities.Register(w, activities.New(a.Processor, a.Documents))

	log.Info("ragfolio worker listening", "temporal", cfg.TemporalAddress, "queue", cfg.TemporalTaskQueue, "vector_search", a.VectorSearch)
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Error("worker stopped", "error", err)
		os.Exit(1)
	}
}
