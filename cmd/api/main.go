package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ragfolio/internal/api"
	"ragfolio/internal/app"
	"ragfolio/internal/config"
	"ragfolio/internal/logging"

	"github.com/joho/godotenv"
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

	dispatcher, closeDispatch, err := a.Dispatcher()
	if err != nil {
		log.Error("ingestion dispatcher", "error", err)
		os.Exit(1)
	}
	defer closeDispatch()

	if cfg.DispatchMode == config.DispatchLocal {
		go a.Sweeper.WithDispatcher(dispatcher).Run(ctx, cfg.SweepInterval)
	}

	h := api.NewServer(api.Deps{
		Documents:      a.DocumentService(dispatcher),
		Chat:           a.ChatService(),
		Keys:           a.Credentials,
		Quotas:         a.Guard,
		Audit:          a.Audit,
		VectorSearch:   a.VectorSearch,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Log:            log,
	})
	srv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("ragfolio api listening", "addr", cfg.APIAddr, "dispatch", cfg.DispatchMode, "vector_search", a.VectorSearch)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("api server stopped", "error", err)
		os.Exit(1)
	}
}
