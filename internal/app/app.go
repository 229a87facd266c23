// Package app wires the shared components used by the api, worker and
// ragctl binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	tclient "go.temporal.io/sdk/client"

	"ragfolio/internal/audit"
	"ragfolio/internal/chat"
	"ragfolio/internal/config"
	"ragfolio/internal/credentials"
	"ragfolio/internal/documents"
	"ragfolio/internal/embedding"
	"ragfolio/internal/ingest"
	"ragfolio/internal/objectstore"
	"ragfolio/internal/providers"
	"ragfolio/internal/quota"
	"ragfolio/internal/rag"
	"ragfolio/internal/secrets"
	"ragfolio/internal/storage"
	"ragfolio/internal/util"
	"ragfolio/internal/vector"
	"ragfolio/internal/workflows"
)

type App struct {
	Config config.Config
	Log    *slog.Logger
	DB     *storage.DB

	VectorSearch bool

	Documents   *storage.DocumentRepo
	Quotas      *storage.QuotaRepo
	Chunks      *storage.ChunkRepo
	Chats       *storage.ChatRepo
	Keys        *storage.KeyRepo
	Audit       *audit.Emitter
	Guard       *quota.Guard
	Credentials *credentials.Service
	Providers   *providers.Manager
	Embedders   *embedding.Resolver
	Objects     *objectstore.Local
	Machine     *ingest.Machine
	Processor   *ingest.Processor
	Sweeper     *ingest.Sweeper
	Retriever   vector.Retriever
	RAG         *rag.Orchestrator
}

// Open connects to Postgres and applies the schema.
func Open(ctx context.Context, cfg config.Config, log *slog.Logger) (*storage.DB, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	db, err := storage.NewDB(dialCtx, cfg.PostgresURL)
	if err != nil {
		return nil, err
	}
	if err := storage.Migrate(ctx, db, cfg.EmbedDim, log); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Build opens the database and assembles every component except the
// ingestion dispatcher, which depends on the binary.
func Build(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	db, err := Open(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	available, err := vector.Probe(ctx, db.Pool)
	if err != nil {
		db.Close()
		return nil, err
	}
	log.Info("capability probe", "vector_search", available)

	box, err := secrets.NewBox(cfg.SecretKey)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("credential sealing: %w (set RAGFOLIO_SECRET_KEY)", err)
	}
	objects, err := objectstore.NewLocal(cfg.StorageRoot)
	if err != nil {
		db.Close()
		return nil, err
	}

	a := &App{Config: cfg, Log: log, DB: db, VectorSearch: available, Objects: objects}
	a.Quotas = storage.NewQuotaRepo(db, cfg.Quota)
	a.Documents = storage.NewDocumentRepo(db, a.Quotas, available)
	a.Chunks = storage.NewChunkRepo(db)
	a.Chats = storage.NewChatRepo(db)
	a.Keys = storage.NewKeyRepo(db)
	a.Audit = audit.NewEmitter(storage.NewAuditRepo(db), cfg.AuditBuffer, log)
	a.Guard = quota.NewGuard(a.Quotas, log)
	a.Credentials = credentials.NewService(a.Keys, box, a.Audit, log)
	a.Providers = providers.NewManager(cfg, a.Credentials, providers.WithRecorder(a.Audit), providers.WithLogger(log))
	a.Embedders = embedding.NewResolver(a.Providers, cfg.EmbedBatchSize, cfg.EmbedDim, cfg.ProviderRPS)

	a.Machine = ingest.NewMachine(a.Documents, log)
	a.Processor = ingest.NewProcessor(a.Machine, a.Documents, objects, a.Embedders, ingest.ChunkConfig{
		Options: util.ChunkOptions{
			Size:      cfg.ChunkSize,
			Overlap:   cfg.ChunkOverlap,
			Separator: cfg.ChunkSeparator,
		},
		Strategy: cfg.ChunkStrategy,
	}, a.Audit, log)
	a.Sweeper = ingest.NewSweeper(a.Processor, a.Documents, cfg.StaleAfter, log)

	a.Retriever = vector.NewRetriever(db.Pool, available, vector.Limits{Default: cfg.SearchDefaultLimit, Max: cfg.SearchMaxLimit})
	a.RAG = rag.NewOrchestrator(a.Embedders, a.Providers, a.Retriever, rag.Options{
		Limit:        cfg.SearchDefaultLimit,
		MinScore:     cfg.SearchMinScore,
		HistoryTurns: cfg.HistoryTurns,
		Temperature:  0.7,
	}, log)
	return a, nil
}

// Dispatcher returns the ingestion dispatcher for the configured mode. The
// returned close func releases the Temporal client or the local pool.
func (a *App) Dispatcher() (ingest.Dispatcher, func(), error) {
	switch a.Config.DispatchMode {
	case config.DispatchLocal:
		d, err := ingest.NewPoolDispatcher(a.Processor, a.Config.LocalPoolSize, a.Config.IngestTimeout, a.Log)
		if err != nil {
			return nil, nil, err
		}
		return d, d.Close, nil
	default:
		c, err := a.Temporal()
		if err != nil {
			return nil, nil, err
		}
		return workflows.NewDispatcher(c, a.Config.TemporalTaskQueue, int(a.Config.IngestTimeout.Seconds())), c.Close, nil
	}
}

func (a *App) Temporal() (tclient.Client, error) {
	c, err := tclient.Dial(tclient.Options{
		HostPort: a.Config.TemporalAddress,
		Logger:   newTemporalLogger(a.Log),
	})
	if err != nil {
		return nil, fmt.Errorf("dial temporal: %w", err)
	}
	return c, nil
}

func (a *App) DocumentService(d ingest.Dispatcher) *documents.Service {
	return documents.NewService(a.Documents, a.Objects, a.Machine, a.Guard, d, a.Audit, a.Config.MaxUploadBytes, a.Log)
}

func (a *App) ChatService() *chat.Service {
	return chat.NewService(a.Chats, a.RAG, a.Guard, a.Audit, a.Config.HistoryTurns, a.Log)
}

// Close drains the audit queue before closing the pool it writes to.
func (a *App) Close() {
	a.Audit.Close()
	a.DB.Close()
}
