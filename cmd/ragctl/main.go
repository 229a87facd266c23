package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"ragfolio/internal/app"
	"ragfolio/internal/audit"
	"ragfolio/internal/config"
	"ragfolio/internal/ingest"
	"ragfolio/internal/logging"
	"ragfolio/internal/models"
	"ragfolio/internal/util"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configPath string

func main() {
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:           "ragctl",
		Short:         "Operate a ragfolio deployment",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("RAGFOLIO_CONFIG_FILE"), "YAML config overlay")

	quotaCmd := &cobra.Command{Use: "quota", Short: "Inspect and repair tenant quotas"}
	quotaCmd.AddCommand(quotaRecalcCmd())

	root.AddCommand(migrateCmd())
	root.AddCommand(quotaCmd)
	root.AddCommand(reprocessCmd())
	root.AddCommand(chunksCmd())
	root.AddCommand(sweepCmd())
	root.AddCommand(askCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logging.New(cfg), nil
}

func build(ctx context.Context) (*app.App, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.Build(ctx, cfg, log)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := app.Open(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer db.Close()
			log.Info("schema applied", "embed_dim", cfg.EmbedDim)
			return nil
		},
	}
}

func quotaRecalcCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recalc <tenant>",
		Short: "Recompute a tenant's usage counters from stored data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := build(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			q, err := a.Guard.Recalculate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			a.Audit.Emit(models.AuditEvent{
				TenantID: args[0], Action: audit.ActionQuotaRecalculate,
				ResourceType: "quota", ResourceID: args[0],
				Details: map[string]any{"source": "ragctl"},
			})
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "documents      %d / %d\n", q.CurrentDocuments, q.MaxDocuments)
			fmt.Fprintf(out, "storage bytes  %d / %d\n", q.CurrentStorageBytes, q.MaxStorageBytes)
			fmt.Fprintf(out, "chat sessions  %d / %d\n", q.CurrentChatSessions, q.MaxChatSessions)
			fmt.Fprintf(out, "chunks         %d / %d\n", q.CurrentChunks, q.MaxChunks)
			return nil
		},
	}
}

func reprocessCmd() *cobra.Command {
	var failed bool
	cmd := &cobra.Command{
		Use:   "reprocess <tenant> [document]",
		Short: "Reset a READY or FAILED document and queue it again",
		Args: func(cmd *cobra.Command, args []string) error {
			if failed {
				return cobra.ExactArgs(1)(cmd, args)
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := build(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			d, closeDispatch, err := a.Dispatcher()
			if err != nil {
				return err
			}
			defer closeDispatch()

			tenant := args[0]
			ids := args[1:]
			if failed {
				if ids, err = a.Documents.ListIDsByStatus(cmd.Context(), tenant, models.StatusFailed); err != nil {
					return err
				}
			}
			svc := a.DocumentService(d)
			queued := make([]string, 0, len(ids))
			for _, id := range ids {
				if _, err := svc.Reprocess(cmd.Context(), tenant, "", id); err != nil {
					if !failed {
						return err
					}
					a.Log.Warn("reprocess skipped", "document_id", id, "error", err)
					continue
				}
				queued = append(queued, id)
			}
			if pool, ok := d.(*ingest.PoolDispatcher); ok {
				pool.Wait()
			}
			out := cmd.OutOrStdout()
			for _, id := range queued {
				doc, err := a.Documents.Get(cmd.Context(), tenant, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s %s chunks=%d\n", doc.ID, doc.Status, doc.ChunkCount)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&failed, "failed", false, "reprocess every FAILED document of the tenant")
	return cmd
}

func chunksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chunks <tenant> <document>",
		Short: "Print the stored chunks of a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := build(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			doc, err := a.Documents.Get(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			chunks, err := a.Chunks.ListByDocument(cmd.Context(), doc.ID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s %s chunks=%d\n", doc.ID, doc.FileName, doc.Status, len(chunks))
			for _, c := range chunks {
				page := "-"
				if c.Page != nil {
					page = fmt.Sprint(*c.Page)
				}
				fmt.Fprintf(out, "#%d page=%s %s\n", c.ChunkIndex, page, util.Preview(c.Text, 80))
			}
			return nil
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Fail documents stuck in PROCESSING and requeue stuck uploads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := build(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			d, closeDispatch, err := a.Dispatcher()
			if err != nil {
				return err
			}
			defer closeDispatch()
			n, err := a.Sweeper.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			queued, err := a.Sweeper.WithDispatcher(d).Requeue(cmd.Context())
			if err != nil {
				return err
			}
			if pool, ok := d.(*ingest.PoolDispatcher); ok {
				pool.Wait()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "failed %d stale document(s), requeued %d upload(s)\n", n, queued)
			return nil
		},
	}
}

func askCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask <tenant> <question>",
		Short: "Answer a question from a tenant's documents without a chat session",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := build(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			if !a.VectorSearch {
				a.Log.Warn("vector search unavailable; answers will have no context")
			}
			ans, err := a.RAG.Answer(cmd.Context(), args[0], strings.Join(args[1:], " "), nil)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, ans.Content)
			for i, s := range ans.Sources {
				fmt.Fprintf(out, "[%d] %s (%.2f) %s\n", i+1, s.FileName, s.RelevanceScore, s.TextPreview)
			}
			return nil
		},
	}
}
