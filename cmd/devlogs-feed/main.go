// devlogs-feed is a custom Bluesky feed generator: it consumes the AT
// Protocol firehose and an optional bootstrap backfill, scores candidate
// posts through a filter chain and a batched ML worker, and serves ranked
// feeds over app.bsky.feed.getFeedSkeleton.
//
// Usage:
//
//	export PUBLISHER_DID=did:plc:example
//	export FEED_HOSTNAME=feed.example.com
//	export DATABASE_URL=feed.db
//	./devlogs-feed
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/doceazedo/devlogs-feed/internal/atproto"
	"github.com/doceazedo/devlogs-feed/internal/config"
	"github.com/doceazedo/devlogs-feed/internal/mlworker"
	"github.com/doceazedo/devlogs-feed/internal/pipeline"
	"github.com/doceazedo/devlogs-feed/internal/server"
	"github.com/doceazedo/devlogs-feed/internal/store"
)

const relayHost = "bsky.network"

func main() {
	// Structured JSON logging by default — easy to parse with any log aggregator.
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logBroadcaster := server.NewLogBroadcaster(os.Stdout)
	slog.SetDefault(slog.New(slog.NewJSONHandler(logBroadcaster, &slog.HandlerOptions{
		Level: logLevel,
	})))

	slog.Info("starting devlogs-feed", "version", "1.0.0")

	// ─── Configuration ────────────────────────────────────────────────────────
	cfg := config.Load()
	if err := config.ValidatePort(cfg.Port); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	scoringCfg, err := config.LoadScoring(cfg.ScoringDefaultsPath, cfg.ScoringOverridePath)
	if err != nil {
		slog.Error("failed to load scoring config", "error", err)
		os.Exit(1)
	}
	slog.Info("config loaded",
		"feed_hostname", cfg.FeedHostname,
		"publisher_did", cfg.PublisherDID,
		"database", cfg.DatabaseURL,
		"backfill_enabled", cfg.BackfillEnabled(),
	)

	// ─── Database ─────────────────────────────────────────────────────────────
	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to open database", "error", err, "url", cfg.DatabaseURL)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.Migrate(); err != nil {
		slog.Error("database migration failed", "error", err)
		os.Exit(1)
	}

	// ─── ML worker ────────────────────────────────────────────────────────────
	chatModel, err := ollama.New(ollama.WithServerURL(cfg.MLBackendURL), ollama.WithModel(cfg.MLModel))
	if err != nil {
		slog.Error("failed to create ML chat model", "error", err, "backend", cfg.MLBackendURL)
		os.Exit(1)
	}
	embedModel, err := ollama.New(ollama.WithServerURL(cfg.MLBackendURL), ollama.WithModel(cfg.MLEmbedModel))
	if err != nil {
		slog.Error("failed to create ML embedding model", "error", err, "backend", cfg.MLBackendURL)
		os.Exit(1)
	}
	embedder, err := embeddings.NewEmbedder(embedModel)
	if err != nil {
		slog.Error("failed to create embedder", "error", err)
		os.Exit(1)
	}

	mlHandle := mlworker.Spawn(
		scoringCfg.ML,
		mlworker.NewLangchainClassifier(chatModel),
		mlworker.NewLangchainEmbedder(embedder),
	)

	// ─── Pipeline orchestrator ────────────────────────────────────────────────
	orch := pipeline.New(scoringCfg, st, mlHandle)

	// ─── Graceful shutdown ────────────────────────────────────────────────────
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// ─── Maintenance loops ────────────────────────────────────────────────────
	flushInterval := time.Duration(scoringCfg.Maintenance.FlushIntervalSeconds) * time.Second
	cleanupInterval := time.Duration(scoringCfg.Maintenance.CleanupIntervalSeconds) * time.Second
	go orch.RunFlushLoop(ctx, flushInterval)
	go orch.RunCleanupLoop(ctx, cleanupInterval, func() int64 { return time.Now().Unix() })

	// ─── Firehose ─────────────────────────────────────────────────────────────
	firehose := &pipeline.Firehose{
		RelayHost:    relayHost,
		Orchestrator: orch,
		Limit:        int64(cfg.FirehoseLimit),
	}
	go firehose.Run(ctx)

	// ─── Backfill ─────────────────────────────────────────────────────────────
	var backfillClient *atproto.Client
	if cfg.BackfillEnabled() {
		backfillClient = atproto.NewClient(cfg.BlueskyIdentifier, cfg.BlueskyPassword, scoringCfg.Backfill.AuthHost)
		backfill := &pipeline.Backfill{
			Client:       backfillClient,
			Orchestrator: orch,
			Config:       scoringCfg.Backfill,
		}
		runBackfill := func() {
			accepted, err := backfill.Run(ctx)
			if err != nil {
				slog.Error("backfill run failed", "error", err)
				return
			}
			slog.Info("backfill run complete", "accepted", accepted)
		}
		go func() {
			runBackfill()
			if cfg.BackfillPollInterval <= 0 {
				return
			}
			ticker := time.NewTicker(cfg.BackfillPollInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					runBackfill()
				}
			}
		}()
	}

	// ─── HTTP server ──────────────────────────────────────────────────────────
	var endpointStatuser server.EndpointStatuser
	if backfillClient != nil {
		endpointStatuser = backfillClient
	}
	srv := server.New(cfg, scoringCfg, st, orch, endpointStatuser)
	srv.SetLogBroadcaster(logBroadcaster)
	srv.Start(ctx) // blocks until ctx is cancelled

	slog.Info("devlogs-feed stopped")
}
