// Command chatvectord runs the chat-workspace search service (spec §6.4):
// ingestion worker, request server, or a one-shot diagnostic search,
// selected by subcommand.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"chatvector/internal/chatapi"
	"chatvector/internal/chunk"
	"chatvector/internal/config"
	"chatvector/internal/embedclient"
	"chatvector/internal/enhancer"
	"chatvector/internal/ingest"
	"chatvector/internal/logging"
	"chatvector/internal/model"
	"chatvector/internal/ratelimit"
	"chatvector/internal/rpcserver"
	"chatvector/internal/search"
	"chatvector/internal/telemetry"
	"chatvector/internal/tools"
	"chatvector/internal/vectorstore"
)

const (
	exitOK     = 0
	exitConfig = 1
	exitFatal  = 2

	checkpointPath = "chatvector_ingestion_state.json"
	localVectorDB  = "chatvector_vectors.ndjson"
)

func main() {
	log := logging.For("main")

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: chatvectord <ingestion|serve|search-once> [args]")
		os.Exit(exitConfig)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		os.Exit(exitConfig)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	meters, shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config(cfg.Telemetry))
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize telemetry")
		os.Exit(exitFatal)
	}
	deps, err := buildDependencies(cfg, meters)
	if err != nil {
		log.Error().Err(err).Msg("failed to build dependencies")
		os.Exit(exitFatal)
	}

	var code int
	switch os.Args[1] {
	case "ingestion":
		runIngestOnly(ctx, deps, log)
	case "serve":
		runServe(ctx, cfg, deps, log)
	case "search-once":
		fs := flag.NewFlagSet("search-once", flag.ExitOnError)
		fs.Parse(os.Args[2:])
		if fs.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "usage: chatvectord search-once <query>")
			os.Exit(exitConfig)
		}
		code = runSearchOnce(ctx, deps, fs.Arg(0), log)
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", os.Args[1])
		os.Exit(exitConfig)
	}
	_ = shutdownTelemetry(context.Background())
	os.Exit(code)
}

// dependencies holds every constructed component, assembled once in main and
// passed by reference to whichever subcommand needs it (spec §9's "global
// singletons become component handles owned by a top-level value").
type dependencies struct {
	chat      *chatapi.Client
	embedder  *embedclient.Client
	store     vectorstore.VectorStore
	enhance   enhancer.Enhancer
	names     *search.NameIndex
	worker    *ingest.Worker
	scheduler *ingest.Scheduler
	searchSvc *search.Service
	registry  tools.Registry
}

func buildDependencies(cfg config.Config, meters *telemetry.Meters) (*dependencies, error) {
	gov := ratelimit.NewGovernor()

	chat := chatapi.NewClient(cfg.ChatBotToken, "", gov, cfg.ChatRateLimitPerMinute)
	embedder := embedclient.NewClient(cfg.EmbedAPIKey, "", "text-embedding-3-small", gov, cfg.ChatRateLimitPerMinute)

	store, err := buildVectorStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("building vector store: %w", err)
	}

	prompt, err := enhancer.LoadPrompt(cfg.PromptPath)
	if err != nil {
		return nil, fmt.Errorf("loading enhancer prompt: %w", err)
	}
	enhance := enhancer.NewClient(cfg.AnthropicKey, prompt, gov, cfg.ChatRateLimitPerMinute)

	names := search.NewNameIndex()

	chunkOpts := chunk.Options{Budget: cfg.ChunkSize, Overlap: cfg.ChunkOverlap}
	worker, err := ingest.NewWorker(chat, embedder, store, checkpointPath, meters, names, chunkOpts)
	if err != nil {
		return nil, fmt.Errorf("constructing ingestion worker: %w", err)
	}
	scheduler := ingest.NewScheduler(worker, cfg.ChatChannels, time.Duration(cfg.RefreshIntervalHours)*time.Hour)

	directory := chatDirectoryAdapter{chat: chat}
	searchSvc := search.NewService(enhance, embedder, store, names, directory, cfg.SearchCacheRedisAddr, "")

	registry := tools.NewRegistry()
	registry.Register(tools.NewSearchMessagesTool(searchSvc))
	registry.Register(tools.NewListChannelsTool(chat, cfg.ChatChannels))
	registry.Register(tools.NewStatsTool(store, worker))

	return &dependencies{
		chat:      chat,
		embedder:  embedder,
		store:     store,
		enhance:   enhance,
		names:     names,
		worker:    worker,
		scheduler: scheduler,
		searchSvc: searchSvc,
		registry:  registry,
	}, nil
}

func buildVectorStore(cfg config.Config) (vectorstore.VectorStore, error) {
	if cfg.VectorAPIKey == "" {
		return vectorstore.NewMemoryStore(localVectorDB)
	}
	dsn := cfg.VectorDSN
	if u, err := url.Parse(dsn); err == nil {
		q := u.Query()
		q.Set("api_key", cfg.VectorAPIKey)
		u.RawQuery = q.Encode()
		dsn = u.String()
	}
	return vectorstore.NewQdrantStore(dsn, cfg.VectorIndexName, model.EmbeddingDimension, cfg.VectorMetric)
}

// chatDirectoryAdapter adapts *chatapi.Client's (model.Channel|model.User,
// error) returns to search.ChatDirectory's (name string, error) shape.
type chatDirectoryAdapter struct {
	chat *chatapi.Client
}

func (a chatDirectoryAdapter) GetChannel(ctx context.Context, channelID string) (string, error) {
	ch, err := a.chat.GetChannel(ctx, channelID)
	if err != nil {
		return "", err
	}
	return ch.Name, nil
}

func (a chatDirectoryAdapter) GetUser(ctx context.Context, userID string) (string, error) {
	u, err := a.chat.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	return u.DisplayName, nil
}

func runIngestOnly(ctx context.Context, deps *dependencies, log zerolog.Logger) {
	deps.scheduler.Run(ctx)
	log.Info().Msg("ingestion worker stopped")
}

func runServe(ctx context.Context, cfg config.Config, deps *dependencies, log zerolog.Logger) {
	go deps.scheduler.Run(ctx)

	srv := rpcserver.NewServer(deps.registry, rpcserver.Config{
		Whitelist:       cfg.WhitelistKeys,
		AllowedOrigins:  []string{},
		RateLimitPerMin: 60,
	})

	httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: srv.Handler()}

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("request server listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("request server failed")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("request server shutdown error")
	}
}

func runSearchOnce(ctx context.Context, deps *dependencies, query string, log zerolog.Logger) int {
	resp, err := deps.searchSvc.Search(ctx, query, search.Overrides{})
	if err != nil {
		log.Error().Err(err).Msg("search-once failed")
		return exitFatal
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		log.Error().Err(err).Msg("encoding search-once response")
		return exitFatal
	}
	return exitOK
}
