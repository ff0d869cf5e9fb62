package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hpungsan/trove/internal/classify"
	"github.com/hpungsan/trove/internal/config"
	"github.com/hpungsan/trove/internal/db"
	"github.com/hpungsan/trove/internal/extract"
	"github.com/hpungsan/trove/internal/filing"
	"github.com/hpungsan/trove/internal/github"
	"github.com/hpungsan/trove/internal/interests"
	"github.com/hpungsan/trove/internal/llm"
	"github.com/hpungsan/trove/internal/logger"
	"github.com/hpungsan/trove/internal/notify"
	"github.com/hpungsan/trove/internal/ops"
	"github.com/hpungsan/trove/internal/resolve"
	"github.com/hpungsan/trove/internal/workflow"
)

const notifyTimeout = 10 * time.Second

// runnerFactory builds the processing workflow on first use, so commands
// that only read the store never need model credentials. The returned
// func releases the workflow's resources.
type runnerFactory func(ctx context.Context) (ops.Runner, func(), error)

// newRunnerFactory returns a factory wiring the production workflow.
func newRunnerFactory(database *sql.DB, cfg *config.Config, log logger.Logger) runnerFactory {
	return func(ctx context.Context) (ops.Runner, func(), error) {
		orchestrator, cleanup, err := buildWorkflow(ctx, database, cfg, log, prometheus.DefaultRegisterer)
		if err != nil {
			return nil, nil, err
		}
		return orchestrator, cleanup, nil
	}
}

// buildWorkflow wires every pipeline stage from cfg.
func buildWorkflow(ctx context.Context, database *sql.DB, cfg *config.Config, log logger.Logger, reg prometheus.Registerer) (*workflow.Orchestrator, func(), error) {
	client, err := llm.NewGenAIClient(ctx, cfg.GeminiAPIKey)
	if err != nil {
		return nil, nil, err
	}
	classifierModel := llm.NewGenAICompleter(client, cfg.ClassifierModel)
	socialModel := llm.NewGenAICompleter(client, cfg.SocialModel)

	codeHost := github.NewClient(github.Config{
		Token: cfg.GitHubToken,
		RPS:   cfg.GitHubSearchRPS,
	})
	resolver := resolve.NewEngine(resolve.Config{
		Completer: classifierModel,
		Searcher:  codeHost,
		Price:     cfg.ClassifierPrice,
		Logger:    log.With(logger.String("stage", "resolve")),
	})

	extractors := extract.NewDefaultRegistry(extract.Dependencies{
		Repos:       codeHost,
		Transcripts: extract.NewTranscriptClient(cfg.TranscriptURL),
		Embeds:      extract.NewOEmbedClient(),
		Social:      &extract.LLMSocialSource{Completer: socialModel, Price: cfg.SocialPrice},
		Pages:       extract.NewHTTPFetcher(),
		Resolver:    resolver,
		Logger:      log.With(logger.String("stage", "extract")),
	})

	vocab, err := classify.NewVocabulary(cfg.Domains, cfg.DefaultDomain)
	if err != nil {
		return nil, nil, err
	}
	classifier, err := classify.New(classify.Config{
		Completer:  classifierModel,
		Price:      cfg.ClassifierPrice,
		Vocabulary: vocab,
		Logger:     log.With(logger.String("stage", "classify")),
	})
	if err != nil {
		return nil, nil, err
	}

	filer := filing.NewService(filing.Config{
		DB:        database,
		Completer: classifierModel,
		Price:     cfg.ClassifierPrice,
		Logger:    log.With(logger.String("stage", "filing")),
	})
	topics := interests.New(interests.Config{
		DB:        database,
		Completer: classifierModel,
		Price:     cfg.ClassifierPrice,
		Logger:    log.With(logger.String("stage", "interests")),
	})

	var sender notify.Notifier = notify.Nop{}
	if cfg.TelegramToken != "" {
		sender = notify.NewTelegram(notify.DefaultTelegramURL, cfg.TelegramToken)
	}
	notifier := notify.NewBestEffort(sender, notifyTimeout, log.With(logger.String("stage", "notify")))

	cache, closeCache, err := buildStepCache(database, cfg)
	if err != nil {
		return nil, nil, err
	}

	orchestrator, err := workflow.New(workflow.Config{
		DB:           database,
		Cache:        cache,
		Extractor:    extractors,
		Classifier:   classifier,
		Resolver:     resolver,
		Filer:        filer,
		Embedder:     llm.NewGenAIEmbedder(client, cfg.EmbeddingModel),
		Interests:    topics,
		Notifier:     notifier,
		Metrics:      workflow.NewMetrics(reg),
		Logger:       log.With(logger.String("component", "workflow")),
		MaxAttempts:  cfg.MaxAttempts,
		InitialDelay: time.Duration(cfg.RetryDelayMS) * time.Millisecond,
	})
	if err != nil {
		closeCache()
		return nil, nil, err
	}

	cleanup := func() {
		notifier.Wait()
		closeCache()
	}
	return orchestrator, cleanup, nil
}

// buildStepCache selects the memoization backend named by cfg.StepCache.
func buildStepCache(database *sql.DB, cfg *config.Config) (workflow.StepCache, func(), error) {
	if cfg.StepCache != config.StepCacheRedis {
		return db.NewStepStore(database), func() {}, nil
	}
	client, err := workflow.NewRedisClient(workflow.RedisConfig{
		Address:  cfg.RedisAddress,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("step cache: %w", err)
	}
	ttl := time.Duration(cfg.StepCacheTTLHours) * time.Hour
	return workflow.NewRedisCache(client, ttl), func() { _ = client.Close() }, nil
}

// serveMetrics exposes the default Prometheus registry on addr until ctx ends.
func serveMetrics(ctx context.Context, addr string, log logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server stopped", logger.Error(err))
		}
	}()
}
