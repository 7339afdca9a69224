package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"clipnote/internal/blob"
	"clipnote/internal/config"
	server "clipnote/internal/http"
	"clipnote/internal/jobs"
	"clipnote/internal/llm"
	"clipnote/internal/logging"
	"clipnote/internal/migrate"
	"clipnote/internal/normalize"
	"clipnote/internal/scraper"
	"clipnote/internal/services"
	"clipnote/internal/social"
	"clipnote/internal/store"
	"clipnote/internal/usage"
	"clipnote/internal/youtube"
)

// workerDrainTimeout bounds how long shutdown waits for running bulk jobs to
// record their final status.
const workerDrainTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	role := flag.String("role", "all", "process role: api|worker|all")
	flag.Parse()

	if err := run(*configPath, *role); err != nil {
		fmt.Fprintf(os.Stderr, "clipnote: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, role string) error {
	switch role {
	case "api", "worker", "all":
	default:
		return fmt.Errorf("invalid role: %s (expected api|worker|all)", role)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if err := migrate.Run(cfg.Database.DSN); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}

	db, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	st := store.New(db)

	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		rdb = redis.NewClient(opt)
		defer rdb.Close()
	} else {
		logger.Warn("redis not configured; rate limiting disabled and passkey ceremonies kept in memory")
	}

	gate := usage.NewGate(st, cfg.LLM.SharedAPIKey, cfg.Usage.DailyLimit)
	clip, err := buildClipService(cfg, st, gate, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var workerDone chan struct{}
	if role == "worker" || role == "all" {
		exec := jobs.NewBulkExecutor(clip, st, st, time.Duration(cfg.Bulk.DelayMs)*time.Millisecond, logger)
		runner := jobs.NewRunner(cfg, st, exec, logger)
		workerDone = make(chan struct{})
		go func() {
			defer close(workerDone)
			runner.Start(ctx)
		}()
		logger.Info("bulk clip worker started", zap.Int("max_concurrent", cfg.Worker.MaxConcurrentJobs))
	}
	waitWorker := func() {
		if workerDone == nil {
			return
		}
		select {
		case <-workerDone:
		case <-time.After(workerDrainTimeout):
			logger.Warn("bulk clip worker did not drain in time; unfinished jobs will be requeued after their lease")
		}
	}

	if role == "worker" {
		<-ctx.Done()
		logger.Info("shutting down")
		waitWorker()
		return nil
	}

	deps := server.Dependencies{
		Store:   st,
		DB:      db,
		Clipper: clip,
		Bulk:    services.NewBulkClipService(st, cfg.Bulk.MaxURLs),
		Usage:   gate,
		Redis:   rdb,
		Logger:  logger,
	}

	if images, err := blob.New(cfg.Storage.S3); err == nil {
		deps.Images = images
	} else if !errors.Is(err, blob.ErrDisabled) {
		return fmt.Errorf("object storage: %w", err)
	}

	if cfg.Passkey.RPID != "" {
		wa, err := webauthn.New(&webauthn.Config{
			RPID:          cfg.Passkey.RPID,
			RPDisplayName: cfg.Passkey.RPDisplayName,
			RPOrigins:     cfg.Passkey.RPOrigins,
		})
		if err != nil {
			return fmt.Errorf("webauthn: %w", err)
		}
		deps.WebAuthn = wa
	}

	srv := server.NewServer(cfg, deps)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Listen() }()

	select {
	case err := <-errCh:
		stop()
		waitWorker()
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	waitWorker()
	return err
}

// buildClipService assembles the fetchers, the usage gate and the
// normalizer into the clip pipeline.
func buildClipService(cfg *config.Config, st *store.Store, gate *usage.Gate, logger *zap.Logger) (*services.ClipService, error) {
	fetchTimeout := time.Duration(cfg.Scraper.TimeoutMs) * time.Millisecond

	opts := []scraper.FetcherOption{scraper.WithLogger(logger)}
	if cfg.Rod.Enabled {
		opts = append(opts, scraper.WithBrowser(scraper.NewRodScraper(cfg.Rod.BrowserURL,
			time.Duration(cfg.Rod.TimeoutMs)*time.Millisecond, cfg.Scraper.MaxChars)))
	}
	if cfg.Robots.Respect {
		opts = append(opts, scraper.WithRobots(scraper.NewRobotsChecker(scraper.NewGuardedClient(fetchTimeout), cfg.Scraper.UserAgent)))
	}
	pages := scraper.NewFetcher(
		scraper.NewHTTPScraper(fetchTimeout, cfg.Scraper.MaxBodyBytes, cfg.Scraper.MaxChars),
		cfg.Scraper.UserAgent, cfg.Scraper.TimeoutMs, opts...)

	videos := youtube.NewFetcher(
		youtube.NewClient(scraper.NewGuardedClient(time.Duration(cfg.YouTube.TimeoutMs)*time.Millisecond), cfg.YouTube.Languages),
		logger)

	posts := social.NewInstagramFetcher(social.Options{
		OEmbedURL:     cfg.Instagram.OEmbedURL,
		AccessToken:   cfg.Instagram.AccessToken,
		UserAgent:     cfg.Scraper.UserAgent,
		Timeout:       time.Duration(cfg.Instagram.TimeoutMs) * time.Millisecond,
		MaxImageBytes: cfg.Instagram.MaxImageBytes,
	}, logger)

	client, err := llm.NewClient(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("llm client: %w", err)
	}
	norm := normalize.New(client, cfg.LLM.Models,
		normalize.WithTimeout(time.Duration(cfg.LLM.TimeoutMs)*time.Millisecond),
		normalize.WithMaxOutputTokens(cfg.LLM.MaxOutputTokens),
		normalize.WithLogger(logger))

	if cfg.LLM.SharedAPIKey == "" {
		logger.Warn("no shared model key configured; only users with their own key can use AI")
	} else {
		logger.Info("shared model key configured", zap.String("key", cfg.RedactedSharedKey()))
	}

	return services.NewClipService(services.ClipDeps{
		Pages:      pages,
		Videos:     videos,
		Posts:      posts,
		Gate:       gate,
		Normalizer: norm,
		Settings:   st,
		Logger:     logger,
	}), nil
}
