package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"booklib/internal/app"
	"booklib/internal/config"
	"booklib/internal/ratelimit"
	"booklib/internal/server"
	"booklib/internal/usertoken"
	"booklib/internal/util"
	"booklib/pkg/queue"
	"booklib/pkg/search"
	"booklib/pkg/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dataStore, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}

	indexClient, err := search.NewESClient(search.Config{
		Addresses: cfg.ElasticsearchAddresses,
		Index:     cfg.SearchIndex,
		Username:  cfg.ElasticsearchUsername,
		Password:  cfg.ElasticsearchPassword,
	})
	if err != nil {
		log.Fatalf("failed to init search client: %v", err)
	}
	bootCtx, cancelBoot := context.WithTimeout(ctx, 30*time.Second)
	if err := indexClient.EnsureIndex(bootCtx); err != nil {
		log.Fatalf("failed to ensure search index: %v", err)
	}
	cancelBoot()

	var backlog app.Backlog
	var reindexQueue *queue.ReindexQueue
	if cfg.RedisAddr != "" {
		reindexQueue, err = queue.New(queue.Config{
			Addr:       cfg.RedisAddr,
			Password:   cfg.RedisPassword,
			Stream:     cfg.ReindexStream,
			Group:      cfg.ReindexGroup,
			MaxRetries: cfg.ReindexMaxRetries,
		})
		if err != nil {
			log.Fatalf("failed to init reindex backlog: %v", err)
		}
		backlog = reindexQueue
	}

	appCore, err := app.New(app.Config{
		Store:   dataStore,
		Index:   indexClient,
		Backlog: backlog,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	verifier, err := usertoken.NewVerifier(usertoken.Config{
		Secret:   cfg.JWTSecret,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		Leeway:   30 * time.Second,
	})
	if err != nil {
		log.Fatalf("failed to init token verifier: %v", err)
	}

	var limiter *ratelimit.FixedWindowLimiter
	if cfg.SearchRateLimit > 0 && cfg.RedisAddr != "" {
		window := time.Duration(cfg.SearchRateWindowSeconds) * time.Second
		if window <= 0 {
			window = time.Minute
		}
		limiter, err = ratelimit.New(
			redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}),
			"catalog:ratelimit:search",
			cfg.SearchRateLimit,
			window,
		)
		if err != nil {
			log.Fatalf("failed to init rate limiter: %v", err)
		}
	}

	httpServer, err := server.New(server.Config{
		App:               appCore,
		Verifier:          verifier,
		Limiter:           limiter,
		TrustForwardedFor: cfg.TrustForwardedFor,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if reindexQueue != nil {
		reindexQueue.Start(ctx, cfg.ReindexConcurrency, func(jobCtx context.Context, job queue.Job) error {
			return appCore.ReindexBook(jobCtx, job.BookID)
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("catalog server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
}
