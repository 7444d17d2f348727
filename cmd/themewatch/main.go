// Command themewatch runs the WordPress.org themes directory crawler and
// its dashboard API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/themewatch/themewatch/internal/api"
	archgcs "github.com/themewatch/themewatch/internal/archive/gcs"
	archlocal "github.com/themewatch/themewatch/internal/archive/local"
	archmemory "github.com/themewatch/themewatch/internal/archive/memory"
	archnoop "github.com/themewatch/themewatch/internal/archive/noop"
	"github.com/themewatch/themewatch/internal/clock/system"
	"github.com/themewatch/themewatch/internal/config"
	"github.com/themewatch/themewatch/internal/crawl"
	"github.com/themewatch/themewatch/internal/dispatcher"
	"github.com/themewatch/themewatch/internal/logging"
	"github.com/themewatch/themewatch/internal/metrics"
	qmemory "github.com/themewatch/themewatch/internal/queue/memory"
	qpubsub "github.com/themewatch/themewatch/internal/queue/pubsub"
	"github.com/themewatch/themewatch/internal/stats"
	smemory "github.com/themewatch/themewatch/internal/store/memory"
	spostgres "github.com/themewatch/themewatch/internal/store/postgres"
	ssqlite "github.com/themewatch/themewatch/internal/store/sqlite"
	"github.com/themewatch/themewatch/internal/themes"
	"github.com/themewatch/themewatch/internal/worker"
	"github.com/themewatch/themewatch/internal/wpapi"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "themewatch: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck // stderr sync is best-effort

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck // shutdown path

	queue, closeQueue, err := newQueue(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeQueue()

	archiver, err := newArchiver(ctx, cfg)
	if err != nil {
		return err
	}

	clk := system.New()
	client := wpapi.New(wpapi.Config{
		BaseURL:      cfg.Upstream.BaseURL,
		UserAgent:    cfg.Upstream.UserAgent,
		Timeout:      cfg.UpstreamTimeout(),
		PerPage:      cfg.Upstream.PerPage,
		PerPageLarge: cfg.Upstream.PerPageLarge,
	}, logging.Component(logger, "wpapi"))

	ingestor := crawl.NewIngestor(store, clk, cfg.Crawl.StatsSnapshots,
		logging.Component(logger, "ingest"))
	walker := crawl.NewWalker(client, ingestor, store, archiver, clk,
		logging.Component(logger, "walker"))
	scheduler := crawl.NewScheduler(store, queue, clk, crawl.SchedulerConfig{
		Cooldowns:  cfg.Cooldowns(),
		StaleAfter: cfg.StaleAfter(),
	}, logging.Component(logger, "scheduler"))
	statsSvc := stats.New(store, logging.Component(logger, "stats"))

	go scheduler.RunPeriodic(ctx, time.Duration(cfg.Crawl.CheckIntervalSeconds)*time.Second)

	crawlDone := make(chan struct{})
	if cfg.Crawl.PaginationMode == config.PaginationLoop {
		go func() {
			defer close(crawlDone)
			runLoopMode(ctx, queue, walker, logger)
		}()
	} else {
		policy := crawl.NewExponentialRetryPolicy(cfg.Crawl.MaxRetries)
		workers := make([]*worker.Worker, 0, cfg.Crawl.Concurrency)
		for i := 0; i < cfg.Crawl.Concurrency; i++ {
			workers = append(workers, worker.New(queue, walker, policy,
				logging.Component(logger, fmt.Sprintf("worker-%d", i))))
		}
		go func() {
			defer close(crawlDone)
			dispatcher.New(workers).Run(ctx)
		}()
	}

	server := api.NewServer(store, statsSvc, scheduler, logging.Component(logger, "api"))
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", zap.Error(err))
	}
	<-crawlDone
	return nil
}

// runLoopMode drains the queue one run at a time: each dequeued job walks
// its whole run in-process instead of bouncing pages through the bus.
func runLoopMode(ctx context.Context, queue themes.Queue, walker *crawl.Walker, logger *zap.Logger) {
	for {
		job, err := queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		if err := walker.Run(ctx, job.Kind); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("crawl run failed",
				zap.String("kind", string(job.Kind)),
				zap.Error(err),
			)
		}
	}
}

func newStore(ctx context.Context, cfg config.Config) (themes.Store, error) {
	switch cfg.DB.Provider {
	case "sqlite":
		return ssqlite.Open(cfg.DB.DSN)
	case "postgres":
		return spostgres.New(ctx, spostgres.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxConns,
		})
	case "memory":
		return smemory.New(), nil
	default:
		return nil, fmt.Errorf("unknown db provider: %s", cfg.DB.Provider)
	}
}

func newQueue(ctx context.Context, cfg config.Config, logger *zap.Logger) (themes.Queue, func(), error) {
	switch cfg.Queue.Provider {
	case "memory":
		q := qmemory.New(cfg.Crawl.QueueDepth)
		return q, q.Close, nil
	case "pubsub":
		q, err := qpubsub.New(ctx, qpubsub.Config{
			ProjectID:    cfg.Queue.ProjectID,
			Topic:        cfg.Queue.Topic,
			Subscription: cfg.Queue.Subscription,
		}, logging.Component(logger, "pubsub"))
		if err != nil {
			return nil, nil, err
		}
		return q, func() {
			if err := q.Close(); err != nil {
				logger.Warn("pubsub close failed", zap.Error(err))
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown queue provider: %s", cfg.Queue.Provider)
	}
}

func newArchiver(ctx context.Context, cfg config.Config) (themes.Archiver, error) {
	switch cfg.Archive.Provider {
	case "noop":
		return archnoop.New(), nil
	case "memory":
		return archmemory.New(), nil
	case "local":
		return archlocal.New(cfg.Archive.Dir)
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		return archgcs.New(client, archgcs.Config{
			Bucket: cfg.Archive.Bucket,
			Prefix: cfg.Archive.Prefix,
		})
	default:
		return nil, fmt.Errorf("unknown archive provider: %s", cfg.Archive.Provider)
	}
}
