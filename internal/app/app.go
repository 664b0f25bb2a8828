// Package app assembles the service from configuration: cache, retrieval
// chain, archive, review publisher, detector, monitor and HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gcsclient "cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spectrail/specwatch/internal/api"
	"github.com/spectrail/specwatch/internal/cache"
	"github.com/spectrail/specwatch/internal/clock/system"
	"github.com/spectrail/specwatch/internal/config"
	"github.com/spectrail/specwatch/internal/detect"
	"github.com/spectrail/specwatch/internal/extract"
	"github.com/spectrail/specwatch/internal/fetcher"
	"github.com/spectrail/specwatch/internal/fetcher/extractapi"
	"github.com/spectrail/specwatch/internal/fetcher/headless"
	"github.com/spectrail/specwatch/internal/fetcher/httpclient"
	"github.com/spectrail/specwatch/internal/id/uuid"
	"github.com/spectrail/specwatch/internal/metrics"
	"github.com/spectrail/specwatch/internal/monitor"
	"github.com/spectrail/specwatch/internal/product"
	memorypublisher "github.com/spectrail/specwatch/internal/publisher/memory"
	pubsubpublisher "github.com/spectrail/specwatch/internal/publisher/pubsub"
	gcsstorage "github.com/spectrail/specwatch/internal/storage/gcs"
	localstorage "github.com/spectrail/specwatch/internal/storage/local"
	memorystorage "github.com/spectrail/specwatch/internal/storage/memory"
	pgstore "github.com/spectrail/specwatch/internal/storage/postgres"
)

// App contains the wired application.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	fetcher *fetcher.Fetcher
	monitor *monitor.Monitor
	server  *api.Server

	redisClient   *redis.Client
	pubsubClient  *pubsub.Client
	storageClient *gcsclient.Client
	snapshotStore *pgstore.SnapshotStore
	headless      *headless.Retriever
}

// NewApp wires all components from configuration.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	metrics.Init()
	clk := system.New()

	a := &App{cfg: cfg, logger: logger}

	a.redisClient = redis.NewClient(&redis.Options{
		Addr:     cfg.Cache.Addr,
		Password: cfg.Cache.Password,
		DB:       cfg.Cache.DB,
	})
	productCache := cache.New(a.redisClient, cache.Config{
		KeyPrefix:         cfg.Cache.KeyPrefix,
		DefaultTTL:        cfg.DefaultTTL(),
		SimilarityHorizon: cfg.SimilarityHorizon(),
	}, logger)

	retrievers, err := a.buildRetrievers()
	if err != nil {
		return nil, err
	}
	archive, err := a.buildArchive(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := a.buildPublisher(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.Store.DSN != "" {
		store, err := pgstore.NewSnapshotStore(ctx, pgstore.SnapshotStoreConfig{
			DSN:      cfg.Store.DSN,
			Table:    cfg.Store.Table,
			MaxConns: cfg.Store.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("snapshot store: %w", err)
		}
		a.snapshotStore = store
	}

	a.fetcher = fetcher.New(
		productCache,
		retrievers,
		extract.New(logger),
		archive,
		clk,
		fetcher.Config{
			RateLimit:          cfg.Fetcher.RateLimit,
			RateWindow:         cfg.RateWindow(),
			MaxConcurrent:      cfg.Fetcher.MaxConcurrent,
			Timeout:            cfg.FetchTimeout(),
			ChunkPause:         cfg.ChunkPause(),
			SnapshotTTL:        cfg.DefaultTTL(),
			BlockedHosts:       cfg.Fetcher.BlockedHosts,
			ArchivePrefix:      cfg.Archive.Prefix,
			ArchiveContentType: cfg.Archive.ContentType,
			MinContentBytes:    cfg.Fetcher.MinContentBytes,
			BlockKeywords:      cfg.Fetcher.BlockKeywords,
		},
		logger,
	)

	detector := detect.New(detect.Config{
		DescriptionSimilarity:   cfg.Detector.DescriptionSimilarity,
		NumericDelta:            cfg.Detector.NumericDelta,
		MinAlternativeScore:     cfg.Detector.MinAlternativeScore,
		DiscontinuedConfidence:  cfg.Detector.DiscontinuedConfidence,
		DiscontinuationKeywords: cfg.Detector.DiscontinuationKeywords,
		CriticalKeywords:        cfg.Detector.CriticalKeywords,
	}, clk, logger)

	var snapshotStore product.SnapshotStore
	if a.snapshotStore != nil {
		snapshotStore = a.snapshotStore
	}
	a.monitor = monitor.New(
		monitor.Config{
			URLs:            cfg.Monitor.URLs,
			Interval:        cfg.MonitorInterval(),
			Topic:           cfg.Review.Topic,
			MaxAlternatives: cfg.Monitor.MaxAlternatives,
		},
		a.fetcher,
		productCache,
		snapshotStore,
		detector,
		publisher,
		uuid.New(),
		clk,
		logger,
	)

	a.server = api.NewServer(a.fetcher, detector, a.monitor, api.Config{}, logger)
	return a, nil
}

// Fetcher exposes the acquisition pipeline for CLI use.
func (a *App) Fetcher() *fetcher.Fetcher {
	return a.fetcher
}

// Monitor exposes the monitoring loop for CLI use.
func (a *App) Monitor() *monitor.Monitor {
	return a.monitor
}

func (a *App) buildRetrievers() ([]product.Retriever, error) {
	retrievers := []product.Retriever{
		httpclient.New(httpclient.Config{
			UserAgent: a.cfg.Fetcher.UserAgent,
			Timeout:   a.cfg.FetchTimeout(),
		}),
	}
	if a.cfg.Headless.Enabled {
		hl, err := headless.New(headless.Config{
			MaxParallel:       a.cfg.Headless.MaxParallel,
			UserAgent:         a.cfg.Fetcher.UserAgent,
			NavigationTimeout: time.Duration(a.cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("headless retriever: %w", err)
		}
		a.headless = hl
		retrievers = append(retrievers, hl)
	}
	if a.cfg.Extract.Enabled {
		client, err := extractapi.New(extractapi.Config{
			Endpoint: a.cfg.Extract.Endpoint,
			APIKey:   a.cfg.Extract.APIKey,
			Timeout:  time.Duration(a.cfg.Extract.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("extraction api client: %w", err)
		}
		retrievers = append(retrievers, client)
	}
	return retrievers, nil
}

func (a *App) buildArchive(ctx context.Context) (product.BlobStore, error) {
	switch a.cfg.Archive.Backend {
	case "gcs":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		a.storageClient = client
		return gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Archive.GCSBucket})
	case "local":
		return localstorage.New(localstorage.Config{BaseDir: a.cfg.Archive.BaseDir})
	default:
		return memorystorage.NewBlobStore(), nil
	}
}

func (a *App) buildPublisher(ctx context.Context) (product.Publisher, error) {
	if a.cfg.Review.Backend != "pubsub" {
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.Review.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}
	a.pubsubClient = client
	return pubsubpublisher.New(client)
}

// Run starts the monitor loop and HTTP server, blocking until the context
// is canceled or a signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(a.cfg.Monitor.URLs) > 0 {
		go func() {
			a.logger.Info("monitor loop started",
				zap.Int("urls", len(a.cfg.Monitor.URLs)),
				zap.Duration("interval", a.cfg.MonitorInterval()))
			if err := a.monitor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("monitor loop stopped", zap.Error(err))
			}
		}()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	return a.Close()
}

// Close releases client connections.
func (a *App) Close() error {
	var firstErr error
	if a.headless != nil {
		a.headless.Close()
	}
	if a.snapshotStore != nil {
		a.snapshotStore.Close()
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.storageClient != nil {
		if err := a.storageClient.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.logger.Info("shutdown complete")
	return firstErr
}
