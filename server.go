package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lanshare/lanshare_server/internal"
	"github.com/lanshare/lanshare_server/internal/assembly"
	"github.com/lanshare/lanshare_server/internal/database"
	"github.com/lanshare/lanshare_server/internal/favorites"
	"github.com/lanshare/lanshare_server/internal/gc"
	"github.com/lanshare/lanshare_server/internal/health"
	"github.com/lanshare/lanshare_server/internal/history"
	"github.com/lanshare/lanshare_server/internal/ledger"
	"github.com/lanshare/lanshare_server/internal/metrics"
	"github.com/lanshare/lanshare_server/internal/sharedfs"
	"github.com/lanshare/lanshare_server/internal/status"
	"github.com/lanshare/lanshare_server/internal/storage"
	"github.com/lanshare/lanshare_server/internal/thumbnail"
	"github.com/lanshare/lanshare_server/internal/upload"
	"github.com/lanshare/lanshare_server/internal/websocket"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
	"golang.org/x/sync/errgroup"
)

// core holds the process-wide state shared by the server and the cleanup
// command.
type core struct {
	db        *sql.DB
	root      *sharedfs.Root
	store     storage.ChunkStore
	ledger    *ledger.Ledger
	gate      *upload.Gate
	metrics   *metrics.UploadMetrics
	collector *gc.Collector
}

func newCore(config *internal.Config) (*core, error) {
	db, err := database.Open(config.Database.Driver, config.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("error initializing database: %w", err)
	}

	root, err := sharedfs.NewRoot(config.Storage.SharedRoot)
	if err != nil {
		db.Close()
		return nil, err
	}

	store, err := storage.NewChunkStore(&storage.BackendConfig{
		Type:        storage.BackendType(config.Storage.ChunkBackend),
		LocalPath:   config.Storage.TempDir,
		S3Endpoint:  config.Storage.S3Endpoint,
		S3Bucket:    config.Storage.S3Bucket,
		S3AccessKey: config.Storage.S3AccessKey,
		S3SecretKey: config.Storage.S3SecretKey,
		S3Region:    config.Storage.S3Region,
		S3UseSSL:    config.Storage.S3UseSSL,
		S3Prefix:    config.Storage.S3Prefix,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing chunk store: %w", err)
	}

	m := metrics.InitUploadMetrics(nil)
	l := ledger.New(ledger.NewSQLRepository(db))
	gate := upload.NewGate(config.Upload.MaxActiveSessions, config.Upload.EnforceSessionLimit, config.GC.ResumptionTimeout, m)

	return &core{
		db:      db,
		root:    root,
		store:   store,
		ledger:  l,
		gate:    gate,
		metrics: m,
		collector: gc.NewCollector(l, store, gate, m, gc.Config{
			Interval:          config.GC.Interval,
			ResumptionTimeout: config.GC.ResumptionTimeout,
			Retention:         config.GC.Retention,
			SharedRoot:        root.Path(),
		}),
	}, nil
}

func serve(ctx context.Context, config *internal.Config) error {
	c, err := newCore(config)
	if err != nil {
		return err
	}
	defer c.db.Close()

	hub := websocket.NewHub()
	historyService := history.NewService(history.NewSQLRepository(c.db))

	options := []upload.Option{
		upload.WithHistory(historyService),
		upload.WithProgress(hub),
		upload.WithMetrics(c.metrics),
	}

	var (
		generator          *thumbnail.Generator
		thumbnailEndpoints *thumbnail.Endpoints
	)
	if config.Thumbnails.Enabled {
		generator, err = thumbnail.NewGenerator(config.Thumbnails.Dir, config.Thumbnails.MaxWidth, config.Thumbnails.MaxHeight)
		if err != nil {
			return err
		}
		options = append(options, upload.WithThumbnails(generator))
		thumbnailEndpoints = thumbnail.NewEndpoints(generator, c.root)
	}

	coordinator := upload.NewCoordinator(c.ledger, c.store, assembly.NewEngine(c.store), c.root, c.gate, options...)

	requestHandler := internal.NewRequestHandler(config, &internal.Endpoints{
		Upload:     upload.NewEndpoints(coordinator),
		GC:         gc.NewEndpoints(c.collector),
		Status:     status.NewEndpoints(config.Server.Version, c.root, c.gate, config.Upload.ChunkSizeBytes, config.Upload.MaxActiveSessions),
		Health:     health.NewEndpoints(config.Server.Version, c.db),
		History:    history.NewEndpoints(historyService),
		Favorites:  favorites.NewEndpoints(favorites.NewService(favorites.NewSQLRepository(c.db), c.root)),
		Thumbnails: thumbnailEndpoints,
		WebSocket:  websocket.NewHandler(hub),
		Metrics:    metrics.Handler(),
	})

	server := &fasthttp.Server{
		Handler:            requestHandler,
		Name:               "lanshare",
		MaxRequestBodySize: config.Server.MaxRequestBodyBytes,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error { return c.collector.Run(gctx) })
	if generator != nil {
		g.Go(func() error { return generator.Run(gctx) })
	}
	g.Go(func() error {
		log.Info().
			Str("address", config.Server.Address).
			Str("sharedRoot", c.root.Path()).
			Str("chunkBackend", config.Storage.ChunkBackend).
			Str("database", config.Database.Driver).
			Msg("Server listening")
		return server.ListenAndServe(config.Server.Address)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server")
		return server.Shutdown()
	})

	return g.Wait()
}

func cleanup(ctx context.Context, config *internal.Config) error {
	c, err := newCore(config)
	if err != nil {
		return err
	}
	defer c.db.Close()

	report, err := c.collector.RunNow(ctx)
	if err != nil {
		return err
	}
	log.Info().
		Int("removedDirs", report.RemovedDirs).
		Int("abandonedSessions", report.AbandonedSessions).
		Int("removedChunks", report.RemovedChunks).
		Int64("reclaimedBytes", report.ReclaimedBytes).
		Int64("expiredRows", report.ExpiredRows).
		Int("removedPartials", report.RemovedPartials).
		Msg("Cleanup finished")
	return nil
}
