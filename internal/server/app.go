// Package server wires the cfghost server together: catalog, artifact
// store, upload orchestrator, HTTP API, gRPC health endpoint and the
// staging janitor.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/cfghost/internal/grammar"
	"github.com/dmitrijs2005/cfghost/internal/logging"
	"github.com/dmitrijs2005/cfghost/internal/server/catalog"
	"github.com/dmitrijs2005/cfghost/internal/server/config"
	"github.com/dmitrijs2005/cfghost/internal/server/httpapi"
	"github.com/dmitrijs2005/cfghost/internal/server/metrics"
	"github.com/dmitrijs2005/cfghost/internal/server/services"
	"github.com/dmitrijs2005/cfghost/internal/server/store"

	gs "github.com/dmitrijs2005/cfghost/internal/server/grpc"
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	catalog *catalog.Catalog
	store   store.Store
	service *services.ConfigService
	metrics *metrics.Collector
	ready   atomic.Bool
}

func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	cat, err := catalog.Open(ctx, c.DatabaseDriver, c.DatabaseDSN, logger)
	if err != nil {
		return nil, fmt.Errorf("catalog init error: %w", err)
	}

	st, err := NewStore(ctx, c, logger)
	if err != nil {
		_ = cat.Close()
		return nil, fmt.Errorf("store init error: %w", err)
	}

	m := metrics.New()
	svc := services.NewConfigService(cat, st, grammar.New(c.MaxLineLength, c.MaxConfigChars), logger,
		services.WithMetrics(m),
		services.WithTimeout(c.OperationTimeout),
	)

	return &App{config: c, logger: logger, catalog: cat, store: st, service: svc, metrics: m}, nil
}

// NewStore builds the artifact store selected by c.StorageBackend.
func NewStore(ctx context.Context, c *config.Config, logger logging.Logger) (store.Store, error) {
	stager, err := store.NewStager(c.StagingDir, c.MaxUploadBytes)
	if err != nil {
		return nil, err
	}
	switch c.StorageBackend {
	case config.BackendS3:
		return store.NewS3Store(ctx, store.S3Options{
			Region:       c.S3Region,
			AccessKey:    c.S3RootUser,
			SecretKey:    c.S3RootPassword,
			Endpoint:     c.S3BaseEndpoint,
			Bucket:       c.S3Bucket,
			Prefix:       c.S3Prefix,
			UsePathStyle: c.S3BaseEndpoint != "",
		}, stager, logger)
	default:
		return store.NewFileStore(c.StoreDir, stager, logger)
	}
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run starts the listeners, migrates the catalog and then serves until ctx
// is cancelled or a signal arrives. A failed migration stops everything.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "backend", app.store.Backend(), "driver", app.catalog.Driver())
	app.initSignalHandler(cancelFunc)

	health := gs.NewHealthServer(app.config.EndpointAddrGRPC, app.logger)
	api, err := httpapi.NewServer(&httpapi.ServerOptions{
		Addr:        app.config.EndpointAddrHTTP,
		Service:     app.service,
		Metrics:     app.metrics,
		Logger:      app.logger,
		JWTSecret:   []byte(app.config.SecretKey),
		UploadLimit: app.config.MaxUploadBytes,
		UploadRate:  app.config.UploadRate,
		UploadBurst: app.config.UploadBurst,
		Ready:       app.ready.Load,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return api.Run(gctx) })
	g.Go(func() error { return health.Run(gctx) })
	g.Go(func() error {
		if err := app.catalog.Migrate(gctx); err != nil {
			app.logger.Error(gctx, "catalog migration failed", "error", err)
			return err
		}
		app.ready.Store(true)
		health.SetServing(true)
		app.runJanitor(gctx)
		return nil
	})

	err = g.Wait()
	if cerr := app.catalog.Close(); cerr != nil {
		app.logger.Warn(ctx, "closing catalog", "error", cerr)
	}
	app.logger.Info(ctx, "App stopped")
	return err
}

// runJanitor sweeps stale staged uploads once at start and then on every
// tick until ctx is done.
func (app *App) runJanitor(ctx context.Context) {
	interval := app.config.SweepInterval
	if interval <= 0 {
		return
	}
	sweep := func() {
		if _, err := app.service.Sweep(ctx, app.config.StagingTTL); err != nil && ctx.Err() == nil {
			app.logger.Warn(ctx, "staging sweep failed", "error", err)
		}
	}

	sweep()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			sweep()
		case <-ctx.Done():
			return
		}
	}
}
