// Package httpapi is the HTTP transport of the server: upload form, config
// upload and download, catalog listing, health and metrics.
package httpapi

import (
	"context"
	"embed"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dmitrijs2005/cfghost/internal/common"
	"github.com/dmitrijs2005/cfghost/internal/logging"
	"github.com/dmitrijs2005/cfghost/internal/server/metrics"
	"github.com/dmitrijs2005/cfghost/internal/server/models"
	"github.com/dmitrijs2005/cfghost/internal/server/services"
)

//go:embed static/index.html
var static embed.FS

const shutdownTimeout = 5 * time.Second

// multipartOverhead is the slack allowed on top of the upload limit for
// boundaries, part headers and the small form fields.
const multipartOverhead = 4096

// ConfigService is the part of services.ConfigService the handlers use.
type ConfigService interface {
	Publish(ctx context.Context, req services.PublishRequest) (*services.PublishResult, error)
	Fetch(ctx context.Context, name string) ([]byte, error)
	FetchByID(ctx context.Context, id int64) (*models.ConfigEntry, []byte, error)
	List(ctx context.Context) ([]*models.ConfigEntry, error)
}

type ServerOptions struct {
	Addr    string
	Service ConfigService
	Metrics *metrics.Collector
	Logger  logging.Logger

	// JWTSecret enables owner tokens. When empty the Authorization header
	// is ignored.
	JWTSecret []byte

	// UploadLimit caps the file part of an upload.
	UploadLimit int64

	// UploadRate is the per-client upload rate in requests per second.
	// Zero disables limiting.
	UploadRate  float64
	UploadBurst int

	// Ready reports whether the catalog is migrated. Nil means always ready.
	Ready func() bool
}

type Server struct {
	opts     ServerOptions
	log      logging.Logger
	limiters *limiterStore
}

func NewServer(opts *ServerOptions) (*Server, error) {
	if opts == nil || opts.Service == nil {
		return nil, errors.New("httpapi: config service is required")
	}
	o := *opts
	if o.Logger == nil {
		o.Logger = logging.Nop{}
	}
	if o.UploadLimit <= 0 {
		o.UploadLimit = common.MaxUploadBytes
	}
	s := &Server{
		opts: o,
		log:  o.Logger.With("module", "http_server"),
	}
	if o.UploadRate > 0 {
		s.limiters = newLimiterStore(o.UploadRate, o.UploadBurst)
	}
	return s, nil
}

func (s *Server) setupRouter() (*gin.Engine, error) {
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), s.accessLog())

	r.GET("/", s.indexHandler())
	r.GET("/healthz", s.healthHandler())
	if s.opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.opts.Metrics.Handler()))
	}

	api := r.Group("", s.requireReady())
	api.POST("/cfg", s.rateLimit(), s.ownerFromToken(), s.uploadHandler())
	api.GET("/cfg/:name", s.fetchHandler())
	api.GET("/configs", s.listHandler())
	api.GET("/configs/:id", s.fetchByIDHandler())

	return r, nil
}

// Handler returns the fully routed engine.
func (s *Server) Handler() (http.Handler, error) {
	return s.setupRouter()
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	router, err := s.setupRouter()
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info(ctx, "Starting HTTP server", "address", s.opts.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info(ctx, "Stopping HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
