// Package server exposes a vector index over an HTTP JSON API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	annidx "github.com/annidx/annidx"
	"github.com/annidx/annidx/blobstore"
	minioblob "github.com/annidx/annidx/blobstore/minio"
	s3blob "github.com/annidx/annidx/blobstore/s3"
	"github.com/annidx/annidx/distance"
	"github.com/annidx/annidx/embedding"
	"github.com/annidx/annidx/persistence"
	"github.com/annidx/annidx/resource"
)

// Server serves a single vector index.
type Server struct {
	cfg     Config
	idx     *annidx.Index
	logger  *slog.Logger
	limits  *resource.Controller
	blobs   blobstore.Store
	metrics *Metrics

	httpServer *http.Server
}

// Options configures optional server collaborators.
type Options struct {
	// Logger overrides the logger built from Config.LogFormat.
	Logger *slog.Logger

	// Blobs overrides the snapshot store built from Config.Snapshot.
	Blobs blobstore.Store

	// Embedder overrides the embedding client built from
	// Config.Embedding.
	Embedder embedding.Embedder
}

// New builds a server from config, creating the index, snapshot store and
// embedding client it needs.
func New(ctx context.Context, cfg Config, optFns ...func(o *Options)) (*Server, error) {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		if cfg.LogFormat == "json" {
			logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
		} else {
			logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
		}
	}

	metrics := NewMetrics()

	idxOpts, err := indexOptions(cfg.Index, metrics)
	if err != nil {
		return nil, err
	}

	embedder := opts.Embedder
	if embedder == nil && cfg.Embedding.URL != "" {
		embedder, err = embeddingClient(cfg.Embedding)
		if err != nil {
			return nil, err
		}
	}
	if embedder != nil {
		idxOpts = append(idxOpts, annidx.WithEmbedder(embedder))
	}

	idx, err := annidx.New(cfg.Index.Dimension, idxOpts...)
	if err != nil {
		return nil, err
	}

	blobs := opts.Blobs
	if blobs == nil {
		blobs, err = snapshotStore(ctx, cfg.Snapshot)
		if err != nil {
			return nil, err
		}
	}

	s := &Server{
		cfg:     cfg,
		idx:     idx,
		logger:  logger,
		limits:  resource.NewController(cfg.Limits),
		blobs:   blobs,
		metrics: metrics,
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

func indexOptions(cfg IndexConfig, metrics *Metrics) ([]annidx.Option, error) {
	metric, err := distance.ParseMetric(cfg.Metric)
	if err != nil {
		return nil, err
	}

	opts := []annidx.Option{
		annidx.WithMetric(metric),
		annidx.WithMetricsCollector(metrics),
	}
	if cfg.M > 0 {
		opts = append(opts, annidx.WithM(cfg.M))
	}
	if cfg.EFConstruction > 0 {
		opts = append(opts, annidx.WithEFConstruction(cfg.EFConstruction))
	}
	if cfg.EFSearch > 0 {
		opts = append(opts, annidx.WithEFSearch(cfg.EFSearch))
	}
	if cfg.MaxElements > 0 {
		opts = append(opts, annidx.WithMaxElements(cfg.MaxElements))
	}
	if cfg.Compression != "" {
		compression, err := persistence.ParseCompression(cfg.Compression)
		if err != nil {
			return nil, err
		}
		opts = append(opts, annidx.WithCompression(compression))
	}
	return opts, nil
}

func embeddingClient(cfg EmbeddingConfig) (embedding.Embedder, error) {
	var optFns []func(o *embedding.HTTPClientOptions)
	if cfg.Timeout > 0 {
		optFns = append(optFns, func(o *embedding.HTTPClientOptions) {
			o.HTTPClient = &http.Client{Timeout: cfg.Timeout}
		})
	}
	return embedding.NewHTTPClient(cfg.URL, optFns...)
}

func snapshotStore(ctx context.Context, cfg SnapshotConfig) (blobstore.Store, error) {
	switch cfg.Backend {
	case "", "local":
		return blobstore.NewLocalStore(cfg.Dir)
	case "s3":
		return s3blob.NewFromConfig(ctx, cfg.Bucket, func(o *s3blob.Options) {
			o.Region = cfg.Region
			o.Prefix = cfg.Prefix
		})
	case "minio":
		return minioblob.Connect(cfg.Endpoint, cfg.AccessKey, cfg.SecretKey, cfg.Bucket, cfg.Prefix, cfg.Secure)
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q", cfg.Backend)
	}
}

// Index returns the served index.
func (s *Server) Index() *annidx.Index {
	return s.idx
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)

	var h http.Handler = mux
	h = s.rateLimitMiddleware(h)
	h = s.loggingMiddleware(h)
	h = requestIDMiddleware(h)
	h = s.recoveryMiddleware(h)
	return h
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /vectors", s.handleAddVector)
	mux.HandleFunc("POST /vectors/text", s.handleAddText)
	mux.HandleFunc("DELETE /vectors/{id}", s.handleDeleteVector)
	mux.HandleFunc("POST /search", s.handleSearch)
	mux.HandleFunc("POST /snapshot", s.handleSnapshot)
	mux.HandleFunc("POST /restore", s.handleRestore)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", s.metrics.Handler())
}

// Run starts the HTTP server and blocks until ctx is canceled or the
// listener fails.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("server listening", slog.String("addr", s.cfg.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// updateGauges refreshes the vector count gauges after a mutation.
func (s *Server) updateGauges() {
	stats := s.idx.Stats()
	s.metrics.SetVectorCounts(stats.Count, stats.LiveCount)
}
