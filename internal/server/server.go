// Package server adapts HTTP to the contribution services.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/michaelperron12-maker/AutoVerif-QC/internal/batch"
	"github.com/michaelperron12-maker/AutoVerif-QC/internal/chain"
	"github.com/michaelperron12-maker/AutoVerif-QC/internal/lookup"
	"github.com/michaelperron12-maker/AutoVerif-QC/internal/metrics"
	"github.com/michaelperron12-maker/AutoVerif-QC/internal/submission"
)

// Submitter records one contribution.
type Submitter interface {
	Submit(ctx context.Context, req *submission.Request) (*submission.Result, error)
}

// Ingestor drives bulk CSV/JSON intake.
type Ingestor interface {
	IngestCSV(ctx context.Context, raw []byte, filename string, sub submission.Submitter, ip string) (*batch.Result, error)
	IngestJSON(ctx context.Context, records []batch.Record, sub submission.Submitter, ip string) (*batch.Result, error)
}

// Verifier checks chain integrity.
type Verifier interface {
	VerifyAll(ctx context.Context) (*chain.VerifyResult, error)
	VerifyOne(ctx context.Context, id int) (*chain.VerifyResult, error)
}

// Historian assembles the recorded history for a VIN.
type Historian interface {
	Lookup(ctx context.Context, vin string) (*lookup.Response, error)
}

// Scanner runs the external-source aggregation.
type Scanner interface {
	Scan(ctx context.Context, vin, ip string) (map[string]any, error)
	VinCheck(ctx context.Context, vin string) (map[string]any, error)
}

type Config struct {
	Logger      *slog.Logger
	Pool        *pgxpool.Pool
	Submissions Submitter
	Ingest      Ingestor
	Chain       Verifier
	Lookup      Historian
	Scan        Scanner
	UploadDir   string
	Clock       clockwork.Clock
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Pool == nil {
		return errors.New("pool is required")
	}
	if c.Submissions == nil {
		return errors.New("submission service is required")
	}
	if c.Ingest == nil {
		return errors.New("ingestor is required")
	}
	if c.Chain == nil {
		return errors.New("chain verifier is required")
	}
	if c.Lookup == nil {
		return errors.New("lookup service is required")
	}
	if c.Scan == nil {
		return errors.New("scan service is required")
	}
	if c.UploadDir == "" {
		c.UploadDir = "uploads"
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

type Server struct {
	log  *slog.Logger
	cfg  *Config
	http *http.Server
}

func New(cfg *Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &Server{log: cfg.Logger, cfg: cfg}, nil
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Route("/api", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))

		r.Get("/scan", s.handleScan)
		r.Post("/scan", s.handleScan)
		r.Get("/health", s.handleHealth)
		r.Get("/stats", s.handleScanStats)

		r.Route("/collecte", func(r chi.Router) {
			r.Get("/vin-check/{vin}", s.handleVinCheck)
			r.Post("/submit", s.handleSubmit)
			r.Post("/batch", s.handleBatch)
			r.Post("/import-csv", s.handleImportCSV)
			r.Post("/upload", s.handleUpload)
			r.Get("/stats", s.handleCollecteStats)
			r.Get("/verify", s.handleVerifyAll)
			r.Get("/verify/{id}", s.handleVerifyOne)
			r.Get("/lookup/{vin}", s.handleLookup)
			r.Get("/templates", s.handleTemplateList)
			r.Get("/templates/{name}", s.handleTemplateDownload)
		})
	})

	return r
}

// Serve runs the HTTP server on listener until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.http = &http.Server{Handler: s.Router()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.http.Shutdown(shutdownCtx)
	}()

	s.log.Info("http server listening", "address", listener.Addr().String())
	if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve http: %w", err)
	}
	return nil
}
