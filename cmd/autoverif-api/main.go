package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/michaelperron12-maker/AutoVerif-QC/internal/audit"
	"github.com/michaelperron12-maker/AutoVerif-QC/internal/batch"
	"github.com/michaelperron12-maker/AutoVerif-QC/internal/chain"
	"github.com/michaelperron12-maker/AutoVerif-QC/internal/config"
	"github.com/michaelperron12-maker/AutoVerif-QC/internal/lookup"
	"github.com/michaelperron12-maker/AutoVerif-QC/internal/metrics"
	"github.com/michaelperron12-maker/AutoVerif-QC/internal/nhtsa"
	"github.com/michaelperron12-maker/AutoVerif-QC/internal/odometer"
	"github.com/michaelperron12-maker/AutoVerif-QC/internal/registry"
	"github.com/michaelperron12-maker/AutoVerif-QC/internal/scan"
	"github.com/michaelperron12-maker/AutoVerif-QC/internal/server"
	"github.com/michaelperron12-maker/AutoVerif-QC/internal/store"
	"github.com/michaelperron12-maker/AutoVerif-QC/internal/submission"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	showVersion := flag.Bool("version", false, "show version and exit")
	verbose := flag.Bool("verbose", false, "verbose mode - show debug logs")
	flag.Parse()

	if *showVersion {
		fmt.Printf("version: %s, commit: %s, date: %s\n", version, commit, date)
		return nil
	}

	// Load .env file if it exists
	_ = godotenv.Load()
	cfg := config.Load()

	log := newLogger(*verbose)
	log.Info("starting autoverif-api", "version", version, "commit", commit, "date", date)
	server.Version = version

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Start prometheus metrics server
	if cfg.MetricsAddr != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		go func() {
			listener, err := net.Listen("tcp", cfg.MetricsAddr)
			if err != nil {
				log.Error("failed to start prometheus metrics server listener", "error", err)
				os.Exit(1)
			}
			log.Info("prometheus metrics server listening", "address", listener.Addr().String())
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.Serve(listener, mux); err != nil {
				log.Error("prometheus metrics server failed", "error", err)
				os.Exit(1)
			}
		}()
	}

	db, err := store.New(ctx, log, cfg.PostgresURL())
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return err
	}

	clock := clockwork.NewRealClock()

	sources, err := nhtsa.New(&nhtsa.Config{Logger: log, Bases: cfg})
	if err != nil {
		return err
	}

	vehicles, err := registry.New(&registry.Config{Logger: log, Pool: db.Pool, Decoder: sources})
	if err != nil {
		return err
	}

	auditLog, err := audit.New(&audit.Config{Logger: log, Pool: db.Pool})
	if err != nil {
		return err
	}

	recordChain, err := chain.New(&chain.Config{Logger: log, Pool: db.Pool})
	if err != nil {
		return err
	}

	tracker, err := odometer.New(&odometer.Config{Logger: log, Pool: db.Pool, Audit: auditLog, Clock: clock})
	if err != nil {
		return err
	}

	submissions, err := submission.New(&submission.Config{
		Logger:   log,
		Pool:     db.Pool,
		Registry: vehicles,
		Chain:    recordChain,
		Odometer: tracker,
		Audit:    auditLog,
		Clock:    clock,
	})
	if err != nil {
		return err
	}

	ingestor, err := batch.New(&batch.Config{
		Logger:      log,
		Pool:        db.Pool,
		Submissions: submissions,
		Audit:       auditLog,
		Chain:       recordChain,
		Clock:       clock,
	})
	if err != nil {
		return err
	}

	history, err := lookup.New(&lookup.Config{Logger: log, Pool: db.Pool, Odometer: tracker})
	if err != nil {
		return err
	}

	scanner, err := scan.New(&scan.Config{Logger: log, Pool: db.Pool, Sources: sources, Clock: clock})
	if err != nil {
		return err
	}

	srv, err := server.New(&server.Config{
		Logger:      log,
		Pool:        db.Pool,
		Submissions: submissions,
		Ingest:      ingestor,
		Chain:       recordChain,
		Lookup:      history,
		Scan:        scanner,
		UploadDir:   cfg.UploadDir,
		Clock:       clock,
	})
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", ":"+cfg.HTTPPort)
	if err != nil {
		return fmt.Errorf("failed to listen tcp: %w", err)
	}

	return srv.Serve(ctx, listener)
}

func newLogger(verbose bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      logLevel,
		TimeFormat: time.RFC3339,
	}))
}
