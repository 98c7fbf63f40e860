// Command collector-sync uploads every finished measurement of a local store to the collector
// and exits. Interrupted uploads are resumed by the next run.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	syncanalytics "github.com/sensorsync/go-collector-sync/analytics"
	"github.com/sensorsync/go-collector-sync/auth"
	"github.com/sensorsync/go-collector-sync/compression"
	"github.com/sensorsync/go-collector-sync/config"
	"github.com/sensorsync/go-collector-sync/store"
	"github.com/sensorsync/go-collector-sync/upload"
	"github.com/sensorsync/go-collector-sync/upload/network"
	"github.com/sensorsync/go-collector-sync/upload/session"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.NewLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Errorf("Failed to load config: %s", err)
		os.Exit(1)
	}
	logger.EnableDebugLog(cfg.Sync.Verbose)

	failed, err := run(ctx, cfg, logger)
	if err != nil {
		logger.Errorf("%s", err)
		os.Exit(1)
	}
	if failed > 0 {
		os.Exit(2)
	}
}

func run(ctx context.Context, cfg *config.Config, logger log.Logger) (int, error) {
	registry, closer, err := openRegistry(ctx, cfg.Registry, logger)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := closer.Close(); err != nil {
			logger.Warnf("Failed to close session registry: %s", err)
		}
	}()

	compressor, err := compression.NewCompressor(cfg.Sync.CompressionLevel, logger)
	if err != nil {
		return 0, err
	}

	measurements, err := store.NewFileStore(cfg.Sync.StoreDir, compressor, logger)
	if err != nil {
		return 0, err
	}

	client, err := network.NewClient(network.ClientParams{
		APIURL:  cfg.Collector.APIURL,
		Logger:  logger,
		Timeout: cfg.Collector.Timeout,
	})
	if err != nil {
		return 0, err
	}

	process, err := upload.NewProcess(upload.ProcessParams{
		Requester:        client,
		Registry:         registry,
		Factory:          measurements,
		Logger:           logger,
		MaxFailedUploads: cfg.Sync.MaxFailedUploads,
	})
	if err != nil {
		return 0, err
	}

	if cfg.Sync.Analytics {
		tracker := upload.TrackStatus(process, syncanalytics.NewDefaultSyncTracker(env.NewRepository(), logger))
		defer tracker.Stop()
	}

	var tokens upload.TokenProvider = auth.NewEnvProvider(env.NewRepository(), auth.DefaultTokenEnvKey)
	if cfg.Collector.Token != "" {
		tokens = auth.Static(cfg.Collector.Token)
	}

	synchronizer := upload.NewSynchronizer(process, measurements, tokens, cfg.Sync.Concurrency, logger)
	results, err := synchronizer.Sync(ctx)
	if err != nil {
		return 0, err
	}

	failed := report(results, logger)
	logOpenSessions(ctx, registry, logger)
	return failed, nil
}

func openRegistry(ctx context.Context, cfg config.RegistryConfig, logger log.Logger) (upload.SessionRegistry, io.Closer, error) {
	switch cfg.Kind {
	case config.RegistryBolt:
		r, err := session.OpenBolt(cfg.Path, logger)
		return r, r, err
	case config.RegistrySQL:
		var (
			r   *session.SQL
			err error
		)
		if cfg.IsPostgres() {
			r, err = session.OpenPostgres(cfg.Path)
		} else {
			r, err = session.OpenSQLite(cfg.Path)
		}
		return r, r, err
	case config.RegistryRedis:
		r, err := session.OpenRedis(ctx, session.RedisParams{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			TTL:      cfg.RedisTTL,
		})
		return r, r, err
	case config.RegistryMemory:
		logger.Warnf("Using an in-memory session registry, interrupted uploads start over on the next run")
		return session.NewMemory(), nopCloser{}, nil
	default:
		return nil, nil, fmt.Errorf("unknown session registry: %s", cfg.Kind)
	}
}

type sessionLister interface {
	List(ctx context.Context) ([]upload.Session, error)
}

// logOpenSessions lists the sessions the next run resumes, if the registry can enumerate them.
func logOpenSessions(ctx context.Context, registry upload.SessionRegistry, logger log.Logger) int {
	lister, ok := registry.(sessionLister)
	if !ok {
		return 0
	}

	sessions, err := lister.List(ctx)
	if err != nil {
		logger.Warnf("Failed to list open upload sessions: %s", err)
		return 0
	}
	if len(sessions) == 0 {
		return 0
	}

	logger.Infof("%d upload session(s) left open:", len(sessions))
	for _, s := range sessions {
		location := s.Location
		if location == "" {
			location = "not announced"
		}
		logger.Infof("- %s: %s, %d failed attempt(s)", s.ID, location, s.FailedUploadsCounter)
	}
	return len(sessions)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func report(results []upload.SyncResult, logger log.Logger) int {
	failed := 0
	var uploaded int64
	for _, r := range results {
		if r.Err != nil {
			failed++
			logger.Errorf("- %s: %s", r.ID, r.Err)
			continue
		}
		uploaded += r.Record.Size()
		logger.Printf("- %s: uploaded", r.ID)
	}

	if failed > 0 {
		logger.Warnf("%d of %d measurement(s) failed, they are retried on the next run", failed, len(results))
	} else {
		logger.Donef("%d measurement(s) synchronised, %s transferred", len(results), units.HumanSize(float64(uploaded)))
	}
	return failed
}
