package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"

	"github.com/rpattn/phenobatch/internal/catalog"
	"github.com/rpattn/phenobatch/internal/config"
	"github.com/rpattn/phenobatch/internal/db"
	"github.com/rpattn/phenobatch/internal/ingestion"
	"github.com/rpattn/phenobatch/internal/repository"
	"github.com/rpattn/phenobatch/internal/uploads"
)

func newLogger(cfg config.LogConfig) (*logrus.Entry, error) {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid log.level %q", cfg.Level)
	}
	logger.SetLevel(level)
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logrus.NewEntry(logger).WithField("service", "phenobatch"), nil
}

// app is the wired engine shared by the subcommands.
type app struct {
	log       *logrus.Entry
	conn      *db.Connection
	jobs      repository.BatchJobRepository
	errorLog  repository.IngestionLogRepository
	views     repository.ViewRefresher
	uploads   uploads.Store
	snapshots *catalog.Provider
	processor *ingestion.Processor
	scheduler *ingestion.Scheduler
}

func buildApp(ctx context.Context, cfg config.Config, log *logrus.Entry) (*app, error) {
	conn, err := db.NewConnection(ctx, cfg.Database, log.WithField("component", "db"))
	if err != nil {
		return nil, err
	}

	store, err := uploads.Open(ctx, cfg.Uploads)
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to open upload store")
	}

	catalogRepo := repository.NewCatalogRepository(conn.Pool)
	snapshots := catalog.NewProvider(catalogRepo)
	snapshot, err := snapshots.Reload(ctx)
	if err != nil {
		conn.Close()
		return nil, err
	}
	log.WithField("species", snapshot.SpeciesCount()).Info("catalog loaded")

	a := &app{
		log:       log,
		conn:      conn,
		jobs:      repository.NewBatchJobRepository(conn.Pool),
		errorLog:  repository.NewIngestionLogRepository(conn.Pool),
		views:     repository.NewViewRefresher(conn.Pool, cfg.Scheduler.Views),
		uploads:   store,
		snapshots: snapshots,
	}

	a.processor, err = ingestion.NewProcessor(ingestion.Dependencies{
		Jobs:         a.jobs,
		Catalog:      catalogRepo,
		Snapshots:    snapshots,
		Associations: repository.NewAssociationReader(conn.Pool),
		Tx:           repository.NewTxRunner(conn),
		Uploads:      store,
		IngestionLog: a.errorLog,
		Views:        a.views,
	}, ingestion.ProcessorOptions{
		RowWorkers: cfg.Scheduler.RowWorkers,
		Logger:     log.WithField("component", "processor"),
	})
	if err != nil {
		conn.Close()
		return nil, err
	}

	a.scheduler, err = ingestion.NewScheduler(a.jobs, a.processor, ingestion.SchedulerOptions{
		PollInterval: cfg.Scheduler.PollInterval,
		Logger:       log.WithField("component", "scheduler"),
	})
	if err != nil {
		conn.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) Close() {
	a.conn.Close()
}

func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
