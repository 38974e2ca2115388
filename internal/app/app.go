// Package app wires morph's services together from the
// environment.
package app

import (
	"context"
	"fmt"

	"github.com/dyet92k/morph/internal/datastore"
	"github.com/dyet92k/morph/internal/event"
	"github.com/dyet92k/morph/internal/executor"
	"github.com/dyet92k/morph/internal/executor/engine"
	"github.com/dyet92k/morph/internal/logsink"
	"github.com/dyet92k/morph/internal/run"
	"github.com/dyet92k/morph/pkg/db"
	"github.com/dyet92k/morph/pkg/env"
	"github.com/dyet92k/morph/pkg/log"
	"gorm.io/gorm"
)

// App holds the services shared by the commands.
type App struct {
	DB       *gorm.DB
	Store    *run.Store
	Sink     *logsink.Sink
	Bus      event.Bus
	Executor executor.Executor
	Runner   *run.Runner

	closers []func()
}

// Build opens the database, applies migrations and creates the
// configured executor, event republisher and archiver.
func Build(ctx context.Context, vars env.Environment) (*App, error) {
	gdb, err := db.Open(vars.DatabaseType, vars.DatabaseDSN)
	if err != nil {
		return nil, err
	}

	a := &App{DB: gdb}
	a.closers = append(a.closers, func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})

	if err := db.Migrate(gdb); err != nil {
		a.Close()
		return nil, err
	}

	a.Bus = event.New()
	if vars.NatsURL != "" {
		n, err := event.NewNATS(a.Bus, vars.NatsURL, vars.NatsSubject)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to nats: %w", err)
		}
		a.closers = append(a.closers, n.Close)
		a.Bus = n
		log.Info("republishing events to nats", "url", vars.NatsURL, "subject", vars.NatsSubject)
	}

	if a.Executor, err = engine.FromEnv(ctx, vars); err != nil {
		a.Close()
		return nil, err
	}

	opts := []run.Option{run.WithBus(a.Bus)}
	if vars.S3Bucket != "" {
		archiver, err := datastore.NewS3Archiver(ctx, vars.S3Bucket, vars.S3Region, vars.S3Endpoint)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to configure archiver: %w", err)
		}
		opts = append(opts, run.WithArchiver(archiver))
		log.Info("archiving data stores", "bucket", vars.S3Bucket)
	}

	a.Store = run.NewStore(gdb)
	a.Sink = logsink.New(gdb, a.Bus)
	a.Runner = run.NewRunner(run.Config{
		DataRoot: vars.DataRoot,
		RepoRoot: vars.RepoRoot,
	}, a.Store, a.Executor, a.Sink, opts...)

	log.Info("services ready", "engine", vars.Engine, "database", vars.DatabaseType)

	return a, nil
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
