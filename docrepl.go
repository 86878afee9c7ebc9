// Package docrepl replicates the oplog of a document database into a transactional key value store.
// Open wires a source, a kv provider, the metadata store, the applier and the replication service from a Config.
package docrepl

import (
	"context"

	"github.com/autom8ter/docrepl/applier"
	"github.com/autom8ter/docrepl/errors"
	"github.com/autom8ter/docrepl/fetcher"
	"github.com/autom8ter/docrepl/internal/prefix"
	"github.com/autom8ter/docrepl/internal/stream"
	"github.com/autom8ter/docrepl/kv"
	"github.com/autom8ter/docrepl/kv/registry"
	"github.com/autom8ter/docrepl/logger"
	"github.com/autom8ter/docrepl/metadata"
	"github.com/autom8ter/docrepl/model"
	"github.com/autom8ter/docrepl/repl"
	"github.com/autom8ter/docrepl/storage"
	transport "github.com/autom8ter/docrepl/transport/http"
	"github.com/tidwall/gjson"

	// registered kv providers and oplog sources
	_ "github.com/autom8ter/docrepl/fetcher/memory"
	_ "github.com/autom8ter/docrepl/fetcher/mongo"
	_ "github.com/autom8ter/docrepl/fetcher/redis"
	_ "github.com/autom8ter/docrepl/kv/badger"
	_ "github.com/autom8ter/docrepl/kv/sqlite"
	_ "github.com/autom8ter/docrepl/kv/tikv"
)

// Replicator is an opened replication pipeline
type Replicator struct {
	config  Config
	logger  logger.Logger
	db      kv.DB
	source  fetcher.Source
	store   *storage.Store
	applier *applier.Applier
	service *repl.Service
}

// Open opens the kv provider and the source named by cfg and wires the replication service. callback receives
// the service's transitions.
func Open(ctx context.Context, cfg Config, callback repl.Callback) (*Replicator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.LogLevel, map[string]any{
		"provider": cfg.Provider,
		"source":   cfg.Source.Type,
	})
	if err != nil {
		return nil, err
	}
	db, err := registry.Open(cfg.Provider, cfg.ProviderParams)
	if err != nil {
		return nil, errors.Wrap(err, 0, "failed to open kv provider %s", cfg.Provider)
	}
	meta := metadata.NewStore(nil, metadata.WithMaxAttempts(cfg.MetadataRetries), metadata.WithLogger(log))
	store, err := storage.Open(ctx, db, meta, log)
	if err != nil {
		db.Close(ctx)
		return nil, err
	}
	source, err := fetcher.OpenSource(ctx, cfg.Source.Type, cfg.Source.Params)
	if err != nil {
		db.Close(ctx)
		return nil, errors.Wrap(err, 0, "failed to open oplog source %s", cfg.Source.Type)
	}
	locker, err := db.NewLocker(prefix.LockKey, cfg.LockLease)
	if err != nil {
		db.Close(ctx)
		return nil, err
	}
	app := applier.New(store,
		applier.WithBatchSize(cfg.BatchSize),
		applier.WithPollTimeout(cfg.PollTimeout),
		applier.WithLinger(cfg.BatchLinger),
		applier.WithLogger(log),
	)
	r := &Replicator{
		config:  cfg,
		logger:  log,
		db:      db,
		source:  source,
		store:   store,
		applier: app,
	}
	r.service = repl.New(store, app, source, callback,
		repl.WithLogger(log),
		repl.WithLocker(locker),
		repl.WithFetcherOpts(fetcher.WithMaxReconnects(cfg.MaxReconnects)),
	)
	return r, nil
}

// Start starts replicating from the last applied checkpoint
func (r *Replicator) Start(ctx context.Context) error {
	return r.service.Start(ctx)
}

// Close stops replication and closes the source and the kv database
func (r *Replicator) Close(ctx context.Context) error {
	if err := r.service.Stop(ctx); err != nil {
		return err
	}
	if closer, ok := r.source.(interface{ Close(ctx context.Context) error }); ok {
		if err := closer.Close(ctx); err != nil {
			r.logger.Error(ctx, "failed to close oplog source", err, map[string]any{})
		}
	}
	return r.db.Close(ctx)
}

// Serve serves the status api on the configured address until ctx is done
func (r *Replicator) Serve(ctx context.Context) error {
	if r.config.HTTPAddr == "" {
		return errors.New(errors.Validation, "httpAddr is not configured")
	}
	server, err := transport.New(transport.Config{Addr: r.config.HTTPAddr}, r, r.logger)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Source returns the oplog source
func (r *Replicator) Source() fetcher.Source {
	return r.source
}

// Service returns the replication service
func (r *Replicator) Service() *repl.Service {
	return r.service
}

// Status reports the applier's state, the last job's outcome and the persisted checkpoint
func (r *Replicator) Status(ctx context.Context) (transport.Status, error) {
	checkpoint, err := r.store.LastApplied(ctx)
	if err != nil {
		return transport.Status{}, err
	}
	status := transport.Status{
		State:           r.applier.State().String(),
		Checkpoint:      checkpoint,
		MetadataVersion: r.store.Metadata().Snapshot().Version,
	}
	if job := r.service.Job(); job != nil {
		status.JobID = job.ID()
		if result, finished := job.Result(); finished {
			status.FinishState = result.State.String()
			if result.Err != nil {
				status.Error = result.Err.Error()
			}
		}
	}
	return status, nil
}

// Metadata returns the current metadata snapshot
func (r *Replicator) Metadata() *metadata.Snapshot {
	return r.store.Metadata().Snapshot()
}

// Get reads a replicated document, nil if it doesn't exist
func (r *Replicator) Get(ctx context.Context, db, collection string, id gjson.Result) (*model.Document, error) {
	return r.store.Get(ctx, db, collection, id)
}

// Events returns the stream of applied batches
func (r *Replicator) Events() stream.Stream[applier.BatchApplied] {
	return r.applier.Events()
}
