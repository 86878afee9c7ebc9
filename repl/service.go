// Package repl runs the applier as a replication service: it resumes from the persisted checkpoint and reports
// how the applier finished to its owner.
package repl

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/autom8ter/docrepl/applier"
	"github.com/autom8ter/docrepl/errors"
	"github.com/autom8ter/docrepl/fetcher"
	"github.com/autom8ter/docrepl/kv"
	"github.com/autom8ter/docrepl/logger"
	"github.com/autom8ter/docrepl/oplog"
	"github.com/autom8ter/machine/v4"
)

// Callback receives the service's externally visible transitions. Rollback and OnError run on the service's
// observer goroutine, never on the applier's, and must not wait for Stop to return.
type Callback interface {
	// WaitUntilStartPermission blocks Start until replication may begin
	WaitUntilStartPermission(ctx context.Context) error
	// Rollback is called when the upstream log ended or diverged from the applied checkpoint
	Rollback(svc *Service, err *oplog.RollbackError)
	// OnError is called when replication failed
	OnError(svc *Service, err error)
	// OnFinish is called once the service stopped and released its resources
	OnFinish(svc *Service)
}

// Checkpointer reads the last applied checkpoint
type Checkpointer interface {
	LastApplied(ctx context.Context) (oplog.Checkpoint, error)
}

// errStopping is the cause of the service context's cancellation when Stop was called
var errStopping = stderrors.New("service stopping")

// Opt configures a Service
type Opt func(s *Service)

func WithLogger(l logger.Logger) Opt {
	return func(s *Service) {
		s.logger = l
	}
}

// WithFetcherOpts configures the fetchers the service creates
func WithFetcherOpts(opts ...fetcher.Opt) Opt {
	return func(s *Service) {
		s.fetcherOpts = append(s.fetcherOpts, opts...)
	}
}

// WithLocker makes the service hold locker while it runs so a single replicator advances the checkpoint
func WithLocker(locker kv.Locker) Opt {
	return func(s *Service) {
		s.locker = locker
	}
}

// Service is the lifecycle of one replication run. A Service can be started once.
type Service struct {
	checkpoints Checkpointer
	applier     *applier.Applier
	source      fetcher.Source
	callback    Callback
	logger      logger.Logger
	fetcherOpts []fetcher.Opt
	locker      kv.Locker
	machine     machine.Machine

	ctx    context.Context
	cancel context.CancelCauseFunc

	mu        sync.Mutex
	started   bool
	locked    bool
	job       *applier.Job
	fetcher   *fetcher.Fetcher
	leaseLost atomic.Bool
	release   sync.Once
	finished  chan struct{}
}

// New creates a service that applies source through app, resuming from the checkpoint of checkpoints
func New(checkpoints Checkpointer, app *applier.Applier, source fetcher.Source, callback Callback, opts ...Opt) *Service {
	ctx, cancel := context.WithCancelCause(context.Background())
	s := &Service{
		checkpoints: checkpoints,
		applier:     app,
		source:      source,
		callback:    callback,
		logger:      logger.NewNop(),
		machine:     machine.New(),
		ctx:         ctx,
		cancel:      cancel,
		finished:    make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// stopping reports whether Stop was called
func (s *Service) stopping() bool {
	return stderrors.Is(context.Cause(s.ctx), errStopping)
}

// Job returns the running applier job, nil before Start
func (s *Service) Job() *applier.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.job
}

// Done is closed once Stop returned
func (s *Service) Done() <-chan struct{} {
	return s.finished
}

// Start waits for the start permission, reads the last applied checkpoint and starts applying the oplog
// after it. Missing update targets are tolerated as the resumed log may overlap applied state.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New(errors.Forbidden, "replication service already started")
	}
	s.started = true
	s.mu.Unlock()

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer context.AfterFunc(s.ctx, cancel)()
	if err := s.callback.WaitUntilStartPermission(waitCtx); err != nil {
		return errors.Wrap(err, errors.Cancelled, "start permission not granted")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping() {
		return errors.New(errors.Cancelled, "replication service stopped before it started")
	}
	if s.locker != nil {
		locked, err := s.locker.TryLock(ctx)
		if err != nil {
			return errors.Wrap(err, errors.Internal, "failed to acquire replication lock")
		}
		if !locked {
			return errors.New(errors.Conflict, "another replicator owns the checkpoint")
		}
		s.locked = true
	}
	checkpoint, err := s.checkpoints.LastApplied(ctx)
	if err != nil {
		s.unlock()
		return err
	}
	s.fetcher = fetcher.New(s.source, checkpoint.Hash, checkpoint.Position, append([]fetcher.Opt{fetcher.WithLogger(s.logger)}, s.fetcherOpts...)...)
	job, err := s.applier.Apply(s.ctx, s.fetcher, checkpoint, oplog.ApplierContext{
		UpdatesAsUpserts: true,
	})
	if err != nil {
		s.fetcher.Close(ctx)
		s.unlock()
		return err
	}
	s.job = job
	s.logger.Info(ctx, "replication started", map[string]any{
		"job":        job.ID(),
		"checkpoint": checkpoint.String(),
	})
	// the observer must run even if Stop already cancelled s.ctx: Stop joins it
	s.machine.Go(context.Background(), func(_ context.Context) error {
		<-job.Done()
		s.observe(job)
		return nil
	})
	if s.locked {
		s.machine.Go(context.Background(), func(_ context.Context) error {
			s.watchLease(job)
			return nil
		})
	}
	return nil
}

// watchLease cancels the job when the replication lock is lost so two replicators never advance the
// checkpoint together
func (s *Service) watchLease(job *applier.Job) {
	select {
	case <-job.Done():
	case <-s.locker.Lost():
		if s.stopping() {
			return
		}
		s.leaseLost.Store(true)
		s.logger.Error(context.Background(), "replication lock lost", errors.New(errors.Conflict, "lease taken over"), map[string]any{
			"job": job.ID(),
		})
		job.Cancel()
	}
}

// observe maps the job's result to a callback. Results reached while stopping are expected and not reported.
func (s *Service) observe(job *applier.Job) {
	result, _ := job.Result()
	if s.stopping() {
		return
	}
	if s.leaseLost.Load() {
		s.callback.OnError(s, errors.New(errors.Conflict, "replication lock lost while applier job %s was %s", job.ID(), result.State))
		return
	}
	ctx := context.Background()
	switch result.State {
	case applier.Fine, applier.Rollback:
		rb, ok := oplog.AsRollback(result.Err)
		if !ok {
			checkpoint, err := s.checkpoints.LastApplied(ctx)
			if err != nil {
				s.callback.OnError(s, err)
				return
			}
			rb = &oplog.RollbackError{LastGood: checkpoint, Reason: "oplog source ended"}
		}
		s.logger.Warn(ctx, "replication needs rollback", map[string]any{
			"job":       job.ID(),
			"last_good": rb.LastGood.String(),
			"reason":    rb.Reason,
		})
		s.callback.Rollback(s, rb)
	case applier.Unexpected, applier.Stop:
		s.callback.OnError(s, result.Err)
	case applier.Cancelled:
		s.callback.OnError(s, errors.New(errors.Assertion, "applier job %s was cancelled while the service is not stopping", job.ID()))
	default:
		s.callback.OnError(s, errors.New(errors.Assertion, "unexpected applier finish state %s: %v", result.State, result.Err))
	}
}

// Stop cancels the running job, waits for it and for the observer to exit, releases the fetcher and the lock
// and reports OnFinish. It is idempotent. If ctx ends before the job finished Stop returns an error and may be
// called again.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.cancel(errStopping)
	job, f := s.job, s.fetcher
	s.mu.Unlock()

	start := time.Now()
	if job != nil {
		if _, finished := job.Result(); !finished {
			job.Cancel()
		}
		if _, err := job.Wait(ctx); err != nil {
			return err
		}
	}
	s.release.Do(func() {
		if f != nil {
			if err := f.Close(ctx); err != nil {
				s.logger.Error(ctx, "failed to close fetcher", err, map[string]any{})
			}
		}
		if err := s.machine.Wait(); err != nil {
			s.logger.Error(ctx, "replication observer failed", err, map[string]any{})
		}
		s.mu.Lock()
		s.unlock()
		s.mu.Unlock()
		s.logger.Info(ctx, "replication stopped", map[string]any{
			"duration": time.Since(start).String(),
		})
		close(s.finished)
		s.callback.OnFinish(s)
	})
	return nil
}

func (s *Service) unlock() {
	if s.locked {
		s.locker.Unlock()
		s.locked = false
	}
}
