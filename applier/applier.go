// Package applier drives the fetch, check, analyze and apply loop that replicates an oplog into storage.
package applier

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/autom8ter/docrepl/analyzed"
	"github.com/autom8ter/docrepl/errors"
	"github.com/autom8ter/docrepl/fetcher"
	"github.com/autom8ter/docrepl/internal/stream"
	"github.com/autom8ter/docrepl/logger"
	"github.com/autom8ter/docrepl/oplog"
	"github.com/autom8ter/docrepl/storage"
	"github.com/autom8ter/machine/v4"
)

// State is the applier's position in its loop
type State int32

const (
	Idle State = iota
	Fetching
	Checking
	Analyzing
	Applying
	Finished
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Fetching:
		return "FETCHING"
	case Checking:
		return "CHECKING"
	case Analyzing:
		return "ANALYZING"
	case Applying:
		return "APPLYING"
	case Finished:
		return "FINISHED"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// EventsChannel is the stream channel BatchApplied events are broadcast on
const EventsChannel = "batches"

// BatchApplied is broadcast after every committed batch
type BatchApplied struct {
	JobID      string           `json:"jobId"`
	Checkpoint oplog.Checkpoint `json:"checkpoint"`
	Operations int              `json:"operations"`
	Analyzed   int              `json:"analyzed"`
	Commands   int              `json:"commands"`
	Duration   time.Duration    `json:"duration"`
}

// Fetcher yields checked, chained operations
type Fetcher interface {
	Next(ctx context.Context, wait time.Duration) (*oplog.Operation, error)
}

// Storage commits a batch atomically
type Storage interface {
	ApplyBatch(ctx context.Context, batch storage.Batch, actx oplog.ApplierContext) error
}

// Opt configures an Applier
type Opt func(a *Applier)

// WithBatchSize bounds the number of operations fetched per batch
func WithBatchSize(size int) Opt {
	return func(a *Applier) {
		a.batchSize = size
	}
}

// WithPollTimeout bounds a single wait on the fetcher. Cancellation is observed at least this often.
func WithPollTimeout(timeout time.Duration) Opt {
	return func(a *Applier) {
		a.pollTimeout = timeout
	}
}

// WithLinger sets how long a non-empty batch waits for more operations before it's applied
func WithLinger(linger time.Duration) Opt {
	return func(a *Applier) {
		a.linger = linger
	}
}

func WithLogger(l logger.Logger) Opt {
	return func(a *Applier) {
		a.logger = l
	}
}

// WithEvents broadcasts BatchApplied events on s
func WithEvents(s stream.Stream[BatchApplied]) Opt {
	return func(a *Applier) {
		a.events = s
	}
}

// Applier applies the operations of a fetcher to storage in batches. It runs one job at a time.
type Applier struct {
	storage     Storage
	batchSize   int
	pollTimeout time.Duration
	linger      time.Duration
	logger      logger.Logger
	events      stream.Stream[BatchApplied]
	machine     machine.Machine

	state atomic.Int32
	mu    sync.Mutex
	job   *Job
}

// New creates an applier writing to st
func New(st Storage, opts ...Opt) *Applier {
	a := &Applier{
		storage:     st,
		batchSize:   1000,
		pollTimeout: time.Second,
		linger:      20 * time.Millisecond,
		logger:      logger.NewNop(),
		machine:     machine.New(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.events == nil {
		a.events = stream.New[BatchApplied](machine.New())
	}
	return a
}

// State returns the current state of the applier
func (a *Applier) State() State {
	return State(a.state.Load())
}

// Events returns the stream BatchApplied events are broadcast on
func (a *Applier) Events() stream.Stream[BatchApplied] {
	return a.events
}

func (a *Applier) setState(s State) {
	a.state.Store(int32(s))
}

// Apply starts a job that applies every operation of f following from, the checkpoint f resumes after.
// It fails with Conflict while another job is running.
func (a *Applier) Apply(ctx context.Context, f Fetcher, from oplog.Checkpoint, actx oplog.ApplierContext) (*Job, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.job != nil {
		if _, finished := a.job.Result(); !finished {
			return nil, errors.New(errors.Conflict, "applier job %s is still running", a.job.ID())
		}
	}
	ctx, cancel := context.WithCancelCause(ctx)
	job := newJob(cancel)
	a.job = job
	a.setState(Idle)
	// the job goroutine must start even if ctx is already done: it is the only one that finishes the job
	a.machine.Go(context.Background(), func(_ context.Context) error {
		state, err := a.run(ctx, job, f, from, actx)
		a.setState(Finished)
		if job.finish(state, err) {
			a.logFinish(ctx, job, state, err)
		}
		cancel(nil)
		return nil
	})
	return job, nil
}

// Wait waits for the applier's jobs to exit. Event subscribers are not waited for.
func (a *Applier) Wait() error {
	return a.machine.Wait()
}

func (a *Applier) logFinish(ctx context.Context, job *Job, state FinishState, err error) {
	tags := map[string]any{"job": job.ID(), "state": state.String()}
	switch state {
	case Fine, Stop, Cancelled:
		a.logger.Info(ctx, "applier job finished", tags)
	default:
		a.logger.Error(ctx, "applier job failed", err, tags)
	}
}

// fetched is the outcome of filling one batch
type fetched struct {
	ops []*oplog.Operation
	// terminal is set when the job must finish once ops are applied
	terminal *Result
}

func (a *Applier) run(ctx context.Context, job *Job, f Fetcher, from oplog.Checkpoint, actx oplog.ApplierContext) (FinishState, error) {
	a.logger.Info(ctx, "applier job started", map[string]any{
		"job":                job.ID(),
		"checkpoint":         from.String(),
		"updates_as_upserts": actx.UpdatesAsUpserts,
		"reapplying":         actx.Reapplying,
	})
	checkpoint := from
	for {
		if ctx.Err() != nil {
			return cancellation(ctx)
		}
		a.setState(Fetching)
		batch := a.fetch(ctx, f)
		if batch.terminal != nil && batch.terminal.State == Cancelled {
			return batch.terminal.State, batch.terminal.Err
		}
		if len(batch.ops) > 0 {
			next, err := a.applyBatch(ctx, job, batch.ops, actx)
			if err != nil {
				return Unexpected, err
			}
			checkpoint = next
		}
		if batch.terminal != nil {
			a.logger.Debug(ctx, "applier reached terminal state", map[string]any{
				"job":        job.ID(),
				"checkpoint": checkpoint.String(),
			})
			return batch.terminal.State, batch.terminal.Err
		}
		a.setState(Idle)
	}
}

// cancellation classifies the cancellation of the job context
func cancellation(ctx context.Context) (FinishState, error) {
	if stderrors.Is(context.Cause(ctx), errStopRequested) {
		return Stop, errors.New(errors.Cancelled, "applier stopped on request")
	}
	return Cancelled, errors.New(errors.Cancelled, "applier cancelled")
}

// fetch fills a batch. It returns early when the batch is full, when the linger after its first operation
// expired, or when a poll timed out with nothing fetched.
func (a *Applier) fetch(ctx context.Context, f Fetcher) fetched {
	var (
		batch    fetched
		deadline time.Time
	)
	for len(batch.ops) < a.batchSize {
		wait := a.pollTimeout
		if len(batch.ops) > 0 {
			wait = time.Until(deadline)
			if wait <= 0 {
				break
			}
		}
		op, err := f.Next(ctx, wait)
		if err != nil {
			batch.terminal = classify(ctx, err)
			return batch
		}
		if op == nil {
			if len(batch.ops) > 0 || ctx.Err() != nil {
				break
			}
			return batch
		}
		if len(batch.ops) == 0 {
			deadline = time.Now().Add(a.linger)
		}
		batch.ops = append(batch.ops, op)
	}
	if ctx.Err() != nil {
		state, err := cancellation(ctx)
		batch.terminal = &Result{State: state, Err: err}
	}
	return batch
}

// classify maps a fetcher error to the job's terminal result
func classify(ctx context.Context, err error) *Result {
	switch {
	case stderrors.Is(err, fetcher.ErrExhausted):
		return &Result{State: Fine}
	case ctx.Err() != nil:
		state, cerr := cancellation(ctx)
		return &Result{State: state, Err: cerr}
	}
	if _, ok := oplog.AsRollback(err); ok {
		return &Result{State: Rollback, Err: err}
	}
	return &Result{State: Unexpected, Err: errors.Wrap(err, 0, "failed to fetch operations")}
}

// applyBatch checks, analyzes and commits ops, returning the checkpoint of the last one
func (a *Applier) applyBatch(ctx context.Context, job *Job, ops []*oplog.Operation, actx oplog.ApplierContext) (oplog.Checkpoint, error) {
	start := time.Now()
	a.setState(Checking)
	for _, op := range ops {
		if err := oplog.Check(op); err != nil {
			return oplog.Checkpoint{}, err
		}
	}

	a.setState(Analyzing)
	batch, err := segment(ops, actx)
	if err != nil {
		return oplog.Checkpoint{}, err
	}

	a.setState(Applying)
	// a started commit is never interrupted, cancellation is observed at the next batch boundary
	if err := a.storage.ApplyBatch(context.WithoutCancel(ctx), batch, actx); err != nil {
		return oplog.Checkpoint{}, errors.Wrap(err, 0, "failed to apply batch ending at %s", batch.Checkpoint)
	}

	event := BatchApplied{
		JobID:      job.ID(),
		Checkpoint: batch.Checkpoint,
		Operations: len(ops),
		Duration:   time.Since(start),
	}
	for _, seg := range batch.Segments {
		if seg.Command != nil {
			event.Commands++
		}
		event.Analyzed += len(seg.Ops)
	}
	a.logger.Debug(ctx, "applied batch", map[string]any{
		"job":        job.ID(),
		"checkpoint": batch.Checkpoint.String(),
		"operations": event.Operations,
		"analyzed":   event.Analyzed,
		"commands":   event.Commands,
		"duration":   event.Duration.String(),
	})
	a.events.Broadcast(context.WithoutCancel(ctx), EventsChannel, event)
	return batch.Checkpoint, nil
}

// segment splits ops on commands and folds the data operations between them. Noops and data operations on
// system namespaces only advance the checkpoint.
func segment(ops []*oplog.Operation, actx oplog.ApplierContext) (storage.Batch, error) {
	batch := storage.Batch{Checkpoint: ops[len(ops)-1].Checkpoint()}
	var pending []*oplog.Operation
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		folded, err := analyzed.Analyze(pending, actx)
		if err != nil {
			return err
		}
		batch.Segments = append(batch.Segments, storage.Segment{Ops: folded})
		pending = nil
		return nil
	}
	for _, op := range ops {
		switch {
		case op.Kind == oplog.Noop:
		case op.Kind == oplog.Command:
			if err := flush(); err != nil {
				return storage.Batch{}, err
			}
			batch.Segments = append(batch.Segments, storage.Segment{Command: op})
		case op.Namespace.IsSystem():
		default:
			pending = append(pending, op)
		}
	}
	if err := flush(); err != nil {
		return storage.Batch{}, err
	}
	return batch, nil
}
