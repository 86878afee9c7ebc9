package applier

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/autom8ter/docrepl/errors"
	"github.com/segmentio/ksuid"
)

// FinishState is the terminal outcome of a Job
type FinishState int

const (
	// Fine means the source was exhausted and everything it produced was applied
	Fine FinishState = iota
	// Rollback means the upstream log diverged from the last applied checkpoint
	Rollback
	// Unexpected means a check, analysis or storage failure ended the job
	Unexpected
	// Stop means the job was asked to halt after applying what it had fetched
	Stop
	// Cancelled means the job was cancelled, fetched but unapplied operations were discarded
	Cancelled
)

func (s FinishState) String() string {
	switch s {
	case Fine:
		return "FINE"
	case Rollback:
		return "ROLLBACK"
	case Unexpected:
		return "UNEXPECTED"
	case Stop:
		return "STOP"
	case Cancelled:
		return "CANCELLED"
	}
	return fmt.Sprintf("FinishState(%d)", int(s))
}

// Result is the terminal pair reported by a Job
type Result struct {
	State FinishState
	Err   error
}

// causes of the job context's cancellation
var (
	errCancelRequested = stderrors.New("cancel requested")
	errStopRequested   = stderrors.New("stop requested")
)

// Job is one run of the applier. It completes exactly once.
type Job struct {
	id     string
	cancel context.CancelCauseFunc
	once   sync.Once
	done   chan struct{}
	result Result
}

func newJob(cancel context.CancelCauseFunc) *Job {
	return &Job{
		id:     ksuid.New().String(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// ID returns the job's unique id
func (j *Job) ID() string {
	return j.id
}

// Cancel requests an abrupt halt, observed while waiting on the source or between batches.
// It has no effect once the job finished.
func (j *Job) Cancel() {
	j.cancel(errCancelRequested)
}

// Stop requests a graceful halt: operations already fetched are applied before the job finishes with Stop
func (j *Job) Stop() {
	j.cancel(errStopRequested)
}

// Done is closed once the job finished
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Result returns the terminal result and whether the job finished
func (j *Job) Result() (Result, bool) {
	select {
	case <-j.done:
		return j.result, true
	default:
		return Result{}, false
	}
}

// Wait blocks until the job finished or ctx is done
func (j *Job) Wait(ctx context.Context) (Result, error) {
	select {
	case <-j.done:
		return j.result, nil
	case <-ctx.Done():
		return Result{}, errors.Wrap(ctx.Err(), errors.Cancelled, "stopped waiting for job %s", j.id)
	}
}

// finish records the result unless one was already recorded
func (j *Job) finish(state FinishState, err error) bool {
	finished := false
	j.once.Do(func() {
		j.result = Result{State: state, Err: err}
		finished = true
		close(j.done)
	})
	return finished
}
