package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/windops/internal/store"
	"github.com/kiranshivaraju/windops/pkg/models"
)

var (
	// ErrBusy is returned when another analysis holds the execution slot.
	ErrBusy = errors.New("another analysis is already running")
	// ErrLeaseSpent is returned when a lease is submitted twice.
	ErrLeaseSpent = errors.New("lease already submitted")
	// ErrWatchdog is the failure cause when the engine outlives the runtime bound.
	ErrWatchdog = errors.New("analysis exceeded maximum runtime")
	// ErrEmptyResult is the failure cause when the engine returns no payload.
	ErrEmptyResult = errors.New("analysis engine returned no result")
)

// InterruptedMessage is recorded for jobs that were running when the server
// stopped.
const InterruptedMessage = "analysis interrupted by server restart"

const (
	defaultMaxRuntime = 45 * time.Minute
	historyTimeout    = 5 * time.Second
)

// History is the durable job log. Writes are best effort: a failing
// history never fails a job.
type History interface {
	CreateJob(ctx context.Context, job *models.Job) error
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...store.JobUpdateOption) error
	FailRunningJobs(ctx context.Context, message string) ([]uuid.UUID, error)
	LatestJob(ctx context.Context) (*models.Job, error)
	LatestCompletedJob(ctx context.Context) (*models.Job, error)
}

// SourceFunc reports the dataset source at the time it is called.
type SourceFunc func() models.DataSource

// Failure is the outcome error of a job that ran and failed.
type Failure struct {
	JobID   uuid.UUID
	Kind    models.AnalysisKind
	Message string
	Cause   error
}

func (f *Failure) Error() string { return f.Message }
func (f *Failure) Unwrap() error { return f.Cause }

// Outcome is delivered exactly once per submitted lease.
type Outcome struct {
	Envelope *models.ResultEnvelope
	Err      error
}

// Lease is proof of holding the execution slot. It is the only way to start
// a job.
type Lease struct {
	req       models.JobRequest
	state     models.JobState
	submitted atomic.Bool
	released  atomic.Bool
}

func (l *Lease) JobID() uuid.UUID           { return l.state.JobID }
func (l *Lease) Kind() models.AnalysisKind  { return l.state.Kind }
func (l *Lease) StartedAt() time.Time       { return l.state.StartedAt }
func (l *Lease) Request() models.JobRequest { return l.req }

// Executor guards the single execution slot and runs jobs on a worker
// goroutine.
type Executor struct {
	status     *StatusStore
	engine     models.AnalysisEngine
	source     SourceFunc
	history    History
	maxRuntime time.Duration
	now        func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithHistory records every job in h.
func WithHistory(h History) Option {
	return func(e *Executor) { e.history = h }
}

// WithMaxRuntime bounds a single analysis. A job still running after d is
// declared failed and the slot is released.
func WithMaxRuntime(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.maxRuntime = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// NewExecutor creates an Executor writing into status.
func NewExecutor(status *StatusStore, engine models.AnalysisEngine, source SourceFunc, opts ...Option) *Executor {
	e := &Executor{
		status:     status,
		engine:     engine,
		source:     source,
		maxRuntime: defaultMaxRuntime,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Status exposes the store the executor writes to.
func (e *Executor) Status() *StatusStore { return e.status }

// TryAcquire takes the execution slot for req without blocking. It returns
// false, and changes nothing, if a job is already running.
func (e *Executor) TryAcquire(req models.JobRequest) (*Lease, bool) {
	state := models.JobState{
		Status:    models.JobStatusRunning,
		Kind:      req.Kind,
		JobID:     uuid.New(),
		RequestID: req.RequestID,
		StartedAt: e.now().UTC(),
	}
	if !e.status.start(state) {
		return nil, false
	}
	return &Lease{req: req, state: state}, true
}

// Submit runs the leased job on a new goroutine. The returned channel is
// buffered and receives exactly one Outcome, so callers may stop listening
// at any time.
func (e *Executor) Submit(l *Lease) <-chan Outcome {
	out := make(chan Outcome, 1)
	if !l.submitted.CompareAndSwap(false, true) {
		out <- Outcome{Err: ErrLeaseSpent}
		return out
	}
	go e.work(l, out)
	return out
}

func (e *Executor) work(l *Lease, out chan<- Outcome) {
	jobID := l.JobID()
	logger := slog.With("job_id", jobID, "analysis", l.Kind())

	defer func() {
		// Anything escaping the paths below must still free the slot.
		if r := recover(); r != nil {
			logger.Error("panic in job worker", "error", r, "stack", string(debug.Stack()))
			out <- e.finishFailed(l, fmt.Errorf("panic: %v", r))
		}
	}()

	logger.Info("analysis started", "request_id", l.req.RequestID)
	e.recordStart(l)

	data, err := e.invoke(l)
	if err != nil {
		logger.Warn("analysis failed", "error", err)
		out <- e.finishFailed(l, err)
		return
	}

	env := models.ResultEnvelope{
		JobID:     jobID,
		RequestID: l.req.RequestID,
		Kind:      l.Kind(),
		Data:      data,
		Timestamp: e.now().UTC(),
		Source:    e.source(),
	}
	if !l.released.CompareAndSwap(false, true) {
		out <- Outcome{Err: ErrLeaseSpent}
		return
	}
	e.status.complete(jobID, env)
	logger.Info("analysis completed", "duration_ms", env.Timestamp.Sub(l.StartedAt()).Milliseconds())

	e.recordFinish(jobID, models.JobStatusCompleted,
		store.WithResult(env.Data, env.Source), store.WithFinishedAt(env.Timestamp))
	out <- Outcome{Envelope: &env}
}

func (e *Executor) finishFailed(l *Lease, cause error) Outcome {
	if !l.released.CompareAndSwap(false, true) {
		return Outcome{Err: ErrLeaseSpent}
	}
	at := e.now().UTC()
	f := &Failure{
		JobID:   l.JobID(),
		Kind:    l.Kind(),
		Message: fmt.Sprintf("%s failed: %v", l.Kind().Label(), cause),
		Cause:   cause,
	}
	e.status.fail(l.JobID(), f.Message, at)
	e.recordFinish(l.JobID(), models.JobStatusFailed,
		store.WithErrorMessage(f.Message), store.WithFinishedAt(at))
	return Outcome{Err: f}
}

// invoke calls the engine on its own goroutine so a panic is contained and
// an engine that ignores its context cannot hold the slot past maxRuntime.
func (e *Executor) invoke(l *Lease) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), e.maxRuntime)
	defer cancel()

	type result struct {
		data json.RawMessage
		err  error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in analysis engine", "job_id", l.JobID(), "error", r, "stack", string(debug.Stack()))
				done <- result{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		data, err := e.engine.Run(ctx, l.Kind(), l.req.Params)
		done <- result{data: data, err: err}
	}()

	var r result
	select {
	case r = <-done:
	case <-ctx.Done():
		select {
		case r = <-done:
		default:
			slog.Warn("analysis engine ignored cancellation", "job_id", l.JobID(), "max_runtime", e.maxRuntime.String())
			return nil, fmt.Errorf("%w (%s)", ErrWatchdog, e.maxRuntime)
		}
	}

	if r.err != nil {
		if errors.Is(r.err, context.DeadlineExceeded) && ctx.Err() != nil {
			return nil, fmt.Errorf("%w (%s)", ErrWatchdog, e.maxRuntime)
		}
		return nil, r.err
	}
	if len(r.data) == 0 {
		return nil, ErrEmptyResult
	}
	return r.data, nil
}

func (e *Executor) recordStart(l *Lease) {
	if e.history == nil {
		return
	}
	params, err := json.Marshal(l.req.Params)
	if err != nil {
		params = []byte(`{}`)
	}
	started := l.StartedAt()
	job := &models.Job{
		ID:        l.JobID(),
		Kind:      l.Kind(),
		Status:    models.JobStatusRunning,
		Params:    params,
		StartedAt: &started,
		CreatedAt: started,
		UpdatedAt: started,
	}
	if l.req.RequestID != "" {
		rid := l.req.RequestID
		job.RequestID = &rid
	}

	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	if err := e.history.CreateJob(ctx, job); err != nil {
		slog.Warn("recording job start failed", "job_id", job.ID, "error", err)
	}
}

func (e *Executor) recordFinish(id uuid.UUID, status string, opts ...store.JobUpdateOption) {
	if e.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	if err := e.history.UpdateJobStatus(ctx, id, status, opts...); err != nil {
		slog.Warn("recording job outcome failed", "job_id", id, "status", status, "error", err)
	}
}

// Recover reconciles durable history after a restart. Jobs left running
// by a previous process are marked failed, the last completed result is
// restored, and if the most recent job was interrupted its failure becomes
// the reported last error.
func (e *Executor) Recover(ctx context.Context) error {
	if e.history == nil {
		return nil
	}

	ids, err := e.history.FailRunningJobs(ctx, InterruptedMessage)
	if err != nil {
		return fmt.Errorf("failing interrupted jobs: %w", err)
	}
	for _, id := range ids {
		slog.Warn("job interrupted by server restart", "job_id", id)
	}

	latest, err := e.history.LatestJob(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading latest job: %w", err)
	}

	var env *models.ResultEnvelope
	completed, err := e.history.LatestCompletedJob(ctx)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return fmt.Errorf("loading latest result: %w", err)
	default:
		if ev, ok := completed.Envelope(); ok {
			env = &ev
		}
	}

	state := models.JobState{
		Status: latest.Status,
		Kind:   latest.Kind,
		JobID:  latest.ID,
	}
	if latest.RequestID != nil {
		state.RequestID = *latest.RequestID
	}
	if latest.StartedAt != nil {
		state.StartedAt = *latest.StartedAt
	}
	if latest.CompletedAt != nil {
		state.FinishedAt = *latest.CompletedAt
	}
	var lastError string
	if latest.Status == models.JobStatusFailed && latest.ErrorMessage != nil {
		lastError = *latest.ErrorMessage
		if *latest.ErrorMessage == InterruptedMessage {
			lastError = fmt.Sprintf("%s failed: %s", latest.Kind.Label(), InterruptedMessage)
		}
		state.Error = lastError
	}

	if !e.status.Restore(state, env, lastError) {
		slog.Warn("status restore skipped, a job is already running")
		return nil
	}
	slog.Info("job status restored",
		"interrupted", len(ids),
		"latest_job", latest.ID,
		"latest_status", latest.Status,
		"has_result", env != nil,
	)
	return nil
}
