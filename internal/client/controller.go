package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/windops/pkg/models"
)

var (
	// ErrRunInProgress is returned when Run is called while another run on
	// the same controller has not finished.
	ErrRunInProgress = errors.New("a run is already in progress")
	// ErrNoResult means the server finished without a result for this run.
	ErrNoResult = errors.New("analysis ended without a result")
	// ErrPollTimeout means the server was still busy when polling gave up.
	ErrPollTimeout = errors.New("gave up waiting for the analysis")
	// ErrClosed is returned by Run after Close.
	ErrClosed = errors.New("controller closed")
)

const (
	defaultPollInterval = 5 * time.Second
	defaultPollTimeout  = time.Hour
)

// State is the phase of the current run.
type State string

const (
	StateIdle       State = "idle"
	StateSubmitting State = "submitting"
	StatePolling    State = "polling"
	StateSucceeded  State = "succeeded"
)

// API is the part of the server API the controller drives.
type API interface {
	Submit(ctx context.Context, kind models.AnalysisKind, params map[string]any, requestID string) (models.ResultEnvelope, error)
	Status(ctx context.Context) (models.AnalysisStatus, error)
	LastResult(ctx context.Context) (models.ResultEnvelope, error)
}

// ResultSink receives every result the controller obtains.
type ResultSink interface {
	Put(ctx context.Context, env models.ResultEnvelope) error
}

// Controller runs one analysis at a time against the server. A submission
// that times out is followed by polling; the controller never resubmits and
// never cancels the server-side job.
type Controller struct {
	api          API
	sink         ResultSink
	pollInterval time.Duration
	pollTimeout  time.Duration
	onState      func(State)
	newID        func() string

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	closed bool
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithResultSink stores results, typically in the local result cache.
func WithResultSink(s ResultSink) ControllerOption {
	return func(c *Controller) { c.sink = s }
}

// WithPollInterval sets the delay between status polls.
func WithPollInterval(d time.Duration) ControllerOption {
	return func(c *Controller) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithPollTimeout bounds the polling phase.
func WithPollTimeout(d time.Duration) ControllerOption {
	return func(c *Controller) {
		if d > 0 {
			c.pollTimeout = d
		}
	}
}

// OnStateChange registers fn to be called on every state transition. fn
// runs on the goroutine calling Run and must not call back into the
// controller.
func OnStateChange(fn func(State)) ControllerOption {
	return func(c *Controller) { c.onState = fn }
}

// NewController creates a Controller for api.
func NewController(api API, opts ...ControllerOption) *Controller {
	c := &Controller{
		api:          api,
		pollInterval: defaultPollInterval,
		pollTimeout:  defaultPollTimeout,
		newID:        uuid.NewString,
		state:        StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close cancels the run in flight, if any, and makes later calls to Run
// fail with ErrClosed. The server-side job is not affected.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if cc, ok := c.api.(interface{ CloseIdleConnections() }); ok {
		cc.CloseIdleConnections()
	}
}

// Run submits kind and returns its result. If the submission times out or
// the connection drops, Run polls the server until the job finishes.
//
// Errors: ErrBusy (another analysis is running, nothing was started),
// *AnalysisFailure, ErrNoResult, ErrPollTimeout, ErrRunInProgress, or the
// context error if ctx is cancelled or Close is called.
func (c *Controller) Run(ctx context.Context, kind models.AnalysisKind, params map[string]any) (models.ResultEnvelope, error) {
	ctx, err := c.begin(ctx)
	if err != nil {
		return models.ResultEnvelope{}, err
	}
	defer c.end()

	requestID := c.newID()
	logger := slog.With("analysis", kind, "request_id", requestID)

	c.transition(StateSubmitting)
	env, err := c.api.Submit(ctx, kind, params, requestID)
	switch {
	case err == nil:
		return c.succeed(ctx, env)
	case ctx.Err() != nil:
		return models.ResultEnvelope{}, ctx.Err()
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrUnreachable):
		logger.Info("analysis still processing on the server, polling", "reason", err, "interval", c.pollInterval.String())
	default:
		return models.ResultEnvelope{}, err
	}

	c.transition(StatePolling)
	env, err = c.poll(ctx, kind, requestID, logger)
	if err != nil {
		return models.ResultEnvelope{}, err
	}
	return c.succeed(ctx, env)
}

func (c *Controller) begin(ctx context.Context) (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.cancel != nil {
		return nil, ErrRunInProgress
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	return ctx, nil
}

func (c *Controller) end() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	cancel()
	c.transition(StateIdle)
}

func (c *Controller) transition(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed && c.onState != nil {
		c.onState(s)
	}
}

func (c *Controller) succeed(ctx context.Context, env models.ResultEnvelope) (models.ResultEnvelope, error) {
	if c.sink != nil {
		if err := c.sink.Put(ctx, env); err != nil {
			slog.Warn("caching result failed", "analysis", env.Kind, "error", err)
		}
	}
	c.transition(StateSucceeded)
	return env, nil
}

// poll waits for the server to go idle and then picks up the outcome of
// requestID. Transport errors are tolerated: the server may be restarting.
func (c *Controller) poll(ctx context.Context, kind models.AnalysisKind, requestID string, logger *slog.Logger) (models.ResultEnvelope, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(c.pollTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return models.ResultEnvelope{}, ctx.Err()
		case <-deadline.C:
			return models.ResultEnvelope{}, fmt.Errorf("%w after %s", ErrPollTimeout, c.pollTimeout)
		case <-ticker.C:
		}

		st, err := c.api.Status(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return models.ResultEnvelope{}, ctx.Err()
			}
			logger.Debug("status poll failed", "error", err)
			continue
		}

		env, done, err := c.outcome(ctx, st, kind, requestID)
		if err != nil {
			if ctx.Err() != nil {
				return models.ResultEnvelope{}, ctx.Err()
			}
			if isTransient(err) {
				logger.Debug("result fetch failed", "error", err)
				continue
			}
			return models.ResultEnvelope{}, err
		}
		if done {
			return env, nil
		}
	}
}

// outcome decides what a status snapshot means for the run identified by
// requestID. done is false while the run's outcome is not yet known.
func (c *Controller) outcome(ctx context.Context, st models.AnalysisStatus, kind models.AnalysisKind, requestID string) (models.ResultEnvelope, bool, error) {
	if st.Busy {
		// A different job is running, so ours has finished. Its result may
		// already be available.
		if st.HasResult && st.RequestID != "" && st.RequestID != requestID {
			env, err := c.api.LastResult(ctx)
			if err == nil && env.RequestID == requestID && env.Kind == kind {
				return env, true, nil
			}
		}
		return models.ResultEnvelope{}, false, nil
	}

	// A server that echoes request IDs names the last job exactly. Only a
	// server that echoes none is matched leniently.
	echoes := st.RequestID != ""

	if st.HasResult {
		env, err := c.api.LastResult(ctx)
		if errors.Is(err, ErrNotFound) {
			return models.ResultEnvelope{}, false, nil
		}
		if err != nil {
			return models.ResultEnvelope{}, false, err
		}
		if env.Kind == kind && matchRun(env.RequestID, requestID, echoes) {
			return env, true, nil
		}
	}

	if st.LastError != nil && matchRun(st.RequestID, requestID, echoes) {
		return models.ResultEnvelope{}, false, &AnalysisFailure{Message: *st.LastError}
	}
	return models.ResultEnvelope{}, false, ErrNoResult
}

func matchRun(got, want string, strict bool) bool {
	if strict {
		return got == want
	}
	return got == "" || got == want
}

func isTransient(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnreachable)
}
