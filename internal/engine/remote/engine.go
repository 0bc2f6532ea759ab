// Package remote runs analyses on an external analysis service over HTTP.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/kiranshivaraju/windops/pkg/models"
)

// Sentinel errors for analysis service failures.
var (
	ErrEngineUnavailable = errors.New("analysis engine unavailable")
	ErrEngineTimeout     = errors.New("analysis engine timeout")
	ErrAnalysisFailed    = errors.New("analysis failed")
	ErrInvalidResponse   = errors.New("analysis engine returned invalid response")
)

// maxResultBytes caps the payload size; results carry base64 plots.
const maxResultBytes = 64 << 20

// defaultReadyTimeout bounds a readiness check independently of analysis calls.
const defaultReadyTimeout = 5 * time.Second

// Engine implements models.AnalysisEngine against the service's HTTP API.
type Engine struct {
	baseURL string
	client  *http.Client
	health  *http.Client
}

// New creates a remote engine. timeout bounds a single analysis call.
func New(baseURL string, timeout time.Duration) *Engine {
	return &Engine{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		health:  &http.Client{Timeout: defaultReadyTimeout},
	}
}

func (e *Engine) Name() string { return "remote" }

func (e *Engine) Run(ctx context.Context, kind models.AnalysisKind, params map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(runRequest{Params: params})
	if err != nil {
		return nil, fmt.Errorf("encoding params: %w", err)
	}

	u := fmt.Sprintf("%s/run/%s", e.baseURL, url.PathEscape(string(kind)))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResultBytes+1))
	if err != nil {
		return nil, classifyError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var fail failureResponse
		if json.Unmarshal(data, &fail) == nil && fail.Detail != "" {
			return nil, fmt.Errorf("%w: %s", ErrAnalysisFailed, fail.Detail)
		}
		return nil, fmt.Errorf("%w: engine responded with status %d", ErrAnalysisFailed, resp.StatusCode)
	}

	if len(data) > maxResultBytes {
		return nil, fmt.Errorf("%w: result exceeds %d bytes", ErrInvalidResponse, maxResultBytes)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' || !json.Valid(data) {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrInvalidResponse)
	}
	return json.RawMessage(data), nil
}

// Ready checks that the service is reachable.
func (e *Engine) Ready(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	resp, err := e.health.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEngineUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: engine not ready (status %d)", ErrEngineUnavailable, resp.StatusCode)
	}
	return nil
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrEngineTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrEngineTimeout, err)
	}

	return fmt.Errorf("%w: %w", ErrEngineUnavailable, err)
}

type runRequest struct {
	Params map[string]any `json:"params"`
}

type failureResponse struct {
	Detail string `json:"detail"`
}

// Compile-time check that Engine implements AnalysisEngine.
var _ models.AnalysisEngine = (*Engine)(nil)
