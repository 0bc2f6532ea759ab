// Package client talks to the WindOps API and drives analysis runs that
// survive request timeouts and server restarts.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kiranshivaraju/windops/pkg/models"
)

// Sentinel errors for API client failures.
var (
	ErrBusy        = errors.New("server busy")
	ErrTimeout     = errors.New("request timed out")
	ErrUnreachable = errors.New("server unreachable")
	ErrNotFound    = errors.New("not found")
)

const (
	defaultSubmitTimeout = 2 * time.Minute
	defaultQueryTimeout  = 30 * time.Second
	requestIDHeader      = "X-Request-ID"
)

// AnalysisFailure is a job that ran on the server and failed.
type AnalysisFailure struct {
	Message string
}

func (e *AnalysisFailure) Error() string { return e.Message }

// BusyError is returned when another analysis holds the server. It matches
// ErrBusy.
type BusyError struct {
	CurrentAnalysis models.AnalysisKind
	RetryAfter      time.Duration
}

func (e *BusyError) Error() string {
	if e.CurrentAnalysis == "" {
		return "another analysis is already running"
	}
	return fmt.Sprintf("%s analysis is already running", e.CurrentAnalysis.Label())
}

func (e *BusyError) Is(target error) bool { return target == ErrBusy }

// APIError is any other non-2xx answer.
type APIError struct {
	Status  int
	Code    string
	Message string
	Details json.RawMessage
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("%s (%d %s)", e.Message, e.Status, e.Code)
}

// JobPage is one page of the server job history.
type JobPage struct {
	Jobs    []models.Job
	Total   int
	HasNext bool
}

// HTTPClient implements the WindOps API over HTTP.
type HTTPClient struct {
	baseURL       string
	token         string
	submitTimeout time.Duration
	queryTimeout  time.Duration
	client        *http.Client
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithSubmitTimeout bounds how long Submit waits for the server.
func WithSubmitTimeout(d time.Duration) Option {
	return func(c *HTTPClient) {
		if d > 0 {
			c.submitTimeout = d
		}
	}
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) { c.client = hc }
}

// NewHTTPClient creates a client for the server at baseURL. token may be
// empty when the server runs without authentication.
func NewHTTPClient(baseURL, token string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL:       strings.TrimRight(baseURL, "/"),
		token:         token,
		submitTimeout: defaultSubmitTimeout,
		queryTimeout:  defaultQueryTimeout,
		client:        &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit starts kind and waits up to the submit timeout for its result.
func (c *HTTPClient) Submit(ctx context.Context, kind models.AnalysisKind, params map[string]any, requestID string) (models.ResultEnvelope, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return models.ResultEnvelope{}, fmt.Errorf("encoding params: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.submitTimeout)
	defer cancel()

	req, err := c.newRequest(reqCtx, http.MethodPost, "/api/v1/analysis/"+url.PathEscape(string(kind)), bytes.NewReader(body))
	if err != nil {
		return models.ResultEnvelope{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if requestID != "" {
		req.Header.Set(requestIDHeader, requestID)
	}

	var env models.ResultEnvelope
	if err := c.do(ctx, req, &env); err != nil {
		return models.ResultEnvelope{}, err
	}
	return env, nil
}

// Status returns the server job status.
func (c *HTTPClient) Status(ctx context.Context) (models.AnalysisStatus, error) {
	var st models.AnalysisStatus
	err := c.get(ctx, "/api/v1/analysis/status", &st)
	return st, err
}

// LastResult returns the most recent completed result, or ErrNotFound.
func (c *HTTPClient) LastResult(ctx context.Context) (models.ResultEnvelope, error) {
	var env models.ResultEnvelope
	err := c.get(ctx, "/api/v1/analysis/last-result", &env)
	return env, err
}

// Jobs returns one page of the server job history, newest first.
func (c *HTTPClient) Jobs(ctx context.Context, kind models.AnalysisKind, page, limit int) (JobPage, error) {
	q := url.Values{}
	if kind != "" {
		q.Set("kind", string(kind))
	}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var out struct {
		Data []models.Job `json:"data"`
		Meta struct {
			Total   int  `json:"total"`
			HasNext bool `json:"has_next"`
		} `json:"meta"`
	}
	path := "/api/v1/analysis/jobs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	if err := c.getRaw(ctx, path, &out); err != nil {
		return JobPage{}, err
	}
	return JobPage{Jobs: out.Data, Total: out.Meta.Total, HasNext: out.Meta.HasNext}, nil
}

// DataStatus returns the datasets loaded on the server.
func (c *HTTPClient) DataStatus(ctx context.Context) (models.DataStatus, error) {
	var st models.DataStatus
	err := c.get(ctx, "/api/v1/data/status", &st)
	return st, err
}

// Templates returns the expected upload columns per dataset type.
func (c *HTTPClient) Templates(ctx context.Context) (map[models.DatasetType]models.DatasetTemplate, error) {
	var tpl map[models.DatasetType]models.DatasetTemplate
	err := c.get(ctx, "/api/v1/data/templates", &tpl)
	return tpl, err
}

// PlantSummary describes the plant loaded on the server.
func (c *HTTPClient) PlantSummary(ctx context.Context) (models.PlantSummary, error) {
	var sum models.PlantSummary
	err := c.get(ctx, "/api/v1/plant/summary", &sum)
	return sum, err
}

// CurrentSource implements resultcache.SourceProvider.
func (c *HTTPClient) CurrentSource(ctx context.Context) (models.DataSource, error) {
	st, err := c.DataStatus(ctx)
	if err != nil {
		return "", err
	}
	return st.Source, nil
}

// ResetData drops uploaded datasets and reloads the demo plant.
func (c *HTTPClient) ResetData(ctx context.Context) (models.DataStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/data/reset", nil)
	if err != nil {
		return models.DataStatus{}, err
	}
	var st models.DataStatus
	err = c.do(ctx, req, &st)
	return st, err
}

// UploadDataset sends a CSV file as dataset t.
func (c *HTTPClient) UploadDataset(ctx context.Context, t models.DatasetType, filename string, r io.Reader) (models.DatasetInfo, error) {
	pr, pw := io.Pipe()
	mp := multipart.NewWriter(pw)
	go func() {
		fw, err := mp.CreateFormFile("file", filename)
		if err == nil {
			_, err = io.Copy(fw, r)
		}
		if err == nil {
			err = mp.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/data/upload/"+url.PathEscape(string(t)), pr)
	if err != nil {
		pr.Close()
		return models.DatasetInfo{}, err
	}
	req.Header.Set("Content-Type", mp.FormDataContentType())

	var info models.DatasetInfo
	err = c.do(ctx, req, &info)
	pr.Close()
	return info, err
}

// CloseIdleConnections releases pooled connections.
func (c *HTTPClient) CloseIdleConnections() {
	c.client.CloseIdleConnections()
}

func (c *HTTPClient) get(ctx context.Context, path string, data any) error {
	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.do(ctx, req, data)
}

// getRaw decodes the whole response body instead of its data field.
func (c *HTTPClient) getRaw(ctx context.Context, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return classifyError(ctx, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// do sends req and decodes the data field of a 2xx answer into data.
// parent is the caller context, used to tell a cancelled run apart from a
// request deadline.
func (c *HTTPClient) do(parent context.Context, req *http.Request, data any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return classifyError(parent, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}

	env := struct {
		Data any `json:"data"`
	}{Data: data}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if parent.Err() == nil && req.Context().Err() != nil {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusRequestTimeout, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return fmt.Errorf("%w: status %d", ErrTimeout, resp.StatusCode)
	}

	var body struct {
		Error struct {
			Code    string          `json:"code"`
			Message string          `json:"message"`
			Details json.RawMessage `json:"details"`
		} `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body)
	e := body.Error

	switch {
	case resp.StatusCode == http.StatusTooManyRequests && e.Code == "BUSY":
		be := &BusyError{}
		var d struct {
			CurrentAnalysis models.AnalysisKind `json:"current_analysis"`
		}
		if json.Unmarshal(e.Details, &d) == nil {
			be.CurrentAnalysis = d.CurrentAnalysis
		}
		if s, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			be.RetryAfter = time.Duration(s) * time.Second
		}
		return be
	case resp.StatusCode == http.StatusInternalServerError && e.Code == "ANALYSIS_FAILED":
		return &AnalysisFailure{Message: e.Message}
	case resp.StatusCode == http.StatusNotFound && (e.Code == "NO_RESULT" || e.Code == "NO_DATA"):
		return fmt.Errorf("%w: %s", ErrNotFound, e.Message)
	}
	return &APIError{Status: resp.StatusCode, Code: e.Code, Message: e.Message, Details: e.Details}
}

// classifyError maps transport-level errors to sentinel errors. A cancelled
// parent context is passed through unchanged.
func classifyError(parent context.Context, err error) error {
	if perr := parent.Err(); perr != nil {
		return perr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}
