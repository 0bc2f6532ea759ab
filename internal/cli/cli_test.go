package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/windops/internal/api/handler"
	mw "github.com/kiranshivaraju/windops/internal/api/middleware"
	"github.com/kiranshivaraju/windops/internal/dataset"
	"github.com/kiranshivaraju/windops/internal/engine/mock"
	"github.com/kiranshivaraju/windops/internal/jobs"
	"github.com/kiranshivaraju/windops/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	url  string
	data *dataset.Manager
}

func newTestServer(t *testing.T, engine models.AnalysisEngine) *testServer {
	t.Helper()
	data := dataset.NewManager()
	data.InitDemo()
	status := jobs.NewStatusStore()
	exec := jobs.NewExecutor(status, engine, data.CurrentSource)

	r := chi.NewRouter()
	r.Use(mw.RequestID)
	r.Post("/api/v1/analysis/{kind}", handler.NewSubmitHandler(exec, status, data, time.Minute))
	r.Get("/api/v1/analysis/status", handler.NewStatusHandler(status))
	r.Get("/api/v1/analysis/last-result", handler.NewLastResultHandler(status))
	r.Get("/api/v1/data/status", handler.NewDataStatusHandler(data))
	r.Post("/api/v1/data/reset", handler.NewDataResetHandler(data))
	r.Post("/api/v1/data/upload/{dataset}", handler.NewUploadHandler(data, 1<<20))
	r.Get("/api/v1/data/templates", handler.NewTemplatesHandler())
	r.Get("/api/v1/plant/summary", handler.NewPlantSummaryHandler(data))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{url: srv.URL, data: data}
}

// execute runs the CLI with args and returns stdout.
func execute(t *testing.T, serverURL, cachePath string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--server", serverURL, "--cache-path", cachePath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRun_CachesResult(t *testing.T) {
	srv := newTestServer(t, mock.NewEngine(0))
	cachePath := filepath.Join(t.TempDir(), "results.db")

	out, err := execute(t, srv.url, cachePath, "run", "aep", "num_sim=200")
	require.NoError(t, err)
	assert.Contains(t, out, "Running AEP analysis")
	assert.Contains(t, out, "AEP result (demo data")

	out, err = execute(t, srv.url, cachePath, "result", "aep")
	require.NoError(t, err)
	assert.NotContains(t, out, "WARNING")
	assert.Contains(t, out, "AEP result (demo data")
}

func TestRun_UnknownAnalysis(t *testing.T) {
	srv := newTestServer(t, mock.NewEngine(0))
	_, err := execute(t, srv.url, filepath.Join(t.TempDir(), "r.db"), "run", "sunshine")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "aep")
}

func TestRun_InvalidAssignment(t *testing.T) {
	srv := newTestServer(t, mock.NewEngine(0))
	_, err := execute(t, srv.url, filepath.Join(t.TempDir(), "r.db"), "run", "aep", "bogus=1")
	assert.Error(t, err)
}

func TestRun_BusyIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{
			"code": "BUSY", "message": "another analysis is already running",
			"details": map[string]any{"busy": true, "current_analysis": "wake"},
		}})
	}))
	defer srv.Close()

	out, err := execute(t, srv.URL, filepath.Join(t.TempDir(), "r.db"), "run", "aep")
	require.NoError(t, err)
	assert.Contains(t, out, "busy running Wake Losses")
}

func TestRun_FailureIsAnError(t *testing.T) {
	srv := newTestServer(t, mock.NewFailingEngine(assert.AnError))
	_, err := execute(t, srv.url, filepath.Join(t.TempDir(), "r.db"), "run", "yaw")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Yaw Misalignment failed")
}

func TestRun_PollsAfterSubmitTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := newTestServer(t, mock.NewGatedEngine(release, json.RawMessage(`{"yaw_offset":1.5}`)))
	timer := time.AfterFunc(200*time.Millisecond, func() { close(release) })
	defer timer.Stop()

	out, err := execute(t, srv.url, filepath.Join(t.TempDir(), "r.db"),
		"--submit-timeout", "50ms", "--poll-interval", "20ms", "run", "yaw")
	require.NoError(t, err)
	assert.Contains(t, out, "still processing on the server")
	assert.Contains(t, out, "yaw_offset")
}

func TestResult_StaleAfterUpload(t *testing.T) {
	srv := newTestServer(t, mock.NewEngine(0))
	dir := t.TempDir()
	cachePath := filepath.Join(dir, "results.db")

	_, err := execute(t, srv.url, cachePath, "run", "yaw")
	require.NoError(t, err)

	csvPath := filepath.Join(dir, "scada.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("time,power\n1,2\n"), 0o600))
	out, err := execute(t, srv.url, cachePath, "data", "upload", "scada", csvPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Uploaded scada: 1 rows, 2 columns")

	out, err = execute(t, srv.url, cachePath, "result", "yaw")
	require.NoError(t, err)
	assert.Contains(t, out, "different dataset")
}

func TestResult_UnavailableAfterReset(t *testing.T) {
	srv := newTestServer(t, mock.NewEngine(0))
	dir := t.TempDir()
	cachePath := filepath.Join(dir, "results.db")

	_, err := srv.data.Upload(models.DatasetSCADA, bytes.NewBufferString("time,power\n1,2\n"))
	require.NoError(t, err)
	_, err = execute(t, srv.url, cachePath, "run", "yaw")
	require.NoError(t, err)

	out, err := execute(t, srv.url, cachePath, "data", "reset")
	require.NoError(t, err)
	assert.Contains(t, out, "Reset to demo data")

	out, err = execute(t, srv.url, cachePath, "result", "yaw")
	require.NoError(t, err)
	assert.Contains(t, out, "no longer available")
}

func TestResult_Missing(t *testing.T) {
	srv := newTestServer(t, mock.NewEngine(0))
	_, err := execute(t, srv.url, filepath.Join(t.TempDir(), "r.db"), "result", "gap")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "windops run gap")
}

func TestCache_ListAndClear(t *testing.T) {
	srv := newTestServer(t, mock.NewEngine(0))
	cachePath := filepath.Join(t.TempDir(), "results.db")

	_, err := execute(t, srv.url, cachePath, "run", "yaw")
	require.NoError(t, err)

	out, err := execute(t, srv.url, cachePath, "cache", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "yaw")
	assert.Contains(t, out, "current")

	_, err = execute(t, srv.url, cachePath, "cache", "clear")
	assert.Error(t, err)

	out, err = execute(t, srv.url, cachePath, "cache", "clear", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "Cleared all")

	out, err = execute(t, srv.url, cachePath, "cache", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No cached results")
}

func TestStatus_Idle(t *testing.T) {
	srv := newTestServer(t, mock.NewEngine(0))
	out, err := execute(t, srv.url, filepath.Join(t.TempDir(), "r.db"), "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Idle")
}

func TestDataStatus(t *testing.T) {
	srv := newTestServer(t, mock.NewEngine(0))
	out, err := execute(t, srv.url, filepath.Join(t.TempDir(), "r.db"), "data", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Source: demo")
	assert.Contains(t, out, "electrical_losses")
}

func TestDataTemplates(t *testing.T) {
	srv := newTestServer(t, mock.NewEngine(0))
	out, err := execute(t, srv.url, filepath.Join(t.TempDir(), "r.db"), "data", "templates")
	require.NoError(t, err)
	assert.Contains(t, out, "meter: Plant-level energy production")
	assert.Contains(t, out, "time, MMTR_SupWh")
}

func TestDataSummary(t *testing.T) {
	srv := newTestServer(t, mock.NewEngine(0))
	out, err := execute(t, srv.url, filepath.Join(t.TempDir(), "r.db"), "data", "summary")
	require.NoError(t, err)
	assert.Contains(t, out, "La Haute Borne Wind Farm (demo data)")
	assert.Contains(t, out, "Turbines: 4")
	assert.Contains(t, out, "Capacity: 8.2 MW")
}

func TestServerFromEnvironment(t *testing.T) {
	srv := newTestServer(t, mock.NewEngine(0))
	t.Setenv("WINDOPS_SERVER", srv.url)
	t.Setenv("WINDOPS_CACHE_PATH", filepath.Join(t.TempDir(), "r.db"))

	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"status"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "Idle")
}
