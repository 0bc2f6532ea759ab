package handler

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/windops/internal/dataset"
	"github.com/kiranshivaraju/windops/pkg/models"
)

func dataRouter(m *dataset.Manager, maxBytes int64) http.Handler {
	r := chi.NewRouter()
	r.Get("/api/v1/data/status", NewDataStatusHandler(m))
	r.Get("/api/v1/data/templates", NewTemplatesHandler())
	r.Get("/api/v1/plant/summary", NewPlantSummaryHandler(m))
	r.Post("/api/v1/data/reset", NewDataResetHandler(m))
	r.Post("/api/v1/data/upload/{dataset}", NewUploadHandler(m, maxBytes))
	return r
}

func uploadReq(t *testing.T, path, filename, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mp := multipart.NewWriter(&buf)
	if filename != "" {
		fw, err := mp.CreateFormFile("file", filename)
		if err != nil {
			t.Fatal(err)
		}
		io.WriteString(fw, content)
	}
	mp.Close()

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mp.FormDataContentType())
	return req
}

func TestDataStatus(t *testing.T) {
	m := dataset.NewManager()
	m.InitDemo()

	rec := get(dataRouter(m, 1<<20), "/api/v1/data/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var st models.DataStatus
	decodeData(t, rec, &st)
	if st.Source != models.SourceDemo {
		t.Errorf("source = %q", st.Source)
	}
	if !st.AnalysisReady[models.KindAEP].Ready {
		t.Error("demo plant should be ready for AEP")
	}
}

func TestUpload_SwitchesToCustom(t *testing.T) {
	m := dataset.NewManager()
	m.InitDemo()
	h := dataRouter(m, 1<<20)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, uploadReq(t, "/api/v1/data/upload/meter", "meter.csv", "time,net_energy_kwh\n2024-01-01,10\n2024-01-02,11\n"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var info models.DatasetInfo
	decodeData(t, rec, &info)
	if info.Rows != 2 || len(info.Columns) != 2 {
		t.Errorf("info = %+v", info)
	}
	if m.CurrentSource() != models.SourceCustom {
		t.Errorf("source = %q, want custom", m.CurrentSource())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/data/reset", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("reset: expected 200, got %d", rec.Code)
	}
	if m.CurrentSource() != models.SourceDemo {
		t.Errorf("source after reset = %q, want demo", m.CurrentSource())
	}
}

func TestUpload_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		filename string
		content  string
		want     int
		code     string
	}{
		{"not csv", "/api/v1/data/upload/scada", "scada.xlsx", "a,b\n1,2\n", http.StatusBadRequest, "INVALID_FILE"},
		{"empty", "/api/v1/data/upload/scada", "scada.csv", "", http.StatusBadRequest, "INVALID_FILE"},
		{"missing field", "/api/v1/data/upload/scada", "", "", http.StatusBadRequest, "INVALID_REQUEST"},
		{"unknown dataset", "/api/v1/data/upload/lidar", "lidar.csv", "a,b\n1,2\n", http.StatusNotFound, "UNKNOWN_DATASET"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := dataset.NewManager()
			m.InitDemo()

			rec := httptest.NewRecorder()
			dataRouter(m, 1<<20).ServeHTTP(rec, uploadReq(t, tt.path, tt.filename, tt.content))
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
			if code := decodeErr(t, rec).Code; code != tt.code {
				t.Errorf("code = %q, want %q", code, tt.code)
			}
			if m.CurrentSource() != models.SourceDemo {
				t.Error("rejected upload must not change the source")
			}
		})
	}
}

func TestUpload_NotMultipart(t *testing.T) {
	m := dataset.NewManager()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/data/upload/scada", bytes.NewBufferString("a,b\n"))
	req.Header.Set("Content-Type", "text/csv")
	dataRouter(m, 1<<20).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestTemplates(t *testing.T) {
	rec := get(dataRouter(dataset.NewManager(), 1<<20), "/api/v1/data/templates")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var tpl map[models.DatasetType]models.DatasetTemplate
	decodeData(t, rec, &tpl)
	if len(tpl) != len(models.DatasetTypes()) {
		t.Fatalf("expected %d templates, got %d", len(models.DatasetTypes()), len(tpl))
	}
	if cols := tpl[models.DatasetSCADA].RequiredColumns; len(cols) == 0 || cols[0] != "time" {
		t.Errorf("scada columns = %v", cols)
	}
}

func TestPlantSummary(t *testing.T) {
	m := dataset.NewManager()
	h := dataRouter(m, 1<<20)

	if rec := get(h, "/api/v1/plant/summary"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before data is loaded, got %d", rec.Code)
	}

	m.InitDemo()
	rec := get(h, "/api/v1/plant/summary")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var sum models.PlantSummary
	decodeData(t, rec, &sum)
	if sum.Source != models.SourceDemo || sum.Name != "La Haute Borne Wind Farm" {
		t.Errorf("summary = %+v", sum)
	}
	if sum.NumTurbines != 4 {
		t.Errorf("num_turbines = %d", sum.NumTurbines)
	}
}
