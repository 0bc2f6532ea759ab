// Package dataset tracks which plant datasets the server has loaded and
// where they came from.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kiranshivaraju/windops/internal/analysis"
	"github.com/kiranshivaraju/windops/pkg/models"
)

var (
	ErrNoData         = errors.New("no plant data loaded")
	ErrUnknownDataset = errors.New("unknown dataset type")
	ErrEmptyDataset   = errors.New("dataset is empty")
	ErrMalformedCSV   = errors.New("malformed CSV")
)

// demoShapes is the column layout of the bundled demo plant.
var demoShapes = map[models.DatasetType]models.DatasetInfo{
	models.DatasetSCADA: {Rows: 1051200, Columns: []string{
		"Wind_turbine_name", "Date_time", "Ba_avg", "P_avg", "Ws_avg", "Va_avg", "Ot_avg", "Ya_avg", "Wa_avg",
	}},
	models.DatasetMeter:       {Rows: 52560, Columns: []string{"time", "net_energy_kwh"}},
	models.DatasetCurtailment: {Rows: 52560, Columns: []string{"time", "availability_kwh", "curtailment_kwh"}},
	models.DatasetReanalysis:  {Rows: 184080, Columns: []string{"datetime", "WMETR_HorWdSpdU", "WMETR_HorWdSpdV", "WMETR_EnvTmp", "WMETR_AirDen"}},
	models.DatasetAsset:       {Rows: 4, Columns: []string{"Wind_turbine_name", "Latitude", "Longitude", "Rated_power", "Hub_height", "Rotor_diameter"}},
}

const (
	demoPlantName   = "La Haute Borne Wind Farm"
	customPlantName = "Custom Wind Farm"
	demoCapacityMW  = 8.2
)

var templates = map[models.DatasetType]models.DatasetTemplate{
	models.DatasetSCADA: {
		RequiredColumns: []string{"time", "asset_id", "WTUR_W", "WMET_HorWdSpd", "WMET_HorWdDir", "WROT_BlPthAngVal", "WMET_EnvTmp", "WTUR_TurSt"},
		Description:     "Turbine-level time series with power, wind speed, direction, pitch, temperature and status.",
	},
	models.DatasetMeter: {
		RequiredColumns: []string{"time", "MMTR_SupWh"},
		Description:     "Plant-level energy production from the revenue meter.",
	},
	models.DatasetReanalysis: {
		RequiredColumns: []string{"time", "WMETR_HorWdSpd", "WMETR_HorWdSpdU", "WMETR_HorWdSpdV", "WMETR_HorWdDir", "WMETR_EnvTmp", "WMETR_AirDen", "WMETR_EnvPres"},
		Description:     "Gridded weather data (e.g. ERA5, MERRA2) with wind speed, direction, temperature, density and pressure.",
	},
	models.DatasetCurtailment: {
		RequiredColumns: []string{"time", "IAVL_ExtPwrDnWh", "IAVL_DnWh"},
		Description:     "Plant-level availability and curtailment losses.",
	},
	models.DatasetAsset: {
		RequiredColumns: []string{"asset_id", "latitude", "longitude", "rated_power", "hub_height", "rotor_diameter", "elevation", "type"},
		Description:     "Turbine metadata such as location, rating and dimensions. Not a time series.",
	},
}

// Templates returns the expected upload columns per dataset type. Uploads are
// not validated against them.
func Templates() map[models.DatasetType]models.DatasetTemplate {
	out := make(map[models.DatasetType]models.DatasetTemplate, len(templates))
	for t, tpl := range templates {
		tpl.RequiredColumns = append([]string(nil), tpl.RequiredColumns...)
		out[t] = tpl
	}
	return out
}

// Manager holds the dataset state. It is safe for concurrent use.
type Manager struct {
	mu       sync.RWMutex
	source   models.DataSource
	datasets map[models.DatasetType]models.DatasetInfo
	now      func() time.Time
}

// NewManager returns a manager with nothing loaded.
func NewManager() *Manager {
	return &Manager{
		source:   models.SourceNone,
		datasets: make(map[models.DatasetType]models.DatasetInfo),
		now:      time.Now,
	}
}

// InitDemo loads the bundled demo plant and marks the source as demo.
func (m *Manager) InitDemo() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadDemoLocked()
}

// ResetToDemo discards uploaded datasets and reloads the demo plant.
func (m *Manager) ResetToDemo() {
	m.InitDemo()
}

func (m *Manager) loadDemoLocked() {
	now := m.now().UTC()
	m.datasets = make(map[models.DatasetType]models.DatasetInfo, len(demoShapes))
	for t, info := range demoShapes {
		info.Type = t
		info.LoadedAt = now
		info.Columns = append([]string(nil), info.Columns...)
		m.datasets[t] = info
	}
	m.source = models.SourceDemo
}

// CurrentSource reports where the loaded data came from.
func (m *Manager) CurrentSource() models.DataSource {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.source
}

// Upload reads a CSV dataset from r and replaces the dataset of type t.
// Any successful upload switches the source to custom.
func (m *Manager) Upload(t models.DatasetType, r io.Reader) (models.DatasetInfo, error) {
	if !validType(t) {
		return models.DatasetInfo{}, fmt.Errorf("%w: %q", ErrUnknownDataset, t)
	}

	info, err := readShape(r)
	if err != nil {
		return models.DatasetInfo{}, err
	}
	info.Type = t

	m.mu.Lock()
	defer m.mu.Unlock()
	info.LoadedAt = m.now().UTC()
	m.datasets[t] = info
	m.source = models.SourceCustom
	return info, nil
}

// RequiredDatasetsReady reports whether kind can run against the loaded data.
func (m *Manager) RequiredDatasetsReady(kind models.AnalysisKind) models.Readiness {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.readinessLocked(kind)
}

func (m *Manager) readinessLocked(kind models.AnalysisKind) models.Readiness {
	req := analysis.RequirementFor(kind)
	missing := []models.DatasetType{}
	for _, t := range req.Datasets {
		if _, ok := m.datasets[t]; !ok {
			missing = append(missing, t)
		}
	}
	return models.Readiness{
		Ready:       len(missing) == 0,
		Missing:     missing,
		Required:    req.Datasets,
		Description: req.Description,
	}
}

// Status returns a snapshot of everything loaded.
func (m *Manager) Status() models.DataStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := models.DataStatus{
		Source:        m.source,
		Datasets:      make([]models.DatasetType, 0, len(m.datasets)),
		Details:       make(map[models.DatasetType]models.DatasetInfo, len(m.datasets)),
		AnalysisReady: make(map[models.AnalysisKind]models.Readiness),
	}
	for t, info := range m.datasets {
		st.Datasets = append(st.Datasets, t)
		st.Details[t] = info
	}
	sort.Slice(st.Datasets, func(i, j int) bool { return st.Datasets[i] < st.Datasets[j] })
	for _, k := range models.Kinds() {
		st.AnalysisReady[k] = m.readinessLocked(k)
	}
	return st
}

// Summary describes the loaded plant. Each row of the asset table is one
// turbine. It returns ErrNoData before anything is loaded.
func (m *Manager) Summary() (models.PlantSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.source == models.SourceNone || len(m.datasets) == 0 {
		return models.PlantSummary{}, ErrNoData
	}

	sum := models.PlantSummary{
		Name:        customPlantName,
		Source:      m.source,
		NumTurbines: m.datasets[models.DatasetAsset].Rows,
		ScadaRows:   m.datasets[models.DatasetSCADA].Rows,
		MeterRows:   m.datasets[models.DatasetMeter].Rows,
		Datasets:    make(map[models.DatasetType]models.DatasetInfo, len(m.datasets)),
	}
	for t, info := range m.datasets {
		info.Columns = append([]string(nil), info.Columns...)
		sum.Datasets[t] = info
	}
	if m.source == models.SourceDemo {
		capacity := demoCapacityMW
		sum.Name = demoPlantName
		sum.CapacityMW = &capacity
	}
	return sum, nil
}

func validType(t models.DatasetType) bool {
	for _, v := range models.DatasetTypes() {
		if v == t {
			return true
		}
	}
	return false
}

// readShape counts the data rows and records the header. Column contents
// are not validated.
func readShape(r io.Reader) (models.DatasetInfo, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return models.DatasetInfo{}, ErrEmptyDataset
	}
	if err != nil {
		return models.DatasetInfo{}, fmt.Errorf("%w: %v", ErrMalformedCSV, err)
	}
	cols := make([]string, len(header))
	for i, h := range header {
		cols[i] = strings.TrimSpace(h)
	}

	rows := 0
	for {
		_, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return models.DatasetInfo{}, fmt.Errorf("%w: %v", ErrMalformedCSV, err)
		}
		rows++
	}
	if rows == 0 {
		return models.DatasetInfo{}, ErrEmptyDataset
	}
	return models.DatasetInfo{Rows: rows, Columns: cols}, nil
}
