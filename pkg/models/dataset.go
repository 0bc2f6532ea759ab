package models

import "time"

// DataSource identifies which dataset the server is currently analysing.
type DataSource string

const (
	SourceNone   DataSource = "none"
	SourceDemo   DataSource = "demo"
	SourceCustom DataSource = "custom"
	// SourceUnknown marks client cache entries written before provenance
	// was recorded.
	SourceUnknown DataSource = "unknown"
)

// DatasetType is one of the uploadable plant datasets.
type DatasetType string

const (
	DatasetSCADA       DatasetType = "scada"
	DatasetMeter       DatasetType = "meter"
	DatasetReanalysis  DatasetType = "reanalysis"
	DatasetCurtailment DatasetType = "curtailment"
	DatasetAsset       DatasetType = "asset"
)

// DatasetTypes returns all uploadable dataset types.
func DatasetTypes() []DatasetType {
	return []DatasetType{DatasetSCADA, DatasetMeter, DatasetReanalysis, DatasetCurtailment, DatasetAsset}
}

// DatasetInfo describes a loaded dataset. Only the shape is recorded.
type DatasetInfo struct {
	Type     DatasetType `json:"type"`
	Rows     int         `json:"rows"`
	Columns  []string    `json:"columns"`
	LoadedAt time.Time   `json:"loaded_at"`
}

// Readiness reports whether the datasets an analysis needs are loaded.
type Readiness struct {
	Ready       bool          `json:"ready"`
	Missing     []DatasetType `json:"missing"`
	Required    []DatasetType `json:"required"`
	Description string        `json:"description"`
}

// DataStatus is the answer of GET /api/v1/data/status.
type DataStatus struct {
	Source        DataSource                  `json:"source"`
	Datasets      []DatasetType               `json:"datasets"`
	Details       map[DatasetType]DatasetInfo `json:"details"`
	AnalysisReady map[AnalysisKind]Readiness  `json:"analysis_ready"`
}

// DatasetTemplate lists the columns an uploaded dataset is expected to have.
type DatasetTemplate struct {
	RequiredColumns []string `json:"required_columns"`
	Description     string   `json:"description"`
}

// PlantSummary is the answer of GET /api/v1/plant/summary. Turbine count and
// capacity are only known for the demo plant or once an asset table is
// loaded.
type PlantSummary struct {
	Name        string                      `json:"name"`
	Source      DataSource                  `json:"source"`
	NumTurbines int                         `json:"num_turbines"`
	CapacityMW  *float64                    `json:"capacity_mw"`
	ScadaRows   int                         `json:"scada_rows"`
	MeterRows   int                         `json:"meter_rows"`
	Datasets    map[DatasetType]DatasetInfo `json:"datasets"`
}
