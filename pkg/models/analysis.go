// Package models contains shared data models used across the WindOps codebase.
package models

import (
	"context"
	"encoding/json"
	"fmt"
)

// AnalysisKind identifies one of the fixed wind-plant analyses. All kinds
// share the single execution slot on the server.
type AnalysisKind string

const (
	KindAEP              AnalysisKind = "aep"
	KindElectricalLosses AnalysisKind = "electrical_losses"
	KindTurbineEnergy    AnalysisKind = "turbine_energy"
	KindWake             AnalysisKind = "wake"
	KindGap              AnalysisKind = "gap"
	KindYaw              AnalysisKind = "yaw"
)

var kindLabels = map[AnalysisKind]string{
	KindAEP:              "AEP",
	KindElectricalLosses: "Electrical Losses",
	KindTurbineEnergy:    "Turbine Energy",
	KindWake:             "Wake Losses",
	KindGap:              "Gap Analysis",
	KindYaw:              "Yaw Misalignment",
}

// Kinds returns every analysis kind in display order.
func Kinds() []AnalysisKind {
	return []AnalysisKind{KindAEP, KindElectricalLosses, KindTurbineEnergy, KindWake, KindGap, KindYaw}
}

// ParseKind validates s against the known kinds.
func ParseKind(s string) (AnalysisKind, error) {
	k := AnalysisKind(s)
	if _, ok := kindLabels[k]; !ok {
		return "", fmt.Errorf("unknown analysis kind %q", s)
	}
	return k, nil
}

// Label returns the human readable name, e.g. "Wake Losses".
func (k AnalysisKind) Label() string {
	if l, ok := kindLabels[k]; ok {
		return l
	}
	return string(k)
}

func (k AnalysisKind) String() string { return string(k) }

// AnalysisEngine is the external computation that produces analysis payloads.
// Run is synchronous and may take anywhere from seconds to tens of minutes.
// Implementations should honour ctx, but callers must not rely on it.
type AnalysisEngine interface {
	Run(ctx context.Context, kind AnalysisKind, params map[string]any) (json.RawMessage, error)
	// Name returns the engine identifier (e.g., "remote", "mock").
	Name() string
}
