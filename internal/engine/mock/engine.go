// Package mock provides in-process analysis engines for demos and tests.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kiranshivaraju/windops/pkg/models"
)

// Engine satisfies models.AnalysisEngine.
type Engine struct {
	Name_   string
	RunFunc func(ctx context.Context, kind models.AnalysisKind, params map[string]any) (json.RawMessage, error)
}

func (e *Engine) Name() string { return e.Name_ }

func (e *Engine) Run(ctx context.Context, kind models.AnalysisKind, params map[string]any) (json.RawMessage, error) {
	if e.RunFunc != nil {
		return e.RunFunc(ctx, kind, params)
	}
	return json.RawMessage(`{}`), nil
}

// NewEngine returns an engine that takes delay to produce a synthetic result.
func NewEngine(delay time.Duration) *Engine {
	return &Engine{
		Name_: "mock",
		RunFunc: func(ctx context.Context, kind models.AnalysisKind, params map[string]any) (json.RawMessage, error) {
			t := time.NewTimer(delay)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-t.C:
			}
			return json.Marshal(syntheticResult(kind, params))
		},
	}
}

// NewFailingEngine returns an engine that always returns err.
func NewFailingEngine(err error) *Engine {
	return &Engine{
		Name_: "mock-failing",
		RunFunc: func(_ context.Context, _ models.AnalysisKind, _ map[string]any) (json.RawMessage, error) {
			return nil, err
		},
	}
}

// NewPanickingEngine returns an engine that panics with v.
func NewPanickingEngine(v any) *Engine {
	return &Engine{
		Name_: "mock-panicking",
		RunFunc: func(_ context.Context, _ models.AnalysisKind, _ map[string]any) (json.RawMessage, error) {
			panic(v)
		},
	}
}

// NewGatedEngine returns an engine that blocks until release is closed and
// then returns result. It honours ctx.
func NewGatedEngine(release <-chan struct{}, result json.RawMessage) *Engine {
	return &Engine{
		Name_: "mock-gated",
		RunFunc: func(ctx context.Context, _ models.AnalysisKind, _ map[string]any) (json.RawMessage, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-release:
				return result, nil
			}
		},
	}
}

// NewStuckEngine returns an engine that ignores ctx and only returns once
// release is closed.
func NewStuckEngine(release <-chan struct{}) *Engine {
	return &Engine{
		Name_: "mock-stuck",
		RunFunc: func(_ context.Context, _ models.AnalysisKind, _ map[string]any) (json.RawMessage, error) {
			<-release
			return json.RawMessage(`{}`), nil
		},
	}
}

func syntheticResult(kind models.AnalysisKind, params map[string]any) map[string]any {
	stats := map[string]any{}
	switch kind {
	case models.KindAEP:
		stats = map[string]any{"aep_gwh_mean": 12.41, "aep_gwh_std": 0.87, "availability_loss_pct": 1.9, "curtailment_loss_pct": 0.4}
	case models.KindElectricalLosses:
		stats = map[string]any{"electrical_loss_mean": 0.0213, "electrical_loss_std": 0.0031}
	case models.KindTurbineEnergy:
		stats = map[string]any{"turbine_gross_energy_gwh": map[string]float64{"R80711": 3.42, "R80721": 3.37, "R80736": 3.51, "R80790": 3.29}}
	case models.KindWake:
		stats = map[string]any{"plant_wake_loss": 0.071, "plant_wake_loss_lt": 0.068}
	case models.KindGap:
		stats = map[string]any{"aep_diff_gwh": -0.82, "availability_diff_gwh": -0.31, "electrical_diff_gwh": 0.05, "unexplained_gwh": -0.56}
	case models.KindYaw:
		stats = map[string]any{"yaw_misalignment_deg": map[string]float64{"R80711": 2.1, "R80721": -1.4, "R80736": 0.6, "R80790": 3.8}}
	}
	return map[string]any{
		"analysis":   string(kind),
		"params":     params,
		"statistics": stats,
		"plots":      map[string]string{},
		"note":       fmt.Sprintf("synthetic %s result", kind.Label()),
	}
}

// Compile-time check that Engine implements AnalysisEngine.
var _ models.AnalysisEngine = (*Engine)(nil)
