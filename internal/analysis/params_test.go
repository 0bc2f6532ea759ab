package analysis

import (
	"errors"
	"testing"

	"github.com/kiranshivaraju/windops/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_AppliesDefaults(t *testing.T) {
	got, err := Normalize(models.KindAEP, nil)
	require.NoError(t, err)

	assert.Equal(t, 1000, got["num_sim"])
	assert.Equal(t, "lin", got["reg_model"])
	assert.Equal(t, false, got["reg_temperature"])
	assert.Equal(t, "MS", got["time_resolution"])
}

func TestNormalize_DoesNotMutateInput(t *testing.T) {
	raw := map[string]any{"num_sim": float64(20)}
	_, err := Normalize(models.KindWake, raw)
	require.NoError(t, err)
	assert.Len(t, raw, 1)
	assert.Equal(t, float64(20), raw["num_sim"])
}

func TestNormalize_Validation(t *testing.T) {
	tests := []struct {
		name string
		kind models.AnalysisKind
		raw  map[string]any
	}{
		{"num_sim below minimum", models.KindAEP, map[string]any{"num_sim": float64(50)}},
		{"num_sim above maximum", models.KindYaw, map[string]any{"num_sim": float64(201)}},
		{"num_sim not integral", models.KindWake, map[string]any{"num_sim": 10.5}},
		{"enum mismatch", models.KindAEP, map[string]any{"reg_model": "svm"}},
		{"wrong type", models.KindAEP, map[string]any{"reg_temperature": "yes"}},
		{"uncertainty too large", models.KindElectricalLosses, map[string]any{"uncertainty_meter": 0.2}},
		{"unknown parameter", models.KindYaw, map[string]any{"foo": 1.0}},
		{"gap missing required", models.KindGap, map[string]any{"eya_aep": 100.0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.kind, tt.raw)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidParams))
		})
	}
}

func TestNormalize_GapAnalysis(t *testing.T) {
	got, err := Normalize(models.KindGap, map[string]any{
		"eya_aep":                 300.0,
		"eya_gross_energy":        380.0,
		"oa_aep":                  290.0,
		"oa_availability_losses":  0.04,
		"oa_electrical_losses":    0.015,
		"oa_turbine_ideal_energy": 350.0,
	})
	require.NoError(t, err)
	assert.Equal(t, 0.05, got["eya_availability_losses"])
	assert.Equal(t, 0.0, got["eya_blade_degradation_losses"])
	assert.Equal(t, 290.0, got["oa_aep"])
}

func TestNormalize_UnknownKind(t *testing.T) {
	_, err := Normalize(models.AnalysisKind("power_curve"), nil)
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestParseAssignments(t *testing.T) {
	got, err := ParseAssignments(models.KindAEP, []string{"num_sim=500", "reg_temperature=true", "reg_model=gbm"})
	require.NoError(t, err)
	assert.Equal(t, 500.0, got["num_sim"])
	assert.Equal(t, true, got["reg_temperature"])
	assert.Equal(t, "gbm", got["reg_model"])

	norm, err := Normalize(models.KindAEP, got)
	require.NoError(t, err)
	assert.Equal(t, 500, norm["num_sim"])
}

func TestParseAssignments_Errors(t *testing.T) {
	_, err := ParseAssignments(models.KindAEP, []string{"num_sim"})
	assert.ErrorIs(t, err, ErrInvalidParams)

	_, err = ParseAssignments(models.KindAEP, []string{"num_sim=lots"})
	assert.ErrorIs(t, err, ErrInvalidParams)

	_, err = ParseAssignments(models.KindYaw, []string{"reg_model=lin"})
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestRequirementFor(t *testing.T) {
	req := RequirementFor(models.KindWake)
	assert.ElementsMatch(t,
		[]models.DatasetType{models.DatasetSCADA, models.DatasetAsset, models.DatasetReanalysis},
		req.Datasets)
	assert.NotEmpty(t, req.Description)

	for _, k := range models.Kinds() {
		assert.NotEmpty(t, RequirementFor(k).Datasets, "kind %s", k)
	}
}
