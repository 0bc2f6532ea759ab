// Package analysis defines the parameter schema of every analysis kind and
// the dataset requirements that must be met before it can run.
package analysis

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/kiranshivaraju/windops/pkg/models"
)

// ErrInvalidParams is wrapped by every parameter validation failure.
var ErrInvalidParams = errors.New("invalid analysis parameters")

// FieldType is the JSON type a parameter must have.
type FieldType int

const (
	Int FieldType = iota
	Float
	Bool
	String
)

func (t FieldType) String() string {
	switch t {
	case Int:
		return "integer"
	case Float:
		return "number"
	case Bool:
		return "boolean"
	default:
		return "string"
	}
}

// Field describes one accepted parameter.
type Field struct {
	Name     string
	Type     FieldType
	Default  any
	Required bool
	Min, Max *float64
	Enum     []string
}

// Schema is the full parameter set of one analysis kind.
type Schema struct {
	Kind   models.AnalysisKind
	Fields []Field
}

func bound(v float64) *float64 { return &v }

func intField(name string, def int, lo, hi float64) Field {
	return Field{Name: name, Type: Int, Default: def, Min: bound(lo), Max: bound(hi)}
}

func fraction(name string, def, hi float64) Field {
	return Field{Name: name, Type: Float, Default: def, Min: bound(0), Max: bound(hi)}
}

func requiredFloat(name string) Field {
	return Field{Name: name, Type: Float, Required: true}
}

var schemas = map[models.AnalysisKind]Schema{
	models.KindAEP: {Kind: models.KindAEP, Fields: []Field{
		intField("num_sim", 1000, 100, 10000),
		{Name: "reg_model", Type: String, Default: "lin", Enum: []string{"lin", "gam", "gbm", "etr"}},
		{Name: "reg_temperature", Type: Bool, Default: false},
		{Name: "reg_wind_direction", Type: Bool, Default: false},
		{Name: "time_resolution", Type: String, Default: "MS", Enum: []string{"MS", "ME", "D", "h"}},
	}},
	models.KindElectricalLosses: {Kind: models.KindElectricalLosses, Fields: []Field{
		intField("num_sim", 1000, 100, 10000),
		fraction("uncertainty_meter", 0.005, 0.1),
		fraction("uncertainty_scada", 0.005, 0.1),
	}},
	models.KindTurbineEnergy: {Kind: models.KindTurbineEnergy, Fields: []Field{
		intField("num_sim", 5, 5, 100),
		fraction("uncertainty_scada", 0.005, 0.1),
	}},
	models.KindWake: {Kind: models.KindWake, Fields: []Field{
		intField("num_sim", 10, 5, 200),
		{Name: "wind_direction_col", Type: String, Default: "WMET_HorWdDir"},
		{Name: "wind_direction_data_type", Type: String, Default: "scada", Enum: []string{"scada", "tower"}},
	}},
	models.KindGap: {Kind: models.KindGap, Fields: []Field{
		requiredFloat("eya_aep"),
		requiredFloat("eya_gross_energy"),
		fraction("eya_availability_losses", 0.05, 1),
		fraction("eya_electrical_losses", 0.02, 1),
		fraction("eya_turbine_losses", 0.1, 1),
		fraction("eya_blade_degradation_losses", 0, 1),
		fraction("eya_wake_losses", 0.05, 1),
		requiredFloat("oa_aep"),
		{Name: "oa_availability_losses", Type: Float, Required: true, Min: bound(0), Max: bound(1)},
		{Name: "oa_electrical_losses", Type: Float, Required: true, Min: bound(0), Max: bound(1)},
		requiredFloat("oa_turbine_ideal_energy"),
	}},
	models.KindYaw: {Kind: models.KindYaw, Fields: []Field{
		intField("num_sim", 10, 5, 200),
	}},
}

// SchemaFor returns the schema of kind.
func SchemaFor(kind models.AnalysisKind) (Schema, bool) {
	s, ok := schemas[kind]
	return s, ok
}

func (s Schema) field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Normalize validates raw against the schema of kind and returns a new map
// with defaults filled in. raw is not modified.
func Normalize(kind models.AnalysisKind, raw map[string]any) (map[string]any, error) {
	s, ok := schemas[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown analysis kind %q", ErrInvalidParams, kind)
	}

	var unknown []string
	for name := range raw {
		if _, ok := s.field(name); !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("%w: unknown parameter(s) %s", ErrInvalidParams, strings.Join(unknown, ", "))
	}

	out := make(map[string]any, len(s.Fields))
	for _, f := range s.Fields {
		v, present := raw[f.Name]
		if !present || v == nil {
			if f.Required {
				return nil, fmt.Errorf("%w: %s is required", ErrInvalidParams, f.Name)
			}
			out[f.Name] = f.Default
			continue
		}
		cv, err := f.coerce(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s %v", ErrInvalidParams, f.Name, err)
		}
		out[f.Name] = cv
	}
	return out, nil
}

func (f Field) coerce(v any) (any, error) {
	switch f.Type {
	case Int:
		n, ok := toFloat(v)
		if !ok || n != math.Trunc(n) {
			return nil, fmt.Errorf("must be an %s", f.Type)
		}
		if err := f.checkRange(n); err != nil {
			return nil, err
		}
		return int(n), nil
	case Float:
		n, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("must be a %s", f.Type)
		}
		if err := f.checkRange(n); err != nil {
			return nil, err
		}
		return n, nil
	case Bool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("must be a %s", f.Type)
		}
		return b, nil
	default:
		str, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("must be a %s", f.Type)
		}
		if len(f.Enum) > 0 && !slices.Contains(f.Enum, str) {
			return nil, fmt.Errorf("must be one of %s", strings.Join(f.Enum, ", "))
		}
		return str, nil
	}
}

func (f Field) checkRange(n float64) error {
	if f.Min != nil && n < *f.Min {
		return fmt.Errorf("must be >= %v", *f.Min)
	}
	if f.Max != nil && n > *f.Max {
		return fmt.Errorf("must be <= %v", *f.Max)
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// ParseAssignments turns "name=value" pairs from the command line into a
// parameter map typed according to the schema of kind.
func ParseAssignments(kind models.AnalysisKind, pairs []string) (map[string]any, error) {
	s, ok := schemas[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown analysis kind %q", ErrInvalidParams, kind)
	}
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		name, raw, found := strings.Cut(p, "=")
		if !found || name == "" {
			return nil, fmt.Errorf("%w: expected name=value, got %q", ErrInvalidParams, p)
		}
		f, ok := s.field(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown parameter %s", ErrInvalidParams, name)
		}
		switch f.Type {
		case Int, Float:
			n, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %s must be a %s", ErrInvalidParams, name, f.Type)
			}
			out[name] = n
		case Bool:
			b, err := strconv.ParseBool(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: %s must be a %s", ErrInvalidParams, name, f.Type)
			}
			out[name] = b
		default:
			out[name] = raw
		}
	}
	return out, nil
}
