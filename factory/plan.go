/*
Package factory builds plan configurations from YAML or JSON files.

PURPOSE:
  Lets operators tune the compensation plan without code changes. A file
  only names the fields it changes; everything else comes from
  plan.Default(). The merged result is validated before it is returned.

OVERLAY RULES:
  - Objects merge field by field, at any depth (regions, kits, clubs...)
  - Arrays replace the default array as a whole (tiers, personal_rates...)
  - Amounts may be written as numbers or strings ("0.05" or 0.05)

EXAMPLE (YAML):
  root_volume: 150
  regions:
    UZ:
      grace_months: 4
  personal_rates:
    - {min_volume: 50, rate: 0.05}
    - {min_volume: 200, rate: 0.12}

USAGE:
  f := factory.NewPlanFactory()
  cfg, err := f.Load("plan.yaml")
  tree, err := network.NewTree(cfg, budget)

SEE ALSO:
  - plan/default.go: The reference plan every overlay starts from
  - cmd/server/main.go, cmd/simulate/main.go: --plan flag
*/
package factory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/warp/compplan/plan"
	"gopkg.in/yaml.v3"
)

// Format is the encoding of a plan file.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatOf infers the format from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported plan file extension %q", filepath.Ext(path))
	}
}

// =============================================================================
// PLAN FACTORY
// =============================================================================

// PlanFactory overlays plan files onto a base plan.
type PlanFactory struct {
	base func() plan.Config
}

// NewPlanFactory creates a factory whose base is plan.Default.
func NewPlanFactory() *PlanFactory {
	return &PlanFactory{base: plan.Default}
}

// Load reads path and overlays it onto the base plan.
func (f *PlanFactory) Load(path string) (plan.Config, error) {
	format, err := FormatOf(path)
	if err != nil {
		return plan.Config{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return plan.Config{}, fmt.Errorf("read %s: %w", path, err)
	}
	cfg, err := f.Parse(data, format)
	if err != nil {
		return plan.Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse overlays data onto the base plan and validates the result. Empty
// input yields the base plan.
func (f *PlanFactory) Parse(data []byte, format Format) (plan.Config, error) {
	overlay, err := decode(data, format)
	if err != nil {
		return plan.Config{}, err
	}

	base, err := toTree(f.base())
	if err != nil {
		return plan.Config{}, fmt.Errorf("encode base plan: %w", err)
	}
	merge(base, overlay)

	merged, err := json.Marshal(base)
	if err != nil {
		return plan.Config{}, fmt.Errorf("encode merged plan: %w", err)
	}
	var cfg plan.Config
	if err := json.Unmarshal(merged, &cfg); err != nil {
		return plan.Config{}, fmt.Errorf("decode merged plan: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return plan.Config{}, fmt.Errorf("invalid plan: %w", err)
	}
	return cfg, nil
}

// Export encodes cfg in format. Amounts are written as strings.
func (f *PlanFactory) Export(cfg plan.Config, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(cfg, "", "  ")
	case FormatYAML:
		tree, err := toTree(cfg)
		if err != nil {
			return nil, err
		}
		return yaml.Marshal(tree)
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}

// =============================================================================
// GENERIC TREE HELPERS
// =============================================================================

func decode(data []byte, format Format) (map[string]any, error) {
	out := map[string]any{}
	if len(bytes.TrimSpace(data)) == 0 {
		return out, nil
	}
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("parse plan JSON: %w", err)
		}
	case FormatYAML:
		var raw any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse plan YAML: %w", err)
		}
		m, ok := normalize(raw).(map[string]any)
		if !ok {
			return nil, fmt.Errorf("parse plan YAML: top level must be a mapping")
		}
		out = m
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
	return out, nil
}

// toTree converts cfg to nested maps through its JSON encoding. Amounts
// stay strings; counts become float64.
func toTree(cfg plan.Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// merge copies src into dst. Nested objects merge; anything else replaces.
func merge(dst, src map[string]any) {
	for k, sv := range src {
		sm, srcIsMap := sv.(map[string]any)
		dm, dstIsMap := dst[k].(map[string]any)
		if srcIsMap && dstIsMap {
			merge(dm, sm)
			continue
		}
		dst[k] = sv
	}
}

// normalize turns YAML mappings with non-string keys into string-keyed maps
// so the tree can be JSON encoded.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = normalize(e)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = normalize(e)
		}
		return out
	case []any:
		for i, e := range t {
			t[i] = normalize(e)
		}
		return t
	default:
		return v
	}
}
