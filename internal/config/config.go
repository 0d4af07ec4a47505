// Package config loads run configurations for the checkbp command.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"checkbp/checkgraph"
	"checkbp/instance"
)

// Run is one recovery run: where the instance comes from and how the
// propagation loop is driven.
type Run struct {
	// InstancePath names a saved instance. When empty an instance is
	// generated from Instance.
	InstancePath string          `json:"instance_path" yaml:"instance_path"`
	Instance     instance.Params `json:"instance" yaml:"instance"`

	Iterations        int  `json:"iterations" yaml:"iterations"`
	StepsPerIteration int  `json:"steps_per_iteration" yaml:"steps_per_iteration"`
	Threads           int  `json:"threads" yaml:"threads"`
	NoImproveAbort    int  `json:"no_improve_abort" yaml:"no_improve_abort"`
	RequireAll        bool `json:"require_all" yaml:"require_all"`
	// TransformLength overrides the check node transform length.
	TransformLength int  `json:"transform_length" yaml:"transform_length"`
	CheckValidity   bool `json:"check_validity" yaml:"check_validity"`

	ChartPath   string `json:"chart_path" yaml:"chart_path"`
	MetricsAddr string `json:"metrics_addr" yaml:"metrics_addr"`
}

// ApplyDefaults fills unset fields.
func (r *Run) ApplyDefaults() {
	if r.InstancePath == "" {
		r.Instance.ApplyDefaults()
	}
	if r.Iterations == 0 {
		r.Iterations = 20
	}
	if r.StepsPerIteration == 0 {
		r.StepsPerIteration = 2
	}
	if r.Threads == 0 {
		r.Threads = 1
	}
	if r.NoImproveAbort == 0 {
		r.NoImproveAbort = 5
	}
}

// Validate checks the configuration after defaults were applied.
func (r *Run) Validate() error {
	if r.InstancePath == "" {
		if err := r.Instance.Validate(); err != nil {
			return err
		}
	}
	if r.Iterations < 1 || r.StepsPerIteration < 1 || r.NoImproveAbort < 1 {
		return fmt.Errorf("config: iterations, steps_per_iteration and no_improve_abort must be positive")
	}
	if r.Threads < 1 {
		return fmt.Errorf("config: threads=%d must be at least 1", r.Threads)
	}
	if r.TransformLength != 0 && (r.TransformLength < 2 || r.TransformLength&(r.TransformLength-1) != 0) {
		return fmt.Errorf("config: transform_length=%d is not a power of two", r.TransformLength)
	}
	return nil
}

// Load reads a YAML (.yaml, .yml) or JSON file, applies defaults and
// validates the result.
func Load(path string) (Run, error) {
	var r Run
	raw, err := os.ReadFile(path)
	if err != nil {
		return r, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, &r)
	case ".json":
		err = json.Unmarshal(raw, &r)
	default:
		return r, fmt.Errorf("config: unsupported file type %q", filepath.Ext(path))
	}
	if err != nil {
		return r, fmt.Errorf("config: decode %s: %w", path, err)
	}
	r.ApplyDefaults()
	if err := r.Validate(); err != nil {
		return r, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// RecoverOptions returns the loop settings of r.
func (r *Run) RecoverOptions() checkgraph.RecoverOptions {
	return checkgraph.RecoverOptions{
		Iterations:        r.Iterations,
		StepsPerIteration: r.StepsPerIteration,
		Threads:           r.Threads,
		NoImproveAbort:    r.NoImproveAbort,
		RequireAll:        r.RequireAll,
	}
}
