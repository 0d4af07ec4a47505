package instance

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Save writes inst as indented JSON, creating parent directories.
func Save(path string, inst *Instance) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(inst); err != nil {
		return fmt.Errorf("encode instance: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// Load reads an instance written by Save and checks it for consistency.
func Load(path string) (*Instance, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var inst Instance
	if err := json.Unmarshal(raw, &inst); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := inst.Params.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(inst.Secret) != inst.Params.N {
		return nil, fmt.Errorf("%s: secret has %d coefficients, want %d", path, len(inst.Secret), inst.Params.N)
	}
	for i, q := range inst.Inequalities {
		if len(q.Coeffs) != inst.Params.N {
			return nil, fmt.Errorf("%s: inequality %d has %d coefficients, want %d", path, i, len(q.Coeffs), inst.Params.N)
		}
		if !q.Op.Valid() {
			return nil, fmt.Errorf("%s: inequality %d: invalid operator", path, i)
		}
	}
	return &inst, nil
}
