package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tomjrwilliams/xsm/internal/engine"
)

// Scenario defines one model run and the checks applied to its outcome.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Model is the directory of CUE files to load.
	// Relative paths are resolved against the scenario file's directory.
	Model string `yaml:"model"`

	// Strategy selects the scheduler; empty means the engine default.
	Strategy string `yaml:"strategy,omitempty"`

	// Workers, Iters and Timeout are passed to the engine when non-zero.
	Workers int           `yaml:"workers,omitempty"`
	Iters   int           `yaml:"iters,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// Events are extra initial events appended after the model's seeds.
	Events []EventStep `yaml:"events,omitempty"`

	// Assertions validate the outcome.
	Assertions []Assertion `yaml:"assertions"`

	// RunID fixes the run id for deterministic notification ids.
	// Defaults to "test-run-default".
	RunID string `yaml:"run_id,omitempty"`
}

// EventStep is one extra initial event.
type EventStep struct {
	Variant string `yaml:"variant"`
	Value   any    `yaml:"value"`
}

// Assertion validates the outcome of a run.
type Assertion struct {
	// Type is one of status, entity_count, entity_value, variant_absent,
	// notification_count.
	Type string `yaml:"type"`

	// Status is the expected run status (status).
	Status string `yaml:"status,omitempty"`

	// Variant names the variant checked by every other assertion type.
	Variant string `yaml:"variant,omitempty"`

	// Count is the expected number of entities or notifications.
	Count int `yaml:"count,omitempty"`

	// Value is the expected curr (entity_value). With ID unset, any
	// entity of the variant may hold it.
	Value any    `yaml:"value,omitempty"`
	ID    *int64 `yaml:"id,omitempty"`
}

// Assertion type constants.
const (
	AssertStatus            = "status"
	AssertEntityCount       = "entity_count"
	AssertEntityValue       = "entity_value"
	AssertVariantAbsent     = "variant_absent"
	AssertNotificationCount = "notification_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
// The model path is resolved relative to the file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Model != "" && !filepath.IsAbs(scenario.Model) {
		scenario.Model = filepath.Join(filepath.Dir(path), scenario.Model)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// LoadScenarios loads every *.yaml file in dir, sorted by file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	scenarios := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Model == "" {
		return fmt.Errorf("model is required")
	}
	if info, err := os.Stat(s.Model); err != nil || !info.IsDir() {
		return fmt.Errorf("model directory not found: %s", s.Model)
	}

	if s.Strategy != "" {
		if _, err := engine.ParseStrategy(s.Strategy); err != nil {
			return err
		}
	}
	if s.Workers < 0 || s.Iters < 0 || s.Timeout < 0 {
		return fmt.Errorf("workers, iters and timeout must be non-negative")
	}

	for i, ev := range s.Events {
		if ev.Variant == "" {
			return fmt.Errorf("events[%d]: variant is required", i)
		}
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertStatus:
		if a.Status == "" {
			return fmt.Errorf("assertions[%d]: status is required for status", index)
		}
	case AssertEntityCount, AssertNotificationCount:
		if a.Variant == "" {
			return fmt.Errorf("assertions[%d]: variant is required for %s", index, a.Type)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertEntityValue:
		if a.Variant == "" {
			return fmt.Errorf("assertions[%d]: variant is required for entity_value", index)
		}
	case AssertVariantAbsent:
		if a.Variant == "" {
			return fmt.Errorf("assertions[%d]: variant is required for variant_absent", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
