package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/tomjrwilliams/xsm/internal/ir"
)

// OutcomeSnapshot is the part of a result compared against golden files.
// All fields use canonical JSON serialization for deterministic comparison.
type OutcomeSnapshot struct {
	ScenarioName string
	Status       string
	Snapshot     ir.IRArray
	Counts       map[string]int
}

// toCanonical converts the snapshot to an IRObject for canonical JSON
// serialization.
func (s *OutcomeSnapshot) toCanonical() ir.IRObject {
	counts := make(ir.IRObject, len(s.Counts))
	for variant, n := range s.Counts {
		counts[variant] = ir.IRInt(n)
	}
	snapshot := s.Snapshot
	if snapshot == nil {
		snapshot = ir.IRArray{}
	}
	return ir.IRObject{
		"scenario_name": ir.IRString(s.ScenarioName),
		"status":        ir.IRString(s.Status),
		"snapshot":      snapshot,
		"counts":        counts,
	}
}

// MarshalGolden renders the golden form of a result.
func MarshalGolden(scenarioName string, result *Result) ([]byte, error) {
	snap := OutcomeSnapshot{
		ScenarioName: scenarioName,
		Status:       result.Status,
		Snapshot:     result.Snapshot,
		Counts:       result.Counts,
	}
	return ir.MarshalCanonical(snap.toCanonical())
}

// RunWithGolden executes a scenario and compares its outcome against a
// golden file stored in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the outcome doesn't match.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an already computed result against its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := MarshalGolden(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)

	return nil
}
