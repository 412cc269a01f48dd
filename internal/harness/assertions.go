package harness

import (
	"fmt"
	"strings"

	"github.com/tomjrwilliams/xsm/internal/engine"
	"github.com/tomjrwilliams/xsm/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes the final registry to help debug the failure.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
	Entities []engine.Entry
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Entities) > 0 {
		fmt.Fprintf(&buf, "\nFinal registry:\n")
		for _, entry := range e.Entities {
			fmt.Fprintf(&buf, "  [%d] %s %s\n", entry.ID, entry.State.Variant(), canonicalString(entry.State.Curr()))
		}
	}

	return buf.String()
}

func assertStatus(out *engine.Outcome, a Assertion) error {
	if string(out.Status) == a.Status {
		return nil
	}
	return &AssertionError{
		Type:     AssertStatus,
		Expected: a.Status,
		Actual:   string(out.Status),
		Entities: out.Entities,
	}
}

func assertEntityCount(out *engine.Outcome, a Assertion) error {
	n := len(out.OfVariant(engine.Variant(a.Variant)))
	if n == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertEntityCount,
		Expected: fmt.Sprintf("%d %s entities", a.Count, a.Variant),
		Actual:   fmt.Sprintf("%d entities", n),
		Entities: out.Entities,
	}
}

// assertEntityValue compares canonical JSON, so 1, 1.0 and IRFloat(1)
// are the same value.
func assertEntityValue(out *engine.Outcome, a Assertion) error {
	want, err := ir.MarshalCanonical(a.Value)
	if err != nil {
		return fmt.Errorf("entity_value: expected value: %w", err)
	}

	var seen []string
	for _, entry := range out.OfVariant(engine.Variant(a.Variant)) {
		if a.ID != nil && int64(entry.ID) != *a.ID {
			continue
		}
		got := canonicalString(entry.State.Curr())
		if got == string(want) {
			return nil
		}
		seen = append(seen, got)
	}

	target := a.Variant
	if a.ID != nil {
		target = fmt.Sprintf("%s #%d", a.Variant, *a.ID)
	}
	actual := "no such entity"
	if len(seen) > 0 {
		actual = strings.Join(seen, ", ")
	}
	return &AssertionError{
		Type:     AssertEntityValue,
		Expected: fmt.Sprintf("%s = %s", target, want),
		Actual:   actual,
		Entities: out.Entities,
	}
}

func assertVariantAbsent(out *engine.Outcome, a Assertion) error {
	n := len(out.OfVariant(engine.Variant(a.Variant)))
	if n == 0 {
		return nil
	}
	return &AssertionError{
		Type:     AssertVariantAbsent,
		Expected: fmt.Sprintf("no %s entities", a.Variant),
		Actual:   fmt.Sprintf("%d entities", n),
		Entities: out.Entities,
	}
}

func assertNotificationCount(result *Result, a Assertion) error {
	n := result.Counts[a.Variant]
	if n == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertNotificationCount,
		Expected: fmt.Sprintf("%d %s notifications", a.Count, a.Variant),
		Actual:   fmt.Sprintf("%d notifications", n),
	}
}

func canonicalString(v any) string {
	b, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return string(b)
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		if result.Outcome == nil {
			errors = append(errors, fmt.Sprintf("assertion[%d]: no outcome to check", i))
			continue
		}

		switch assertion.Type {
		case AssertStatus:
			err = assertStatus(result.Outcome, assertion)
		case AssertEntityCount:
			err = assertEntityCount(result.Outcome, assertion)
		case AssertEntityValue:
			err = assertEntityValue(result.Outcome, assertion)
		case AssertVariantAbsent:
			err = assertVariantAbsent(result.Outcome, assertion)
		case AssertNotificationCount:
			err = assertNotificationCount(result, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
