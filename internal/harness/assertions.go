package harness

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/marginalia/internal/annotation"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s", event.Seq, event.Kind, event.State)
			if event.AnnotationID != 0 {
				fmt.Fprintf(&buf, " #%d", event.AnnotationID)
			}
			buf.WriteByte('\n')
		}
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion against result and returns
// the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion) error {
	switch a.Type {
	case AssertState:
		return assertState(result, a)
	case AssertSurface:
		return assertSurface(result, a)
	case AssertExportCount:
		return assertExportCount(result, a)
	case AssertExportContains:
		return assertExportContains(result, a)
	case AssertTraceOrder:
		return assertTraceOrder(result.Trace, a)
	case AssertTraceCount:
		return assertTraceCount(result.Trace, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func assertState(result *Result, a Assertion) error {
	if result.State != a.State {
		return &AssertionError{
			Type:     AssertState,
			Expected: a.State,
			Actual:   result.State,
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertSurface(result *Result, a Assertion) error {
	if result.Surface != a.Surface {
		return &AssertionError{
			Type:     AssertSurface,
			Expected: a.Surface,
			Actual:   result.Surface,
		}
	}
	return nil
}

func assertExportCount(result *Result, a Assertion) error {
	if len(result.Export) != a.Count {
		return &AssertionError{
			Type:     AssertExportCount,
			Expected: fmt.Sprintf("%d exported annotations", a.Count),
			Actual:   fmt.Sprintf("%d exported annotations", len(result.Export)),
		}
	}
	return nil
}

// assertExportContains checks that some exported annotation matches the
// id, quote and fields given (subset semantics).
func assertExportContains(result *Result, a Assertion) error {
	want, err := annotation.FromAny(anyMap(a.Fields))
	if err != nil {
		return fmt.Errorf("export_contains fields: %w", err)
	}
	wantFields := want.(annotation.Object)

	for _, got := range result.Export {
		if a.ID != 0 && got.ID != a.ID {
			continue
		}
		if a.Quote != "" && got.Quote != a.Quote {
			continue
		}
		if matchFields(got.Fields, wantFields) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertExportContains,
		Expected: fmt.Sprintf("annotation id=%d quote=%q fields=%v", a.ID, a.Quote, a.Fields),
		Actual:   describeExport(result.Export),
	}
}

func anyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// matchFields reports whether every expected field equals the actual one.
func matchFields(actual, expected annotation.Object) bool {
	for k, want := range expected {
		got, ok := actual[k]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

func describeExport(export []*annotation.Annotation) string {
	if len(export) == 0 {
		return "export is empty"
	}
	parts := make([]string, 0, len(export))
	for _, a := range export {
		data, err := a.MarshalJSON()
		if err != nil {
			parts = append(parts, fmt.Sprintf("#%d <%v>", a.ID, err))
			continue
		}
		parts = append(parts, string(data))
	}
	return strings.Join(parts, ", ")
}

// assertTraceOrder checks that entry kinds appear in the specified order.
// Kinds don't need to be consecutive, and a kind may repeat: each expected
// kind is matched against the first occurrence after the previous match.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	pos := 0
	for i, kind := range a.Kinds {
		found := false
		for pos < len(trace) {
			event := trace[pos]
			pos++
			if event.Kind == kind {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("kinds in order: %v", a.Kinds),
				Actual:   fmt.Sprintf("%s (index %d) not found after the previous match", kind, i),
				Trace:    trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks if the kind appears exactly the specified number of times.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Kind == a.Kind {
			count++
		}
	}

	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, a.Kind),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}
