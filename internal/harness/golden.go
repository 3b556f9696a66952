package harness

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/marginalia/internal/annotation"
)

// TraceSnapshot captures the trace and export of a scenario execution.
type TraceSnapshot struct {
	ScenarioName string
	Trace        []TraceEvent
	Export       []*annotation.Annotation
}

// Marshal renders the snapshot as a header line, one canonical JSON line
// per trace event and a final canonical JSON line holding the export.
func (s *TraceSnapshot) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# %s\n", s.ScenarioName)

	for _, event := range s.Trace {
		obj := annotation.Object{
			"seq":     annotation.Int(event.Seq),
			"session": annotation.String(event.Session),
			"kind":    annotation.String(event.Kind),
			"state":   annotation.String(event.State),
		}
		if event.AnnotationID != 0 {
			obj["annotation_id"] = annotation.Int(event.AnnotationID)
		}
		if len(event.Detail) > 0 {
			detail, err := annotation.FromAny(event.Detail)
			if err != nil {
				return nil, fmt.Errorf("seq %d detail: %w", event.Seq, err)
			}
			obj["detail"] = detail
		}
		line, err := annotation.MarshalCanonical(obj)
		if err != nil {
			return nil, fmt.Errorf("seq %d: %w", event.Seq, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	export := make(annotation.Array, len(s.Export))
	for i, a := range s.Export {
		export[i] = a.Object()
	}
	line, err := annotation.MarshalCanonical(annotation.Object{"export": export})
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	buf.Write(line)
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the snapshot doesn't match.
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
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	snapshot := TraceSnapshot{
		ScenarioName: name,
		Trace:        result.Trace,
		Export:       result.Export,
	}
	data, err := snapshot.Marshal()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
