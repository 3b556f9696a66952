package harness

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/marginalia/internal/engine"
	"github.com/roach88/marginalia/internal/journal"
	"github.com/roach88/marginalia/internal/surface"
)

func TestRun_Testdata(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := Run(scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_FailingAssertionsReported(t *testing.T) {
	scenario := &Scenario{
		Name:        "wrong_expectations",
		Description: "Assertions that cannot hold",
		Document:    "hello world",
		Steps: []Step{
			{Action: StepSelect, Ranges: [][]int{{0, 5}}},
		},
		Assertions: []Assertion{
			{Type: AssertState, State: "idle"},
			{Type: AssertSurface, Surface: "view"},
			{Type: AssertExportCount, Count: 2},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], "Expected: idle")
	assert.Contains(t, result.Errors[0], "Actual: creating")
	assert.Equal(t, "create", result.Surface)
}

func TestRun_StepErrors(t *testing.T) {
	tests := []struct {
		name  string
		steps []Step
		want  string
	}{
		{"confirm without surface", []Step{{Action: StepConfirm}}, "no active surface"},
		{"save on create surface", []Step{{Action: StepSelect, Ranges: [][]int{{0, 5}}}, {Action: StepSave}}, "active surface is create, want edit"},
		{"cancel without surface", []Step{{Action: StepCancel}}, "no active surface to cancel"},
		{"hover unrendered", []Step{{Action: StepHover, Annotation: 4}}, "annotation 4 is not rendered"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scenario := &Scenario{
				Name:        "step_error",
				Description: "d",
				Document:    "hello world",
				Steps:       tt.steps,
				Assertions:  []Assertion{{Type: AssertState, State: "idle"}},
			}
			_, err := Run(scenario)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRun_BadModel(t *testing.T) {
	scenario := &Scenario{
		Name:        "bad_model",
		Description: "d",
		Document:    "hello",
		Model:       []map[string]any{{"id": "seven"}},
		Steps:       []Step{{Action: StepRender}},
		Assertions:  []Assertion{{Type: AssertState, State: "idle"}},
	}
	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model[0]")
}

func TestRun_Options(t *testing.T) {
	scenario := &Scenario{
		Name:        "options",
		Description: "Quote separator, edit cancel policy and body offset",
		Document:    "one two three",
		Options: Options{
			QuoteSeparator: " + ",
			EditCancel:     "idle",
			BodyOffset:     &Point{X: 1, Y: 2},
		},
		Steps: []Step{
			{Action: StepSelect, Ranges: [][]int{{0, 3}, {8, 13}}, At: Point{X: 11, Y: 12}},
			{Action: StepConfirm},
			{Action: StepCancel},
		},
		Assertions: []Assertion{
			{Type: AssertState, State: "idle"},
			{Type: AssertExportContains, Quote: "one + three"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	var open *TraceEvent
	for i := range result.Trace {
		if result.Trace[i].Kind == "open" {
			open = &result.Trace[i]
			break
		}
	}
	require.NotNil(t, open)
	assert.Equal(t, json.Number("10"), open.Detail["left"])
	assert.Equal(t, json.Number("10"), open.Detail["top"])
}

func TestRun_Deterministic(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "create_edit_view.yaml"))
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	a, err := (&TraceSnapshot{ScenarioName: "x", Trace: first.Trace, Export: first.Export}).Marshal()
	require.NoError(t, err)
	b, err := (&TraceSnapshot{ScenarioName: "x", Trace: second.Trace, Export: second.Export}).Marshal()
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRunIn_SharedJournal(t *testing.T) {
	j, err := journal.Open(filepath.Join(t.TempDir(), "trace.db"))
	require.NoError(t, err)
	defer j.Close()

	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "create_cancel.yaml"))
	require.NoError(t, err)

	first, err := RunIn(scenario, Env{Journal: j, Sessions: engine.NewFixedGenerator("first")})
	require.NoError(t, err)
	require.True(t, first.Pass, "errors: %v", first.Errors)

	last, err := j.LastSeq(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(len(first.Trace)), last)

	second, err := RunIn(scenario, Env{
		Journal:   j,
		Sessions:  engine.NewFixedGenerator("second"),
		Sequencer: engine.NewClockAt(last),
	})
	require.NoError(t, err)
	require.True(t, second.Pass, "errors: %v", second.Errors)

	require.Len(t, second.Trace, len(first.Trace))
	for _, e := range second.Trace {
		assert.Equal(t, "second", e.Session)
		assert.Greater(t, e.Seq, last)
	}

	sessions, err := j.Sessions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, sessions)
}

func TestRunIn_CustomTemplates(t *testing.T) {
	scenario := &Scenario{
		Name:        "custom_templates",
		Description: "Surfaces fetch the configured template ids",
		Document:    "hello world",
		Steps:       []Step{{Action: StepSelect, Ranges: [][]int{{0, 5}}}},
		Assertions:  []Assertion{{Type: AssertSurface, Surface: "create"}},
	}

	fetcher := surface.NewFSFetcher(fstest.MapFS{
		"confirm.html": &fstest.MapFile{Data: []byte("<div>confirm</div>")},
	})
	result, err := RunIn(scenario, Env{
		Fetcher:   fetcher,
		Templates: map[surface.Kind]string{surface.KindCreate: "confirm"},
	})
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}
