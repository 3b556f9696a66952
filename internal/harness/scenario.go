package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/marginalia/internal/engine"
	"github.com/roach88/marginalia/internal/surface"
)

// Scenario is a scripted annotator session with assertions on the outcome.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Document is the text the session annotates.
	Document string `yaml:"document"`

	// Model is the initial value of the bound model, one object per
	// annotation in its exported shape.
	Model []map[string]any `yaml:"model,omitempty"`

	// Options tweak the engine for this scenario.
	Options Options `yaml:"options,omitempty"`

	// FailTemplates lists template ids whose fetch fails.
	FailTemplates []string `yaml:"fail_templates,omitempty"`

	// SessionPrefix prefixes generated session tokens.
	// Default: "session".
	SessionPrefix string `yaml:"session_prefix,omitempty"`

	// Steps drive the session in order; the engine is flushed after each.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state, export and trace.
	Assertions []Assertion `yaml:"assertions"`
}

// Options mirror the engine options a scenario can set.
type Options struct {
	QuoteSeparator string `yaml:"quote_separator,omitempty"`
	EditCancel     string `yaml:"edit_cancel,omitempty"`
	BodyOffset     *Point `yaml:"body_offset,omitempty"`
}

// Point is a page coordinate.
type Point struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

// Step is one user interaction.
type Step struct {
	// Action is one of the Step* constants.
	Action string `yaml:"action"`

	// Ranges are [start, end) byte offsets (select).
	Ranges [][]int `yaml:"ranges,omitempty"`

	// At is the pointer position (select, hover, leave).
	At Point `yaml:"at,omitempty"`

	// Annotation is the target annotation id (hover, leave).
	Annotation int64 `yaml:"annotation,omitempty"`

	// Fields are written to the working copy before saving (save).
	Fields map[string]any `yaml:"fields,omitempty"`
}

// Step actions.
const (
	StepSelect  = "select"
	StepConfirm = "confirm"
	StepCancel  = "cancel"
	StepSave    = "save"
	StepEdit    = "edit"
	StepDelete  = "delete"
	StepHover   = "hover"
	StepLeave   = "leave"
	StepRender  = "render"
)

// Assertion validates the outcome of a scenario.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// State is the expected lifecycle state (state).
	State string `yaml:"state,omitempty"`

	// Surface is the expected active surface kind, or "none" (surface).
	Surface string `yaml:"surface,omitempty"`

	// Count is the expected number of exported annotations (export_count)
	// or journal entries of Kind (trace_count).
	Count int `yaml:"count,omitempty"`

	// ID selects the exported annotation (export_contains). Zero matches any.
	ID int64 `yaml:"id,omitempty"`

	// Quote is the expected quote (export_contains).
	Quote string `yaml:"quote,omitempty"`

	// Fields are expected free-form fields, subset match (export_contains).
	Fields map[string]any `yaml:"fields,omitempty"`

	// Kind is the journal entry kind (trace_count).
	Kind string `yaml:"kind,omitempty"`

	// Kinds is the expected order of journal entry kinds (trace_order).
	Kinds []string `yaml:"kinds,omitempty"`
}

// Assertion type constants.
const (
	AssertState          = "state"
	AssertSurface        = "surface"
	AssertExportCount    = "export_count"
	AssertExportContains = "export_contains"
	AssertTraceOrder     = "trace_order"
	AssertTraceCount     = "trace_count"
)

// SurfaceNone asserts that no surface is active.
const SurfaceNone = "none"

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Document == "" {
		return fmt.Errorf("document is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if s.Options.EditCancel != "" {
		if _, err := engine.ParseEditCancel(s.Options.EditCancel); err != nil {
			return fmt.Errorf("options.edit_cancel: %w", err)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step, len(s.Document)); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, st *Step, docLen int) error {
	switch st.Action {
	case "":
		return fmt.Errorf("steps[%d]: action is required", index)
	case StepSelect:
		if len(st.Ranges) == 0 {
			return fmt.Errorf("steps[%d]: ranges are required for select", index)
		}
		for j, r := range st.Ranges {
			if len(r) != 2 {
				return fmt.Errorf("steps[%d].ranges[%d]: want [start, end]", index, j)
			}
			if r[0] < 0 || r[1] > docLen || r[0] > r[1] {
				return fmt.Errorf("steps[%d].ranges[%d]: [%d,%d) out of bounds", index, j, r[0], r[1])
			}
		}
	case StepHover, StepLeave:
		if st.Annotation <= 0 {
			return fmt.Errorf("steps[%d]: annotation is required for %s", index, st.Action)
		}
	case StepConfirm, StepCancel, StepSave, StepEdit, StepDelete, StepRender:
	default:
		return fmt.Errorf("steps[%d]: unknown action %q", index, st.Action)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertState:
		if _, err := engine.ParseState(a.State); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	case AssertSurface:
		switch surface.Kind(a.Surface) {
		case SurfaceNone, surface.KindCreate, surface.KindEdit, surface.KindView:
		default:
			return fmt.Errorf("assertions[%d]: unknown surface %q", index, a.Surface)
		}
	case AssertExportCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for export_count", index)
		}
	case AssertExportContains:
		if a.ID == 0 && a.Quote == "" && len(a.Fields) == 0 {
			return fmt.Errorf("assertions[%d]: id, quote or fields is required for export_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Kinds) == 0 {
			return fmt.Errorf("assertions[%d]: kinds list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
