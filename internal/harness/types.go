package harness

import (
	"github.com/roach88/marginalia/internal/annotation"
	"github.com/roach88/marginalia/internal/journal"
)

// TraceEvent is one journaled lifecycle transition.
type TraceEvent struct {
	Seq          int64          `json:"seq"`
	Session      string         `json:"session"`
	Kind         string         `json:"kind"`
	State        string         `json:"state"`
	AnnotationID int64          `json:"annotation_id,omitempty"`
	Detail       map[string]any `json:"detail,omitempty"`
}

func traceEventFrom(e journal.Entry) TraceEvent {
	return TraceEvent{
		Seq:          e.Seq,
		Session:      e.Session,
		Kind:         e.Kind,
		State:        e.State,
		AnnotationID: e.AnnotationID,
		Detail:       e.Detail,
	}
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every assertion holds.
	Pass bool `json:"pass"`

	// Trace contains every journaled transition in seq order.
	Trace []TraceEvent `json:"trace"`

	// Export is the store's export after the last step.
	Export []*annotation.Annotation `json:"export"`

	// State is the final lifecycle state.
	State string `json:"state"`

	// Surface is the kind of the active surface, or "none".
	Surface string `json:"surface"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Trace:   []TraceEvent{},
		Export:  []*annotation.Annotation{},
		Surface: SurfaceNone,
		Errors:  []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
