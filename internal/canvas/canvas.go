// Package canvas declares the capabilities the annotator needs from the host
// page: captured text ranges, highlight drawing, surface mounting and pointer
// events. The engine and the surface coordinator only depend on these
// interfaces.
//
// Document is an in-memory implementation over a single text node. It backs
// the CLI session runner, the conformance harness and the tests.
package canvas

import (
	"github.com/roach88/marginalia/internal/annotation"
)

// Attributes placed on rendered highlight elements.
const (
	// AttrStart marks the first element of a highlight.
	AttrStart = "annotation-start"
	// AttrEnd marks the last element of a highlight.
	AttrEnd = "annotation-end"
	// AttrAnnotation carries the annotation id on every highlight element.
	AttrAnnotation = "data-annotation"

	// HighlightClass is the class of highlight markup; ranges are serialized
	// ignoring elements that carry it.
	HighlightClass = "annotator-hl"
)

// Position is a point in page coordinates.
type Position struct {
	Top  float64 `json:"top" yaml:"top"`
	Left float64 `json:"left" yaml:"left"`
}

// PointerEvent is a pointer gesture on the page.
type PointerEvent struct {
	PageX float64
	PageY float64

	defaultPrevented   bool
	propagationStopped bool
}

// NewPointerEvent creates an event at the given page coordinates.
func NewPointerEvent(pageX, pageY float64) *PointerEvent {
	return &PointerEvent{PageX: pageX, PageY: pageY}
}

// PreventDefault suppresses the browser's default handling.
func (e *PointerEvent) PreventDefault() { e.defaultPrevented = true }

// StopImmediatePropagation keeps the event from reaching any other listener.
func (e *PointerEvent) StopImmediatePropagation() { e.propagationStopped = true }

// DefaultPrevented reports whether PreventDefault was called.
func (e *PointerEvent) DefaultPrevented() bool { return e.defaultPrevented }

// PropagationStopped reports whether StopImmediatePropagation was called.
func (e *PointerEvent) PropagationStopped() bool { return e.propagationStopped }

// Node is the context root ranges are serialized against.
type Node interface {
	NodeName() string
}

// Element is a rendered element that can carry attributes.
type Element interface {
	Attr(name string) (string, bool)
	SetAttr(name, value string)
}

// Range is a captured text selection.
type Range interface {
	// Text returns the selected text.
	Text() string
	// Serialize produces a portable descriptor relative to root, ignoring
	// elements matched by ignoreSelector.
	Serialize(root Node, ignoreSelector string) (annotation.Value, error)
}

// Highlighter paints highlight markup over an annotation's ranges.
// Draw may be called repeatedly for the same annotation.
type Highlighter interface {
	Draw(a *annotation.Annotation) ([]Element, error)
}

// Subtree is mounted markup that can be torn down.
type Subtree interface {
	Remove()
}

// Mounter attaches compiled markup to the page at a position.
type Mounter interface {
	Mount(markup string, at Position) (Subtree, error)
}

// SelectionHandler receives completed selections.
type SelectionHandler func(ranges []Range, ev *PointerEvent)

// Selector captures text selections from raw pointer gestures.
// Subscribe returns a function that detaches the handler.
type Selector interface {
	Subscribe(h SelectionHandler) (cancel func())
}

// BodyOffsetter reports the offset of a positioned page body.
// ok is false when the body is statically positioned.
type BodyOffsetter interface {
	BodyOffset() (offset Position, ok bool)
}
