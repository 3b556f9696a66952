package engine

import (
	"strconv"

	"github.com/roach88/marginalia/internal/annotation"
	"github.com/roach88/marginalia/internal/canvas"
)

// Boundary marker values.
const (
	startMarker = "1"
	endMarker   = "2"
)

// HighlightController routes on-canvas interaction with one rendered
// annotation back into the engine. Methods only enqueue events and are safe
// from any goroutine.
type HighlightController struct {
	e        *Engine
	id       int64
	elements []canvas.Element
}

// AnnotationID returns the id of the annotation this controller serves.
func (c *HighlightController) AnnotationID() int64 {
	return c.id
}

// Elements returns the rendered highlight elements.
func (c *HighlightController) Elements() []canvas.Element {
	out := make([]canvas.Element, len(c.elements))
	copy(out, c.elements)
	return out
}

// Preview opens the view surface for the annotation at position at.
func (c *HighlightController) Preview(at canvas.Position) bool {
	return c.e.queue.Enqueue(Event{Type: EventTypePreview, AnnotationID: c.id, At: at})
}

// Edit opens the edit surface for the annotation at position at.
func (c *HighlightController) Edit(at canvas.Position) bool {
	return c.e.queue.Enqueue(Event{Type: EventTypeEdit, AnnotationID: c.id, At: at})
}

// Hide runs the hover-leave hook for the annotation.
func (c *HighlightController) Hide(at canvas.Position) bool {
	return c.e.queue.Enqueue(Event{Type: EventTypeHide, AnnotationID: c.id, At: at})
}

// tagBoundaries marks the first and last highlight elements.
func tagBoundaries(elems []canvas.Element) {
	elems[0].SetAttr(canvas.AttrStart, startMarker)
	elems[len(elems)-1].SetAttr(canvas.AttrEnd, endMarker)
}

// register tags every element with a's id and records its controller.
func (e *Engine) register(a *annotation.Annotation, elems []canvas.Element) *HighlightController {
	id := strconv.FormatInt(a.ID, 10)
	for _, el := range elems {
		el.SetAttr(canvas.AttrAnnotation, id)
	}

	ctrl := &HighlightController{e: e, id: a.ID, elements: elems}
	e.mu.Lock()
	e.controllers[a.ID] = ctrl
	e.mu.Unlock()
	return ctrl
}

// controllerFor resolves a rendered element to its annotation's controller.
func (e *Engine) controllerFor(el canvas.Element) (*HighlightController, bool) {
	if el == nil {
		return nil, false
	}
	raw, ok := el.Attr(canvas.AttrAnnotation)
	if !ok {
		return nil, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		e.logger.Debug("highlight element with malformed annotation id", "value", raw)
		return nil, false
	}
	return e.Controller(id)
}
