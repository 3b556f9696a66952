package surface

import (
	"sync"

	"github.com/roach88/marginalia/internal/annotation"
	"github.com/roach88/marginalia/internal/canvas"
)

// Kind names a surface variant and its controller.
type Kind string

// Surface kinds.
const (
	KindCreate Kind = "create"
	KindEdit   Kind = "edit"
	KindView   Kind = "view"
)

// Action is the value a view surface resolves with.
type Action string

// View actions.
const (
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
)

// Controller is the interaction logic bound to exactly one instance.
type Controller interface {
	Instance() *Instance
}

// ControllerFactory builds the controller for a freshly constructed instance.
type ControllerFactory func(inst *Instance, payload *annotation.Annotation) Controller

func defaultFactories() map[Kind]ControllerFactory {
	return map[Kind]ControllerFactory{
		KindCreate: func(inst *Instance, _ *annotation.Annotation) Controller {
			return &CreateController{inst: inst}
		},
		KindEdit: func(inst *Instance, payload *annotation.Annotation) Controller {
			working := annotation.New("", nil)
			if payload != nil {
				working = payload.Clone()
			}
			return &EditController{inst: inst, Working: working}
		},
		KindView: func(inst *Instance, payload *annotation.Annotation) Controller {
			return &ViewController{inst: inst, Annotation: payload}
		},
	}
}

// CreateController confirms or cancels a fresh selection.
//
// It also swallows the pointer-up that follows a pointer-down on the surface
// itself, so the page's selection capture does not start a new selection.
type CreateController struct {
	inst *Instance

	mu    sync.Mutex
	armed bool
}

// Instance implements Controller.
func (c *CreateController) Instance() *Instance { return c.inst }

// Confirm resolves the surface with selection, or true when selection is nil.
func (c *CreateController) Confirm(selection any) {
	c.disarm()
	if selection == nil {
		selection = true
	}
	c.inst.Close(selection)
}

// Cancel dismisses the surface.
func (c *CreateController) Cancel() {
	c.inst.Dismiss(nil)
}

// PointerDown handles a pointer-down on the surface.
func (c *CreateController) PointerDown(ev *canvas.PointerEvent) {
	ev.PreventDefault()
	c.mu.Lock()
	c.armed = true
	c.mu.Unlock()
}

// PointerUp consumes the next pointer-up after PointerDown. It reports
// whether the event was consumed.
func (c *CreateController) PointerUp(ev *canvas.PointerEvent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.armed {
		return false
	}
	ev.StopImmediatePropagation()
	c.armed = false
	return true
}

// Armed reports whether the next pointer-up will be consumed.
func (c *CreateController) Armed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.armed
}

func (c *CreateController) disarm() {
	c.mu.Lock()
	c.armed = false
	c.mu.Unlock()
}

// EditController edits a working copy of an annotation.
type EditController struct {
	inst *Instance

	// Working is the copy the surface edits; the payload is never touched.
	Working *annotation.Annotation
}

// Instance implements Controller.
func (c *EditController) Instance() *Instance { return c.inst }

// Save resolves the surface with the working copy.
func (c *EditController) Save() {
	c.inst.Close(c.Working)
}

// Cancel dismisses the surface.
func (c *EditController) Cancel() {
	c.inst.Dismiss(nil)
}

// ViewController shows an annotation read-only.
type ViewController struct {
	inst *Instance

	Annotation *annotation.Annotation
}

// Instance implements Controller.
func (c *ViewController) Instance() *Instance { return c.inst }

// Edit resolves the surface with ActionEdit.
func (c *ViewController) Edit() {
	c.inst.Close(ActionEdit)
}

// Cancel resolves the surface with ActionDelete.
func (c *ViewController) Cancel() {
	c.inst.Close(ActionDelete)
}
