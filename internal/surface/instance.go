package surface

import (
	"context"

	"github.com/roach88/marginalia/internal/annotation"
	"github.com/roach88/marginalia/internal/canvas"
)

// Scope is the isolated evaluation scope of one surface. It shares nothing
// with other surfaces; its context is cancelled on teardown.
type Scope struct {
	ctx    context.Context
	cancel context.CancelFunc

	Kind       Kind
	Payload    *annotation.Annotation
	Controller Controller
}

func newScope(parent context.Context, kind Kind, payload *annotation.Annotation) *Scope {
	ctx, cancel := context.WithCancel(parent)
	return &Scope{ctx: ctx, cancel: cancel, Kind: kind, Payload: payload}
}

// Context is done once the scope is destroyed.
func (s *Scope) Context() context.Context {
	return s.ctx
}

// Destroyed reports whether the scope has been torn down.
func (s *Scope) Destroyed() bool {
	return s.ctx.Err() != nil
}

func (s *Scope) destroy() {
	s.cancel()
}

// Instance is a constructed, mounted surface.
type Instance struct {
	c       *Coordinator
	handle  *Handle
	scope   *Scope
	subtree canvas.Subtree

	// Kind and At are fixed at construction.
	Kind Kind
	At   canvas.Position

	finished bool // guarded by c.mu
}

// Result returns the handle this instance settles.
func (i *Instance) Result() *Handle {
	return i.handle
}

// Scope returns the instance's isolated scope.
func (i *Instance) Scope() *Scope {
	return i.scope
}

// Controller returns the controller bound to this instance.
func (i *Instance) Controller() Controller {
	return i.scope.Controller
}

// Close resolves the handle with value and tears the surface down.
// Calls after the first Close or Dismiss do nothing.
func (i *Instance) Close(value any) {
	i.c.finish(i, value, nil)
}

// Dismiss rejects the handle with reason and tears the surface down.
// A nil reason rejects with ErrDismissed; an error is used as is.
// Calls after the first Close or Dismiss do nothing.
func (i *Instance) Dismiss(reason any) {
	i.c.finish(i, nil, dismissReason(reason))
}

func (i *Instance) teardown() {
	if i.subtree != nil {
		i.subtree.Remove()
	}
	i.scope.destroy()
}
