package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/marginalia/internal/annotation"
	"github.com/roach88/marginalia/internal/canvas"
	"github.com/roach88/marginalia/internal/store"
	"github.com/roach88/marginalia/internal/surface"
)

// Defaults for the orchestrator's text handling.
const (
	DefaultQuoteSeparator = " / "
	DefaultIgnoreSelector = "." + canvas.HighlightClass
)

// Deps are the collaborators the engine drives.
type Deps struct {
	// Store holds the annotations. Required.
	Store *store.Store
	// Surfaces shows the create/edit/view surfaces. Required.
	Surfaces *surface.Coordinator
	// Highlighter paints highlights. Required.
	Highlighter canvas.Highlighter
	// Root is the context node ranges are serialized against. Required.
	Root canvas.Node
	// Model is the bound external data model. Optional.
	Model ModelBinding
	// Journal records lifecycle transitions. Optional.
	Journal Journal
	// Selector feeds completed selections into Select. Optional.
	Selector canvas.Selector
}

// Engine is the single-writer lifecycle event loop.
//
// Public inputs (Select, Render, PointerEnter, PointerLeave and the
// highlight controllers) only enqueue events; surface settlements are
// enqueued from whichever goroutine closes the surface. All lifecycle state
// is owned by the goroutine that drains the queue.
//
// Thread-safety model:
//   - Select, Render, PointerEnter, PointerLeave, Status, Controller: any goroutine
//   - Run, or Step/Flush: exactly one goroutine, never both
type Engine struct {
	store       *store.Store
	surfaces    *surface.Coordinator
	highlighter canvas.Highlighter
	root        canvas.Node
	model       ModelBinding
	journal     Journal

	seq            Sequencer
	sessions       SessionGenerator
	logger         *slog.Logger
	quoteSep       string
	ignoreSelector string
	editCancel     EditCancel
	onDelete       func(*annotation.Annotation)
	onHide         func(*annotation.Annotation, canvas.Position)
	bodyOffset     func() (canvas.Position, bool)

	queue       *eventQueue
	unsubscribe func()
	stopOnce    sync.Once

	// Owned by the loop goroutine.
	state   State
	current *annotation.Annotation
	at      canvas.Position
	session string
	token   uint64

	mu          sync.RWMutex
	status      Status
	controllers map[int64]*HighlightController
}

// Option configures an Engine.
type Option func(*Engine)

// WithSessionGenerator sets the session token source.
// Default: UUIDv7Generator.
func WithSessionGenerator(g SessionGenerator) Option {
	return func(e *Engine) { e.sessions = g }
}

// WithSequencer sets the journal sequence source.
// Default: a fresh Clock.
func WithSequencer(s Sequencer) Option {
	return func(e *Engine) { e.seq = s }
}

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithQuoteSeparator sets the separator between range texts in a quote.
func WithQuoteSeparator(sep string) Option {
	return func(e *Engine) { e.quoteSep = sep }
}

// WithIgnoreSelector sets the selector of markup ignored when serializing ranges.
func WithIgnoreSelector(sel string) Option {
	return func(e *Engine) { e.ignoreSelector = sel }
}

// WithEditCancel sets where cancelling an edit lands.
func WithEditCancel(p EditCancel) Option {
	return func(e *Engine) { e.editCancel = p }
}

// WithDeleteHook sets the function a view surface's delete intent invokes.
// The default does nothing; the engine never removes annotations itself.
func WithDeleteHook(fn func(*annotation.Annotation)) Option {
	return func(e *Engine) { e.onDelete = fn }
}

// WithHideHook sets the function invoked when the pointer leaves a highlight.
func WithHideHook(fn func(*annotation.Annotation, canvas.Position)) Option {
	return func(e *Engine) { e.onHide = fn }
}

// WithBodyOffset sets how the page body offset is discovered.
// Default: Root or Highlighter when they implement canvas.BodyOffsetter.
func WithBodyOffset(fn func() (canvas.Position, bool)) Option {
	return func(e *Engine) { e.bodyOffset = fn }
}

// New creates an Engine over deps.
func New(deps Deps, opts ...Option) (*Engine, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("engine: store is required")
	case deps.Surfaces == nil:
		return nil, errors.New("engine: surface coordinator is required")
	case deps.Highlighter == nil:
		return nil, errors.New("engine: highlighter is required")
	case deps.Root == nil:
		return nil, errors.New("engine: context root is required")
	}

	e := &Engine{
		store:          deps.Store,
		surfaces:       deps.Surfaces,
		highlighter:    deps.Highlighter,
		root:           deps.Root,
		model:          deps.Model,
		journal:        deps.Journal,
		seq:            NewClock(),
		sessions:       UUIDv7Generator{},
		logger:         slog.Default(),
		quoteSep:       DefaultQuoteSeparator,
		ignoreSelector: DefaultIgnoreSelector,
		editCancel:     EditCancelView,
		onDelete:       func(*annotation.Annotation) {},
		onHide:         func(*annotation.Annotation, canvas.Position) {},
		queue:          newEventQueue(),
		controllers:    make(map[int64]*HighlightController),
	}
	e.bodyOffset = defaultBodyOffset(deps.Root, deps.Highlighter)

	for _, opt := range opts {
		opt(e)
	}

	e.store.OnUpdate(func(*annotation.Annotation) {
		e.syncModel()
	})

	if deps.Selector != nil {
		e.unsubscribe = deps.Selector.Subscribe(func(ranges []canvas.Range, ev *canvas.PointerEvent) {
			e.Select(ranges, ev)
		})
	}

	return e, nil
}

func defaultBodyOffset(candidates ...any) func() (canvas.Position, bool) {
	for _, c := range candidates {
		if bo, ok := c.(canvas.BodyOffsetter); ok {
			return bo.BodyOffset
		}
	}
	return func() (canvas.Position, bool) { return canvas.Position{}, false }
}

// Select feeds a completed selection. It reports false when ranges is empty
// or the engine has stopped.
func (e *Engine) Select(ranges []canvas.Range, ev *canvas.PointerEvent) bool {
	if len(ranges) == 0 {
		return false
	}
	if ev == nil {
		ev = canvas.NewPointerEvent(0, 0)
	}
	return e.queue.Enqueue(Event{Type: EventTypeSelection, Ranges: ranges, Pointer: ev})
}

// Render re-hydrates the store from the bound model and renders every
// annotation that is not rendered yet.
func (e *Engine) Render() bool {
	return e.queue.Enqueue(Event{Type: EventTypeRender})
}

// PointerEnter routes a pointer entering a rendered highlight element to its
// annotation's controller. It reports whether el belonged to a registered
// annotation.
func (e *Engine) PointerEnter(el canvas.Element, ev *canvas.PointerEvent) bool {
	ctrl, ok := e.controllerFor(el)
	if !ok {
		return false
	}
	return ctrl.Preview(e.pointerPosition(ev))
}

// PointerLeave routes a pointer leaving a rendered highlight element.
func (e *Engine) PointerLeave(el canvas.Element, ev *canvas.PointerEvent) bool {
	ctrl, ok := e.controllerFor(el)
	if !ok {
		return false
	}
	return ctrl.Hide(e.pointerPosition(ev))
}

// Run starts the single-writer event loop.
// Blocks until ctx is cancelled or Stop is called.
//
// On event processing failure the error is logged and processing
// continues; a failed interaction never takes the loop down.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting")

	for {
		event, ok := e.queue.TryDequeue()
		if ok {
			if err := e.processEvent(ctx, event); err != nil {
				e.logEventError(event, err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.Stop()
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel is closed by Stop; an empty closed queue
			// ends the loop.
			if e.queue.Closed() && e.queue.Len() == 0 {
				e.logger.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Step processes at most one queued event. It reports whether an event was
// processed and returns that event's processing error.
func (e *Engine) Step(ctx context.Context) (bool, error) {
	event, ok := e.queue.TryDequeue()
	if !ok {
		return false, nil
	}
	if err := e.processEvent(ctx, event); err != nil {
		e.logEventError(event, err)
		return true, err
	}
	return true, nil
}

// Flush processes events until the queue is empty and no surface is being
// constructed. Processing errors are logged and journaled, not returned;
// only ctx errors end Flush early.
func (e *Engine) Flush(ctx context.Context) error {
	for {
		for {
			ok, _ := e.Step(ctx)
			if !ok {
				break
			}
		}
		if err := e.surfaces.WaitIdle(ctx); err != nil {
			return err
		}
		if e.queue.Len() == 0 {
			return nil
		}
	}
}

// Stop detaches the selection source and closes the event queue, which
// makes Run return.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		if e.unsubscribe != nil {
			e.unsubscribe()
		}
		e.queue.Close()
	})
}

// Status returns a snapshot of the lifecycle position.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// Controller returns the highlight controller registered for id.
func (e *Engine) Controller(id int64) (*HighlightController, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.controllers[id]
	return c, ok
}

// Controllers returns the number of registered highlight controllers.
func (e *Engine) Controllers() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.controllers)
}

// QueueLen returns the number of events waiting to be processed.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// processEvent routes an event to its handler.
// Called only from the loop goroutine.
func (e *Engine) processEvent(ctx context.Context, event Event) error {
	switch event.Type {
	case EventTypeSelection:
		return e.handleSelection(ctx, event.Ranges, event.Pointer)
	case EventTypeSettled:
		if event.Settlement == nil {
			return fmt.Errorf("settled event missing settlement")
		}
		return e.handleSettled(ctx, event.Settlement)
	case EventTypePreview:
		return e.handlePreview(ctx, event.AnnotationID, event.At)
	case EventTypeEdit:
		return e.handleEdit(ctx, event.AnnotationID, event.At)
	case EventTypeHide:
		return e.handleHide(event.AnnotationID, event.At)
	case EventTypeRender:
		return e.handleRender(ctx)
	default:
		return fmt.Errorf("unknown event type: %d", event.Type)
	}
}

func (e *Engine) logEventError(event Event, err error) {
	attrs := []any{
		"error", err,
		"event", event.Type.String(),
		"session", e.session,
		"state", e.state.String(),
	}
	if event.AnnotationID != 0 {
		attrs = append(attrs, "annotation_id", event.AnnotationID)
	}
	if event.Settlement != nil {
		attrs = append(attrs, "surface", event.Settlement.Kind, "token", event.Settlement.Token)
	}
	e.logger.Error("event processing failed", attrs...)
}

// pointerPosition converts a pointer event to surface coordinates,
// compensating for a positioned page body.
func (e *Engine) pointerPosition(ev *canvas.PointerEvent) canvas.Position {
	if ev == nil {
		return canvas.Position{}
	}
	pos := canvas.Position{Top: ev.PageY, Left: ev.PageX}
	if off, ok := e.bodyOffset(); ok {
		pos.Top -= off.Top
		pos.Left -= off.Left
	}
	return pos
}

// syncModel pushes an export of the store to the bound model.
func (e *Engine) syncModel() {
	if e.model == nil {
		return
	}
	if err := e.model.SetViewValue(e.store.Export()); err != nil {
		e.logger.Error("model update failed", "error", err, "session", e.session)
	}
}
