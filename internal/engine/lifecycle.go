package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/marginalia/internal/annotation"
	"github.com/roach88/marginalia/internal/canvas"
	"github.com/roach88/marginalia/internal/journal"
	"github.com/roach88/marginalia/internal/surface"
)

// Settlement outcomes as journaled.
const (
	outcomeResolved   = "resolved"
	outcomeDismissed  = "dismissed"
	outcomeSuperseded = "superseded"
	outcomeFailed     = "failed"
)

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return outcomeResolved
	case surface.IsSuperseded(err):
		return outcomeSuperseded
	case surface.IsCancellation(err):
		return outcomeDismissed
	default:
		return outcomeFailed
	}
}

// handleSelection builds a draft from a completed selection and opens the
// create surface at the pointer.
func (e *Engine) handleSelection(ctx context.Context, ranges []canvas.Range, ev *canvas.PointerEvent) error {
	draft, err := e.makeDraft(ranges)
	if err != nil {
		if e.state == StateIdle {
			e.beginSession()
		}
		err = newRuntimeError(ErrCodeSerializeFailed, e.session, 0, "serialize selection", err)
		e.recordError(ctx, err)
		return err
	}

	e.beginSession()
	e.current = draft
	e.at = e.pointerPosition(ev)
	e.setState(StateCreating)
	e.record(ctx, EntrySelect, 0, map[string]any{
		"quote":  draft.Quote,
		"ranges": len(draft.Ranges),
	})
	e.open(ctx, surface.KindCreate, nil)
	return nil
}

// makeDraft builds a local draft annotation from captured ranges.
func (e *Engine) makeDraft(ranges []canvas.Range) (*annotation.Annotation, error) {
	texts := make([]string, 0, len(ranges))
	serialized := make([]annotation.Value, 0, len(ranges))
	for i, r := range ranges {
		texts = append(texts, annotation.NormalizeText(strings.TrimSpace(r.Text())))
		v, err := r.Serialize(e.root, e.ignoreSelector)
		if err != nil {
			return nil, fmt.Errorf("range %d: %w", i, err)
		}
		serialized = append(serialized, v)
	}
	draft := annotation.New(strings.Join(texts, e.quoteSep), serialized)
	draft.Local = true
	return draft, nil
}

// open requests a surface of kind for the current interaction. Its
// settlement comes back through the queue tagged with a fresh token.
func (e *Engine) open(ctx context.Context, kind surface.Kind, payload *annotation.Annotation) {
	e.token++
	token := e.token

	var id int64
	if payload != nil {
		id = payload.ID
	}
	e.record(ctx, EntryOpen, id, map[string]any{
		"surface": string(kind),
		"top":     e.at.Top,
		"left":    e.at.Left,
	})

	h := e.surfaces.Open(ctx, e.at, kind, payload)
	h.Then(func(value any, err error) {
		e.queue.Enqueue(Event{
			Type:       EventTypeSettled,
			Settlement: &Settlement{Token: token, Kind: kind, Value: value, Err: err},
		})
	})
}

// handleSettled advances the state machine on a surface result.
func (e *Engine) handleSettled(ctx context.Context, s *Settlement) error {
	outcome := outcomeOf(s.Err)

	if s.Token != e.token {
		e.logger.Debug("ignoring stale surface result",
			"surface", s.Kind,
			"token", s.Token,
			"current", e.token,
			"outcome", outcome,
		)
		e.record(ctx, EntrySuperseded, 0, map[string]any{
			"surface": string(s.Kind),
			"outcome": outcome,
		})
		return nil
	}

	switch outcome {
	case outcomeFailed:
		err := newRuntimeError(ErrCodeTemplateFailed, e.session, e.currentID(), fmt.Sprintf("open %s surface", s.Kind), s.Err)
		e.logger.Warn("surface failed", "surface", s.Kind, "error", s.Err, "session", e.session)
		e.toIdle()
		e.recordError(ctx, err)
		return err
	case outcomeSuperseded:
		e.toIdle()
		e.record(ctx, EntryCancel, 0, map[string]any{"surface": string(s.Kind), "outcome": outcome})
		return nil
	}

	switch s.Kind {
	case surface.KindCreate:
		return e.settleCreate(ctx, s, outcome)
	case surface.KindEdit:
		return e.settleEdit(ctx, s, outcome)
	case surface.KindView:
		return e.settleView(ctx, s, outcome)
	default:
		return fmt.Errorf("settlement for unknown surface kind %q", s.Kind)
	}
}

func (e *Engine) settleCreate(ctx context.Context, s *Settlement, outcome string) error {
	if outcome != outcomeResolved {
		e.toIdle()
		e.record(ctx, EntryCancel, 0, map[string]any{"surface": string(s.Kind)})
		return nil
	}

	draft := e.current
	e.record(ctx, EntryConfirm, 0, map[string]any{"surface": string(s.Kind)})

	elems, err := e.draw(draft)
	if err != nil {
		e.toIdle()
		e.recordError(ctx, err)
		return err
	}
	tagBoundaries(elems)

	stored := e.store.Set(draft)
	e.register(stored, elems)
	e.current = stored
	e.setState(StateEditing)
	e.record(ctx, EntryRegister, stored.ID, map[string]any{"elements": len(elems)})
	e.syncModel()

	e.open(ctx, surface.KindEdit, stored)
	return nil
}

func (e *Engine) settleEdit(ctx context.Context, s *Settlement, outcome string) error {
	if outcome != outcomeResolved {
		if e.editCancel == EditCancelView && e.current != nil && !e.current.IsDraft() {
			e.setState(StateViewing)
			e.record(ctx, EntryCancel, e.current.ID, map[string]any{"surface": string(s.Kind)})
			e.open(ctx, surface.KindView, e.current)
			return nil
		}
		id := e.currentID()
		e.toIdle()
		e.record(ctx, EntryCancel, id, map[string]any{"surface": string(s.Kind)})
		return nil
	}

	edited, ok := s.Value.(*annotation.Annotation)
	if !ok {
		e.toIdle()
		err := fmt.Errorf("edit surface resolved with %T, want *annotation.Annotation", s.Value)
		e.recordError(ctx, err)
		return err
	}

	if _, known := e.store.Get(edited.ID); !known {
		e.toIdle()
		err := newUnknownAnnotationError(e.session, edited.ID)
		e.recordError(ctx, err)
		return err
	}
	edited.Local = false
	stored := e.store.Update(edited)

	e.current = stored
	e.setState(StateViewing)
	e.record(ctx, EntrySave, stored.ID, nil)
	e.open(ctx, surface.KindView, stored)
	return nil
}

func (e *Engine) settleView(ctx context.Context, s *Settlement, outcome string) error {
	id := e.currentID()
	if outcome != outcomeResolved {
		e.toIdle()
		e.record(ctx, EntryCancel, id, map[string]any{"surface": string(s.Kind)})
		return nil
	}

	switch s.Value {
	case surface.ActionEdit:
		e.setState(StateEditing)
		e.record(ctx, EntryAction, id, map[string]any{"action": string(surface.ActionEdit)})
		e.open(ctx, surface.KindEdit, e.current)
	case surface.ActionDelete:
		a := e.current
		e.toIdle()
		e.record(ctx, EntryDelete, id, nil)
		if a != nil {
			e.onDelete(a)
		}
	default:
		e.toIdle()
		e.record(ctx, EntryCancel, id, map[string]any{"surface": string(s.Kind)})
	}
	return nil
}

// handlePreview opens the view surface for a registered annotation.
func (e *Engine) handlePreview(ctx context.Context, id int64, at canvas.Position) error {
	if e.current != nil && e.current.ID == id && (e.state == StateViewing || e.state == StateEditing) {
		e.logger.Debug("preview skipped: annotation already open", "annotation_id", id, "state", e.state.String())
		return nil
	}

	a, ok := e.store.Get(id)
	if !ok {
		err := newUnknownAnnotationError(e.session, id)
		e.logger.Debug("preview of unknown annotation", "annotation_id", id)
		return err
	}

	if e.state == StateIdle {
		e.beginSession()
	}
	e.current = a
	e.at = at
	e.setState(StateViewing)
	e.record(ctx, EntryPreview, id, nil)
	e.open(ctx, surface.KindView, a)
	return nil
}

// handleEdit opens the edit surface for a registered annotation.
func (e *Engine) handleEdit(ctx context.Context, id int64, at canvas.Position) error {
	a, ok := e.store.Get(id)
	if !ok {
		return newUnknownAnnotationError(e.session, id)
	}

	if e.state == StateIdle {
		e.beginSession()
	}
	e.current = a
	e.at = at
	e.setState(StateEditing)
	e.record(ctx, EntryEdit, id, nil)
	e.open(ctx, surface.KindEdit, a)
	return nil
}

// handleHide runs the hover-leave hook.
func (e *Engine) handleHide(id int64, at canvas.Position) error {
	a, ok := e.store.Get(id)
	if !ok {
		return newUnknownAnnotationError(e.session, id)
	}
	e.onHide(a, at)
	return nil
}

// handleRender bulk-loads the bound model into the store and renders every
// annotation whose highlight is not tagged yet.
func (e *Engine) handleRender(ctx context.Context) error {
	if e.state == StateIdle {
		e.beginSession()
	}
	if e.model == nil {
		e.record(ctx, EntryHydrate, 0, map[string]any{"loaded": 0, "rendered": 0, "skipped": 0})
		return nil
	}

	value, err := e.model.Value()
	if err != nil {
		err = newRuntimeError(ErrCodeModelFailed, e.session, 0, "read model value", err)
		e.recordError(ctx, err)
		return err
	}

	incoming := make([]*annotation.Annotation, 0, len(value))
	for _, a := range value {
		if a != nil {
			incoming = append(incoming, a.Clone())
		}
	}
	e.store.SetMany(incoming)
	if e.current != nil && !e.current.IsDraft() {
		if cur, ok := e.store.Get(e.current.ID); ok {
			e.current = cur
		}
	}

	var rendered, skipped int
	var firstErr error
	for _, id := range e.store.IDs() {
		a, ok := e.store.Get(id)
		if !ok {
			continue
		}
		elems, err := e.draw(a)
		if err != nil {
			e.recordError(ctx, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if _, tagged := elems[0].Attr(canvas.AttrStart); tagged {
			skipped++
			continue
		}
		tagBoundaries(elems)
		e.register(a, elems)
		rendered++
	}

	e.record(ctx, EntryHydrate, 0, map[string]any{
		"loaded":   len(incoming),
		"rendered": rendered,
		"skipped":  skipped,
	})
	return firstErr
}

// draw paints a's highlight. An empty result is a failure.
func (e *Engine) draw(a *annotation.Annotation) ([]canvas.Element, error) {
	elems, err := e.highlighter.Draw(a)
	if err != nil {
		return nil, newRuntimeError(ErrCodeDrawFailed, e.session, a.ID, "draw highlight", err)
	}
	if len(elems) == 0 {
		return nil, newRuntimeError(ErrCodeDrawFailed, e.session, a.ID, "highlighter returned no elements", nil)
	}
	return elems, nil
}

func (e *Engine) currentID() int64 {
	if e.current == nil {
		return 0
	}
	return e.current.ID
}

func (e *Engine) beginSession() {
	e.session = e.sessions.Generate()
}

func (e *Engine) toIdle() {
	e.current = nil
	e.setState(StateIdle)
}

func (e *Engine) setState(s State) {
	e.state = s
	e.mu.Lock()
	e.status = Status{State: s, AnnotationID: e.currentID(), Session: e.session}
	e.mu.Unlock()
}

// record journals a transition under the current session and state.
func (e *Engine) record(ctx context.Context, kind string, id int64, detail map[string]any) {
	if e.journal == nil {
		return
	}
	entry := journal.Entry{
		Seq:          e.seq.Next(),
		Session:      e.session,
		Kind:         kind,
		State:        e.state.String(),
		AnnotationID: id,
		Detail:       detail,
	}
	if entry.Session == "" {
		e.beginSession()
		entry.Session = e.session
	}
	if err := e.journal.Record(ctx, entry); err != nil {
		e.logger.Warn("journal write failed", "error", err, "kind", kind, "session", entry.Session)
	}
}

func (e *Engine) recordError(ctx context.Context, err error) {
	detail := map[string]any{"message": err.Error()}
	var id int64
	var re *RuntimeError
	if errors.As(err, &re) {
		detail["code"] = string(re.Code)
		id = re.AnnotationID
	}
	e.record(ctx, EntryError, id, detail)
}
