package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/marginalia/internal/annotation"
	"github.com/roach88/marginalia/internal/binding"
	"github.com/roach88/marginalia/internal/canvas"
	"github.com/roach88/marginalia/internal/engine"
	"github.com/roach88/marginalia/internal/journal"
	"github.com/roach88/marginalia/internal/store"
	"github.com/roach88/marginalia/internal/surface"
	"github.com/roach88/marginalia/internal/testutil"
)

// StepTimeout bounds how long one step may take to settle.
const StepTimeout = 5 * time.Second

// Harness is the scenario runner. It drives a real engine over an in-memory
// document with deterministic clock and session tokens.
type Harness struct {
	doc      *canvas.Document
	store    *store.Store
	surfaces *surface.Coordinator
	model    *binding.Memory
	journal  *journal.Journal
	engine   *engine.Engine
	logger   *slog.Logger

	ownJournal bool
	startSeq   int64
}

// Env replaces the isolated defaults a scenario runs with. The zero Env
// gives a fresh in-memory journal, sequential session tokens, a
// deterministic clock and the built-in templates.
type Env struct {
	// Journal receives the trace. The caller keeps ownership.
	// Only entries recorded by this run are collected into the result.
	Journal *journal.Journal

	// Sessions generates session tokens.
	Sessions engine.SessionGenerator

	// Sequencer stamps journal entries. Must resume after the journal's
	// last seq when Journal already holds entries.
	Sequencer engine.Sequencer

	// Fetcher resolves template ids.
	Fetcher surface.TemplateFetcher

	// Templates overrides the template id per surface kind.
	Templates map[surface.Kind]string

	// Options are applied before the scenario's own options.
	Options []engine.Option

	// Logger receives engine and surface logs. Default: discarded.
	Logger *slog.Logger
}

// failingFetcher fails the fetch of selected template ids.
type failingFetcher struct {
	next surface.TemplateFetcher
	fail []string
}

func (f failingFetcher) FetchTemplate(ctx context.Context, id string) (string, error) {
	if slices.Contains(f.fail, id) {
		return "", fmt.Errorf("template %q unavailable", id)
	}
	return f.next.FetchTemplate(ctx, id)
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory journal for isolation.
//
// Execution flow:
//  1. Build the document, store, surfaces, model and engine
//  2. Execute steps, flushing the engine after each
//  3. Collect the trace, export, state and active surface
//  4. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	return RunIn(scenario, Env{})
}

// RunIn executes a scenario within env.
func RunIn(scenario *Scenario, env Env) (*Result, error) {
	ctx := context.Background()

	h, err := newHarness(ctx, scenario, env)
	if err != nil {
		return nil, err
	}
	defer h.close()

	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, step); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Action, err)
		}
		h.logger.Info("step completed",
			"step", i,
			"action", step.Action,
			"state", h.engine.Status().State.String(),
		)
	}

	result, err := h.collect(ctx)
	if err != nil {
		return nil, err
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(ctx context.Context, scenario *Scenario, env Env) (*Harness, error) {
	logger := env.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	initial := make([]*annotation.Annotation, 0, len(scenario.Model))
	for i, raw := range scenario.Model {
		a, err := annotation.FromAnyAnnotation(raw)
		if err != nil {
			return nil, fmt.Errorf("model[%d]: %w", i, err)
		}
		initial = append(initial, a)
	}

	j := env.Journal
	own := j == nil
	if own {
		var err error
		j, err = journal.Open(":memory:")
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory journal: %w", err)
		}
	}
	start, err := j.LastSeq(ctx)
	if err != nil {
		if own {
			j.Close()
		}
		return nil, fmt.Errorf("read journal: %w", err)
	}

	h := &Harness{
		doc:        canvas.NewDocument(scenario.Document),
		store:      store.New(),
		model:      binding.NewMemory(initial...),
		journal:    j,
		logger:     logger,
		ownJournal: own,
		startSeq:   start,
	}
	if off := scenario.Options.BodyOffset; off != nil {
		h.doc.SetBodyOffset(canvas.Position{Top: off.Y, Left: off.X})
	}

	fetcher := env.Fetcher
	if fetcher == nil {
		fetcher = surface.NewFSFetcher(surface.DefaultTemplates())
	}
	if len(scenario.FailTemplates) > 0 {
		fetcher = failingFetcher{next: fetcher, fail: scenario.FailTemplates}
	}
	surfaceOpts := []surface.Option{surface.WithLogger(logger)}
	if len(env.Templates) > 0 {
		surfaceOpts = append(surfaceOpts, surface.WithTemplates(env.Templates))
	}
	h.surfaces = surface.NewCoordinator(fetcher, h.doc, surfaceOpts...)

	var seq engine.Sequencer = testutil.NewDeterministicClock()
	if env.Sequencer != nil {
		seq = env.Sequencer
	}
	var sessions engine.SessionGenerator = testutil.NewSequentialSessionGenerator(scenario.SessionPrefix)
	if env.Sessions != nil {
		sessions = env.Sessions
	}

	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithSequencer(seq),
		engine.WithSessionGenerator(sessions),
	}
	opts = append(opts, env.Options...)
	if scenario.Options.QuoteSeparator != "" {
		opts = append(opts, engine.WithQuoteSeparator(scenario.Options.QuoteSeparator))
	}
	if scenario.Options.EditCancel != "" {
		policy, err := engine.ParseEditCancel(scenario.Options.EditCancel)
		if err != nil {
			h.close()
			return nil, err
		}
		opts = append(opts, engine.WithEditCancel(policy))
	}

	h.engine, err = engine.New(engine.Deps{
		Store:       h.store,
		Surfaces:    h.surfaces,
		Highlighter: h.doc,
		Root:        h.doc,
		Model:       h.model,
		Journal:     j,
		Selector:    h.doc,
	}, opts...)
	if err != nil {
		h.close()
		return nil, err
	}
	return h, nil
}

func (h *Harness) close() {
	if h.engine != nil {
		h.engine.Stop()
	}
	if h.ownJournal {
		h.journal.Close()
	}
}

// executeStep performs one interaction and waits for the engine to settle.
func (h *Harness) executeStep(ctx context.Context, step Step) error {
	ev := canvas.NewPointerEvent(step.At.X, step.At.Y)

	switch step.Action {
	case StepSelect:
		ranges := make([]canvas.Range, 0, len(step.Ranges))
		for _, r := range step.Ranges {
			tr, err := h.doc.Range(r[0], r[1])
			if err != nil {
				return err
			}
			ranges = append(ranges, tr)
		}
		h.doc.Select(ranges, ev)

	case StepConfirm:
		ctrl, err := activeController[*surface.CreateController](h.surfaces, surface.KindCreate)
		if err != nil {
			return err
		}
		ctrl.Confirm(nil)

	case StepCancel:
		inst := h.surfaces.Active()
		if inst == nil {
			return fmt.Errorf("no active surface to cancel")
		}
		inst.Dismiss(nil)

	case StepSave:
		ctrl, err := activeController[*surface.EditController](h.surfaces, surface.KindEdit)
		if err != nil {
			return err
		}
		for k, raw := range step.Fields {
			v, err := annotation.FromAny(raw)
			if err != nil {
				return fmt.Errorf("field %q: %w", k, err)
			}
			if err := ctrl.Working.SetField(k, v); err != nil {
				return err
			}
		}
		ctrl.Save()

	case StepEdit:
		ctrl, err := activeController[*surface.ViewController](h.surfaces, surface.KindView)
		if err != nil {
			return err
		}
		ctrl.Edit()

	case StepDelete:
		ctrl, err := activeController[*surface.ViewController](h.surfaces, surface.KindView)
		if err != nil {
			return err
		}
		ctrl.Cancel()

	case StepHover, StepLeave:
		elems := h.doc.ElementsFor(step.Annotation)
		if len(elems) == 0 {
			return fmt.Errorf("annotation %d is not rendered", step.Annotation)
		}
		if step.Action == StepHover {
			h.engine.PointerEnter(elems[0], ev)
		} else {
			h.engine.PointerLeave(elems[0], ev)
		}

	case StepRender:
		h.engine.Render()

	default:
		return fmt.Errorf("unknown action %q", step.Action)
	}

	flushCtx, cancel := context.WithTimeout(ctx, StepTimeout)
	defer cancel()
	return h.engine.Flush(flushCtx)
}

// activeController returns the active surface's controller as C.
func activeController[C surface.Controller](c *surface.Coordinator, kind surface.Kind) (C, error) {
	var zero C
	inst := c.Active()
	if inst == nil {
		return zero, fmt.Errorf("no active surface, want %s", kind)
	}
	if inst.Kind != kind {
		return zero, fmt.Errorf("active surface is %s, want %s", inst.Kind, kind)
	}
	ctrl, ok := inst.Controller().(C)
	if !ok {
		return zero, fmt.Errorf("%s surface controller is %T", kind, inst.Controller())
	}
	return ctrl, nil
}

func (h *Harness) collect(ctx context.Context) (*Result, error) {
	result := NewResult()

	entries, err := h.journal.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	for _, e := range entries {
		if e.Seq <= h.startSeq {
			continue
		}
		result.Trace = append(result.Trace, traceEventFrom(e))
	}

	result.Export = h.store.Export()
	result.State = h.engine.Status().State.String()
	if inst := h.surfaces.Active(); inst != nil {
		result.Surface = string(inst.Kind)
	}
	return result, nil
}
