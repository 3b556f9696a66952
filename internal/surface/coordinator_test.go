package surface

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/marginalia/internal/annotation"
	"github.com/roach88/marginalia/internal/canvas"
	"github.com/roach88/marginalia/internal/testutil"
)

var markup = testutil.MapFetcher{
	"create": "<create/>",
	"edit":   "<edit/>",
	"view":   "<view/>",
}

func waitIdle(t *testing.T, c *Coordinator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.WaitIdle(ctx))
}

func waitResult(t *testing.T, h *Handle) (any, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, err := h.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded)
	return v, err
}

func TestCoordinator_CreateConfirm(t *testing.T) {
	doc := canvas.NewDocument("")
	c := NewCoordinator(markup, doc)

	h := c.Open(context.Background(), canvas.Position{Top: 5, Left: 7}, KindCreate, nil)
	waitIdle(t, c)

	inst := c.Active()
	require.NotNil(t, inst)
	assert.Equal(t, KindCreate, inst.Kind)
	require.Len(t, doc.Overlays(), 1)
	assert.Equal(t, "<create/>", doc.Overlays()[0].Markup)
	assert.Equal(t, canvas.Position{Top: 5, Left: 7}, doc.Overlays()[0].At)
	assert.False(t, h.Settled())

	ctrl, ok := inst.Controller().(*CreateController)
	require.True(t, ok)
	ctrl.Confirm(nil)

	v, err := waitResult(t, h)
	require.NoError(t, err)
	assert.Equal(t, true, v)
	assert.Nil(t, c.Active())
	assert.Empty(t, doc.Overlays())
	assert.True(t, inst.Scope().Destroyed())
}

func TestCoordinator_DismissRejects(t *testing.T) {
	doc := canvas.NewDocument("")
	c := NewCoordinator(markup, doc)

	h := c.Open(context.Background(), canvas.Position{}, KindCreate, nil)
	waitIdle(t, c)
	c.Active().Controller().(*CreateController).Cancel()

	_, err := waitResult(t, h)
	assert.ErrorIs(t, err, ErrDismissed)
	assert.True(t, IsCancellation(err))
	assert.False(t, IsSuperseded(err))
	assert.Empty(t, doc.Overlays())
}

func TestCoordinator_DismissReasons(t *testing.T) {
	c := NewCoordinator(markup, canvas.NewDocument(""))

	h := c.Open(context.Background(), canvas.Position{}, KindView, annotation.New("q", nil))
	waitIdle(t, c)
	c.Active().Dismiss("escape")
	_, err := waitResult(t, h)
	var de *DismissError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "escape", de.Reason)
	assert.ErrorIs(t, err, ErrDismissed)

	boom := errors.New("boom")
	h = c.Open(context.Background(), canvas.Position{}, KindView, annotation.New("q", nil))
	waitIdle(t, c)
	c.Active().Dismiss(boom)
	_, err = waitResult(t, h)
	assert.ErrorIs(t, err, boom)
	assert.False(t, IsCancellation(err))
}

func TestCoordinator_SupersedesActive(t *testing.T) {
	doc := canvas.NewDocument("")
	c := NewCoordinator(markup, doc)

	first := c.Open(context.Background(), canvas.Position{}, KindCreate, nil)
	waitIdle(t, c)
	firstInst := c.Active()
	require.NotNil(t, firstInst)

	second := c.Open(context.Background(), canvas.Position{}, KindView, annotation.New("q", nil))

	// the old surface is rejected and torn down before Open returns
	require.True(t, first.Settled())
	_, err := first.Result()
	assert.ErrorIs(t, err, ErrSuperseded)
	assert.True(t, firstInst.Scope().Destroyed())

	waitIdle(t, c)
	require.Len(t, doc.Overlays(), 1)
	assert.Equal(t, "<view/>", doc.Overlays()[0].Markup)
	assert.False(t, second.Settled())

	// closing the superseded instance later changes nothing
	firstInst.Close("late")
	_, err = first.Result()
	assert.ErrorIs(t, err, ErrSuperseded)
	assert.Equal(t, KindView, c.Active().Kind)
}

func TestCoordinator_SupersededDuringFetch(t *testing.T) {
	doc := canvas.NewDocument("")
	gate := testutil.NewGatedFetcher()
	c := NewCoordinator(gate, doc)

	first := c.Open(context.Background(), canvas.Position{}, KindCreate, nil)
	assert.Equal(t, "create", <-gate.Arrived())
	assert.Equal(t, 1, c.Pending())

	second := c.Open(context.Background(), canvas.Position{}, KindEdit, annotation.New("q", nil))
	assert.Equal(t, "edit", <-gate.Arrived())

	_, err := first.Result()
	assert.ErrorIs(t, err, ErrSuperseded)

	// the stale fetch completes first and must not construct anything
	require.True(t, gate.Release("create", "<create/>"))
	require.True(t, gate.Release("edit", "<edit/>"))
	waitIdle(t, c)

	require.Len(t, doc.Overlays(), 1)
	assert.Equal(t, "<edit/>", doc.Overlays()[0].Markup)
	require.NotNil(t, c.Active())
	assert.Equal(t, KindEdit, c.Active().Kind)
	assert.Same(t, second, c.Active().Result())
}

func TestCoordinator_TemplateFetchFailure(t *testing.T) {
	doc := canvas.NewDocument("")
	c := NewCoordinator(testutil.MapFetcher{}, doc)

	h := c.Open(context.Background(), canvas.Position{}, KindView, annotation.New("q", nil))
	_, err := waitResult(t, h)

	assert.ErrorIs(t, err, ErrTemplateFetch)
	assert.False(t, IsCancellation(err))
	var te *TemplateError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "view", te.Template)

	waitIdle(t, c)
	assert.Nil(t, c.Active())
	assert.Empty(t, doc.Overlays())
}

type failingMounter struct{}

func (failingMounter) Mount(string, canvas.Position) (canvas.Subtree, error) {
	return nil, errors.New("detached")
}

func TestCoordinator_MountFailure(t *testing.T) {
	c := NewCoordinator(markup, failingMounter{})

	h := c.Open(context.Background(), canvas.Position{}, KindCreate, nil)
	_, err := waitResult(t, h)
	assert.ErrorIs(t, err, ErrMount)
	waitIdle(t, c)
	assert.Nil(t, c.Active())
}

func TestCoordinator_UnknownKind(t *testing.T) {
	doc := canvas.NewDocument("")
	c := NewCoordinator(markup, doc)

	active := c.Open(context.Background(), canvas.Position{}, KindCreate, nil)
	waitIdle(t, c)

	h := c.Open(context.Background(), canvas.Position{}, Kind("tooltip"), nil)
	_, err := h.Result()
	assert.ErrorIs(t, err, ErrUnknownKind)

	// a rejected request does not disturb the active surface
	assert.False(t, active.Settled())
	assert.Len(t, doc.Overlays(), 1)
}

func TestCoordinator_NeverTwoSurfaces(t *testing.T) {
	doc := canvas.NewDocument("")
	c := NewCoordinator(markup, doc)

	kinds := []Kind{KindCreate, KindEdit, KindView}
	var handles []*Handle
	for i := 0; i < 30; i++ {
		handles = append(handles, c.Open(context.Background(), canvas.Position{Top: float64(i)}, kinds[i%3], annotation.New("q", nil)))
		assert.LessOrEqual(t, len(doc.Overlays()), 1)
	}
	waitIdle(t, c)

	require.Len(t, doc.Overlays(), 1)
	assert.Equal(t, canvas.Position{Top: 29}, doc.Overlays()[0].At)
	for _, h := range handles[:len(handles)-1] {
		_, err := h.Result()
		assert.ErrorIs(t, err, ErrSuperseded)
	}
	assert.False(t, handles[len(handles)-1].Settled())
}

func TestCoordinator_CloseIdempotent(t *testing.T) {
	doc := canvas.NewDocument("")
	c := NewCoordinator(markup, doc)

	h := c.Open(context.Background(), canvas.Position{}, KindView, annotation.New("q", nil))
	waitIdle(t, c)
	inst := c.Active()

	var calls int
	h.Then(func(any, error) { calls++ })

	inst.Close(ActionEdit)
	inst.Close(ActionDelete)
	inst.Dismiss(nil)

	v, err := h.Result()
	require.NoError(t, err)
	assert.Equal(t, ActionEdit, v)
	assert.Equal(t, 1, calls)
	assert.Empty(t, doc.Overlays())
}

func TestCoordinator_TemplateOverrides(t *testing.T) {
	doc := canvas.NewDocument("")
	c := NewCoordinator(testutil.MapFetcher{"adder": "<adder/>"}, doc,
		WithTemplates(map[Kind]string{KindCreate: "adder"}))

	c.Open(context.Background(), canvas.Position{}, KindCreate, nil)
	waitIdle(t, c)
	require.Len(t, doc.Overlays(), 1)
	assert.Equal(t, "<adder/>", doc.Overlays()[0].Markup)
}

func TestCoordinator_CustomFactory(t *testing.T) {
	type tooltip struct{ *ViewController }
	c := NewCoordinator(testutil.MapFetcher{"tooltip": "<tip/>"}, canvas.NewDocument(""),
		WithControllerFactory("tooltip", func(inst *Instance, payload *annotation.Annotation) Controller {
			return tooltip{&ViewController{inst: inst, Annotation: payload}}
		}),
		WithTemplates(map[Kind]string{"tooltip": "tooltip"}))

	h := c.Open(context.Background(), canvas.Position{}, "tooltip", nil)
	waitIdle(t, c)
	_, ok := c.Active().Controller().(tooltip)
	require.True(t, ok)
	c.Active().Controller().(tooltip).Edit()

	v, err := h.Result()
	require.NoError(t, err)
	assert.Equal(t, ActionEdit, v)
}

func TestCoordinator_ScopeBoundToInstance(t *testing.T) {
	c := NewCoordinator(markup, canvas.NewDocument(""))
	payload := annotation.New("quote", nil)

	c.Open(context.Background(), canvas.Position{}, KindView, payload)
	waitIdle(t, c)
	inst := c.Active()

	scope := inst.Scope()
	assert.Equal(t, KindView, scope.Kind)
	assert.Same(t, payload, scope.Payload)
	assert.Same(t, inst, scope.Controller.Instance())
	assert.False(t, scope.Destroyed())

	inst.Close(ActionDelete)
	select {
	case <-scope.Context().Done():
	default:
		t.Fatal("scope context not cancelled on teardown")
	}
}

func TestHandle_ThenAfterSettle(t *testing.T) {
	h := newHandle(1)
	require.True(t, h.settle("v", nil))
	require.False(t, h.settle("other", nil))

	var got any
	h.Then(func(v any, err error) { got = v })
	assert.Equal(t, "v", got)
}

func TestHandle_ResultPending(t *testing.T) {
	h := newHandle(1)
	_, err := h.Result()
	assert.ErrorIs(t, err, ErrPending)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = h.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFSFetcher(t *testing.T) {
	f := NewFSFetcher(DefaultTemplates())
	for _, id := range []string{"create", "edit", "view"} {
		m, err := f.FetchTemplate(context.Background(), id)
		require.NoError(t, err, id)
		assert.Contains(t, m, "annotator-"+id)
	}

	_, err := f.FetchTemplate(context.Background(), "../etc/passwd")
	assert.Error(t, err)
	_, err = f.FetchTemplate(context.Background(), "missing")
	assert.Error(t, err)
}

func TestOverlayFS(t *testing.T) {
	custom := fstest.MapFS{"view.html": {Data: []byte("<custom-view/>")}}
	f := NewFSFetcher(OverlayFS{Primary: custom, Fallback: DefaultTemplates()})

	m, err := f.FetchTemplate(context.Background(), "view")
	require.NoError(t, err)
	assert.Equal(t, "<custom-view/>", m)

	m, err = f.FetchTemplate(context.Background(), "edit")
	require.NoError(t, err)
	assert.Contains(t, m, "annotator-edit")
}
