package surface

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/marginalia/internal/annotation"
	"github.com/roach88/marginalia/internal/canvas"
)

// Coordinator owns the single active surface.
//
// Thread-safety: all methods are safe for concurrent use. Handle callbacks
// and teardown never run under the coordinator lock.
type Coordinator struct {
	fetcher   TemplateFetcher
	mounter   canvas.Mounter
	templates map[Kind]string
	factories map[Kind]ControllerFactory
	base      context.Context
	logger    *slog.Logger

	mu       sync.Mutex
	gen      uint64
	active   *Instance
	pending  *Handle
	inflight int
	idle     chan struct{} // closed while inflight == 0
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTemplates overrides the template identifier used per kind.
func WithTemplates(ids map[Kind]string) Option {
	return func(c *Coordinator) {
		for k, id := range ids {
			if id != "" {
				c.templates[k] = id
			}
		}
	}
}

// WithControllerFactory registers the controller factory for kind.
func WithControllerFactory(kind Kind, f ControllerFactory) Option {
	return func(c *Coordinator) {
		c.factories[kind] = f
	}
}

// WithLogger sets the coordinator's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// WithBaseContext sets the parent context of every surface scope.
func WithBaseContext(ctx context.Context) Option {
	return func(c *Coordinator) {
		c.base = ctx
	}
}

// NewCoordinator creates a coordinator that fetches markup with fetcher and
// attaches it with mounter.
func NewCoordinator(fetcher TemplateFetcher, mounter canvas.Mounter, opts ...Option) *Coordinator {
	idle := make(chan struct{})
	close(idle)
	c := &Coordinator{
		fetcher: fetcher,
		mounter: mounter,
		templates: map[Kind]string{
			KindCreate: string(KindCreate),
			KindEdit:   string(KindEdit),
			KindView:   string(KindView),
		},
		factories: defaultFactories(),
		base:      context.Background(),
		logger:    slog.Default(),
		idle:      idle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open supersedes whatever surface is active or pending and starts building
// a new one of kind at position at. ctx bounds the template fetch only.
func (c *Coordinator) Open(ctx context.Context, at canvas.Position, kind Kind, payload *annotation.Annotation) *Handle {
	c.mu.Lock()
	factory, ok := c.factories[kind]
	if !ok {
		c.mu.Unlock()
		h := newHandle(0)
		h.settle(nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind))
		return h
	}
	template := c.templates[kind]

	c.gen++
	gen := c.gen
	h := newHandle(gen)

	prevActive := c.active
	c.active = nil
	if prevActive != nil {
		prevActive.finished = true
	}
	prevPending := c.pending
	c.pending = h
	c.acquire()
	c.mu.Unlock()

	if prevPending != nil {
		c.logger.Debug("superseding pending surface", "generation", prevPending.gen, "by", gen)
		prevPending.settle(nil, ErrSuperseded)
	}
	if prevActive != nil {
		c.logger.Debug("superseding active surface", "kind", prevActive.Kind, "generation", prevActive.handle.gen, "by", gen)
		prevActive.handle.settle(nil, ErrSuperseded)
		prevActive.teardown()
	}

	go c.construct(ctx, gen, h, at, kind, template, factory, payload)
	return h
}

// construct fetches the template and, if gen is still current, builds and
// mounts the instance.
func (c *Coordinator) construct(
	ctx context.Context,
	gen uint64,
	h *Handle,
	at canvas.Position,
	kind Kind,
	template string,
	factory ControllerFactory,
	payload *annotation.Annotation,
) {
	defer c.release()

	markup, fetchErr := c.fetcher.FetchTemplate(ctx, template)

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		c.logger.Debug("dropping superseded template", "kind", kind, "generation", gen)
		return
	}
	c.pending = nil

	if fetchErr != nil {
		c.mu.Unlock()
		h.settle(nil, &TemplateError{Template: template, Err: fetchErr})
		return
	}

	inst := &Instance{c: c, handle: h, Kind: kind, At: at}
	inst.scope = newScope(c.base, kind, payload)
	inst.scope.Controller = factory(inst, payload)

	sub, err := c.mounter.Mount(markup, at)
	if err != nil {
		c.mu.Unlock()
		inst.scope.destroy()
		h.settle(nil, fmt.Errorf("%w: %v", ErrMount, err))
		return
	}
	inst.subtree = sub
	c.active = inst
	c.mu.Unlock()

	c.logger.Debug("surface mounted", "kind", kind, "generation", gen)
}

// finish settles inst's handle and tears it down, once.
func (c *Coordinator) finish(inst *Instance, value any, err error) {
	c.mu.Lock()
	if inst.finished {
		c.mu.Unlock()
		return
	}
	inst.finished = true
	if c.active == inst {
		c.active = nil
	}
	c.mu.Unlock()

	inst.handle.settle(value, err)
	inst.teardown()
}

// Active returns the active instance, or nil.
func (c *Coordinator) Active() *Instance {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Pending returns the number of template fetches in flight.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight
}

// Generation returns the number of Open calls that took a generation.
func (c *Coordinator) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// WaitIdle blocks until no template fetch is in flight or ctx is done.
func (c *Coordinator) WaitIdle(ctx context.Context) error {
	for {
		c.mu.Lock()
		idle := c.idle
		n := c.inflight
		c.mu.Unlock()
		if n == 0 {
			return nil
		}
		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// acquire records a fetch in flight. Caller holds c.mu.
func (c *Coordinator) acquire() {
	if c.inflight == 0 {
		c.idle = make(chan struct{})
	}
	c.inflight++
}

func (c *Coordinator) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight--
	if c.inflight == 0 {
		close(c.idle)
	}
}
