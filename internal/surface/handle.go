package surface

import (
	"context"
	"errors"
	"sync"
)

// ErrPending is returned by Result before the handle settles.
var ErrPending = errors.New("surface result pending")

// Handle is the result of one Open. It settles exactly once.
//
// Thread-safety: all methods are safe for concurrent use.
type Handle struct {
	gen uint64

	mu      sync.Mutex
	done    chan struct{}
	settled bool
	value   any
	err     error
	thens   []func(any, error)
}

func newHandle(gen uint64) *Handle {
	return &Handle{gen: gen, done: make(chan struct{})}
}

// Generation returns the Open generation this handle belongs to.
func (h *Handle) Generation() uint64 {
	return h.gen
}

// Done is closed when the handle settles.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Settled reports whether the handle has settled.
func (h *Handle) Settled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.settled
}

// Result returns the settled value or rejection. Before settling it returns
// ErrPending.
func (h *Handle) Result() (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.settled {
		return nil, ErrPending
	}
	return h.value, h.err
}

// Wait blocks until the handle settles or ctx is done.
func (h *Handle) Wait(ctx context.Context) (any, error) {
	select {
	case <-h.done:
		return h.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Then registers fn to run when the handle settles. fn runs synchronously on
// the settling goroutine, or immediately when the handle already settled.
func (h *Handle) Then(fn func(value any, err error)) {
	h.mu.Lock()
	if !h.settled {
		h.thens = append(h.thens, fn)
		h.mu.Unlock()
		return
	}
	value, err := h.value, h.err
	h.mu.Unlock()
	fn(value, err)
}

// settle records the outcome. It reports false when the handle had already
// settled, in which case nothing changes.
func (h *Handle) settle(value any, err error) bool {
	h.mu.Lock()
	if h.settled {
		h.mu.Unlock()
		return false
	}
	h.settled = true
	h.value = value
	h.err = err
	thens := h.thens
	h.thens = nil
	close(h.done)
	h.mu.Unlock()

	for _, fn := range thens {
		fn(value, err)
	}
	return true
}
