package testutil

import (
	"context"
	"fmt"
	"sync"
)

// MapFetcher serves templates from a map. Unknown ids fail.
type MapFetcher map[string]string

// FetchTemplate implements surface.TemplateFetcher.
func (m MapFetcher) FetchTemplate(ctx context.Context, id string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	markup, ok := m[id]
	if !ok {
		return "", fmt.Errorf("template %q not found", id)
	}
	return markup, nil
}

// GatedFetcher blocks every fetch until the test releases it, so tests can
// interleave Open calls with in-flight template fetches.
//
// Thread-safety: all methods are safe for concurrent use.
type GatedFetcher struct {
	mu      sync.Mutex
	waiting map[string][]chan fetchResult
	calls   []string
	arrived chan string
}

type fetchResult struct {
	markup string
	err    error
}

// NewGatedFetcher creates a fetcher with no released templates.
func NewGatedFetcher() *GatedFetcher {
	return &GatedFetcher{
		waiting: make(map[string][]chan fetchResult),
		arrived: make(chan string, 64),
	}
}

// FetchTemplate implements surface.TemplateFetcher. It blocks until Release
// or Fail is called for id, or ctx is done.
func (g *GatedFetcher) FetchTemplate(ctx context.Context, id string) (string, error) {
	ch := make(chan fetchResult, 1)
	g.mu.Lock()
	g.waiting[id] = append(g.waiting[id], ch)
	g.calls = append(g.calls, id)
	g.mu.Unlock()
	select {
	case g.arrived <- id:
	default:
	}

	select {
	case r := <-ch:
		return r.markup, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Arrived returns a channel receiving the id of every fetch as it starts.
func (g *GatedFetcher) Arrived() <-chan string {
	return g.arrived
}

// Release completes the oldest waiting fetch of id with markup. It reports
// whether a fetch was waiting.
func (g *GatedFetcher) Release(id, markup string) bool {
	return g.complete(id, fetchResult{markup: markup})
}

// Fail completes the oldest waiting fetch of id with err.
func (g *GatedFetcher) Fail(id string, err error) bool {
	return g.complete(id, fetchResult{err: err})
}

// Calls returns the ids fetched so far, in order.
func (g *GatedFetcher) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.calls))
	copy(out, g.calls)
	return out
}

func (g *GatedFetcher) complete(id string, r fetchResult) bool {
	g.mu.Lock()
	queue := g.waiting[id]
	if len(queue) == 0 {
		g.mu.Unlock()
		return false
	}
	ch := queue[0]
	g.waiting[id] = queue[1:]
	g.mu.Unlock()
	ch <- r
	return true
}
