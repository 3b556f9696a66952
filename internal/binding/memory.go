// Package binding provides the external data models an engine keeps in sync.
//
// Memory holds the value in process; File persists it as YAML (or JSON, by
// extension) so a session's result survives the process.
package binding

import (
	"sync"

	"github.com/roach88/marginalia/internal/annotation"
)

// Memory is an in-process model value.
//
// Thread-safety: all methods are safe for concurrent use. Values are deep
// copied on the way in and out.
type Memory struct {
	mu        sync.Mutex
	value     []*annotation.Annotation
	writes    int
	listeners []func([]*annotation.Annotation)
}

// NewMemory creates a model holding initial.
func NewMemory(initial ...*annotation.Annotation) *Memory {
	return &Memory{value: cloneAll(initial)}
}

// Value returns a copy of the current value.
func (m *Memory) Value() ([]*annotation.Annotation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneAll(m.value), nil
}

// SetViewValue replaces the value from the view side and notifies listeners.
func (m *Memory) SetViewValue(as []*annotation.Annotation) error {
	m.mu.Lock()
	m.value = cloneAll(as)
	m.writes++
	listeners := append([]func([]*annotation.Annotation){}, m.listeners...)
	snapshot := cloneAll(m.value)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
	return nil
}

// Set replaces the value from the model side, as an external change would.
// It does not count as a view write and does not notify listeners.
func (m *Memory) Set(as []*annotation.Annotation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.value = cloneAll(as)
}

// Writes returns how many times SetViewValue was called.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// OnChange registers fn to receive every view write.
func (m *Memory) OnChange(fn func([]*annotation.Annotation)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

func cloneAll(as []*annotation.Annotation) []*annotation.Annotation {
	out := make([]*annotation.Annotation, 0, len(as))
	for _, a := range as {
		if a != nil {
			out = append(out, a.Clone())
		}
	}
	return out
}
