package engine

import (
	"sync"

	"github.com/roach88/marginalia/internal/canvas"
	"github.com/roach88/marginalia/internal/surface"
)

// EventType distinguishes between event kinds.
type EventType int

const (
	// EventTypeSelection is a completed text selection.
	EventTypeSelection EventType = iota + 1
	// EventTypeSettled is a surface result handle settling.
	EventTypeSettled
	// EventTypePreview asks to preview an annotation (hover enter).
	EventTypePreview
	// EventTypeHide is the hover-leave hook of an annotation.
	EventTypeHide
	// EventTypeEdit asks to edit an annotation.
	EventTypeEdit
	// EventTypeRender re-hydrates the store from the bound model.
	EventTypeRender
)

func (t EventType) String() string {
	switch t {
	case EventTypeSelection:
		return "selection"
	case EventTypeSettled:
		return "settled"
	case EventTypePreview:
		return "preview"
	case EventTypeHide:
		return "hide"
	case EventTypeEdit:
		return "edit"
	case EventTypeRender:
		return "render"
	default:
		return "unknown"
	}
}

// Event is one input to the lifecycle loop.
type Event struct {
	Type EventType

	// Selection
	Ranges  []canvas.Range
	Pointer *canvas.PointerEvent

	// Preview, Hide, Edit
	AnnotationID int64
	At           canvas.Position

	// Settled
	Settlement *Settlement
}

// Settlement is the outcome of one surface request.
type Settlement struct {
	// Token identifies the request; settlements of older requests are stale.
	Token uint64
	Kind  surface.Kind
	Value any
	Err   error
}

// eventQueue is a thread-safe FIFO queue for events.
//
// The queue is unbounded so surface settlements, which arrive on whichever
// goroutine closes a surface, never block.
//
// A buffered signal channel lets the Run loop wait on the queue and the
// context at the same time.
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{} // buffered, size 1
}

// newEventQueue creates an empty event queue.
func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.events = append(q.events, e)

	// Buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
// Returns (Event{}, false) if queue is empty.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}

	e := q.events[0]

	// Clear the slot so the backing array does not pin ranges and values.
	q.events[0] = Event{}

	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}

	return e, true
}

// Wait returns a channel that signals when events may be available.
// The channel is closed once the queue is closed.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Closed reports whether Close has been called.
func (q *eventQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close signals that no more events will be enqueued.
// Wakes any blocked waiters by closing the signal channel.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
