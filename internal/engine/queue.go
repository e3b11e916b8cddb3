package engine

import (
	"sync"

	"github.com/roach88/reconcilor/internal/account"
)

// EventType distinguishes between event kinds.
type EventType int

const (
	// Owner requests. These carry no epoch: they always apply to the
	// engine's current activation.
	EventStartReconcile EventType = iota + 1
	EventRemoteSessionsChanged
	EventAccountAdded
	EventAccountRemoved
	EventSignedIn
	EventSignedOut

	// Boundary results. Each is stamped with the activation epoch and the
	// cycle or operation that issued the call, so late results can be
	// recognized and dropped.
	EventSnapshotTaken
	EventSessionsListed
	EventProbeResolved
	EventSessionsDestroyed
	EventSessionCreated
	EventSessionImported
	EventSessionRemoved
	EventTokenInvalidated
)

var eventTypeNames = map[EventType]string{
	EventStartReconcile:        "start_reconcile",
	EventRemoteSessionsChanged: "remote_sessions_changed",
	EventAccountAdded:          "account_added",
	EventAccountRemoved:        "account_removed",
	EventSignedIn:              "signed_in",
	EventSignedOut:             "signed_out",
	EventSnapshotTaken:         "snapshot_taken",
	EventSessionsListed:        "sessions_listed",
	EventProbeResolved:         "probe_resolved",
	EventSessionsDestroyed:     "sessions_destroyed",
	EventSessionCreated:        "session_created",
	EventSessionImported:       "session_imported",
	EventSessionRemoved:        "session_removed",
	EventTokenInvalidated:      "token_invalidated",
}

// String implements fmt.Stringer.
func (t EventType) String() string {
	if name, ok := eventTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// Event is a message in the engine's mailbox.
type Event struct {
	Type EventType

	// Epoch is the activation that issued the boundary call.
	Epoch uint64

	// Cycle is the cycle sequence number the result belongs to.
	Cycle int64

	// Op identifies an executor operation or a fetch generation.
	Op uint64

	Account  account.ID
	Local    account.LocalSet
	Sessions account.RemoteSessionList
	Probe    ProbeResult
	Err      error
}

// eventQueue is the engine mailbox: an unbounded, thread-safe FIFO.
//
// Boundary tasks post results from their own goroutines while the Run loop
// dequeues. The queue never blocks a poster, so a slow loop cannot stall a
// network callback.
//
// The signal channel (buffered, size 1) lets the Run loop wait on the queue
// and a context at the same time.
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{}
}

// newEventQueue creates an empty event queue.
func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 64),
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

	// Non-blocking: the buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes and returns the front event without blocking.
// Returns (Event{}, false) if the queue is empty.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}

	e := q.events[0]

	// Clear the slot so the backing array does not pin session lists and
	// errors after the event is handled.
	q.events[0] = Event{}

	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}

	return e, true
}

// Wait returns a channel that signals when events may be available.
// The channel is closed when the queue is closed.
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

// Close stops further enqueues and wakes any waiter.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
