package engine

import "github.com/roach88/reconcilor/internal/account"

// fetchWaiter receives the result of one ListSessions call. The session
// slice is shared by every waiter of the same fetch and must not be mutated.
type fetchWaiter func(sessions account.RemoteSessionList, err error)

// sessionFetcher de-duplicates ListSessions calls with queue-refill
// single-flight semantics:
//
//   - Fetch with nothing in flight issues a call immediately.
//   - Fetch while a call is in flight only queues the waiter.
//   - On completion every waiter queued so far receives the same result, in
//     enqueue order. Waiters queued during that delivery are served by
//     exactly one more call.
//
// Results are never cached: a waiter only ever sees data fetched after it
// asked. Errors go to every waiter of the batch and are not retried.
//
// Loop-owned: every method runs on the engine's Run goroutine.
type sessionFetcher struct {
	issue func(gen uint64)

	waiters    []fetchWaiter
	inFlight   bool
	delivering bool

	// gen identifies the in-flight call. Completions for any other
	// generation are stale.
	gen uint64

	// issued counts ListSessions calls over the fetcher's lifetime.
	issued int
}

func newSessionFetcher(issue func(gen uint64)) *sessionFetcher {
	return &sessionFetcher{issue: issue}
}

// Fetch queues w for the current or next ListSessions result.
func (f *sessionFetcher) Fetch(w fetchWaiter) {
	f.waiters = append(f.waiters, w)
	if f.inFlight || f.delivering {
		return
	}
	f.start()
}

func (f *sessionFetcher) start() {
	f.inFlight = true
	f.gen++
	f.issued++
	f.issue(f.gen)
}

// complete delivers a ListSessions result. Returns false if gen is stale.
func (f *sessionFetcher) complete(gen uint64, sessions account.RemoteSessionList, err error) bool {
	if !f.inFlight || gen != f.gen {
		return false
	}

	batch := f.waiters
	f.waiters = nil
	f.inFlight = false

	f.delivering = true
	for _, w := range batch {
		w(sessions, err)
	}
	f.delivering = false

	// Refill: anyone who asked during delivery gets one shared fetch.
	if len(f.waiters) > 0 {
		f.start()
	}
	return true
}

// reset drops every waiter and orphans the in-flight call.
func (f *sessionFetcher) reset() {
	f.waiters = nil
	f.inFlight = false
	f.delivering = false
	f.gen++
}

// pending returns the number of queued waiters.
func (f *sessionFetcher) pending() int {
	return len(f.waiters)
}
