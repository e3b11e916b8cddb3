package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roach88/reconcilor/internal/account"
)

// DefaultInterval is the period of the reconcile timer.
const DefaultInterval = 300 * time.Second

// Spawner runs a boundary task. The default starts a goroutine; tests use a
// queue they drain by hand.
type Spawner func(task func())

func goSpawner(task func()) { go task() }

// Engine reconciles one signed-in identity context.
//
// Owner calls (StartReconcile, OnAccountAdded, ...) only post a message into
// the engine's mailbox and return. Boundary calls run on spawned tasks and
// post their results into the same mailbox. All state changes happen on the
// goroutine that calls Run (or Drain), one event at a time.
//
// Thread-safety model:
//   - owner calls, IsReconciling, State: safe from any goroutine
//   - Run: must be called from exactly one goroutine
//   - Drain: for tests, never concurrently with Run
type Engine struct {
	directory Directory
	registry  Registry
	prober    Prober
	observer  Observer
	logger    *slog.Logger
	spawn     Spawner
	cycleIDs  CycleIDGenerator
	interval  time.Duration

	queue  *eventQueue
	cycles *Clock
	ops    *Clock

	// state is written by the loop and read by IsReconciling.
	state atomic.Int32

	// Loop-owned below this line.
	epoch     uint64
	opsCtx    context.Context
	cancelOps context.CancelFunc
	ticker    *time.Ticker
	fetcher   *sessionFetcher
	cycle     *cycle
}

// Option configures an Engine.
type Option func(*Engine)

// WithInterval sets the reconcile timer period. Zero disables the timer.
//
// Default: 300s (DefaultInterval).
func WithInterval(d time.Duration) Option {
	return func(e *Engine) {
		e.interval = d
	}
}

// WithObserver installs a telemetry observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithSpawner replaces the goroutine spawner.
func WithSpawner(s Spawner) Option {
	return func(e *Engine) {
		if s != nil {
			e.spawn = s
		}
	}
}

// WithCycleIDs sets the cycle ID generator. Default: UUIDv7Generator.
func WithCycleIDs(g CycleIDGenerator) Option {
	return func(e *Engine) {
		if g != nil {
			e.cycleIDs = g
		}
	}
}

// WithCycleClock resumes cycle numbering from a known position.
func WithCycleClock(c *Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.cycles = c
		}
	}
}

// New creates an inert engine bound to its collaborators. Call OnSignedIn to
// activate it.
func New(directory Directory, registry Registry, prober Prober, opts ...Option) *Engine {
	e := &Engine{
		directory: directory,
		registry:  registry,
		prober:    prober,
		observer:  NopObserver{},
		logger:    slog.Default(),
		spawn:     goSpawner,
		cycleIDs:  UUIDv7Generator{},
		interval:  DefaultInterval,
		queue:     newEventQueue(),
		cycles:    NewClock(),
		ops:       NewClock(),
	}

	for _, opt := range opts {
		opt(e)
	}

	e.fetcher = newSessionFetcher(e.issueFetch)
	e.state.Store(int32(StateInert))
	return e
}

// StartReconcile requests a cycle. It is a no-op while a cycle is running or
// while the engine is signed out.
func (e *Engine) StartReconcile() bool {
	return e.queue.Enqueue(Event{Type: EventStartReconcile})
}

// OnRemoteSessionsChanged reports that the provider's session list changed.
func (e *Engine) OnRemoteSessionsChanged() bool {
	return e.queue.Enqueue(Event{Type: EventRemoteSessionsChanged})
}

// OnAccountAdded reports a new local account.
func (e *Engine) OnAccountAdded(id account.ID) bool {
	return e.queue.Enqueue(Event{Type: EventAccountAdded, Account: id})
}

// OnAccountRemoved reports a removed local account. The engine removes the
// account's remote session directly, without waiting for a cycle.
func (e *Engine) OnAccountRemoved(id account.ID) bool {
	return e.queue.Enqueue(Event{Type: EventAccountRemoved, Account: id})
}

// OnSignedIn activates the engine and starts a cycle.
func (e *Engine) OnSignedIn() bool {
	return e.queue.Enqueue(Event{Type: EventSignedIn})
}

// OnSignedOut abandons all pending work and makes the engine inert.
func (e *Engine) OnSignedOut() bool {
	return e.queue.Enqueue(Event{Type: EventSignedOut})
}

// IsReconciling reports whether a cycle is gathering or executing.
func (e *Engine) IsReconciling() bool {
	s := e.State()
	return s == StateGathering || s == StatePlanned
}

// State returns the lifecycle state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Run starts the event loop. Blocks until ctx is cancelled or Stop is called.
//
// Errors from individual events are logged and processing continues; no
// event can stop the loop.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting")

	for {
		if ev, ok := e.queue.TryDequeue(); ok {
			e.handle(ev)
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.teardown()
			e.queue.Close()
			return ctx.Err()

		case <-e.tick():
			e.startReconcile(TriggerTimer)

		case <-e.queue.Wait():
			if e.queue.Closed() && e.queue.Len() == 0 {
				e.logger.Info("engine stopping: queue closed")
				e.teardown()
				return nil
			}
		}
	}
}

// Stop closes the mailbox. Run returns once queued events are handled.
func (e *Engine) Stop() {
	e.queue.Close()
}

// Drain handles queued events on the caller's goroutine until the mailbox is
// empty and returns how many it handled. Timer ticks are not delivered.
func (e *Engine) Drain() int {
	n := 0
	for {
		ev, ok := e.queue.TryDequeue()
		if !ok {
			return n
		}
		e.handle(ev)
		n++
	}
}

func (e *Engine) handle(ev Event) {
	if err := e.processEvent(ev); err != nil {
		e.logger.Error("event processing failed",
			"event", ev.Type.String(),
			"cycle", ev.Cycle,
			"account", string(ev.Account),
			"error", err,
		)
	}
}

// processEvent routes an event to its handler.
// Called only from the loop goroutine.
func (e *Engine) processEvent(ev Event) error {
	switch ev.Type {
	case EventStartReconcile:
		e.startReconcile(TriggerManual)
	case EventRemoteSessionsChanged:
		e.startReconcile(TriggerRemoteChanged)
	case EventAccountAdded:
		e.startReconcile(TriggerAccountAdded)
	case EventAccountRemoved:
		e.removeAccount(ev.Account)
	case EventSignedIn:
		e.signIn()
	case EventSignedOut:
		e.signOut()

	case EventSnapshotTaken:
		e.onSnapshot(ev)
	case EventSessionsListed:
		if ev.Epoch == e.epoch {
			e.fetcher.complete(ev.Op, ev.Sessions, ev.Err)
		}
	case EventProbeResolved:
		e.onProbe(ev)
	case EventSessionsDestroyed:
		e.onDestroyed(ev)
	case EventSessionCreated:
		e.onCreated(ev)
	case EventSessionImported:
		e.onImported(ev)
	case EventSessionRemoved:
		e.onRemoved(ev)
	case EventTokenInvalidated:
		e.onTokenInvalidated(ev)

	default:
		return fmt.Errorf("unknown event type: %d", ev.Type)
	}
	return nil
}

// dispatch runs task on a spawned goroutine and posts its result event,
// stamped with the current epoch.
func (e *Engine) dispatch(ctx context.Context, task func(ctx context.Context) Event) {
	epoch := e.epoch
	e.spawn(func() {
		ev := task(ctx)
		ev.Epoch = epoch
		e.queue.Enqueue(ev)
	})
}

func (e *Engine) issueFetch(gen uint64) {
	e.dispatch(e.opsCtx, func(ctx context.Context) Event {
		sessions, err := e.directory.ListSessions(ctx)
		return Event{Type: EventSessionsListed, Op: gen, Sessions: sessions, Err: err}
	})
}

func (e *Engine) tick() <-chan time.Time {
	if e.ticker == nil {
		return nil
	}
	return e.ticker.C
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
}
