package reminder

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"remindbot/internal/eventbus"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/task/engine"
	logx "remindbot/pkg/logx"
)

const (
	dispatchTaskName       = "reminder.dispatch"
	defaultDispatchTimeout = 30 * time.Second
	firingBuffer           = 64
)

// Firing is what a dispatch receives: the values captured when the timer was
// armed, never re-read from the store.
type Firing struct {
	ID      int64
	OwnerID int64
	Text    string
	DueAt   time.Time
}

type firing struct {
	Firing
	gen uint64
}

// DispatchFunc delivers one firing. It owns error handling; the engine does
// not retry.
type DispatchFunc func(ctx context.Context, f Firing)

// Pool runs dispatches off the event loop. *engine.Service implements it.
type Pool interface {
	Enqueue(t engine.Task) error
}

type EngineOption func(*Engine)

// WithPool runs dispatches on p. Without a pool, or when p rejects a task,
// each dispatch gets its own supervised goroutine.
func WithPool(p Pool) EngineOption { return func(e *Engine) { e.pool = p } }

func WithBus(b eventbus.Bus) EngineOption { return func(e *Engine) { e.bus = b } }

func WithDispatchTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.dispatchTimeout = d
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) EngineOption { return func(e *Engine) { e.now = now } }

// Engine arms and disarms reminder timers and runs the event loop that turns
// expiries into dispatches.
type Engine struct {
	log             logx.Logger
	reg             *Registry
	dispatch        DispatchFunc
	pool            Pool
	bus             eventbus.Bus
	now             func() time.Time
	dispatchTimeout time.Duration

	firings chan firing
	done    chan struct{} // closed by Stop
	exited  chan struct{} // closed when the loop returns

	mu      sync.Mutex
	sup     *rtsup.Supervisor
	stopped bool

	recovered atomic.Bool
	fired     atomic.Uint64
	stale     atomic.Uint64
}

func NewEngine(dispatch DispatchFunc, log logx.Logger, opts ...EngineOption) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Engine{
		log:             log,
		reg:             NewRegistry(),
		dispatch:        dispatch,
		now:             time.Now,
		dispatchTimeout: defaultDispatchTimeout,
		firings:         make(chan firing, firingBuffer),
		done:            make(chan struct{}),
		exited:          make(chan struct{}),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) Registry() *Registry { return e.reg }

// Start runs the event loop under a supervisor derived from ctx. Timers armed
// before Start queue their firings until the loop runs.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return ErrStopped
	}
	if e.sup != nil {
		return nil
	}
	e.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(e.log))
	e.sup.Go0("reminder.loop", e.loop)
	e.log.Info("reminder engine started")
	return nil
}

// Stop disarms every timer and waits for the loop and in-flight fallback
// dispatches. Rows stay in the store; the next start recovers them.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	sup := e.sup
	e.mu.Unlock()

	n := e.reg.stopAll()
	close(e.done)
	if sup == nil {
		return nil
	}
	err := sup.Stop(ctx)
	e.log.Info("reminder engine stopped", logx.Int("disarmed", n))
	return err
}

func (e *Engine) Supervisor() *rtsup.Supervisor {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sup
}

// Arm schedules delivery of id at due. A due time in the past fires on the
// next loop iteration, never inline. Arming an id that already has a timer
// replaces it.
func (e *Engine) Arm(id, ownerID int64, text string, due time.Time) error {
	e.mu.Lock()
	stopped := e.stopped
	e.mu.Unlock()
	if stopped {
		return ErrStopped
	}
	// the loop also ends with its parent context, before Stop runs
	select {
	case <-e.exited:
		return ErrStopped
	default:
	}

	delay := max(due.Sub(e.now()), 0)
	f := Firing{ID: id, OwnerID: ownerID, Text: text, DueAt: due}
	_, replaced := e.reg.arm(id, ownerID, due, delay, func(gen uint64) {
		e.post(firing{Firing: f, gen: gen})
	})
	if replaced {
		e.log.Debug("reminder re-armed", logx.Int64("id", id))
	}
	e.log.Debug("reminder armed", logx.Int64("id", id), logx.Duration("in", delay))
	e.publish(eventbus.ReminderArmed, f)
	return nil
}

// Disarm stops the timer for id. It reports false when none was armed,
// including when the timer already fired.
func (e *Engine) Disarm(id int64) bool {
	return e.reg.remove(id)
}

func (e *Engine) post(f firing) {
	select {
	case e.firings <- f:
	case <-e.done:
	case <-e.exited:
	}
}

func (e *Engine) loop(ctx context.Context) {
	defer close(e.exited)
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case f := <-e.firings:
			e.handle(ctx, f)
		}
	}
}

func (e *Engine) handle(ctx context.Context, f firing) {
	if !e.reg.claim(f.ID, f.gen) {
		e.stale.Add(1)
		e.log.Debug("stale firing dropped", logx.Int64("id", f.ID))
		return
	}
	e.fired.Add(1)
	e.publish(eventbus.ReminderFired, f.Firing)

	run := func(ctx context.Context) error {
		if e.dispatch != nil {
			e.dispatch(ctx, f.Firing)
		}
		return nil
	}
	if e.pool != nil {
		err := e.pool.Enqueue(engine.Task{
			Name:    dispatchTaskName,
			Timeout: e.dispatchTimeout,
			Run:     run,
			Opt:     engine.TaskOptions{RetryMax: -1},
		})
		if err == nil {
			return
		}
		if !errors.Is(err, engine.ErrDisabled) {
			e.log.Warn("dispatch pool rejected firing; dispatching on own goroutine", logx.Int64("id", f.ID), logx.Err(err))
		}
	}

	e.mu.Lock()
	sup := e.sup
	e.mu.Unlock()
	sup.Go0(dispatchTaskName, func(ctx context.Context) {
		dctx, cancel := context.WithTimeout(ctx, e.dispatchTimeout)
		defer cancel()
		_ = run(dctx)
	})
}

func (e *Engine) publish(typ string, f Firing) {
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: typ, Data: f})
	}
}

type EngineStats struct {
	Armed     int
	Fired     uint64
	Stale     uint64
	NextDue   time.Time
	Recovered bool
}

func (e *Engine) Stats() EngineStats {
	next, _ := e.reg.Next()
	return EngineStats{
		Armed:     e.reg.Len(),
		Fired:     e.fired.Load(),
		Stale:     e.stale.Load(),
		NextDue:   next,
		Recovered: e.recovered.Load(),
	}
}
