package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"remindbot/internal/eventbus"
	logx "remindbot/pkg/logx"
)

func startEngine(t *testing.T, cfg Config) (*Service, eventbus.Bus) {
	t.Helper()
	bus := eventbus.New()
	s := New(cfg, logx.Nop(), bus)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s, bus
}

func waitEvent(t *testing.T, ch <-chan eventbus.Event) TaskEvent {
	t.Helper()
	select {
	case e := <-ch:
		return e.Data.(TaskEvent)
	case <-time.After(2 * time.Second):
		t.Fatal("no task event")
		return TaskEvent{}
	}
}

func TestDisabledEngineRejects(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), nil)
	err := s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }})
	if !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
}

func TestEnqueueValidates(t *testing.T) {
	t.Parallel()
	s, _ := startEngine(t, Config{Enabled: true})
	if err := s.Enqueue(Task{Name: "x"}); err == nil {
		t.Fatal("expected error for nil Run")
	}
	if err := s.Enqueue(Task{Name: "  ", Run: func(context.Context) error { return nil }}); err == nil {
		t.Fatal("expected error for empty name")
	}
}

func TestRetriesUntilSuccess(t *testing.T) {
	t.Parallel()
	s, bus := startEngine(t, Config{Enabled: true, Workers: 1, RetryMax: 3})
	events, unsub := bus.Subscribe(8, "task.")
	defer unsub()

	var calls int32
	err := s.Submit(context.Background(), Task{
		Name: "flaky",
		Opt:  TaskOptions{RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond},
		Run: func(context.Context) error {
			if atomic.AddInt32(&calls, 1) < 3 {
				return errors.New("transient")
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	ev := waitEvent(t, events)
	if ev.Error != "" || ev.Attempts != 3 {
		t.Fatalf("event = %+v, want success after 3 attempts", ev)
	}
}

func TestNoRetryStopsImmediately(t *testing.T) {
	t.Parallel()
	s, bus := startEngine(t, Config{Enabled: true, Workers: 1, RetryMax: 5})
	events, unsub := bus.Subscribe(8, "task.")
	defer unsub()

	_ = s.Enqueue(Task{Name: "bad", Run: func(context.Context) error {
		return NoRetry(errors.New("permanent"))
	}})
	ev := waitEvent(t, events)
	if ev.Attempts != 1 || ev.Error != "permanent" {
		t.Fatalf("event = %+v, want one attempt with unwrapped error", ev)
	}
	if !IsNoRetry(NoRetry(errors.New("x"))) || IsNoRetry(errors.New("x")) {
		t.Fatal("IsNoRetry mismatch")
	}
}

func TestNegativeRetryMaxDisablesRetries(t *testing.T) {
	t.Parallel()
	s, bus := startEngine(t, Config{Enabled: true, Workers: 1, RetryMax: 5})
	events, unsub := bus.Subscribe(8, "task.")
	defer unsub()

	var calls int32
	_ = s.Enqueue(Task{Name: "once", Opt: TaskOptions{RetryMax: -1}, Run: func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("fail")
	}})
	ev := waitEvent(t, events)
	if ev.Attempts != 1 || atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("attempts = %d calls = %d, want 1/1", ev.Attempts, calls)
	}
}

func TestPanicBecomesError(t *testing.T) {
	t.Parallel()
	s, bus := startEngine(t, Config{Enabled: true, Workers: 1})
	events, unsub := bus.Subscribe(8, "task.")
	defer unsub()

	_ = s.Enqueue(Task{Name: "boom", Opt: TaskOptions{RetryMax: -1}, Run: func(context.Context) error { panic("x") }})
	if ev := waitEvent(t, events); ev.Error != "panic: x" {
		t.Fatalf("error = %q, want panic: x", ev.Error)
	}
	snap := s.Snapshot()
	if len(snap.History) != 1 || snap.History[0].Name != "boom" {
		t.Fatalf("history = %+v", snap.History)
	}
}

func TestTimeoutApplies(t *testing.T) {
	t.Parallel()
	s, bus := startEngine(t, Config{Enabled: true, Workers: 1, DefaultTimeout: 20 * time.Millisecond})
	events, unsub := bus.Subscribe(8, "task.")
	defer unsub()

	_ = s.Enqueue(Task{Name: "slow", Opt: TaskOptions{RetryMax: -1}, Run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	if ev := waitEvent(t, events); ev.Error != context.DeadlineExceeded.Error() {
		t.Fatalf("error = %q, want deadline exceeded", ev.Error)
	}
}

func TestOverlapSkip(t *testing.T) {
	t.Parallel()
	s, _ := startEngine(t, Config{Enabled: true, Workers: 1})
	release := make(chan struct{})
	task := Task{Name: "audit", Opt: TaskOptions{Overlap: OverlapSkipIfRunning}, Run: func(context.Context) error {
		<-release
		return nil
	}}
	if err := s.Enqueue(task); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := s.Enqueue(task); !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("second enqueue err = %v, want ErrOverlapSkip", err)
	}
	close(release)
}

func TestStoppedEngineRejects(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, logx.Nop(), nil)
	s.Start(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	if err := s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
}
