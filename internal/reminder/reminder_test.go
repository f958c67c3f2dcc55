package reminder

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"remindbot/internal/eventbus"
	"remindbot/internal/storage"
	"remindbot/internal/task/engine"
	logx "remindbot/pkg/logx"
)

type sent struct {
	owner int64
	html  string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (f *fakeSender) Send(_ context.Context, owner int64, html string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{owner: owner, html: html})
	return f.err
}

func (f *fakeSender) all() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

func (f *fakeSender) count(text string) int {
	n := 0
	for _, s := range f.all() {
		if s.html == FormatNotification(text) {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func startService(t *testing.T, store storage.ReminderStore, snd Sender, opts ...EngineOption) *Service {
	t.Helper()
	disp := NewDispatcher(snd, store, logx.Nop(), nil)
	eng := NewEngine(disp.Dispatch, logx.Nop(), opts...)
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { stopEngine(t, eng) })
	return NewService(store, eng, logx.Nop(), nil)
}

func stopEngine(t *testing.T, eng *Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := eng.Stop(ctx); err != nil {
		t.Errorf("stop: %v", err)
	}
}

func storedIDs(t *testing.T, st storage.ReminderStore) []int64 {
	t.Helper()
	rows, err := st.ListReminders(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var ids []int64
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	return ids
}

func TestScenarioCreateFiresOnce(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	snd := &fakeSender{}
	svc := startService(t, st, snd)

	r, err := svc.Create(context.Background(), 42, time.Now().Add(2*time.Second), "standup")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !svc.Engine().Registry().Has(r.ID) {
		t.Fatal("reminder not armed after create")
	}
	waitFor(t, 5*time.Second, func() bool { return len(storedIDs(t, st)) == 0 })

	got := snd.all()
	if len(got) != 1 || got[0].owner != 42 || got[0].html != FormatNotification("standup") {
		t.Fatalf("sent = %+v", got)
	}
	if svc.Engine().Registry().Len() != 0 {
		t.Fatal("registry should be empty after firing")
	}
}

func TestScenarioCancelBeforeFire(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	snd := &fakeSender{}
	svc := startService(t, st, snd)
	ctx := context.Background()

	r, err := svc.Create(ctx, 7, time.Now().Add(60*time.Second), "later")
	if err != nil {
		t.Fatal(err)
	}
	ok, err := svc.Cancel(ctx, 7, r.ID)
	if err != nil || !ok {
		t.Fatalf("cancel = %v, %v", ok, err)
	}
	if svc.Engine().Registry().Has(r.ID) || len(storedIDs(t, st)) != 0 {
		t.Fatal("cancel must clear both store and registry")
	}

	again, err := svc.Cancel(ctx, 7, r.ID)
	if err != nil || again {
		t.Fatalf("second cancel = %v, %v; want not found", again, err)
	}
	if len(snd.all()) != 0 {
		t.Fatal("cancelled reminder was delivered")
	}
}

func TestScenarioEqualDueTimesBothFire(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	snd := &fakeSender{}
	svc := startService(t, st, snd)

	due := time.Now().Add(time.Second)
	for _, text := range []string{"a", "b"} {
		if _, err := svc.Create(context.Background(), 1, due, text); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, 4*time.Second, func() bool { return len(snd.all()) == 2 })
	time.Sleep(100 * time.Millisecond)
	if snd.count("a") != 1 || snd.count("b") != 1 {
		t.Fatalf("sent = %+v", snd.all())
	}
}

func TestScenarioOverdueRowStaysStranded(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	snd := &fakeSender{}
	svc := startService(t, st, snd)
	ctx := context.Background()

	past, _ := st.InsertReminder(ctx, 5, time.Now().Add(-10*time.Second), "missed")
	future, _ := st.InsertReminder(ctx, 5, time.Now().Add(time.Hour), "upcoming")

	rep, err := svc.Recover(ctx)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if rep != (RecoveryReport{Total: 2, Armed: 1, Overdue: 1}) {
		t.Fatalf("report = %+v", rep)
	}
	reg := svc.Engine().Registry()
	if reg.Has(past) || !reg.Has(future) {
		t.Fatal("only the future reminder should be armed")
	}
	time.Sleep(100 * time.Millisecond)
	if len(snd.all()) != 0 {
		t.Fatal("overdue reminder must not be delivered")
	}
	if ids := storedIDs(t, st); len(ids) != 2 {
		t.Fatalf("store = %v, overdue row must remain", ids)
	}

	audit, err := svc.Audit(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if audit != (AuditReport{Stored: 2, Armed: 1, Stranded: 1}) {
		t.Fatalf("audit = %+v", audit)
	}

	if _, err := svc.Recover(ctx); !errors.Is(err, ErrAlreadyRecovered) {
		t.Fatalf("second recover err = %v", err)
	}
}

func TestScenarioRestartFiresOnce(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bot.db")
	st, err := storage.Open(storage.Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	snd := &fakeSender{}
	ctx := context.Background()

	// first process: create, then stop before the due time
	disp := NewDispatcher(snd, st, logx.Nop(), nil)
	first := NewEngine(disp.Dispatch, logx.Nop())
	if err := first.Start(ctx); err != nil {
		t.Fatal(err)
	}
	svc1 := NewService(st, first, logx.Nop(), nil)
	r, err := svc1.Create(ctx, 9, time.Now().Add(2*time.Second), "survive restart")
	if err != nil {
		t.Fatal(err)
	}
	stopEngine(t, first)

	// second process
	svc2 := startService(t, st, snd)
	rep, err := svc2.Recover(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Armed != 1 || !svc2.Engine().Registry().Has(r.ID) {
		t.Fatalf("report = %+v", rep)
	}
	waitFor(t, 5*time.Second, func() bool { return len(storedIDs(t, st)) == 0 })
	time.Sleep(100 * time.Millisecond)
	if n := snd.count("survive restart"); n != 1 {
		t.Fatalf("delivered %d times, want 1", n)
	}
	if time.Now().Before(r.DueAt) {
		t.Fatal("fired before its due time")
	}
}

type brokenRowStore struct {
	storage.ReminderStore
}

func (b brokenRowStore) ListReminders(ctx context.Context) ([]storage.Reminder, error) {
	rows, err := b.ReminderStore.ListReminders(ctx)
	rows = append(rows, storage.Reminder{ID: 999, OwnerID: 1, DecodeErr: errors.New("malformed timestamp")})
	return rows, err
}

func TestRecoverSkipsMalformedRows(t *testing.T) {
	t.Parallel()
	mem := storage.NewMemory()
	st := brokenRowStore{mem}
	svc := startService(t, st, &fakeSender{})
	ok, _ := mem.InsertReminder(context.Background(), 1, time.Now().Add(time.Hour), "fine")

	rep, err := svc.Recover(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Skipped != 1 || rep.Armed != 1 || !svc.Engine().Registry().Has(ok) {
		t.Fatalf("report = %+v", rep)
	}
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	svc := startService(t, st, &fakeSender{})
	ctx := context.Background()
	due := time.Now().Add(time.Hour)

	tests := []struct {
		owner int64
		due   time.Time
		text  string
	}{
		{owner: 0, due: due, text: "x"},
		{owner: 1, due: time.Time{}, text: "x"},
		{owner: 1, due: due, text: "   "},
	}
	for _, tt := range tests {
		if _, err := svc.Create(ctx, tt.owner, tt.due, tt.text); !errors.Is(err, ErrInvalid) {
			t.Fatalf("Create(%d, %v, %q) err = %v, want ErrInvalid", tt.owner, tt.due, tt.text, err)
		}
	}
	if len(storedIDs(t, st)) != 0 {
		t.Fatal("invalid reminders must not be persisted")
	}
}

func TestCreateReturnsStoredFields(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	svc := startService(t, st, &fakeSender{})
	ctx := context.Background()
	due := time.Now().Add(time.Hour)

	r, err := svc.Create(ctx, 3, due, "  stretch  ")
	if err != nil {
		t.Fatal(err)
	}
	if r.Text != "stretch" || !r.DueAt.Equal(due.UTC().Truncate(time.Second)) || r.DueAt.Location() != time.UTC {
		t.Fatalf("created = %+v", r)
	}
	if !r.CreatedAt.IsZero() {
		t.Fatalf("created_at = %s, want zero", r.CreatedAt)
	}
	list, err := svc.List(ctx, 3)
	if err != nil || len(list) != 1 || list[0].ID != r.ID || list[0].CreatedAt.IsZero() {
		t.Fatalf("list = %+v, %v", list, err)
	}
}

func TestCancelIsOwnerScoped(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	svc := startService(t, st, &fakeSender{})
	ctx := context.Background()

	r, _ := svc.Create(ctx, 1, time.Now().Add(time.Hour), "mine")
	ok, err := svc.Cancel(ctx, 2, r.ID)
	if err != nil || ok {
		t.Fatalf("foreign cancel = %v, %v", ok, err)
	}
	if !svc.Engine().Registry().Has(r.ID) {
		t.Fatal("foreign cancel disarmed the timer")
	}
	list, _ := svc.List(ctx, 1)
	if len(list) != 1 || list[0].ID != r.ID {
		t.Fatalf("list = %+v", list)
	}
}

func TestListOrdersByDue(t *testing.T) {
	t.Parallel()
	svc := startService(t, storage.NewMemory(), &fakeSender{})
	ctx := context.Background()
	base := time.Now().Add(time.Hour)
	_, _ = svc.Create(ctx, 1, base.Add(2*time.Minute), "third")
	_, _ = svc.Create(ctx, 1, base, "first")
	_, _ = svc.Create(ctx, 1, base.Add(time.Minute), "second")

	list, err := svc.List(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, r := range list {
		got = append(got, r.Text)
	}
	if strings.Join(got, ",") != "first,second,third" {
		t.Fatalf("order = %v", got)
	}
}

func TestArmReplacesExistingTimer(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var texts []string
	eng := NewEngine(func(_ context.Context, f Firing) {
		mu.Lock()
		texts = append(texts, f.Text)
		mu.Unlock()
	}, logx.Nop())
	if err := eng.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer stopEngine(t, eng)

	due := time.Now().Add(50 * time.Millisecond)
	_ = eng.Arm(1, 1, "old", due)
	_ = eng.Arm(1, 1, "new", due)
	if eng.Registry().Len() != 1 {
		t.Fatalf("registry len = %d", eng.Registry().Len())
	}
	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(texts) == 1
	})
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(texts) != 1 || texts[0] != "new" {
		t.Fatalf("fired = %v", texts)
	}
}

func TestPastDueNeverFiresInline(t *testing.T) {
	t.Parallel()
	fired := make(chan Firing, 1)
	eng := NewEngine(func(_ context.Context, f Firing) { fired <- f }, logx.Nop())
	defer stopEngine(t, eng)

	if err := eng.Arm(3, 1, "now", time.Now().Add(-time.Minute)); err != nil {
		t.Fatal(err)
	}
	// the loop is not running yet, so the firing can only be queued
	time.Sleep(50 * time.Millisecond)
	select {
	case <-fired:
		t.Fatal("dispatched without an event loop")
	default:
	}

	if err := eng.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case f := <-fired:
		if f.ID != 3 {
			t.Fatalf("fired %+v", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("queued firing never dispatched")
	}
}

func TestDisarmMakesFiringStale(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	noop := func(uint64) {}
	g1, replaced := reg.arm(1, 1, time.Time{}, time.Hour, noop)
	if replaced {
		t.Fatal("first arm cannot replace")
	}
	if !reg.remove(1) || reg.remove(1) {
		t.Fatal("remove should succeed once")
	}
	if reg.claim(1, g1) {
		t.Fatal("claim after disarm must be stale")
	}
	g2, _ := reg.arm(1, 1, time.Time{}, time.Hour, noop)
	if reg.claim(1, g1) {
		t.Fatal("old generation claimed a re-armed timer")
	}
	if !reg.claim(1, g2) || reg.Has(1) {
		t.Fatal("current generation should claim and remove")
	}
	if n := reg.stopAll(); n != 0 {
		t.Fatalf("stopAll = %d", n)
	}
}

func TestStoppedEngineRefusesArm(t *testing.T) {
	t.Parallel()
	eng := NewEngine(nil, logx.Nop())
	_ = eng.Start(context.Background())
	_ = eng.Arm(1, 1, "x", time.Now().Add(time.Hour))
	stopEngine(t, eng)
	if eng.Registry().Len() != 0 {
		t.Fatal("stop must disarm every timer")
	}
	if err := eng.Arm(2, 1, "x", time.Now()); !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
}

func TestCancelledContextStopsArming(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	eng := NewEngine(nil, logx.Nop())
	if err := eng.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { stopEngine(t, eng) })
	if err := eng.Arm(1, 1, "x", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("arm while running: %v", err)
	}

	cancel()
	select {
	case <-eng.exited:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit with its context")
	}
	if err := eng.Arm(2, 1, "x", time.Now()); !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}

	// an expiry racing the shutdown must not block its timer goroutine
	posted := make(chan struct{})
	go func() {
		for i := 0; i <= firingBuffer; i++ {
			eng.post(firing{Firing: Firing{ID: 1}})
		}
		close(posted)
	}()
	select {
	case <-posted:
	case <-time.After(time.Second):
		t.Fatal("post blocked after the loop exited")
	}
}

func TestDispatcherDeletesEvenWhenSendFails(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	ctx := context.Background()
	id, _ := st.InsertReminder(ctx, 4, time.Now(), "<b>x</b> & y")
	snd := &fakeSender{err: errors.New("telegram down")}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4, eventbus.ReminderDelivered)
	defer unsub()

	NewDispatcher(snd, st, logx.Nop(), bus).Dispatch(ctx, Firing{ID: id, OwnerID: 4, Text: "<b>x</b> & y"})

	if len(storedIDs(t, st)) != 0 {
		t.Fatal("row must be deleted after a failed send")
	}
	got := snd.all()
	if len(got) != 1 || got[0].html != "⏰ <b>REMINDER!</b>\n\n&lt;b&gt;x&lt;/b&gt; &amp; y" {
		t.Fatalf("sent = %+v", got)
	}
	ev := (<-events).Data.(DeliveryEvent)
	if ev.Sent || !ev.Deleted || ev.Error == "" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestDispatchRunsOnTaskEngine(t *testing.T) {
	t.Parallel()
	pool := engine.New(engine.Config{Enabled: true, Workers: 1}, logx.Nop(), nil)
	pool.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		pool.Stop(ctx)
	})

	st := storage.NewMemory()
	snd := &fakeSender{}
	svc := startService(t, st, snd, WithPool(pool))
	if _, err := svc.Create(context.Background(), 1, time.Now(), "pooled"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 3*time.Second, func() bool {
		for _, h := range pool.Snapshot().History {
			if h.Name == dispatchTaskName && h.Attempts == 1 {
				return true
			}
		}
		return false
	})
	if snd.count("pooled") != 1 {
		t.Fatalf("sent = %+v", snd.all())
	}
}

func TestParseDue(t *testing.T) {
	t.Parallel()
	got, err := ParseDue("2025-12-31", "23:59")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(time.Date(2025, 12, 31, 23, 59, 0, 0, time.UTC)) || FormatDue(got) != "2025-12-31 23:59" {
		t.Fatalf("got %v", got)
	}
	for _, bad := range [][2]string{{"2025-13-01", "10:00"}, {"tomorrow", "10:00"}, {"2025-01-01", "25:00"}, {"2025-01-01", ""}} {
		if _, err := ParseDue(bad[0], bad[1]); !errors.Is(err, ErrInvalid) {
			t.Fatalf("ParseDue(%q, %q) err = %v", bad[0], bad[1], err)
		}
	}
}
