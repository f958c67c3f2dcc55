package reminders

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	core "remindbot/internal/plugin"
	"remindbot/internal/plugin/plugintest"
	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
)

func setup(t *testing.T) (*Plugin, *plugintest.Adapter, storage.Store) {
	t.Helper()
	st := storage.NewMemory()
	eng := reminder.NewEngine(func(context.Context, reminder.Firing) {}, logx.Nop())
	if err := eng.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = eng.Stop(ctx)
	})
	p := New(Options{AuditSchedule: "off"})
	if err := p.Init(context.Background(), core.Deps{Reminders: reminder.NewService(st, eng, logx.Nop(), nil)}); err != nil {
		t.Fatal(err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = p.Stop(context.Background()) })
	return p, &plugintest.Adapter{}, st
}

func TestRemindAddValidation(t *testing.T) {
	t.Parallel()
	p, ad, st := setup(t)
	ctx := context.Background()

	tests := []struct {
		args string
		want string
	}{
		{"", "Usage:"},
		{"2026-02-15", "Usage:"},
		{"2026-02-15 14:30", "Please provide reminder text."},
		{"2026-02-15 25:99 party", "Invalid datetime format."},
		{"15/02/2026 14:30 party", "Invalid datetime format."},
	}
	for _, tt := range tests {
		if err := p.cmdAdd(ctx, plugintest.Request(ad, 7, "remind_add", tt.args)); err != nil {
			t.Fatalf("%q: %v", tt.args, err)
		}
		if !strings.Contains(ad.Last(), tt.want) {
			t.Fatalf("%q: reply %q, want %q", tt.args, ad.Last(), tt.want)
		}
	}
	rows, _ := st.ListReminders(ctx)
	if len(rows) != 0 {
		t.Fatalf("rows persisted on invalid input: %+v", rows)
	}
}

func TestRemindAddListCancel(t *testing.T) {
	t.Parallel()
	p, ad, _ := setup(t)
	ctx := context.Background()
	future := time.Now().UTC().AddDate(1, 0, 0)
	later := future.Add(time.Hour)

	add := func(due time.Time, text string) {
		t.Helper()
		args := reminder.FormatDue(due) + " " + text
		if err := p.cmdAdd(ctx, plugintest.Request(ad, 7, "remind_add", args)); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(ad.Last(), "Reminder set!") || !strings.Contains(ad.Last(), reminder.FormatDue(due)) {
			t.Fatalf("reply = %q", ad.Last())
		}
	}
	add(later, "second <b>bold</b>")
	add(future, "first  with  spaces")

	if err := p.cmdList(ctx, plugintest.Request(ad, 7, "remind_list", "")); err != nil {
		t.Fatal(err)
	}
	list := ad.Last()
	i1, i2 := strings.Index(list, "first  with  spaces"), strings.Index(list, "second &lt;b&gt;bold&lt;/b&gt;")
	if i1 < 0 || i2 < 0 || i1 > i2 {
		t.Fatalf("list not ordered or not escaped: %q", list)
	}
	if p.svc.Engine().Stats().Armed != 2 {
		t.Fatalf("armed = %d", p.svc.Engine().Stats().Armed)
	}

	// another user sees nothing and cannot cancel
	if err := p.cmdList(ctx, plugintest.Request(ad, 8, "remind_list", "")); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ad.Last(), "No reminders scheduled.") {
		t.Fatalf("other user list = %q", ad.Last())
	}
	if err := p.cmdCancel(ctx, plugintest.Request(ad, 8, "remind_cancel", "1")); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ad.Last(), "Reminder not found.") {
		t.Fatalf("foreign cancel = %q", ad.Last())
	}

	if err := p.cmdCancel(ctx, plugintest.Request(ad, 7, "remind_cancel", "abc")); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ad.Last(), "Usage:") {
		t.Fatalf("bad id = %q", ad.Last())
	}
	if err := p.cmdCancel(ctx, plugintest.Request(ad, 7, "remind_cancel", "1")); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ad.Last(), "Reminder canceled!") {
		t.Fatalf("cancel = %q", ad.Last())
	}
	if p.svc.Engine().Stats().Armed != 1 {
		t.Fatalf("armed after cancel = %d", p.svc.Engine().Stats().Armed)
	}
}

func TestAuditRunsWithoutChanges(t *testing.T) {
	t.Parallel()
	p, _, st := setup(t)
	ctx := context.Background()
	if _, err := st.InsertReminder(ctx, 7, time.Now().Add(-time.Hour), "stranded"); err != nil {
		t.Fatal(err)
	}
	if err := p.audit(ctx); err != nil {
		t.Fatal(err)
	}
	rows, _ := st.ListReminders(ctx)
	if len(rows) != 1 {
		t.Fatalf("audit must not delete rows: %+v", rows)
	}
}

type unreadableRowStore struct {
	storage.ReminderStore
}

func (s unreadableRowStore) ListRemindersByOwner(ctx context.Context, ownerID int64) ([]storage.Reminder, error) {
	rows, err := s.ReminderStore.ListRemindersByOwner(ctx, ownerID)
	rows = append(rows, storage.Reminder{ID: 41, OwnerID: ownerID, Text: "lost", DecodeErr: errors.New("bad timestamp")})
	return rows, err
}

func TestListMarksUnreadableDueTime(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	eng := reminder.NewEngine(nil, logx.Nop())
	p := New(Options{AuditSchedule: "off"})
	svc := reminder.NewService(unreadableRowStore{storage.NewMemory()}, eng, logx.Nop(), nil)
	if err := p.Init(ctx, core.Deps{Reminders: svc}); err != nil {
		t.Fatal(err)
	}
	ad := &plugintest.Adapter{}
	if err := p.cmdList(ctx, plugintest.Request(ad, 7, "remind_list", "")); err != nil {
		t.Fatal(err)
	}
	got := ad.Last()
	if !strings.Contains(got, "<i>invalid time</i> - lost") || strings.Contains(got, "0001-01-01") {
		t.Fatalf("list = %q", got)
	}
}
