package system

import (
	"strings"
	"testing"
	"time"

	core "remindbot/internal/plugin"
	"remindbot/internal/reminder"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/task/engine"
	"remindbot/internal/task/scheduler"
)

func TestRenderHealth(t *testing.T) {
	t.Parallel()
	next := time.Date(2030, 1, 2, 3, 4, 0, 0, time.UTC)
	v := healthView{
		Uptime:     90 * time.Minute,
		Goroutines: 12,
		HeapAlloc:  3 << 20,
		Reminders:  &reminder.EngineStats{Armed: 4, Fired: 9, Stale: 1, NextDue: next, Recovered: true},
		Engine: &engine.Snapshot{Enabled: true, Workers: 2, QueueCap: 64, History: []engine.HistoryItem{
			{Name: "feeds.fetch", Started: time.Now(), Error: "fetch <x>: 404"},
			{Name: "reminder.dispatch", Started: time.Now()},
		}},
		Scheduler: &scheduler.Snapshot{Running: true, Timezone: "UTC", Schedules: []scheduler.ScheduleInfo{{Name: "reminders:audit", Spec: "@every 15m"}}},
		Plugins: &core.PluginsSnapshot{Plugins: []core.PluginStatus{
			{Name: "reminders", Running: true, Commands: 3, LastHealth: core.PluginHealthResult{Status: "ok armed=4"}},
			{Name: "rss", Quarantined: true, QuarantineErr: "init: feed fetcher not available"},
		}},
		Supervisors: map[string]rtsup.SupervisorSnapshot{
			"app": {Counters: rtsup.SupervisorCounters{Active: 3, Started: 5}},
		},
	}
	out := renderHealth(v)

	for _, want := range []string{
		"🩺 <b>health</b>",
		"<pre>",
		"uptime:     1h30m",
		"heap:       3.0MiB",
		"armed:     4",
		"next:      2030-01-02 03:04 UTC",
		"fired:     9 (stale=1)",
		"queue:     0/64 dropped=0",
		"last_fail: feeds.fetch",
		"fetch &lt;x&gt;: 404",
		"- reminders:audit [@every 15m] next -",
		"- reminders run=true cmds=3 health=ok armed=4",
		"quarantine: init: feed fetcher not available",
		"app: active=3 started=5",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Contains(out, "notifier") {
		t.Fatal("absent notifier should not render")
	}
}

func TestDurRelAndBytes(t *testing.T) {
	t.Parallel()
	durs := []struct {
		d    time.Duration
		want string
	}{
		{500 * time.Millisecond, "0s"},
		{42 * time.Second, "42s"},
		{3*time.Minute + 5*time.Second, "3m05s"},
		{26 * time.Hour, "1d02h"},
	}
	for _, tt := range durs {
		if got := durRel(tt.d); got != tt.want {
			t.Fatalf("durRel(%s) = %q, want %q", tt.d, got, tt.want)
		}
	}
	if got := fmtBytes(512); got != "512B" {
		t.Fatalf("fmtBytes(512) = %q", got)
	}
	if got := fmtBytes(1536); got != "1.5KiB" {
		t.Fatalf("fmtBytes(1536) = %q", got)
	}
}
