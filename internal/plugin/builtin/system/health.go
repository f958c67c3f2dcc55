package system

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"

	"remindbot/internal/notifier"
	core "remindbot/internal/plugin"
	"remindbot/internal/reminder"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/task/engine"
	"remindbot/internal/task/scheduler"
	"remindbot/pkg/tgui"
)

// healthView is everything /health shows, gathered before rendering.
type healthView struct {
	Uptime     time.Duration
	Goroutines int
	HeapAlloc  uint64
	NumGC      uint32

	Reminders *reminder.EngineStats
	Engine    *engine.Snapshot
	Scheduler *scheduler.Snapshot
	Notifier  *notifier.Snapshot
	Plugins   *core.PluginsSnapshot

	Supervisors map[string]rtsup.SupervisorSnapshot
	Detail      bool
	Refreshed   bool
}

func (p *Plugin) cmdHealth(ctx context.Context, req *core.Request) error {
	check, detail := false, false
	for _, a := range req.Args {
		switch strings.ToLower(a) {
		case "check", "refresh":
			check = true
		case "sup", "supervisor", "detail":
			detail = true
		}
	}
	d := p.Deps
	if check && d.Plugins != nil {
		cctx, cancel := context.WithTimeout(ctx, 12*time.Second)
		_ = d.Plugins.CheckHealth(cctx, nil)
		cancel()
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	v := healthView{
		Uptime:     time.Since(p.startedAt),
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  ms.HeapAlloc,
		NumGC:      ms.NumGC,
		Detail:     detail,
		Refreshed:  check,
	}
	if d.Reminders != nil {
		st := d.Reminders.Engine().Stats()
		v.Reminders = &st
	}
	if d.Engine != nil {
		s := d.Engine.Snapshot()
		v.Engine = &s
	}
	if d.Scheduler != nil {
		s := d.Scheduler.Snapshot()
		v.Scheduler = &s
	}
	if d.Notifier != nil {
		s := d.Notifier.Snapshot()
		v.Notifier = &s
	}
	if d.Plugins != nil {
		s := d.Plugins.Snapshot()
		v.Plugins = &s
	}
	if d.Supervisors != nil {
		v.Supervisors = map[string]rtsup.SupervisorSnapshot{}
		for name, sup := range d.Supervisors() {
			if sup != nil {
				v.Supervisors[name] = sup.Snapshot()
			}
		}
	}
	return req.Reply(ctx, renderHealth(v))
}

func renderHealth(v healthView) string {
	var b strings.Builder
	fmt.Fprintf(&b, "uptime:     %s\n", durRel(v.Uptime))
	fmt.Fprintf(&b, "goroutines: %d\n", v.Goroutines)
	fmt.Fprintf(&b, "heap:       %s (gc=%d)\n", fmtBytes(v.HeapAlloc), v.NumGC)

	b.WriteString("\n⏰ reminders\n")
	if r := v.Reminders; r != nil {
		fmt.Fprintf(&b, "  armed:     %d\n", r.Armed)
		if !r.NextDue.IsZero() {
			fmt.Fprintf(&b, "  next:      %s UTC\n", reminder.FormatDue(r.NextDue))
		}
		fmt.Fprintf(&b, "  fired:     %d (stale=%d)\n", r.Fired, r.Stale)
		fmt.Fprintf(&b, "  recovered: %v\n", r.Recovered)
	} else {
		b.WriteString("  n/a\n")
	}

	b.WriteString("\n⚙️ task engine\n")
	if e := v.Engine; e != nil {
		fmt.Fprintf(&b, "  enabled:   %v workers=%d inflight=%d\n", e.Enabled, e.Workers, e.InFlight)
		fmt.Fprintf(&b, "  queue:     %d/%d dropped=%d\n", e.QueueLen, e.QueueCap, e.Dropped)
		if last, ok := lastFailure(e.History); ok {
			fmt.Fprintf(&b, "  last_fail: %s %s ago: %s\n", last.Name, durRel(time.Since(last.Started)), shorten(last.Error, 80))
		}
	} else {
		b.WriteString("  n/a\n")
	}

	b.WriteString("\n⏱ scheduler\n")
	if s := v.Scheduler; s != nil {
		fmt.Fprintf(&b, "  running:   %v tz=%s\n", s.Running, s.Timezone)
		for _, it := range s.Schedules {
			next := "-"
			if !it.Next.IsZero() {
				next = "in " + durRel(time.Until(it.Next))
			}
			fmt.Fprintf(&b, "  - %s [%s] next %s\n", it.Name, it.Spec, next)
		}
	} else {
		b.WriteString("  n/a\n")
	}

	if n := v.Notifier; n != nil {
		b.WriteString("\n📨 notifier\n")
		fmt.Fprintf(&b, "  rate:      %d/s sent=%d failed=%d\n", n.RatePerSec, n.Sent, n.Failed)
	}

	if pl := v.Plugins; pl != nil {
		b.WriteString("\n🔌 plugins\n")
		for _, st := range pl.Plugins {
			line := fmt.Sprintf("  - %s run=%v cmds=%d", st.Name, st.Running, st.Commands)
			switch {
			case st.LastHealth.Err != "":
				line += " health=fail(" + shorten(st.LastHealth.Err, 40) + ")"
			case st.LastHealth.Status != "":
				line += " health=" + st.LastHealth.Status
			}
			if st.Quarantined {
				line += " | quarantine: " + shorten(st.QuarantineErr, 80)
			}
			b.WriteString(line + "\n")
		}
	}

	if len(v.Supervisors) > 0 {
		b.WriteString("\n🧵 supervisor\n")
		names := make([]string, 0, len(v.Supervisors))
		for name := range v.Supervisors {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			snap := v.Supervisors[name]
			fmt.Fprintf(&b, "  %s: active=%d started=%d\n", name, snap.Counters.Active, snap.Counters.Started)
			if v.Detail {
				writeSupDetails(&b, snap, 12)
			}
		}
	}
	if v.Refreshed {
		b.WriteString("\nrefreshed: yes\n")
	}

	var m tgui.Msg
	m.Title("🩺", "health").Blank().Line(tgui.Pre(strings.TrimRight(b.String(), "\n")))
	return m.String()
}

func lastFailure(h []engine.HistoryItem) (engine.HistoryItem, bool) {
	for i := len(h) - 1; i >= 0; i-- {
		if h[i].Error != "" {
			return h[i], true
		}
	}
	return engine.HistoryItem{}, false
}

func writeSupDetails(b *strings.Builder, snap rtsup.SupervisorSnapshot, limit int) {
	n := 0
	for _, g := range snap.Goroutines {
		if g.Active == 0 && g.Started == 0 {
			continue
		}
		line := fmt.Sprintf("    - %s active=%d started=%d restarts=%d panics=%d", g.Name, g.Active, g.Started, g.Restarts, g.Panics)
		if g.LastErr != "" {
			line += ", last_err=" + shorten(g.LastErr, 80)
		}
		b.WriteString(line + "\n")
		n++
		if n >= limit {
			break
		}
	}
	if n == 0 {
		b.WriteString("    (no data)\n")
	}
}

func durRel(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	switch {
	case d < time.Second:
		return "0s"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	default:
		return fmt.Sprintf("%dd%02dh", int(d.Hours())/24, int(d.Hours())%24)
	}
}

func fmtBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func shorten(s string, n int) string {
	return tgui.TruncRunes(strings.TrimSpace(s), n)
}
