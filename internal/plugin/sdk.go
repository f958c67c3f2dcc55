package plugin

import (
	"context"
	"errors"
	"sync"
	"time"

	"remindbot/internal/eventbus"
	"remindbot/internal/feeds"
	"remindbot/internal/notifier"
	"remindbot/internal/reminder"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/storage"
	"remindbot/internal/task/engine"
	"remindbot/internal/task/scheduler"
	logx "remindbot/pkg/logx"
)

// Plugin is a group of commands plus whatever background work they need.
// Init runs once; Start and Stop bracket the plugin's runtime.
type Plugin interface {
	Name() string
	Init(ctx context.Context, deps Deps) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Commands() []Command
}

// HealthChecker is optional. It must not block for long.
type HealthChecker interface {
	Health(ctx context.Context) (string, error)
}

// FileReceiver is optional. The first running plugin that implements it gets
// uploads that carry no command.
type FileReceiver interface {
	HandleFile(ctx context.Context, req *Request) error
}

// SchedulerPort is the part of the scheduler plugins use.
type SchedulerPort interface {
	AddSchedule(name, schedule string, timeout time.Duration, job func(ctx context.Context) error) error
	Remove(name string) bool
	Snapshot() scheduler.Snapshot
}

// PluginsPort exposes the manager to plugins that report on it.
type PluginsPort interface {
	Snapshot() PluginsSnapshot
	CheckHealth(ctx context.Context, names []string) []PluginHealthResult
}

// Deps are the shared services handed to every plugin. Any field may be nil
// when the service is not configured.
type Deps struct {
	Logger logx.Logger
	Bus    eventbus.Bus
	Store  storage.Store

	Engine    *engine.Service
	Scheduler SchedulerPort
	Notifier  *notifier.Service
	Reminders *reminder.Service
	Feeds     *feeds.Fetcher

	Plugins PluginsPort
	// Supervisors lists long-lived runtime supervisors by name.
	Supervisors func() map[string]*Supervisor
	// Help renders the command overview.
	Help func() string
}

// PluginBase carries the boilerplate most plugins share.
//
//	type Plugin struct{ plugin.PluginBase }
//	func (p *Plugin) Init(ctx context.Context, deps plugin.Deps) error { p.InitBase(deps, p.Name()); return nil }
//	func (p *Plugin) Start(ctx context.Context) error { p.StartBase(ctx); return nil }
//	func (p *Plugin) Stop(ctx context.Context) error { return p.StopBase(ctx) }
type PluginBase struct {
	Log    logx.Logger
	Deps   Deps
	Runner *Supervisor

	pluginName string
	ctx        context.Context

	schedMu   sync.Mutex
	schedules []string
}

func (b *PluginBase) InitBase(deps Deps, pluginName string) {
	b.Deps = deps
	b.pluginName = pluginName
	log := deps.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	b.Log = log.With(logx.String("plugin", pluginName))
}

// StartBase creates a per-plugin supervisor tied to ctx.
func (b *PluginBase) StartBase(ctx context.Context) {
	b.ctx = ctx
	b.Runner = rtsup.NewSupervisor(ctx, rtsup.WithLogger(b.Log), rtsup.WithCancelOnError(false))
}

// StopBase removes the plugin's schedules, cancels its runner and waits for
// it, bounded by ctx.
func (b *PluginBase) StopBase(ctx context.Context) error {
	b.schedMu.Lock()
	names := b.schedules
	b.schedules = nil
	b.schedMu.Unlock()
	if s := b.Deps.Scheduler; s != nil {
		for _, n := range names {
			s.Remove(n)
		}
	}

	if b.Runner == nil {
		return nil
	}
	b.Runner.Cancel()
	err := b.Runner.Wait(ctx)
	b.Runner = nil
	return err
}

func (b *PluginBase) Context() context.Context { return b.ctx }

func (b *PluginBase) Supervisor() *Supervisor { return b.Runner }

func (b *PluginBase) Health(ctx context.Context) (string, error) {
	if b.ctx == nil {
		return "not_started", nil
	}
	select {
	case <-b.ctx.Done():
		return "stopped", b.ctx.Err()
	default:
	}
	return "ok", nil
}

// Schedule registers job under "<plugin>:<name>". spec is anything the
// scheduler accepts ("@every 15m", "0 * * * *", "55m"). StopBase removes it.
func (b *PluginBase) Schedule(name, spec string, timeout time.Duration, job func(ctx context.Context) error) error {
	s := b.Deps.Scheduler
	if s == nil {
		return errors.New("scheduler not available")
	}
	full := b.ns(name)
	if err := s.AddSchedule(full, spec, timeout, job); err != nil {
		return err
	}
	b.schedMu.Lock()
	b.schedules = append(b.schedules, full)
	b.schedMu.Unlock()
	return nil
}

func (b *PluginBase) ns(name string) string {
	if b.pluginName == "" {
		return name
	}
	if name == "" {
		return b.pluginName
	}
	return b.pluginName + ":" + name
}

// PublishEvent is a no-op without a bus. Publish never blocks.
func (b *PluginBase) PublishEvent(typ string, data any) {
	if b.Deps.Bus == nil {
		return
	}
	b.Deps.Bus.Publish(eventbus.Event{Type: typ, Data: data})
}
