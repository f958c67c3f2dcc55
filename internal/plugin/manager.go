package plugin

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"remindbot/internal/eventbus"
	"remindbot/internal/runtime/lifecycle"
	logx "remindbot/pkg/logx"
)

const (
	defaultStartTimeout   = 10 * time.Second
	defaultCommandTimeout = 30 * time.Second
	healthCheckTimeout    = 3 * time.Second
)

type pluginEvent struct {
	Plugin string `json:"plugin"`
	Reason string `json:"reason,omitempty"`
	Err    string `json:"err,omitempty"`
	TookMS int64  `json:"took_ms,omitempty"`
}

type entry struct {
	p         Plugin
	running   bool
	startedAt time.Time
	cancel    context.CancelFunc
	quarErr   string
	commands  int
	health    PluginHealthResult
}

// Manager owns the plugin lifecycle and feeds the command registry with the
// commands of running plugins.
type Manager struct {
	log  logx.Logger
	deps Deps
	cmdm *CommandManager

	StartTimeout   time.Duration
	CommandTimeout time.Duration

	mu      sync.Mutex
	order   []string
	entries map[string]*entry
}

func NewManager(log logx.Logger, deps Deps, cmdm *CommandManager) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Manager{
		log:            log,
		cmdm:           cmdm,
		StartTimeout:   defaultStartTimeout,
		CommandTimeout: defaultCommandTimeout,
		entries:        map[string]*entry{},
	}
	deps.Plugins = m
	if deps.Help == nil && cmdm != nil {
		deps.Help = func() string { return cmdm.HelpText(nil) }
	}
	m.deps = deps
	return m
}

func (m *Manager) emit(typ string, data pluginEvent) {
	if m.deps.Bus == nil {
		return
	}
	m.deps.Bus.Publish(eventbus.Event{Type: typ, Data: data})
}

// Register adds plugins in start order. A second plugin with a taken name is
// ignored.
func (m *Manager) Register(p ...Plugin) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pl := range p {
		if pl == nil {
			continue
		}
		name := pl.Name()
		if _, dup := m.entries[name]; dup {
			m.log.Warn("duplicate plugin ignored", logx.String("plugin", name))
			continue
		}
		m.entries[name] = &entry{p: pl}
		m.order = append(m.order, name)
	}
}

// StartAll initializes and starts every registered plugin, then publishes
// the commands of those that came up. A failing plugin is quarantined and
// the rest keep going; the returned error joins every failure.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	names := append([]string(nil), m.order...)
	m.mu.Unlock()

	var errs []error
	for _, name := range names {
		if err := m.startOne(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("plugin %s: %w", name, err))
		}
	}
	m.refreshRegistry()
	return errors.Join(errs...)
}

func (m *Manager) startOne(ctx context.Context, name string) error {
	m.mu.Lock()
	e := m.entries[name]
	m.mu.Unlock()
	if e == nil || e.running {
		return nil
	}

	pctx, cancel := context.WithCancel(ctx)
	deps := m.deps
	deps.Logger = m.log

	start := time.Now()
	if err := m.safeCall("plugin.init."+name, func() error { return e.p.Init(pctx, deps) }); err != nil {
		cancel()
		m.quarantine(name, "init", err)
		return err
	}
	if err := m.startWithTimeout(name, e.p, pctx, cancel, m.StartTimeout); err != nil {
		cancel()
		m.quarantine(name, "start", err)
		return err
	}

	m.mu.Lock()
	e.running = true
	e.startedAt = time.Now()
	e.cancel = cancel
	e.quarErr = ""
	m.mu.Unlock()

	took := time.Since(start)
	m.emit("plugin.started", pluginEvent{Plugin: name, TookMS: took.Milliseconds()})
	m.log.Info("plugin started", logx.String("plugin", name), logx.Duration("took", took))
	return nil
}

func (m *Manager) quarantine(name, stage string, err error) {
	m.mu.Lock()
	if e := m.entries[name]; e != nil {
		e.running = false
		e.quarErr = stage + ": " + err.Error()
	}
	m.mu.Unlock()
	m.log.Error("plugin quarantined", logx.String("plugin", name), logx.String("stage", stage), logx.Err(err))
	m.emit("plugin.quarantined", pluginEvent{Plugin: name, Reason: string(lifecycle.StopPluginQuarantine), Err: err.Error()})
}

// startWithTimeout calls Start(pctx) but enforces a deadline. If it times
// out, the plugin ctx is cancelled.
func (m *Manager) startWithTimeout(name string, p Plugin, pctx context.Context, cancel context.CancelFunc, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- m.safeCall("plugin.start."+name, func() error { return p.Start(pctx) })
	}()

	if timeout <= 0 {
		return <-done
	}
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case err := <-done:
		return err
	case <-t.C:
		cancel()
		grace := time.NewTimer(2 * time.Second)
		defer grace.Stop()
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("start timeout (%s): %w", timeout, err)
			}
			return fmt.Errorf("start timeout (%s)", timeout)
		case <-grace.C:
			return fmt.Errorf("start timeout (%s): start did not return after cancel", timeout)
		}
	}
}

// StopAll stops running plugins in reverse start order. A plugin that does
// not return before ctx ends is abandoned.
func (m *Manager) StopAll(ctx context.Context, reason lifecycle.StopReason) {
	m.mu.Lock()
	names := append([]string(nil), m.order...)
	m.mu.Unlock()

	for i := len(names) - 1; i >= 0; i-- {
		m.stopOne(ctx, names[i], reason)
	}
	m.refreshRegistry()
}

func (m *Manager) stopOne(stopCtx context.Context, name string, reason lifecycle.StopReason) {
	m.mu.Lock()
	e := m.entries[name]
	if e == nil || !e.running {
		m.mu.Unlock()
		return
	}
	p, cancel := e.p, e.cancel
	m.mu.Unlock()

	start := time.Now()
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		_ = m.safeCall("plugin.stop."+name, func() error { return p.Stop(stopCtx) })
		close(done)
	}()
	select {
	case <-done:
	case <-stopCtx.Done():
		m.log.Warn("plugin stop timeout (continuing)", logx.String("plugin", name), logx.Err(stopCtx.Err()))
		m.emit("plugin.stop_timeout", pluginEvent{Plugin: name, Reason: reason.String(), Err: stopCtx.Err().Error()})
	}

	m.mu.Lock()
	e.running = false
	e.cancel = nil
	e.health = PluginHealthResult{Plugin: name, At: time.Now(), Status: "stopped"}
	m.mu.Unlock()

	took := time.Since(start)
	m.emit("plugin.stopped", pluginEvent{Plugin: name, Reason: reason.String(), TookMS: took.Milliseconds()})
	m.log.Debug("plugin stopped", logx.String("plugin", name), logx.String("reason", reason.String()), logx.Duration("took", took))
}

func (m *Manager) safeCall(label string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in plugin call", logx.String("call", label), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("panic in %s: %v", label, r)
		}
	}()
	return fn()
}

func (m *Manager) refreshRegistry() {
	m.mu.Lock()
	var cmds []Command
	var onFile HandlerFunc
	for _, name := range m.order {
		e := m.entries[name]
		if !e.running {
			e.commands = 0
			continue
		}
		if fr, ok := e.p.(FileReceiver); ok && onFile == nil {
			onFile = fr.HandleFile
		}
		list := m.safeCommands(name, e.p)
		e.commands = len(list)
		for _, c := range list {
			if c.Timeout <= 0 {
				c.Timeout = m.CommandTimeout
			}
			cmds = append(cmds, c)
		}
	}
	m.mu.Unlock()

	if m.cmdm != nil {
		m.cmdm.SetRegistry(cmds)
		m.cmdm.SetFileHandler(onFile)
	}
}

func (m *Manager) safeCommands(name string, p Plugin) (out []Command) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in plugin Commands()", logx.String("plugin", name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			out = nil
		}
	}()
	return p.Commands()
}

// Snapshot implements PluginsPort.
func (m *Manager) Snapshot() PluginsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := PluginsSnapshot{Time: time.Now(), Plugins: make([]PluginStatus, 0, len(m.order))}
	for _, name := range m.order {
		e := m.entries[name]
		out.Plugins = append(out.Plugins, PluginStatus{
			Name:          name,
			Running:       e.running,
			StartedAt:     e.startedAt,
			Commands:      e.commands,
			Quarantined:   e.quarErr != "",
			QuarantineErr: e.quarErr,
			LastHealth:    e.health,
		})
	}
	return out
}

// CheckHealth implements PluginsPort. With no names it checks every running
// plugin that has a health checker.
func (m *Manager) CheckHealth(ctx context.Context, names []string) []PluginHealthResult {
	type target struct {
		name    string
		hc      HealthChecker
		running bool
	}

	m.mu.Lock()
	var targets []target
	all := len(names) == 0
	if all {
		names = m.order
	}
	for _, name := range names {
		e := m.entries[name]
		if e == nil {
			continue
		}
		hc, ok := e.p.(HealthChecker)
		if !ok && all {
			continue
		}
		targets = append(targets, target{name: name, hc: hc, running: e.running})
	}
	m.mu.Unlock()
	sort.Slice(targets, func(i, j int) bool { return targets[i].name < targets[j].name })

	results := make([]PluginHealthResult, 0, len(targets))
	for _, t := range targets {
		r := PluginHealthResult{Plugin: t.name, At: time.Now(), Status: "stopped"}
		if t.running && t.hc != nil {
			hctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
			var status string
			err := m.safeCall("plugin.health."+t.name, func() error {
				var err error
				status, err = t.hc.Health(hctx)
				return err
			})
			cancel()
			r.Status = status
			if err != nil {
				r.Err = err.Error()
			}
		}

		m.mu.Lock()
		if e := m.entries[t.name]; e != nil {
			if r.Err != "" {
				r.Fails = e.health.Fails + 1
			}
			e.health = r
		}
		m.mu.Unlock()
		results = append(results, r)
	}
	return results
}
