package app

import (
	"context"
	"slices"
	"strings"
	"time"

	"remindbot/internal/config"
	"remindbot/internal/eventbus"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/systemd"
)

// restartOnly are sections read once at startup.
var restartOnly = []string{"storage", "reminders", "files"}

func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			a.apply(ctx, last, next)
			last = next
		}
	}
}

// apply pushes the hot-reloadable parts of next into the running services.
// next has already passed validate.
func (a *App) apply(ctx context.Context, prev, next *config.Config) {
	changed := config.ChangedSections(prev, next)
	if len(changed) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	_, _ = systemd.Reloading()
	defer func() { _, _ = systemd.Ready() }()

	for _, s := range restartOnly {
		if slices.Contains(changed, s) {
			a.log.Warn("config section changed; restart required for it to take effect", logx.String("section", s))
		}
	}

	a.logs.Apply(mapLogConfig(next))
	a.cmdm.SetOwners(next.Telegram.OwnerUserIDs)

	if ec, err := mapEngineConfig(next); err == nil {
		a.engine.Apply(ctx, ec)
		a.engine.Start(ctx)
	}

	wasScheduling := a.sched.Enabled()
	a.sched.Apply(mapSchedulerConfig(next))
	switch {
	case next.Scheduler.Enabled && !wasScheduling:
		a.log.Info("scheduler enabled via config")
		a.sched.Start(ctx)
	case !next.Scheduler.Enabled && wasScheduling:
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
	}

	if nc, err := mapNotifierConfig(next); err == nil {
		a.notif.Apply(nc)
	}
	if fc, err := mapFeedsConfig(next); err == nil {
		a.feeds.Apply(fc)
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReload, Data: changed})
	a.log.Info("config applied", logx.String("changed", strings.Join(changed, ",")))
}
