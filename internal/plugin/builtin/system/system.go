// Package system holds the operator commands.
package system

import (
	"context"
	"time"

	core "remindbot/internal/plugin"
)

type Plugin struct {
	core.PluginBase
	startedAt time.Time
}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return "system" }

func (p *Plugin) Init(ctx context.Context, deps core.Deps) error {
	p.InitBase(deps, p.Name())
	p.startedAt = time.Now()
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	p.StartBase(ctx)
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error { return p.StopBase(ctx) }

func (p *Plugin) Commands() []core.Command {
	return []core.Command{
		{
			Name:        "health",
			Section:     "Operations",
			Description: "runtime health",
			Usage:       "/health [check|sup]",
			Access:      core.AccessOwnerOnly,
			Timeout:     20 * time.Second,
			Handle:      p.cmdHealth,
		},
	}
}
