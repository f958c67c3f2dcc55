package general

import (
	"context"
	"strings"

	core "remindbot/internal/plugin"
	"remindbot/pkg/tgui"
)

type Plugin struct {
	core.PluginBase
}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return "general" }

func (p *Plugin) Init(ctx context.Context, deps core.Deps) error {
	p.InitBase(deps, p.Name())
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
			Name:        "start",
			Section:     "General",
			Description: "welcome message",
			Usage:       "/start",
			Handle:      p.cmdStart,
		},
	}
}

func (p *Plugin) cmdStart(ctx context.Context, req *core.Request) error {
	name := strings.TrimSpace(req.From.FirstName)
	if name == "" {
		name = "there"
	}
	var m tgui.Msg
	m.Line("👋 ", tgui.B("Welcome "+name+"!")).Blank().
		Text("I'm your multi-purpose assistant bot. I can help you with RSS feeds, tasks, reminders and QR codes!")
	if p.Deps.Help != nil {
		m.Blank().Line(tgui.Raw(p.Deps.Help()))
	}
	return req.Reply(ctx, m.String())
}
