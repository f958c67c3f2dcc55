// Package reminders is the chat front-end of the reminder service plus its
// periodic audit.
package reminders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	core "remindbot/internal/plugin"
	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/tgui"
)

const (
	DefaultAuditSchedule = "@every 15m"
	auditTimeout         = 30 * time.Second

	addUsage = "/remind_add <YYYY-MM-DD HH:MM> <text>"
)

type Options struct {
	// AuditSchedule is a scheduler spec; "off" disables the audit.
	AuditSchedule string
}

type Plugin struct {
	core.PluginBase

	opt Options
	svc *reminder.Service
}

func New(opt Options) *Plugin {
	if strings.TrimSpace(opt.AuditSchedule) == "" {
		opt.AuditSchedule = DefaultAuditSchedule
	}
	return &Plugin{opt: opt}
}

func (p *Plugin) Name() string { return "reminders" }

func (p *Plugin) Init(ctx context.Context, deps core.Deps) error {
	p.InitBase(deps, p.Name())
	if deps.Reminders == nil {
		return errors.New("reminder service not available")
	}
	p.svc = deps.Reminders
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	p.StartBase(ctx)
	if strings.EqualFold(strings.TrimSpace(p.opt.AuditSchedule), "off") {
		p.Log.Info("reminder audit disabled")
		return nil
	}
	return p.Schedule("audit", p.opt.AuditSchedule, auditTimeout, p.audit)
}

func (p *Plugin) Stop(ctx context.Context) error { return p.StopBase(ctx) }

// Health reports the armed timer count next to the base status.
func (p *Plugin) Health(ctx context.Context) (string, error) {
	st, err := p.PluginBase.Health(ctx)
	if err != nil || st != "ok" {
		return st, err
	}
	return fmt.Sprintf("ok armed=%d", p.svc.Engine().Stats().Armed), nil
}

func (p *Plugin) audit(ctx context.Context) error {
	rep, err := p.svc.Audit(ctx)
	if err != nil {
		return err
	}
	fields := []logx.Field{
		logx.Int("stored", rep.Stored),
		logx.Int("armed", rep.Armed),
		logx.Int("stranded", rep.Stranded),
		logx.Int("orphaned", rep.Orphaned),
	}
	if rep.Stranded > 0 || rep.Orphaned > 0 {
		p.Log.Warn("reminder audit found unarmed rows", fields...)
	} else {
		p.Log.Debug("reminder audit", fields...)
	}
	p.PublishEvent("reminder.audit", rep)
	return nil
}

func (p *Plugin) Commands() []core.Command {
	return []core.Command{
		{
			Name:        "remind_add",
			Aliases:     []string{"remind"},
			Section:     "Reminders",
			Description: "set a reminder (UTC)",
			Usage:       addUsage,
			Handle:      p.cmdAdd,
		},
		{
			Name:        "remind_list",
			Section:     "Reminders",
			Description: "show your reminders",
			Usage:       "/remind_list",
			Handle:      p.cmdList,
		},
		{
			Name:        "remind_cancel",
			Section:     "Reminders",
			Description: "cancel a reminder",
			Usage:       "/remind_cancel <id>",
			Handle:      p.cmdCancel,
		},
	}
}

func (p *Plugin) cmdAdd(ctx context.Context, req *core.Request) error {
	when, text := core.CutArgs(req.ArgText, 2)
	if len(when) < 2 {
		return req.Reply(ctx, core.Usage(addUsage, "/remind_add 2026-02-15 14:30 Meeting with team"))
	}
	if text == "" {
		return req.Reply(ctx, tgui.B("❌ Please provide reminder text.").String())
	}
	due, err := reminder.ParseDue(when[0], when[1])
	if err != nil {
		var m tgui.Msg
		m.Line(tgui.B("❌ Invalid datetime format.")).Blank().
			Line("Use ", tgui.Code("YYYY-MM-DD HH:MM"), " (UTC)").Blank().
			Line(tgui.B("Example:"), " ", tgui.Code("2026-02-15 14:30"))
		return req.Reply(ctx, m.String())
	}

	r, err := p.svc.Create(ctx, req.From.ID, due, text)
	if err != nil {
		if errors.Is(err, reminder.ErrInvalid) {
			return req.Reply(ctx, tgui.JoinH(" ", tgui.B("❌"), tgui.Esc(err.Error())).String())
		}
		_ = req.Reply(ctx, tgui.B("⚠️ Could not save the reminder. Try again later.").String())
		return err
	}

	var m tgui.Msg
	m.Line("⏰ ", tgui.B("Reminder set!")).Blank().
		Line("📅 ", tgui.Code(reminder.FormatDue(r.DueAt)), " UTC").
		Line("📝 ", tgui.Esc(r.Text)).
		Line("🆔 ", tgui.Code(fmt.Sprint(r.ID)))
	return req.Reply(ctx, m.String())
}

func (p *Plugin) cmdList(ctx context.Context, req *core.Request) error {
	list, err := p.svc.List(ctx, req.From.ID)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		var m tgui.Msg
		m.Line("⏰ ", tgui.B("No reminders scheduled.")).Blank().
			Line("Create one with ", tgui.Code("/remind_add <date time> <text>"))
		return req.Reply(ctx, m.String())
	}
	var m tgui.Msg
	m.Line("⏰ ", tgui.B("Your Reminders"), " (UTC):").Blank()
	for _, r := range list {
		due := tgui.Code(reminder.FormatDue(r.DueAt))
		if r.DecodeErr != nil {
			due = tgui.I("invalid time")
		}
		m.Line(tgui.Code(fmt.Sprint(r.ID)), ". 📅 ", due, " - ", tgui.Esc(r.Text))
	}
	return req.Reply(ctx, m.String())
}

func (p *Plugin) cmdCancel(ctx context.Context, req *core.Request) error {
	id, ok := core.ParseID(req.ArgText)
	if !ok {
		return req.Reply(ctx, core.Usage("/remind_cancel <id>", "/remind_cancel 1"))
	}
	removed, err := p.svc.Cancel(ctx, req.From.ID, id)
	if err != nil {
		return err
	}
	if !removed {
		return req.Reply(ctx, tgui.B("❌ Reminder not found.").String())
	}
	return req.Reply(ctx, tgui.B("✅ Reminder canceled!").String())
}
