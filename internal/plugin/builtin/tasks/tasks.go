package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"

	core "remindbot/internal/plugin"
	"remindbot/internal/storage"
	"remindbot/pkg/tgui"
)

type Plugin struct {
	core.PluginBase
	store storage.TaskStore
}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return "tasks" }

func (p *Plugin) Init(ctx context.Context, deps core.Deps) error {
	p.InitBase(deps, p.Name())
	if deps.Store == nil {
		return errors.New("storage not available")
	}
	p.store = deps.Store
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	p.StartBase(ctx)
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error { return p.StopBase(ctx) }

func (p *Plugin) Commands() []core.Command {
	return []core.Command{
		{Name: "task_add", Section: "Tasks", Description: "create a new task", Usage: "/task_add <text>", Handle: p.cmdAdd},
		{Name: "task_list", Section: "Tasks", Description: "show all tasks", Usage: "/task_list", Handle: p.cmdList},
		{Name: "task_done", Section: "Tasks", Description: "mark a task complete", Usage: "/task_done <id>", Handle: p.cmdDone},
	}
}

func (p *Plugin) cmdAdd(ctx context.Context, req *core.Request) error {
	text := strings.TrimSpace(req.ArgText)
	if text == "" {
		return req.Reply(ctx, core.Usage("/task_add <text>", "/task_add Buy groceries"))
	}
	if _, err := p.store.AddTask(ctx, req.From.ID, text); err != nil {
		return fmt.Errorf("add task: %w", err)
	}
	var m tgui.Msg
	m.Line(tgui.B("✅ Task added!")).Blank().Line("📝 ", tgui.Esc(text))
	return req.Reply(ctx, m.String())
}

func (p *Plugin) cmdList(ctx context.Context, req *core.Request) error {
	list, err := p.store.ListTasks(ctx, req.From.ID)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	var m tgui.Msg
	if len(list) == 0 {
		m.Line("📋 ", tgui.B("No tasks yet.")).Blank().Line("Add one with ", tgui.Code("/task_add <text>"))
		return req.Reply(ctx, m.String())
	}
	m.Line("📋 ", tgui.B("Your Tasks:")).Blank()
	for _, t := range list {
		mark := "⬜"
		if t.Done {
			mark = "✅"
		}
		m.Line(tgui.H(mark+" "), tgui.Code(fmt.Sprint(t.ID)), ". ", tgui.Esc(t.Text))
	}
	return req.Reply(ctx, m.String())
}

func (p *Plugin) cmdDone(ctx context.Context, req *core.Request) error {
	id, ok := core.ParseID(req.ArgText)
	if !ok {
		return req.Reply(ctx, core.Usage("/task_done <id>", "/task_done 1"))
	}
	done, err := p.store.CompleteTask(ctx, req.From.ID, id)
	if err != nil {
		return fmt.Errorf("complete task %d: %w", id, err)
	}
	if !done {
		return req.Reply(ctx, tgui.B("❌ Task not found.").String())
	}
	return req.Reply(ctx, tgui.B("✅ Task completed!").String()+" Great job!")
}
