package tasks

import (
	"context"
	"strings"
	"testing"

	core "remindbot/internal/plugin"
	"remindbot/internal/plugin/plugintest"
	"remindbot/internal/storage"
)

func TestInitRequiresStore(t *testing.T) {
	t.Parallel()
	if err := New().Init(context.Background(), core.Deps{}); err == nil {
		t.Fatal("expected error without store")
	}
}

func TestTaskCommands(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := New()
	if err := p.Init(ctx, core.Deps{Store: storage.NewMemory()}); err != nil {
		t.Fatal(err)
	}
	ad := &plugintest.Adapter{}
	run := func(h core.HandlerFunc, user int64, args string) string {
		t.Helper()
		if err := h(ctx, plugintest.Request(ad, user, "", args)); err != nil {
			t.Fatal(err)
		}
		return ad.Last()
	}

	if got := run(p.cmdList, 1, ""); !strings.Contains(got, "No tasks yet.") {
		t.Fatalf("empty list = %q", got)
	}
	if got := run(p.cmdAdd, 1, ""); !strings.Contains(got, "Usage:") {
		t.Fatalf("empty add = %q", got)
	}
	if got := run(p.cmdAdd, 1, "Buy <milk>"); !strings.Contains(got, "Task added!") || !strings.Contains(got, "Buy &lt;milk&gt;") {
		t.Fatalf("add = %q", got)
	}
	run(p.cmdAdd, 1, "Call mom")

	if got := run(p.cmdDone, 2, "1"); !strings.Contains(got, "Task not found.") {
		t.Fatalf("foreign done = %q", got)
	}
	if got := run(p.cmdDone, 1, "x"); !strings.Contains(got, "Usage:") {
		t.Fatalf("bad id = %q", got)
	}
	if got := run(p.cmdDone, 1, "1"); !strings.Contains(got, "Task completed!") {
		t.Fatalf("done = %q", got)
	}

	got := run(p.cmdList, 1, "")
	want := "✅ <code>1</code>. Buy &lt;milk&gt;\n⬜ <code>2</code>. Call mom"
	if !strings.HasSuffix(got, want) {
		t.Fatalf("list = %q, want suffix %q", got, want)
	}
}
