package rss

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"remindbot/internal/feeds"
	core "remindbot/internal/plugin"
	"remindbot/internal/plugin/plugintest"
	"remindbot/internal/storage"
	"remindbot/internal/task/scheduler"
	logx "remindbot/pkg/logx"
)

const feedXML = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Go &amp; Friends</title>
<item><title>One</title><link>https://example.com/1</link></item>
<item><title>Two</title><link>https://example.com/2</link></item>
<item><title>Three</title><link>https://example.com/3</link></item>
<item><title>Four</title><link>https://example.com/4</link></item>
</channel></rss>`

const emptyXML = `<?xml version="1.0"?><rss version="2.0"><channel><title>Quiet</title></channel></rss>`

type fakeScheduler struct{ added []string }

func (f *fakeScheduler) AddSchedule(name, _ string, _ time.Duration, _ func(context.Context) error) error {
	f.added = append(f.added, name)
	return nil
}
func (f *fakeScheduler) Remove(string) bool           { return true }
func (f *fakeScheduler) Snapshot() scheduler.Snapshot { return scheduler.Snapshot{} }

func setup(t *testing.T) (*Plugin, *plugintest.Adapter, string, *fakeScheduler) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/feed":
			_, _ = w.Write([]byte(feedXML))
		case "/empty":
			_, _ = w.Write([]byte(emptyXML))
		case "/junk":
			_, _ = w.Write([]byte("definitely not a feed"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	sched := &fakeScheduler{}
	p := New()
	deps := core.Deps{
		Store:     storage.NewMemory(),
		Feeds:     feeds.New(feeds.Config{TTL: time.Minute}, logx.Nop()),
		Scheduler: sched,
	}
	if err := p.Init(context.Background(), deps); err != nil {
		t.Fatal(err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = p.Stop(context.Background()) })
	return p, &plugintest.Adapter{}, srv.URL, sched
}

func TestSweepScheduledOnStart(t *testing.T) {
	t.Parallel()
	_, _, _, sched := setup(t)
	if len(sched.added) != 1 || sched.added[0] != "rss:cache_sweep" {
		t.Fatalf("schedules = %v", sched.added)
	}
}

func TestFeedCommands(t *testing.T) {
	t.Parallel()
	p, ad, base, _ := setup(t)
	ctx := context.Background()
	run := func(h core.HandlerFunc, args string) string {
		t.Helper()
		if err := h(ctx, plugintest.Request(ad, 5, "", args)); err != nil {
			t.Fatal(err)
		}
		return ad.Last()
	}

	if got := run(p.cmdLatest, ""); !strings.Contains(got, "No feeds yet.") {
		t.Fatalf("latest without feeds = %q", got)
	}
	if got := run(p.cmdAdd, "ftp://example.com/feed"); !strings.Contains(got, "Usage:") {
		t.Fatalf("bad scheme = %q", got)
	}
	if got := run(p.cmdAdd, base+"/junk"); !strings.Contains(got, "Feed not valid or unreachable.") {
		t.Fatalf("junk = %q", got)
	}
	if got := run(p.cmdAdd, base+"/feed"); !strings.Contains(got, "Feed added successfully!") || !strings.Contains(got, "Go &amp; Friends") {
		t.Fatalf("add = %q", got)
	}
	if got := run(p.cmdAdd, base+"/empty"); !strings.Contains(got, "Feed added successfully!") {
		t.Fatalf("add empty = %q", got)
	}

	list := run(p.cmdList, "")
	if !strings.Contains(list, "Your RSS Feeds:") || !strings.Contains(list, "Quiet") {
		t.Fatalf("list = %q", list)
	}

	latest := run(p.cmdLatest, "")
	texts := ad.Texts()
	if !strings.Contains(texts[len(texts)-2], "Fetching latest entries...") {
		t.Fatalf("no fetching notice: %q", texts)
	}
	if !strings.Contains(latest, "• Three") || strings.Contains(latest, "Four") {
		t.Fatalf("latest should cap at 3 entries: %q", latest)
	}
	if !strings.Contains(latest, "(no entries)") {
		t.Fatalf("empty feed marker missing: %q", latest)
	}

	if got := run(p.cmdRemove, base+"/empty"); !strings.Contains(got, "Feed removed successfully!") {
		t.Fatalf("remove by url = %q", got)
	}
	if got := run(p.cmdRemove, "1"); !strings.Contains(got, "Feed removed successfully!") {
		t.Fatalf("remove by id = %q", got)
	}
	if got := run(p.cmdRemove, "1"); !strings.Contains(got, "Feed not found.") {
		t.Fatalf("remove twice = %q", got)
	}
}
