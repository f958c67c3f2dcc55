// Package rss lets users subscribe to RSS/Atom feeds and read the latest
// entries.
package rss

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"remindbot/internal/feeds"
	core "remindbot/internal/plugin"
	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/tgui"
)

const (
	latestPerFeed = 3
	sweepSchedule = "@every 10m"
	latestTimeout = 90 * time.Second
	addTimeout    = 30 * time.Second
	addUsage      = "/rss_add <url>"
	addExample    = "/rss_add https://example.com/feed.xml"
)

type Plugin struct {
	core.PluginBase

	store   storage.FeedStore
	fetcher *feeds.Fetcher
}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return "rss" }

func (p *Plugin) Init(ctx context.Context, deps core.Deps) error {
	p.InitBase(deps, p.Name())
	if deps.Store == nil {
		return errors.New("storage not available")
	}
	if deps.Feeds == nil {
		return errors.New("feed fetcher not available")
	}
	p.store = deps.Store
	p.fetcher = deps.Feeds
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	p.StartBase(ctx)
	return p.Schedule("cache_sweep", sweepSchedule, 10*time.Second, func(ctx context.Context) error {
		if n := p.fetcher.Sweep(); n > 0 {
			p.Log.Debug("feed cache swept", logx.Int("removed", n), logx.Int("left", p.fetcher.CacheLen()))
		}
		return nil
	})
}

func (p *Plugin) Stop(ctx context.Context) error { return p.StopBase(ctx) }

func (p *Plugin) Commands() []core.Command {
	return []core.Command{
		{Name: "rss_add", Section: "RSS / Feeds", Description: "subscribe to an RSS feed", Usage: addUsage, Timeout: addTimeout, Handle: p.cmdAdd},
		{Name: "rss_list", Section: "RSS / Feeds", Description: "show your feeds", Usage: "/rss_list", Handle: p.cmdList},
		{Name: "rss_remove", Section: "RSS / Feeds", Description: "unsubscribe", Usage: "/rss_remove <id|url>", Handle: p.cmdRemove},
		{Name: "rss_latest", Section: "RSS / Feeds", Description: "latest entries of your feeds", Usage: "/rss_latest", Timeout: latestTimeout, Handle: p.cmdLatest},
	}
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func noFeeds() string {
	var m tgui.Msg
	m.Line("📭 ", tgui.B("No feeds yet.")).Blank().Line("Add one with ", tgui.Code(addUsage))
	return m.String()
}

func (p *Plugin) cmdAdd(ctx context.Context, req *core.Request) error {
	raw := strings.TrimSpace(req.ArgText)
	if raw == "" || !validURL(raw) {
		return req.Reply(ctx, core.Usage(addUsage, addExample))
	}

	feed, err := p.fetcher.Fetch(ctx, raw)
	if err != nil {
		req.Logger.Info("feed rejected", logx.String("url", raw), logx.Err(err))
		var m tgui.Msg
		m.Line("⚠️ ", tgui.B("Feed not valid or unreachable.")).Blank().Text("Please check the URL and try again.")
		return req.Reply(ctx, m.String())
	}
	if _, err := p.store.AddFeed(ctx, req.From.ID, raw, feed.Title); err != nil {
		return fmt.Errorf("add feed: %w", err)
	}
	name := feed.Title
	if name == "" {
		name = "Feed"
	}
	var m tgui.Msg
	m.Line("✅ ", tgui.B("Feed added successfully!")).Blank().Line("📰 ", tgui.Esc(name))
	return req.Reply(ctx, m.String())
}

func (p *Plugin) cmdList(ctx context.Context, req *core.Request) error {
	list, err := p.store.ListFeeds(ctx, req.From.ID)
	if err != nil {
		return fmt.Errorf("list feeds: %w", err)
	}
	if len(list) == 0 {
		return req.Reply(ctx, noFeeds())
	}
	var m tgui.Msg
	m.Line("📰 ", tgui.B("Your RSS Feeds:")).Blank()
	for _, f := range list {
		label := f.Title
		if label == "" {
			label = f.URL
		}
		m.Line(tgui.Code(fmt.Sprint(f.ID)), ". ", tgui.Esc(label))
	}
	return req.Reply(ctx, m.String())
}

func (p *Plugin) cmdRemove(ctx context.Context, req *core.Request) error {
	target := strings.TrimSpace(req.ArgText)
	if target == "" {
		return req.Reply(ctx, core.Usage("/rss_remove <id|url>", "/rss_remove 1"))
	}
	var (
		removed bool
		err     error
	)
	if id, ok := core.ParseID(target); ok {
		removed, err = p.store.RemoveFeedByID(ctx, req.From.ID, id)
	} else {
		removed, err = p.store.RemoveFeedByURL(ctx, req.From.ID, target)
	}
	if err != nil {
		return fmt.Errorf("remove feed: %w", err)
	}
	if !removed {
		return req.Reply(ctx, tgui.B("❌ Feed not found.").String())
	}
	return req.Reply(ctx, "🗑️ "+tgui.B("Feed removed successfully!").String())
}

func (p *Plugin) cmdLatest(ctx context.Context, req *core.Request) error {
	list, err := p.store.ListFeeds(ctx, req.From.ID)
	if err != nil {
		return fmt.Errorf("list feeds: %w", err)
	}
	if len(list) == 0 {
		return req.Reply(ctx, noFeeds())
	}
	_ = req.Reply(ctx, "⏳ "+tgui.B("Fetching latest entries...").String())

	urls := make([]string, len(list))
	for i, f := range list {
		urls[i] = f.URL
	}
	var pool feeds.Submitter
	if p.Deps.Engine != nil {
		pool = p.Deps.Engine
	}
	results := p.fetcher.FetchAll(ctx, pool, urls)

	var m tgui.Msg
	m.Line("📰 ", tgui.B("Latest Feed Entries:"))
	for i, r := range results {
		title := list[i].Title
		if title == "" && r.Feed != nil {
			title = r.Feed.Title
		}
		if title == "" {
			title = list[i].URL
		}
		m.Blank().Line(tgui.B(title))
		switch {
		case r.Err != nil:
			req.Logger.Debug("feed fetch failed", logx.String("url", r.URL), logx.Err(r.Err))
			m.Line("• ", tgui.I("(unavailable)"))
		case len(r.Feed.Entries) == 0:
			m.Line("• ", tgui.I("(no entries)"))
		default:
			entries := r.Feed.Entries
			if len(entries) > latestPerFeed {
				entries = entries[:latestPerFeed]
			}
			for _, e := range entries {
				t := e.Title
				if t == "" {
					t = "(no title)"
				}
				m.Line("• ", tgui.Esc(t))
				if e.Link != "" {
					m.Line("  ", tgui.Esc(e.Link))
				}
			}
		}
	}
	return req.Reply(ctx, m.String())
}
