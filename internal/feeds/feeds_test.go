package feeds

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"remindbot/internal/task/engine"
	logx "remindbot/pkg/logx"
)

const rssBody = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel>
<title>Example News</title>
<link>https://example.com</link>
<item><title>First</title><link>https://example.com/1</link><pubDate>Mon, 02 Jan 2006 15:04:05 GMT</pubDate></item>
<item><title>Second</title><link>https://example.com/2</link></item>
<item><title>Third</title><link>https://example.com/3</link></item>
</channel></rss>`

func feedServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/rss":
			if r.Header.Get("User-Agent") != "test-agent" {
				http.Error(w, "bad agent", http.StatusForbidden)
				return
			}
			w.Header().Set("Content-Type", "application/rss+xml")
			_, _ = w.Write([]byte(rssBody))
		case "/html":
			_, _ = w.Write([]byte("<html><body>not a feed</body></html>"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestFetchParsesAndCaches(t *testing.T) {
	t.Parallel()
	srv, hits := feedServer(t)
	f := New(Config{TTL: time.Minute, MaxEntries: 2, UserAgent: "test-agent"}, logx.Nop())

	feed, err := f.Fetch(context.Background(), srv.URL+"/rss")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if feed.Title != "Example News" || len(feed.Entries) != 2 {
		t.Fatalf("feed = %+v", feed)
	}
	if feed.Entries[0].Link != "https://example.com/1" || feed.Entries[0].Published.IsZero() {
		t.Fatalf("entry = %+v", feed.Entries[0])
	}

	if _, err := f.Fetch(context.Background(), srv.URL+"/rss"); err != nil {
		t.Fatal(err)
	}
	if hits.Load() != 1 {
		t.Fatalf("hits = %d, want cached second fetch", hits.Load())
	}

	now := time.Now()
	f.now = func() time.Time { return now.Add(2 * time.Minute) }
	if n := f.Sweep(); n != 1 || f.CacheLen() != 0 {
		t.Fatalf("swept %d, cache %d", n, f.CacheLen())
	}
}

func TestFetchErrorsClassified(t *testing.T) {
	t.Parallel()
	srv, _ := feedServer(t)
	f := New(Config{UserAgent: "test-agent"}, logx.Nop())

	_, err := f.Fetch(context.Background(), srv.URL+"/html")
	if !errors.Is(err, ErrUnreadable) || !engine.IsNoRetry(err) {
		t.Fatalf("html err = %v, want unreadable no-retry", err)
	}
	_, err = f.Fetch(context.Background(), srv.URL+"/missing")
	if err == nil || engine.IsNoRetry(err) || errors.Is(err, ErrUnreadable) {
		t.Fatalf("404 err = %v, want transient", err)
	}
}

func TestFetchAllKeepsOrder(t *testing.T) {
	t.Parallel()
	srv, _ := feedServer(t)
	f := New(Config{UserAgent: "test-agent"}, logx.Nop())
	urls := []string{srv.URL + "/html", srv.URL + "/rss"}

	pool := engine.New(engine.Config{Enabled: true, Workers: 2}, logx.Nop(), nil)
	pool.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		pool.Stop(ctx)
	})

	for name, p := range map[string]Submitter{"pool": pool, "inline": nil} {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		res := f.FetchAll(ctx, p, urls)
		cancel()
		if len(res) != 2 || res[0].URL != urls[0] || res[1].URL != urls[1] {
			t.Fatalf("%s: results = %+v", name, res)
		}
		if !errors.Is(res[0].Err, ErrUnreadable) {
			t.Fatalf("%s: first err = %v", name, res[0].Err)
		}
		if res[1].Err != nil || res[1].Feed.Title != "Example News" {
			t.Fatalf("%s: second = %+v", name, res[1])
		}
	}
}
