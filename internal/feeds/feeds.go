// Package feeds fetches and parses RSS/Atom feeds with a small TTL cache.
package feeds

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	neturl "net/url"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"

	"remindbot/internal/task/engine"
	logx "remindbot/pkg/logx"
)

// ErrUnreadable wraps parse failures. Retrying will not help.
var ErrUnreadable = errors.New("feed could not be parsed")

type Config struct {
	Timeout    time.Duration
	TTL        time.Duration // 0 disables caching
	MaxEntries int           // entries kept per feed
	UserAgent  string
}

const (
	defaultTimeout    = 15 * time.Second
	defaultMaxEntries = 20
	defaultUserAgent  = "remindbot/1.0 (+https://core.telegram.org/bots)"
)

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = defaultMaxEntries
	}
	if strings.TrimSpace(c.UserAgent) == "" {
		c.UserAgent = defaultUserAgent
	}
	return c
}

type Entry struct {
	Title     string
	Link      string
	Published time.Time
}

type Feed struct {
	URL       string
	Title     string
	Entries   []Entry
	FetchedAt time.Time
}

type cached struct {
	feed    *Feed
	expires time.Time
}

type Fetcher struct {
	log    logx.Logger
	client *http.Client

	mu    sync.Mutex
	cfg   Config
	cache map[string]cached

	now func() time.Time
}

func New(cfg Config, log logx.Logger) *Fetcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Fetcher{
		log:    log,
		client: &http.Client{},
		cfg:    cfg.withDefaults(),
		cache:  map[string]cached{},
		now:    time.Now,
	}
}

func (f *Fetcher) Apply(cfg Config) {
	f.mu.Lock()
	f.cfg = cfg.withDefaults()
	if f.cfg.TTL <= 0 {
		clear(f.cache)
	}
	f.mu.Unlock()
}

// Fetch returns the parsed feed at url, from cache when fresh. Parse errors
// wrap ErrUnreadable and are marked as not retryable.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Feed, error) {
	url = strings.TrimSpace(url)
	f.mu.Lock()
	cfg := f.cfg
	if c, ok := f.cache[url]; ok && f.now().Before(c.expires) {
		f.mu.Unlock()
		return c.feed, nil
	}
	f.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	p := gofeed.NewParser()
	p.UserAgent = cfg.UserAgent
	p.Client = f.client
	start := f.now()
	raw, err := p.ParseURLWithContext(url, ctx)
	if err != nil {
		if transient(ctx, err) {
			return nil, fmt.Errorf("fetch %s: %w", url, err)
		}
		return nil, engine.NoRetry(fmt.Errorf("%w: %s: %v", ErrUnreadable, url, err))
	}

	feed := convert(url, raw, cfg.MaxEntries, f.now())
	f.log.Debug("feed fetched", logx.String("url", url), logx.Int("entries", len(feed.Entries)), logx.Duration("took", f.now().Sub(start)))
	if cfg.TTL > 0 {
		f.mu.Lock()
		f.cache[url] = cached{feed: feed, expires: f.now().Add(cfg.TTL)}
		f.mu.Unlock()
	}
	return feed, nil
}

// transient reports errors worth a retry: HTTP status, network and timeout
// failures. Anything else came from the parser.
func transient(ctx context.Context, err error) bool {
	var (
		httpErr gofeed.HTTPError
		urlErr  *neturl.Error
	)
	return ctx.Err() != nil || errors.As(err, &httpErr) || errors.As(err, &urlErr)
}

func convert(url string, raw *gofeed.Feed, limit int, now time.Time) *Feed {
	out := &Feed{URL: url, Title: strings.TrimSpace(raw.Title), FetchedAt: now}
	for _, it := range raw.Items {
		if len(out.Entries) >= limit {
			break
		}
		if it == nil {
			continue
		}
		e := Entry{Title: strings.TrimSpace(it.Title), Link: strings.TrimSpace(it.Link)}
		switch {
		case it.PublishedParsed != nil:
			e.Published = *it.PublishedParsed
		case it.UpdatedParsed != nil:
			e.Published = *it.UpdatedParsed
		}
		out.Entries = append(out.Entries, e)
	}
	return out
}

// Sweep drops expired cache entries and reports how many were removed.
func (f *Fetcher) Sweep() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	n := 0
	for url, c := range f.cache {
		if !now.Before(c.expires) {
			delete(f.cache, url)
			n++
		}
	}
	return n
}

func (f *Fetcher) CacheLen() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cache)
}
