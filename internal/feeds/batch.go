package feeds

import (
	"context"
	"sync"

	"remindbot/internal/task/engine"
)

// fetchAttempts is one try plus one retry for transient errors.
const fetchAttempts = 2

// Submitter runs tasks on a worker pool. *engine.Service implements it.
type Submitter interface {
	Submit(ctx context.Context, t engine.Task) error
}

type Result struct {
	URL  string
	Feed *Feed
	Err  error
}

// FetchAll fetches urls on pool and returns results in input order. A nil
// pool, or one that refuses a task, fetches inline. Results still missing
// when ctx ends carry ctx.Err().
func (f *Fetcher) FetchAll(ctx context.Context, pool Submitter, urls []string) []Result {
	slots := make([]Result, len(urls))
	dones := make([]chan struct{}, len(urls))

	for i, u := range urls {
		i, u := i, u
		slots[i].URL = u
		done := make(chan struct{})
		dones[i] = done
		var once sync.Once
		finish := func() { once.Do(func() { close(done) }) }

		attempts := 0
		run := func(ctx context.Context) error {
			attempts++
			feed, err := f.Fetch(ctx, u)
			slots[i].Feed, slots[i].Err = feed, err
			if err == nil || engine.IsNoRetry(err) || attempts >= fetchAttempts {
				finish()
			}
			return err
		}

		if pool != nil {
			err := pool.Submit(ctx, engine.Task{
				Name: "feeds.fetch",
				Run:  run,
				Opt:  engine.TaskOptions{RetryMax: fetchAttempts - 1},
			})
			if err == nil {
				continue
			}
		}
		_ = run(ctx)
		finish()
	}

	out := make([]Result, len(urls))
	for i := range urls {
		select {
		case <-dones[i]:
			out[i] = slots[i]
		case <-ctx.Done():
			out[i] = Result{URL: urls[i], Err: ctx.Err()}
		}
	}
	return out
}
