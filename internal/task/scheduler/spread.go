package scheduler

import (
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/robfig/cron/v3"
)

const maxStartupSpread = 30 * time.Second

// firstRunSchedule delays only the first run of a base schedule.
type firstRunSchedule struct {
	base  cron.Schedule
	first time.Time
}

func (s *firstRunSchedule) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

// spreadSchedule returns an @every schedule whose first run is pushed back by
// a random offset (at most min(every, 30s)) so interval jobs registered
// together do not fire in lockstep after startup.
func spreadSchedule(every time.Duration, now time.Time, name string) cron.Schedule {
	base := cron.Every(every)
	window := min(every, maxStartupSpread)
	if window <= 0 {
		return base
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	rng := rand.New(rand.NewSource(now.UnixNano() ^ int64(h.Sum64())))
	return &firstRunSchedule{base: base, first: now.Add(every + time.Duration(rng.Int63n(int64(window))))}
}
