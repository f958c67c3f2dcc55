package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"
)

var ErrInvalid = errors.New("invalid config")

// Validate checks what decoding cannot: required keys, enum values and
// duration syntax. Errors wrap ErrInvalid and are joined.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: nil config", ErrInvalid)
	}
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}
	dur := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, fmt.Errorf("%w: %v", ErrInvalid, err))
		}
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		bad("telegram.token is empty (set it or %s)", EnvToken)
	}
	for _, id := range cfg.Telegram.OwnerUserIDs {
		if id <= 0 {
			bad("telegram.owner_user_ids: %d is not a user id", id)
		}
	}
	dur("telegram.poll_timeout", cfg.Telegram.PollTimeout)

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "sqlite", "file", "memory":
		default:
			bad("storage.driver %q (want sqlite, file or memory)", s.Driver)
		}
		dur("storage.busy_timeout", s.BusyTimeout)
	}
	if te := cfg.TaskEngine; te != nil {
		if te.Workers < 0 || te.QueueSize < 0 || te.HistorySize < 0 {
			bad("task_engine: workers, queue_size and history_size must be >= 0")
		}
		dur("task_engine.default_timeout", te.DefaultTimeout)
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			bad("scheduler.timezone %q: %v", tz, err)
		}
	}
	if n := cfg.Notifier; n != nil {
		if n.RatePerSec < 0 {
			bad("notifier.rate_per_sec must be >= 0")
		}
		dur("notifier.send_timeout", n.SendTimeout)
	}
	if r := cfg.Reminders; r != nil {
		dur("reminders.dispatch_timeout", r.DispatchTimeout)
	}
	if f := cfg.Feeds; f != nil {
		if f.MaxEntries < 0 {
			bad("feeds.max_entries must be >= 0")
		}
		dur("feeds.fetch_timeout", f.FetchTimeout)
		dur("feeds.cache_ttl", f.CacheTTL)
	}
	if f := cfg.Files; f != nil && f.MaxBytes < 0 {
		bad("files.max_bytes must be >= 0")
	}
	return errors.Join(errs...)
}

// ChangedSections lists the top-level keys whose values differ between a and
// b, in declaration order.
func ChangedSections(a, b *Config) []string {
	if a == nil || b == nil {
		return []string{"*"}
	}
	va, vb := reflect.ValueOf(*a), reflect.ValueOf(*b)
	t := va.Type()
	var out []string
	for i := 0; i < t.NumField(); i++ {
		if reflect.DeepEqual(va.Field(i).Interface(), vb.Field(i).Interface()) {
			continue
		}
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		out = append(out, name)
	}
	return out
}
