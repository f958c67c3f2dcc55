package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"remindbot/internal/config"
	"remindbot/internal/feeds"
	"remindbot/internal/notifier"
	"remindbot/internal/plugin/builtin/files"
	"remindbot/internal/storage"
	"remindbot/internal/task/engine"
	"remindbot/internal/task/scheduler"
	logx "remindbot/pkg/logx"
)

const (
	defaultPollTimeout     = 10 * time.Second
	defaultBusyTimeout     = 5 * time.Second
	defaultFeedCacheTTL    = 10 * time.Minute
	defaultDispatchTimeout = 30 * time.Second
)

func mapLogConfig(cfg *config.Config) logx.Config {
	lc := logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
	// group_log is a chat id; anything else leaves the chat sink off
	if id, err := strconv.ParseInt(strings.TrimSpace(cfg.Telegram.GroupLog), 10, 64); err == nil {
		lc.Chat.ChatID = id
	} else {
		lc.Chat.Enabled = false
	}
	return lc
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := storage.Config{Driver: "sqlite", Path: storage.DefaultPath, BusyTimeout: defaultBusyTimeout}
	if cfg.Storage == nil {
		return sc, nil
	}
	if d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); d != "" {
		sc.Driver = d
	}
	switch sc.Driver {
	case "sqlite", "sqlite3", "file", "memory":
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", cfg.Storage.Driver)
	}
	if p := strings.TrimSpace(cfg.Storage.Path); p != "" {
		sc.Path = p
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, defaultBusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	sc.BusyTimeout = busy
	return sc, nil
}

// mapEngineConfig resolves task_engine. The pool is on unless the key says
// otherwise; reminder dispatch falls back to plain goroutines when it is off.
func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	ec := engine.Config{Enabled: true, Workers: 2, QueueSize: 256, HistorySize: 200, RetryMax: 3}
	te := cfg.TaskEngine
	if te == nil {
		return ec, nil
	}
	if te.Enabled != nil {
		ec.Enabled = *te.Enabled
	}
	if te.Workers > 0 {
		ec.Workers = te.Workers
	}
	if te.QueueSize > 0 {
		ec.QueueSize = te.QueueSize
	}
	if te.HistorySize > 0 {
		ec.HistorySize = te.HistorySize
	}
	if te.RetryMax > 0 {
		ec.RetryMax = te.RetryMax
	}
	d, err := config.ParseDurationField("task_engine.default_timeout", te.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	ec.DefaultTimeout = d
	return ec, nil
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Enabled: cfg.Scheduler.Enabled, Timezone: strings.TrimSpace(cfg.Scheduler.Timezone)}
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	if cfg.Notifier == nil {
		return notifier.Config{}, nil
	}
	d, err := config.ParseDurationField("notifier.send_timeout", cfg.Notifier.SendTimeout)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{RatePerSec: cfg.Notifier.RatePerSec, SendTimeout: d}, nil
}

func mapFeedsConfig(cfg *config.Config) (feeds.Config, error) {
	fc := feeds.Config{TTL: defaultFeedCacheTTL}
	f := cfg.Feeds
	if f == nil {
		return fc, nil
	}
	timeout, err := config.ParseDurationField("feeds.fetch_timeout", f.FetchTimeout)
	if err != nil {
		return feeds.Config{}, err
	}
	fc.Timeout = timeout
	fc.MaxEntries = f.MaxEntries
	fc.UserAgent = strings.TrimSpace(f.UserAgent)
	// an explicit "0s" turns the cache off
	if strings.TrimSpace(f.CacheTTL) != "" {
		ttl, err := config.ParseDurationField("feeds.cache_ttl", f.CacheTTL)
		if err != nil {
			return feeds.Config{}, err
		}
		fc.TTL = ttl
	}
	return fc, nil
}

type remindersConfig struct {
	AuditSchedule   string
	DispatchTimeout time.Duration
}

func mapRemindersConfig(cfg *config.Config) (remindersConfig, error) {
	rc := remindersConfig{DispatchTimeout: defaultDispatchTimeout}
	if cfg.Reminders == nil {
		return rc, nil
	}
	rc.AuditSchedule = strings.TrimSpace(cfg.Reminders.AuditSchedule)
	d, err := config.ParseDurationOrDefault("reminders.dispatch_timeout", cfg.Reminders.DispatchTimeout, defaultDispatchTimeout)
	if err != nil {
		return remindersConfig{}, err
	}
	rc.DispatchTimeout = d
	return rc, nil
}

func mapFilesConfig(cfg *config.Config) files.Options {
	opts := files.Options{Dir: files.DefaultDir, MaxBytes: files.DefaultMaxBytes}
	if f := cfg.Files; f != nil {
		if dir := strings.TrimSpace(f.Dir); dir != "" {
			opts.Dir = dir
		}
		if f.MaxBytes > 0 {
			opts.MaxBytes = f.MaxBytes
		}
	}
	return opts
}

// validate runs on every reload before the new config is committed: the
// static checks plus every mapping the running app will apply.
func validate(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapEngineConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := mapFeedsConfig(cfg); err != nil {
		return err
	}
	rc, err := mapRemindersConfig(cfg)
	if err != nil {
		return err
	}
	if rc.AuditSchedule != "" && !strings.EqualFold(rc.AuditSchedule, "off") {
		if _, err := scheduler.ParseSchedule(rc.AuditSchedule); err != nil {
			return fmt.Errorf("reminders.audit_schedule: %w", err)
		}
	}
	return nil
}
