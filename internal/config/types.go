package config

// Config is the on-disk configuration. The file may be JSON or YAML; both are
// decoded strictly so a typo in a key fails the load instead of being ignored.
type Config struct {
	Telegram   TelegramConfig    `json:"telegram"`
	Logging    LoggingConfig     `json:"logging"`
	Storage    *StorageConfig    `json:"storage,omitempty"`
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`
	Scheduler  SchedulerConfig   `json:"scheduler"`
	Notifier   *NotifierConfig   `json:"notifier,omitempty"`
	Reminders  *RemindersConfig  `json:"reminders,omitempty"`
	Feeds      *FeedsConfig      `json:"feeds,omitempty"`
	Files      *FilesConfig      `json:"files,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// GroupLog is the chat id that receives warn+ log lines; empty disables it.
	GroupLog string `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the persistence driver.
//
//	storage:
//	  driver: sqlite        # sqlite | file | memory
//	  path: ./data/remindbot.db
//	  busy_timeout: 5s
//
// Omitting the section means sqlite at ./data/remindbot.db.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// TaskEngineConfig controls the worker pool that runs reminder dispatches,
// feed fetches and scheduled jobs.
//
// Defaults: workers 2, queue_size 256, default_timeout 0s (none),
// history_size 200, retry_max 3.
type TaskEngineConfig struct {
	// Enabled is a pointer so an omitted key can default to true.
	Enabled        *bool  `json:"enabled,omitempty"`
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
}

type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// Timezone for cron specs; empty means the process local zone.
	Timezone string `json:"timezone,omitempty"`
}

// NotifierConfig limits outbound sends. Telegram allows roughly 30 messages
// per second across chats.
type NotifierConfig struct {
	RatePerSec  int    `json:"rate_per_sec"`
	SendTimeout string `json:"send_timeout,omitempty"`
}

type RemindersConfig struct {
	// AuditSchedule is any scheduler spec ("@every 15m", "0 * * * *", "30m").
	// "off" disables the audit job.
	AuditSchedule   string `json:"audit_schedule,omitempty"`
	DispatchTimeout string `json:"dispatch_timeout,omitempty"`
}

type FeedsConfig struct {
	FetchTimeout string `json:"fetch_timeout,omitempty"`
	MaxEntries   int    `json:"max_entries,omitempty"`
	UserAgent    string `json:"user_agent,omitempty"`
	// CacheTTL keeps parsed feeds in memory; "0s" disables caching.
	CacheTTL string `json:"cache_ttl,omitempty"`
}

// FilesConfig controls where uploads are kept. Each user gets a directory
// named after their id under Dir.
//
// Defaults: dir ./data/files, max_bytes 20 MiB (the Bot API download cap).
type FilesConfig struct {
	Dir      string `json:"dir,omitempty"`
	MaxBytes int64  `json:"max_bytes,omitempty"`
}
