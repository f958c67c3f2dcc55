package app

import (
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"remindbot/internal/config"
	"remindbot/internal/plugin/builtin/files"
	logx "remindbot/pkg/logx"
)

func baseConfig() *config.Config {
	return &config.Config{Telegram: config.TelegramConfig{Token: "123:abc", OwnerUserIDs: []int64{42}}}
}

func TestMapLogConfigGroupLog(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	cfg.Logging.Telegram.Enabled = true
	cfg.Telegram.GroupLog = " -1001234 "
	if lc := mapLogConfig(cfg); !lc.Chat.Enabled || lc.Chat.ChatID != -1001234 {
		t.Fatalf("chat = %+v", lc.Chat)
	}

	cfg.Telegram.GroupLog = "@ops"
	if lc := mapLogConfig(cfg); lc.Chat.Enabled {
		t.Fatalf("non-numeric group_log should disable the chat sink: %+v", lc.Chat)
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	sc, err := mapStorageConfig(cfg)
	if err != nil || sc.Driver != "sqlite" || sc.Path == "" || sc.BusyTimeout != defaultBusyTimeout {
		t.Fatalf("default = %+v, %v", sc, err)
	}

	cfg.Storage = &config.StorageConfig{Driver: "FILE", Path: "/tmp/r.json", BusyTimeout: "2s"}
	sc, err = mapStorageConfig(cfg)
	if err != nil || sc.Driver != "file" || sc.Path != "/tmp/r.json" || sc.BusyTimeout != 2*time.Second {
		t.Fatalf("file = %+v, %v", sc, err)
	}

	cfg.Storage = &config.StorageConfig{Driver: "postgres"}
	if _, err := mapStorageConfig(cfg); err == nil {
		t.Fatal("expected unknown driver error")
	}
}

func TestMapEngineConfig(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	ec, err := mapEngineConfig(cfg)
	if err != nil || !ec.Enabled || ec.Workers != 2 || ec.QueueSize != 256 || ec.RetryMax != 3 {
		t.Fatalf("default = %+v, %v", ec, err)
	}

	off := false
	cfg.TaskEngine = &config.TaskEngineConfig{Enabled: &off, Workers: 8, DefaultTimeout: "45s"}
	ec, err = mapEngineConfig(cfg)
	if err != nil || ec.Enabled || ec.Workers != 8 || ec.DefaultTimeout != 45*time.Second {
		t.Fatalf("explicit = %+v, %v", ec, err)
	}

	cfg.TaskEngine.DefaultTimeout = "soon"
	if _, err := mapEngineConfig(cfg); err == nil {
		t.Fatal("expected duration error")
	}
}

func TestMapFeedsAndReminders(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	fc, err := mapFeedsConfig(cfg)
	if err != nil || fc.TTL != defaultFeedCacheTTL {
		t.Fatalf("feeds default = %+v, %v", fc, err)
	}
	cfg.Feeds = &config.FeedsConfig{CacheTTL: "0s", MaxEntries: 5}
	if fc, err = mapFeedsConfig(cfg); err != nil || fc.TTL != 0 || fc.MaxEntries != 5 {
		t.Fatalf("feeds explicit = %+v, %v", fc, err)
	}

	rc, err := mapRemindersConfig(cfg)
	if err != nil || rc.DispatchTimeout != defaultDispatchTimeout || rc.AuditSchedule != "" {
		t.Fatalf("reminders default = %+v, %v", rc, err)
	}
	cfg.Reminders = &config.RemindersConfig{AuditSchedule: " @every 5m ", DispatchTimeout: "10s"}
	if rc, err = mapRemindersConfig(cfg); err != nil || rc.AuditSchedule != "@every 5m" || rc.DispatchTimeout != 10*time.Second {
		t.Fatalf("reminders explicit = %+v, %v", rc, err)
	}
}

func TestMapFilesConfig(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	if opts := mapFilesConfig(cfg); opts.Dir != files.DefaultDir || opts.MaxBytes != files.DefaultMaxBytes {
		t.Fatalf("default = %+v", opts)
	}
	cfg.Files = &config.FilesConfig{Dir: " /srv/uploads ", MaxBytes: 1024}
	if opts := mapFilesConfig(cfg); opts.Dir != "/srv/uploads" || opts.MaxBytes != 1024 {
		t.Fatalf("explicit = %+v", opts)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*config.Config)
		ok     bool
	}{
		{"minimal", func(*config.Config) {}, true},
		{"audit off", func(c *config.Config) { c.Reminders = &config.RemindersConfig{AuditSchedule: "off"} }, true},
		{"audit cron", func(c *config.Config) { c.Reminders = &config.RemindersConfig{AuditSchedule: "*/10 * * * *"} }, true},
		{"audit bogus", func(c *config.Config) { c.Reminders = &config.RemindersConfig{AuditSchedule: "sometimes"} }, false},
		{"no token", func(c *config.Config) { c.Telegram.Token = "" }, false},
		{"bad driver", func(c *config.Config) { c.Storage = &config.StorageConfig{Driver: "mysql"} }, false},
		{"bad ttl", func(c *config.Config) { c.Feeds = &config.FeedsConfig{CacheTTL: "-1s"} }, false},
		{"negative file cap", func(c *config.Config) { c.Files = &config.FilesConfig{MaxBytes: -1} }, false},
	}
	for _, tt := range tests {
		cfg := baseConfig()
		tt.mutate(cfg)
		if err := validate(cfg); (err == nil) != tt.ok {
			t.Fatalf("%s: validate = %v, want ok=%v", tt.name, err, tt.ok)
		}
	}
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	good := filepath.Join(dir, "config.yaml")
	body := "telegram:\n  token: \"123:abc\"\n  owner_user_ids: [42]\nscheduler:\n  enabled: true\n"
	if err := os.WriteFile(good, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(good)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !cfg.Scheduler.Enabled || len(cfg.Telegram.OwnerUserIDs) != 1 {
		t.Fatalf("cfg = %+v", cfg)
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte(body+"storage:\n  driver: mysql\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(bad); !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("LoadConfig(bad) = %v, want ErrInvalid", err)
	}
}

func TestOpenStoreMemory(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	cfg.Storage = &config.StorageConfig{Driver: "memory"}
	st, err := OpenStore(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestReasonForSignal(t *testing.T) {
	t.Parallel()
	if ReasonForSignal(os.Interrupt) != StopSIGINT || ReasonForSignal(syscall.SIGTERM) != StopSIGTERM {
		t.Fatal("signal mapping wrong")
	}
	if ReasonForSignal(syscall.SIGHUP) != StopUnknown {
		t.Fatal("unmapped signal should be unknown")
	}
}
