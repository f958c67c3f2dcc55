package notifier

import "time"

type Config struct {
	// RatePerSec is the sustained global send rate; the burst equals it.
	RatePerSec int
	// SendTimeout bounds one adapter call.
	SendTimeout time.Duration
}

const (
	defaultRatePerSec  = 20
	defaultSendTimeout = 10 * time.Second
	historySize        = 100
)

type HistoryItem struct {
	At     time.Time
	ChatID int64
	OK     bool
	Error  string
	Wait   time.Duration // time spent waiting for the limiter
}

// NotificationEvent is published as notifier.sent or notifier.failed.
type NotificationEvent struct {
	ChatID   int64     `json:"chat_id"`
	ThreadID int       `json:"thread_id,omitempty"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}

type Snapshot struct {
	RatePerSec int
	Sent       uint64
	Failed     uint64
	History    []HistoryItem
}
