package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"remindbot/internal/eventbus"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

var ErrNoAdapter = errors.New("notifier has no adapter")

// TextSender is the part of the chat adapter the notifier uses.
type TextSender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// Service is safe for concurrent use.
type Service struct {
	log     logx.Logger
	adapter TextSender
	bus     eventbus.Bus

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	sent   atomic.Uint64
	failed atomic.Uint64

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, adapter TextSender, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{log: log, adapter: adapter, bus: bus}
	s.Apply(cfg)
	return s
}

// Apply swaps the rate and timeout. Sends already waiting keep the old
// limiter.
func (s *Service) Apply(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = defaultRatePerSec
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.limiter != nil && s.cfg.RatePerSec == cfg.RatePerSec {
		s.cfg = cfg
		return
	}
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Send delivers an HTML message to a private chat. It satisfies
// reminder.Sender.
func (s *Service) Send(ctx context.Context, chatID int64, html string) error {
	return s.SendTo(ctx, kit.ChatTarget{ChatID: chatID}, html)
}

// SendTo waits for the limiter, then sends once.
func (s *Service) SendTo(ctx context.Context, to kit.ChatTarget, html string) error {
	if s.adapter == nil {
		return ErrNoAdapter
	}
	s.mu.Lock()
	cfg, lim := s.cfg, s.limiter
	s.mu.Unlock()

	start := time.Now()
	if err := lim.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	wait := time.Since(start)

	cctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	defer cancel()
	_, err := s.adapter.SendText(cctx, to, html, &kit.SendOptions{ParseMode: kit.ParseModeHTML, DisablePreview: true})

	item := HistoryItem{At: time.Now(), ChatID: to.ChatID, OK: err == nil, Wait: wait}
	ev := NotificationEvent{ChatID: to.ChatID, ThreadID: to.ThreadID, At: item.At}
	typ := "notifier.sent"
	if err != nil {
		item.Error = err.Error()
		ev.Error = item.Error
		typ = "notifier.failed"
		s.failed.Add(1)
		s.log.Debug("notify send failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
	} else {
		s.sent.Add(1)
	}
	if wait > time.Second {
		s.log.Debug("notify rate limited", logx.Duration("wait", wait))
	}
	s.appendHistory(item)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Time: item.At, Data: ev})
	}
	return err
}

func (s *Service) appendHistory(it HistoryItem) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, it)
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	rps := s.cfg.RatePerSec
	s.mu.Unlock()
	s.hmu.Lock()
	h := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return Snapshot{RatePerSec: rps, Sent: s.sent.Load(), Failed: s.failed.Load(), History: h}
}
