package reminder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"remindbot/internal/eventbus"
	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
)

type Reminder = storage.Reminder

// Service is the command-facing API: every change goes to the store first and
// to the engine second.
type Service struct {
	store storage.ReminderStore
	eng   *Engine
	log   logx.Logger
	bus   eventbus.Bus
}

func NewService(store storage.ReminderStore, eng *Engine, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, eng: eng, log: log, bus: bus}
}

func (s *Service) Engine() *Engine { return s.eng }

// Create persists a reminder and arms it. due is stored in UTC at second
// precision. The returned CreatedAt is zero; the stored value comes back from
// List. Validation failures wrap ErrInvalid and persist nothing.
func (s *Service) Create(ctx context.Context, ownerID int64, due time.Time, text string) (Reminder, error) {
	text = strings.TrimSpace(text)
	switch {
	case ownerID == 0:
		return Reminder{}, fmt.Errorf("%w: owner required", ErrInvalid)
	case due.IsZero():
		return Reminder{}, fmt.Errorf("%w: due time required", ErrInvalid)
	case text == "":
		return Reminder{}, fmt.Errorf("%w: text required", ErrInvalid)
	}
	due = due.UTC().Truncate(time.Second)

	id, err := s.store.InsertReminder(ctx, ownerID, due, text)
	if err != nil {
		return Reminder{}, fmt.Errorf("insert reminder: %w", err)
	}
	r := Reminder{ID: id, OwnerID: ownerID, DueAt: due, Text: text}
	if err := s.eng.Arm(id, ownerID, text, due); err != nil {
		// the row is durable; the next start recovers it
		s.log.Warn("reminder stored but not armed", logx.Int64("id", id), logx.Err(err))
	}
	return r, nil
}

// Cancel deletes the owner's reminder and disarms it. It reports false when
// no such reminder belongs to ownerID; another owner's timer is never touched.
func (s *Service) Cancel(ctx context.Context, ownerID, id int64) (bool, error) {
	removed, err := s.store.DeleteReminderByOwner(ctx, ownerID, id)
	if err != nil {
		return false, fmt.Errorf("delete reminder %d: %w", id, err)
	}
	if !removed {
		return false, nil
	}
	disarmed := s.eng.Disarm(id)
	s.log.Debug("reminder cancelled", logx.Int64("id", id), logx.Bool("disarmed", disarmed))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.ReminderCancelled, Data: Firing{ID: id, OwnerID: ownerID}})
	}
	return true, nil
}

// List returns the owner's pending reminders by due time.
func (s *Service) List(ctx context.Context, ownerID int64) ([]Reminder, error) {
	out, err := s.store.ListRemindersByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	return out, nil
}
