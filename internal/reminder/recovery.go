package reminder

import (
	"context"
	"fmt"

	"remindbot/internal/eventbus"
	logx "remindbot/pkg/logx"
)

type RecoveryReport struct {
	Total   int
	Armed   int
	Overdue int // due before recovery; left in the store unarmed
	Skipped int // unreadable rows
}

// Recover arms every stored reminder that is not yet due. It must run once,
// after the store opens and before commands are accepted; a second call
// returns ErrAlreadyRecovered.
//
// Overdue rows are neither delivered nor deleted. They stay stranded until
// cancelled; the audit job reports them.
func (s *Service) Recover(ctx context.Context) (RecoveryReport, error) {
	var rep RecoveryReport
	if !s.eng.recovered.CompareAndSwap(false, true) {
		return rep, ErrAlreadyRecovered
	}
	rows, err := s.store.ListReminders(ctx)
	if err != nil {
		s.eng.recovered.Store(false)
		return rep, fmt.Errorf("recover reminders: %w", err)
	}

	now := s.eng.now()
	for _, r := range rows {
		rep.Total++
		if r.DecodeErr != nil {
			rep.Skipped++
			s.log.Warn("reminder row skipped", logx.Int64("id", r.ID), logx.Err(r.DecodeErr))
			continue
		}
		if r.DueAt.Before(now) {
			rep.Overdue++
			s.log.Info("overdue reminder left unarmed", logx.Int64("id", r.ID), logx.Time("due", r.DueAt))
			continue
		}
		if err := s.eng.Arm(r.ID, r.OwnerID, r.Text, r.DueAt); err != nil {
			rep.Skipped++
			s.log.Warn("reminder arm failed", logx.Int64("id", r.ID), logx.Err(err))
			continue
		}
		rep.Armed++
	}

	s.log.Info("reminders recovered",
		logx.Int("total", rep.Total),
		logx.Int("armed", rep.Armed),
		logx.Int("overdue", rep.Overdue),
		logx.Int("skipped", rep.Skipped),
	)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.ReminderRecovered, Data: rep})
	}
	return rep, nil
}

type AuditReport struct {
	Stored   int
	Armed    int
	Stranded int // stored, overdue and not armed
	Orphaned int // stored, not overdue and not armed
}

// Audit compares the store with the registry. It changes nothing.
func (s *Service) Audit(ctx context.Context) (AuditReport, error) {
	rows, err := s.store.ListReminders(ctx)
	if err != nil {
		return AuditReport{}, fmt.Errorf("audit reminders: %w", err)
	}
	rep := AuditReport{Stored: len(rows), Armed: s.eng.reg.Len()}
	now := s.eng.now()
	for _, r := range rows {
		if r.DecodeErr != nil || s.eng.reg.Has(r.ID) {
			continue
		}
		if r.DueAt.Before(now) {
			rep.Stranded++
		} else {
			rep.Orphaned++
		}
	}
	return rep, nil
}
