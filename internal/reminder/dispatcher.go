package reminder

import (
	"context"
	"html"
	"time"

	"remindbot/internal/eventbus"
	logx "remindbot/pkg/logx"
)

const deleteTimeout = 5 * time.Second

// Sender delivers an HTML message to a chat.
type Sender interface {
	Send(ctx context.Context, ownerID int64, html string) error
}

// Deleter is the part of the store a dispatch needs.
type Deleter interface {
	DeleteReminder(ctx context.Context, id int64) (bool, error)
}

// FormatNotification renders the message body of a fired reminder.
func FormatNotification(text string) string {
	return "⏰ <b>REMINDER!</b>\n\n" + html.EscapeString(text)
}

// Dispatcher sends a fired reminder and then deletes its row, whatever the
// send returned. Delivery is at most once.
type Dispatcher struct {
	sender Sender
	store  Deleter
	log    logx.Logger
	bus    eventbus.Bus
}

func NewDispatcher(sender Sender, store Deleter, log logx.Logger, bus eventbus.Bus) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{sender: sender, store: store, log: log, bus: bus}
}

// DeliveryEvent is published as reminder.delivered after each dispatch.
type DeliveryEvent struct {
	Firing
	Sent    bool
	Deleted bool
	Error   string `json:",omitempty"`
	Late    time.Duration
}

func (d *Dispatcher) Dispatch(ctx context.Context, f Firing) {
	log := d.log.With(logx.Int64("id", f.ID), logx.Int64("owner", f.OwnerID))
	ev := DeliveryEvent{Firing: f, Late: max(time.Since(f.DueAt), 0)}

	if err := d.sender.Send(ctx, f.OwnerID, FormatNotification(f.Text)); err != nil {
		ev.Error = err.Error()
		log.Warn("reminder delivery failed", logx.Err(err))
	} else {
		ev.Sent = true
	}

	// the row goes even when the send failed or ctx expired
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deleteTimeout)
	defer cancel()
	removed, err := d.store.DeleteReminder(dctx, f.ID)
	switch {
	case err != nil:
		log.Error("reminder delete failed", logx.Err(err))
	case !removed:
		log.Debug("reminder row already gone")
	default:
		ev.Deleted = true
	}
	if ev.Sent {
		log.Info("reminder delivered", logx.Duration("late", ev.Late))
	}
	if d.bus != nil {
		d.bus.Publish(eventbus.Event{Type: eventbus.ReminderDelivered, Data: ev})
	}
}
