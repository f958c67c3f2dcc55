package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli"

	"remindbot/internal/app"
	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
)

var (
	ownerFilter int64

	remindersFlags = []cli.Flag{
		cli.Int64Flag{
			Name:        "owner, o",
			Usage:       "only show reminders of this user id (default: all)",
			Destination: &ownerFilter,
		},
	}
)

// listReminders reads the store directly, without a running bot. Due times
// are printed in UTC.
func listReminders(*cli.Context) error {
	cfg, err := app.LoadConfig(cfgPath)
	if err != nil {
		return err
	}
	st, err := app.OpenStore(cfg, logx.NewConsole("WARN"))
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var rows []storage.Reminder
	if ownerFilter != 0 {
		rows, err = st.ListRemindersByOwner(ctx, ownerFilter)
	} else {
		rows, err = st.ListReminders(ctx)
	}
	if err != nil {
		return err
	}

	now := time.Now()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tOWNER\tDUE\tSTATE\tTEXT")
	for _, r := range rows {
		due, state := "?", "unreadable"
		if r.DecodeErr == nil {
			due = reminder.FormatDue(r.DueAt)
			state = "pending"
			if r.DueAt.Before(now) {
				state = "overdue"
			}
		}
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\n", r.ID, r.OwnerID, due, state, r.Text)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("%d reminder(s)\n", len(rows))
	return nil
}
