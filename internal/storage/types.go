package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	ErrClosed   = errors.New("storage closed")
)

type Config struct {
	Driver      string // sqlite | file | memory
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means 5s
}

// Reminder is a pending delayed notification. DecodeErr is set by the list
// queries when the persisted due time could not be read; DueAt is zero in
// that case.
type Reminder struct {
	ID        int64
	OwnerID   int64
	DueAt     time.Time
	Text      string
	CreatedAt time.Time

	DecodeErr error
}

type Task struct {
	ID        int64
	OwnerID   int64
	Text      string
	Done      bool
	CreatedAt time.Time
}

type Feed struct {
	ID        int64
	OwnerID   int64
	URL       string
	Title     string
	CreatedAt time.Time
}

type User struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
}

type ReminderStore interface {
	InsertReminder(ctx context.Context, ownerID int64, dueAt time.Time, text string) (int64, error)
	// DeleteReminder reports false when the row is already gone.
	DeleteReminder(ctx context.Context, id int64) (bool, error)
	DeleteReminderByOwner(ctx context.Context, ownerID, id int64) (bool, error)
	ListReminders(ctx context.Context) ([]Reminder, error)
	// ListRemindersByOwner orders by due time, then id.
	ListRemindersByOwner(ctx context.Context, ownerID int64) ([]Reminder, error)
}

type TaskStore interface {
	AddTask(ctx context.Context, ownerID int64, text string) (int64, error)
	ListTasks(ctx context.Context, ownerID int64) ([]Task, error)
	CompleteTask(ctx context.Context, ownerID, id int64) (bool, error)
}

type FeedStore interface {
	AddFeed(ctx context.Context, ownerID int64, url, title string) (int64, error)
	ListFeeds(ctx context.Context, ownerID int64) ([]Feed, error)
	RemoveFeedByID(ctx context.Context, ownerID, id int64) (bool, error)
	RemoveFeedByURL(ctx context.Context, ownerID int64, url string) (bool, error)
}

type UserStore interface {
	// UpsertUser inserts u unless a row with its id exists; existing rows
	// are left untouched.
	UpsertUser(ctx context.Context, u User) error
}

type Store interface {
	ReminderStore
	TaskStore
	FeedStore
	UserStore
	Close() error
}

// timeLayout is how due and created times are persisted: UTC, second
// precision.
const timeLayout = time.RFC3339

func encodeTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(timeLayout)
}

// decodeTime accepts RFC3339 (with or without fractional seconds, any
// offset) and the zone-less "2006-01-02 15:04:05" form, read as UTC.
func decodeTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02 15:04"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.New("malformed timestamp " + quote(s))
}

func quote(s string) string {
	if len(s) > 40 {
		s = s[:40] + "..."
	}
	return "\"" + s + "\""
}

// compareReminders orders by due time, then id.
func compareReminders(a, b Reminder) int {
	if c := a.DueAt.Compare(b.DueAt); c != 0 {
		return c
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}
