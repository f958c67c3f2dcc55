package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "remindbot/pkg/logx"
)

//go:embed migrations.sql
var migrations string

const defaultBusyTimeout = 5 * time.Second

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer; also keeps ":memory:" on a single connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			log.Debug("pragma failed", logx.String("pragma", p), logx.Err(err))
		}
	}

	st := &sqliteStore{db: db, log: log}
	if _, err := db.ExecContext(context.Background(), migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) exec(ctx context.Context, q string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sqliteStore) InsertReminder(ctx context.Context, ownerID int64, dueAt time.Time, text string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders(user_id, remind_at, text, created_at) VALUES(?,?,?,?)`,
		ownerID, encodeTime(dueAt), text, encodeTime(time.Now()),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqliteStore) DeleteReminder(ctx context.Context, id int64) (bool, error) {
	n, err := s.exec(ctx, `DELETE FROM reminders WHERE id = ?`, id)
	return n > 0, err
}

func (s *sqliteStore) DeleteReminderByOwner(ctx context.Context, ownerID, id int64) (bool, error) {
	n, err := s.exec(ctx, `DELETE FROM reminders WHERE id = ? AND user_id = ?`, id, ownerID)
	return n > 0, err
}

func (s *sqliteStore) ListReminders(ctx context.Context) ([]Reminder, error) {
	out, err := s.queryReminders(ctx, `SELECT id, user_id, remind_at, text, created_at FROM reminders`)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, compareReminders)
	return out, nil
}

// ListRemindersByOwner sorts in Go: remind_at is text and rows written by
// other tools may carry a different offset.
func (s *sqliteStore) ListRemindersByOwner(ctx context.Context, ownerID int64) ([]Reminder, error) {
	out, err := s.queryReminders(ctx, `SELECT id, user_id, remind_at, text, created_at FROM reminders WHERE user_id = ?`, ownerID)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, compareReminders)
	return out, nil
}

func (s *sqliteStore) queryReminders(ctx context.Context, q string, args ...any) ([]Reminder, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Reminder
	for rows.Next() {
		var (
			row     reminderRow
			created sql.NullString
		)
		if err := rows.Scan(&row.ID, &row.OwnerID, &row.DueAt, &row.Text, &created); err != nil {
			return nil, err
		}
		row.CreatedAt = created.String
		out = append(out, row.decode())
	}
	return out, rows.Err()
}

func (s *sqliteStore) AddTask(ctx context.Context, ownerID int64, text string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(user_id, text, is_done, created_at) VALUES(?,?,0,?)`,
		ownerID, text, encodeTime(time.Now()),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqliteStore) ListTasks(ctx context.Context, ownerID int64) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, text, is_done, created_at FROM tasks WHERE user_id = ? ORDER BY id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Task
	for rows.Next() {
		t := Task{OwnerID: ownerID}
		var created sql.NullString
		if err := rows.Scan(&t.ID, &t.Text, &t.Done, &created); err != nil {
			return nil, err
		}
		t.CreatedAt, _ = decodeTime(created.String)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CompleteTask(ctx context.Context, ownerID, id int64) (bool, error) {
	n, err := s.exec(ctx, `UPDATE tasks SET is_done = 1 WHERE id = ? AND user_id = ?`, id, ownerID)
	return n > 0, err
}

func (s *sqliteStore) AddFeed(ctx context.Context, ownerID int64, url, title string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO feeds(user_id, url, title, created_at) VALUES(?,?,?,?)`,
		ownerID, url, nullStr(title), encodeTime(time.Now()),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqliteStore) ListFeeds(ctx context.Context, ownerID int64) ([]Feed, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, url, title, created_at FROM feeds WHERE user_id = ? ORDER BY id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Feed
	for rows.Next() {
		f := Feed{OwnerID: ownerID}
		var title, created sql.NullString
		if err := rows.Scan(&f.ID, &f.URL, &title, &created); err != nil {
			return nil, err
		}
		f.Title = title.String
		f.CreatedAt, _ = decodeTime(created.String)
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *sqliteStore) RemoveFeedByID(ctx context.Context, ownerID, id int64) (bool, error) {
	n, err := s.exec(ctx, `DELETE FROM feeds WHERE user_id = ? AND id = ?`, ownerID, id)
	return n > 0, err
}

func (s *sqliteStore) RemoveFeedByURL(ctx context.Context, ownerID int64, url string) (bool, error) {
	n, err := s.exec(ctx, `DELETE FROM feeds WHERE user_id = ? AND url = ?`, ownerID, strings.TrimSpace(url))
	return n > 0, err
}

func (s *sqliteStore) UpsertUser(ctx context.Context, u User) error {
	if u.ID == 0 {
		return errors.New("user id required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO users(id, username, first_name, last_name, created_at) VALUES(?,?,?,?,?)`,
		u.ID, nullStr(u.Username), nullStr(u.FirstName), nullStr(u.LastName), encodeTime(time.Now()),
	)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
