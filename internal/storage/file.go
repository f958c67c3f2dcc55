package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	logx "remindbot/pkg/logx"
)

const compactEvery = 500

// fileStore persists state without a database.
//
// Files, for path ./data/remindbot.db:
//   - ./data/remindbot.snapshot.json  full state, rewritten on compaction
//   - ./data/remindbot.journal.jsonl  one op per line since the snapshot
//
// Every mutation is applied in memory, appended to the journal and synced
// before the call returns.
type fileStore struct {
	log logx.Logger
	fs  afero.Fs

	mu           sync.Mutex
	st           *state
	snapshotPath string
	journal      afero.File
	writes       int
}

type opKind string

const (
	opReminderPut opKind = "reminder.put"
	opReminderDel opKind = "reminder.del"
	opTaskPut     opKind = "task.put"
	opFeedPut     opKind = "feed.put"
	opFeedDel     opKind = "feed.del"
	opUserPut     opKind = "user.put"
)

type journalOp struct {
	Op       opKind       `json:"op"`
	ID       int64        `json:"id,omitempty"`
	Reminder *reminderRow `json:"reminder,omitempty"`
	Task     *Task        `json:"task,omitempty"`
	Feed     *Feed        `json:"feed,omitempty"`
	User     *User        `json:"user,omitempty"`
}

func (s *state) apply(op journalOp) {
	switch op.Op {
	case opReminderPut:
		if op.Reminder != nil {
			s.Reminders[op.Reminder.ID] = *op.Reminder
			s.NextID = max(s.NextID, op.Reminder.ID)
		}
	case opReminderDel:
		delete(s.Reminders, op.ID)
	case opTaskPut:
		if op.Task != nil {
			s.Tasks[op.Task.ID] = *op.Task
			s.NextID = max(s.NextID, op.Task.ID)
		}
	case opFeedPut:
		if op.Feed != nil {
			s.Feeds[op.Feed.ID] = *op.Feed
			s.NextID = max(s.NextID, op.Feed.ID)
		}
	case opFeedDel:
		delete(s.Feeds, op.ID)
	case opUserPut:
		if op.User != nil {
			s.Users[op.User.ID] = *op.User
		}
	}
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	return openFileFS(afero.NewOsFs(), cfg, log)
}

func openFileFS(fs afero.Fs, cfg Config, log logx.Logger) (*fileStore, error) {
	path := strings.TrimSpace(cfg.Path)
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	st := newState()
	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"
	if err := loadSnapshot(fs, snapPath, st); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	skipped, torn, err := replayJournal(fs, journalPath, st)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("replay journal: %w", err)
	}
	if skipped > 0 {
		log.Warn("journal lines skipped", logx.Int("count", skipped), logx.String("path", journalPath))
	}

	jf, err := fs.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	if torn {
		// start the next op on its own line
		if _, err := jf.Write([]byte{'\n'}); err != nil {
			_ = jf.Close()
			return nil, err
		}
	}
	return &fileStore{log: log, fs: fs, st: st, snapshotPath: snapPath, journal: jf}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.compactLocked()
	if cerr := s.journal.Close(); err == nil {
		err = cerr
	}
	s.journal = nil
	return err
}

// commitLocked applies op and makes it durable.
func (s *fileStore) commitLocked(op journalOp) error {
	if s.journal == nil {
		return ErrClosed
	}
	b, err := json.Marshal(op)
	if err != nil {
		return err
	}
	if _, err := s.journal.Write(append(b, '\n')); err != nil {
		return err
	}
	if err := s.journal.Sync(); err != nil {
		return err
	}
	s.st.apply(op)
	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("journal compaction failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := s.fs.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.st); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := s.fs.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, io.SeekEnd)
	return err
}

func loadSnapshot(fs afero.Fs, path string, st *state) error {
	f, err := fs.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(st); err != nil {
		return err
	}
	st.ensure()
	return nil
}

// replayJournal applies every readable line and counts the rest. torn
// reports a last line without its newline, left by a crash mid-append.
func replayJournal(fs afero.Fs, path string, st *state) (skipped int, torn bool, err error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return 0, false, err
	}
	torn = len(data) > 0 && data[len(data)-1] != '\n'
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var op journalOp
		if err := json.Unmarshal(line, &op); err != nil || op.Op == "" {
			skipped++
			continue
		}
		st.apply(op)
	}
	return skipped, torn, nil
}

func (s *fileStore) InsertReminder(_ context.Context, ownerID int64, dueAt time.Time, text string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := reminderRow{ID: s.st.NextID + 1, OwnerID: ownerID, DueAt: encodeTime(dueAt), Text: text, CreatedAt: encodeTime(time.Now())}
	if err := s.commitLocked(journalOp{Op: opReminderPut, Reminder: &row}); err != nil {
		return 0, err
	}
	return row.ID, nil
}

func (s *fileStore) DeleteReminder(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.Reminders[id]; !ok {
		return false, nil
	}
	return true, s.commitLocked(journalOp{Op: opReminderDel, ID: id})
}

func (s *fileStore) DeleteReminderByOwner(_ context.Context, ownerID, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.st.Reminders[id]
	if !ok || r.OwnerID != ownerID {
		return false, nil
	}
	return true, s.commitLocked(journalOp{Op: opReminderDel, ID: id})
}

func (s *fileStore) ListReminders(context.Context) ([]Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.reminders(nil), nil
}

func (s *fileStore) ListRemindersByOwner(_ context.Context, ownerID int64) ([]Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.reminders(func(r reminderRow) bool { return r.OwnerID == ownerID }), nil
}

func (s *fileStore) AddTask(_ context.Context, ownerID int64, text string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := Task{ID: s.st.NextID + 1, OwnerID: ownerID, Text: text, CreatedAt: time.Now().UTC().Truncate(time.Second)}
	if err := s.commitLocked(journalOp{Op: opTaskPut, Task: &t}); err != nil {
		return 0, err
	}
	return t.ID, nil
}

func (s *fileStore) ListTasks(_ context.Context, ownerID int64) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.tasks(ownerID), nil
}

func (s *fileStore) CompleteTask(_ context.Context, ownerID, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.st.Tasks[id]
	if !ok || t.OwnerID != ownerID {
		return false, nil
	}
	t.Done = true
	return true, s.commitLocked(journalOp{Op: opTaskPut, Task: &t})
}

func (s *fileStore) AddFeed(_ context.Context, ownerID int64, url, title string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := Feed{ID: s.st.NextID + 1, OwnerID: ownerID, URL: url, Title: title, CreatedAt: time.Now().UTC().Truncate(time.Second)}
	if err := s.commitLocked(journalOp{Op: opFeedPut, Feed: &f}); err != nil {
		return 0, err
	}
	return f.ID, nil
}

func (s *fileStore) ListFeeds(_ context.Context, ownerID int64) ([]Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.feeds(ownerID), nil
}

func (s *fileStore) RemoveFeedByID(_ context.Context, ownerID, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.st.Feeds[id]
	if !ok || f.OwnerID != ownerID {
		return false, nil
	}
	return true, s.commitLocked(journalOp{Op: opFeedDel, ID: id})
}

func (s *fileStore) RemoveFeedByURL(_ context.Context, ownerID int64, url string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	url = strings.TrimSpace(url)
	removed := false
	for _, f := range s.st.feeds(ownerID) {
		if f.URL != url {
			continue
		}
		if err := s.commitLocked(journalOp{Op: opFeedDel, ID: f.ID}); err != nil {
			return removed, err
		}
		removed = true
	}
	return removed, nil
}

func (s *fileStore) UpsertUser(_ context.Context, u User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.Users[u.ID]; ok {
		return nil
	}
	return s.commitLocked(journalOp{Op: opUserPut, User: &u})
}
