package storage

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

// state is the in-memory model shared by the memory and file drivers.
// Callers hold the owning store's lock.
type state struct {
	NextID    int64                 `json:"next_id"`
	Reminders map[int64]reminderRow `json:"reminders"`
	Tasks     map[int64]Task        `json:"tasks"`
	Feeds     map[int64]Feed        `json:"feeds"`
	Users     map[int64]User        `json:"users"`
}

// reminderRow keeps due_at as text so a damaged file surfaces as a per-row
// decode error instead of failing the whole load.
type reminderRow struct {
	ID        int64  `json:"id"`
	OwnerID   int64  `json:"owner_id"`
	DueAt     string `json:"due_at"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
}

func newState() *state {
	return &state{
		Reminders: map[int64]reminderRow{},
		Tasks:     map[int64]Task{},
		Feeds:     map[int64]Feed{},
		Users:     map[int64]User{},
	}
}

func (s *state) ensure() {
	if s.Reminders == nil {
		s.Reminders = map[int64]reminderRow{}
	}
	if s.Tasks == nil {
		s.Tasks = map[int64]Task{}
	}
	if s.Feeds == nil {
		s.Feeds = map[int64]Feed{}
	}
	if s.Users == nil {
		s.Users = map[int64]User{}
	}
}

func (s *state) nextID() int64 {
	s.NextID++
	return s.NextID
}

func (r reminderRow) decode() Reminder {
	out := Reminder{ID: r.ID, OwnerID: r.OwnerID, Text: r.Text}
	if t, err := decodeTime(r.DueAt); err != nil {
		out.DecodeErr = err
	} else {
		out.DueAt = t
	}
	out.CreatedAt, _ = decodeTime(r.CreatedAt)
	return out
}

func (s *state) reminders(filter func(reminderRow) bool) []Reminder {
	out := make([]Reminder, 0, len(s.Reminders))
	for _, r := range s.Reminders {
		if filter == nil || filter(r) {
			out = append(out, r.decode())
		}
	}
	slices.SortFunc(out, compareReminders)
	return out
}

func (s *state) tasks(owner int64) []Task {
	var out []Task
	for _, t := range s.Tasks {
		if t.OwnerID == owner {
			out = append(out, t)
		}
	}
	slices.SortFunc(out, func(a, b Task) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (s *state) feeds(owner int64) []Feed {
	var out []Feed
	for _, f := range s.Feeds {
		if f.OwnerID == owner {
			out = append(out, f)
		}
	}
	slices.SortFunc(out, func(a, b Feed) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// memoryStore keeps everything in process memory.
type memoryStore struct {
	mu     sync.Mutex
	st     *state
	closed bool
}

func NewMemory() Store {
	return &memoryStore{st: newState()}
}

func (m *memoryStore) lock() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	return nil
}

func (m *memoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) InsertReminder(_ context.Context, ownerID int64, dueAt time.Time, text string) (int64, error) {
	if err := m.lock(); err != nil {
		return 0, err
	}
	defer m.mu.Unlock()
	id := m.st.nextID()
	m.st.Reminders[id] = reminderRow{ID: id, OwnerID: ownerID, DueAt: encodeTime(dueAt), Text: text, CreatedAt: encodeTime(time.Now())}
	return id, nil
}

func (m *memoryStore) DeleteReminder(_ context.Context, id int64) (bool, error) {
	if err := m.lock(); err != nil {
		return false, err
	}
	defer m.mu.Unlock()
	_, ok := m.st.Reminders[id]
	delete(m.st.Reminders, id)
	return ok, nil
}

func (m *memoryStore) DeleteReminderByOwner(_ context.Context, ownerID, id int64) (bool, error) {
	if err := m.lock(); err != nil {
		return false, err
	}
	defer m.mu.Unlock()
	r, ok := m.st.Reminders[id]
	if !ok || r.OwnerID != ownerID {
		return false, nil
	}
	delete(m.st.Reminders, id)
	return true, nil
}

func (m *memoryStore) ListReminders(context.Context) ([]Reminder, error) {
	if err := m.lock(); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	return m.st.reminders(nil), nil
}

func (m *memoryStore) ListRemindersByOwner(_ context.Context, ownerID int64) ([]Reminder, error) {
	if err := m.lock(); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	return m.st.reminders(func(r reminderRow) bool { return r.OwnerID == ownerID }), nil
}

func (m *memoryStore) AddTask(_ context.Context, ownerID int64, text string) (int64, error) {
	if err := m.lock(); err != nil {
		return 0, err
	}
	defer m.mu.Unlock()
	id := m.st.nextID()
	m.st.Tasks[id] = Task{ID: id, OwnerID: ownerID, Text: text, CreatedAt: time.Now().UTC()}
	return id, nil
}

func (m *memoryStore) ListTasks(_ context.Context, ownerID int64) ([]Task, error) {
	if err := m.lock(); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	return m.st.tasks(ownerID), nil
}

func (m *memoryStore) CompleteTask(_ context.Context, ownerID, id int64) (bool, error) {
	if err := m.lock(); err != nil {
		return false, err
	}
	defer m.mu.Unlock()
	t, ok := m.st.Tasks[id]
	if !ok || t.OwnerID != ownerID {
		return false, nil
	}
	t.Done = true
	m.st.Tasks[id] = t
	return true, nil
}

func (m *memoryStore) AddFeed(_ context.Context, ownerID int64, url, title string) (int64, error) {
	if err := m.lock(); err != nil {
		return 0, err
	}
	defer m.mu.Unlock()
	id := m.st.nextID()
	m.st.Feeds[id] = Feed{ID: id, OwnerID: ownerID, URL: url, Title: title, CreatedAt: time.Now().UTC()}
	return id, nil
}

func (m *memoryStore) ListFeeds(_ context.Context, ownerID int64) ([]Feed, error) {
	if err := m.lock(); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	return m.st.feeds(ownerID), nil
}

func (m *memoryStore) RemoveFeedByID(_ context.Context, ownerID, id int64) (bool, error) {
	if err := m.lock(); err != nil {
		return false, err
	}
	defer m.mu.Unlock()
	f, ok := m.st.Feeds[id]
	if !ok || f.OwnerID != ownerID {
		return false, nil
	}
	delete(m.st.Feeds, id)
	return true, nil
}

func (m *memoryStore) RemoveFeedByURL(_ context.Context, ownerID int64, url string) (bool, error) {
	if err := m.lock(); err != nil {
		return false, err
	}
	defer m.mu.Unlock()
	removed := false
	for id, f := range m.st.Feeds {
		if f.OwnerID == ownerID && f.URL == strings.TrimSpace(url) {
			delete(m.st.Feeds, id)
			removed = true
		}
	}
	return removed, nil
}

func (m *memoryStore) UpsertUser(_ context.Context, u User) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	if _, ok := m.st.Users[u.ID]; !ok {
		m.st.Users[u.ID] = u
	}
	return nil
}
