package files

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
)

var (
	ErrTooLarge = errors.New("file too large")
	ErrNotFound = errors.New("file not found")
	ErrBadName  = errors.New("invalid file name")
)

// partPrefix marks uploads that are still being written.
const partPrefix = ".upload-"

// Store keeps each user's files in a directory named after their id.
type Store struct {
	fs       afero.Fs
	maxBytes int64
}

type Entry struct {
	Name    string
	Size    int64
	ModTime time.Time
}

func NewStore(fs afero.Fs, maxBytes int64) *Store {
	return &Store{fs: fs, maxBytes: maxBytes}
}

func (s *Store) MaxBytes() int64 { return s.maxBytes }

func userDir(userID int64) string { return strconv.FormatInt(userID, 10) }

// CleanName reduces a sender supplied name to one path element, or "".
func CleanName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, `\`, "/"))
	if name == "" {
		return ""
	}
	name = path.Base(name)
	if name == "." || name == ".." || name == "/" || strings.HasPrefix(name, partPrefix) {
		return ""
	}
	return name
}

// Save copies r into the user's directory, replacing a file of the same
// name. The file only appears once it was read completely and within
// MaxBytes.
func (s *Store) Save(userID int64, name string, r io.Reader) (string, int64, error) {
	name = CleanName(name)
	if name == "" {
		return "", 0, ErrBadName
	}
	dir := userDir(userID)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create user dir: %w", err)
	}
	tmp := filepath.Join(dir, partPrefix+name)
	f, err := s.fs.Create(tmp)
	if err != nil {
		return "", 0, fmt.Errorf("create %s: %w", name, err)
	}
	n, err := io.Copy(f, io.LimitReader(r, s.maxBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > s.maxBytes {
		err = ErrTooLarge
	}
	if err != nil {
		_ = s.fs.Remove(tmp)
		return "", 0, err
	}
	if err := s.fs.Rename(tmp, filepath.Join(dir, name)); err != nil {
		_ = s.fs.Remove(tmp)
		return "", 0, fmt.Errorf("store %s: %w", name, err)
	}
	return name, n, nil
}

// Write stores data under name, replacing what was there.
func (s *Store) Write(userID int64, name string, data []byte) error {
	clean := CleanName(name)
	if clean == "" {
		return ErrBadName
	}
	if int64(len(data)) > s.maxBytes {
		return ErrTooLarge
	}
	dir := userDir(userID)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create user dir: %w", err)
	}
	return afero.WriteFile(s.fs, filepath.Join(dir, clean), data, 0o644)
}

// List returns the user's files sorted by name.
func (s *Store) List(userID int64) ([]Entry, error) {
	infos, err := afero.ReadDir(s.fs, userDir(userID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	out := make([]Entry, 0, len(infos))
	for _, fi := range infos {
		if fi.IsDir() || strings.HasPrefix(fi.Name(), partPrefix) {
			continue
		}
		out = append(out, Entry{Name: fi.Name(), Size: fi.Size(), ModTime: fi.ModTime()})
	}
	return out, nil
}

// Read returns the content of one of the user's files. Names that are not a
// plain file name, including ones reaching into another directory, are
// reported as ErrNotFound.
func (s *Store) Read(userID int64, name string) ([]byte, error) {
	clean := CleanName(name)
	if clean == "" || clean != strings.TrimSpace(name) {
		return nil, ErrNotFound
	}
	p := filepath.Join(userDir(userID), clean)
	fi, err := s.fs.Stat(p)
	if errors.Is(err, os.ErrNotExist) || (err == nil && fi.IsDir()) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", clean, err)
	}
	return afero.ReadFile(s.fs, p)
}
