// Package reportstore keeps the last report of every lab on disk so that
// `rtsync report` can show it without rerunning the lab.
package reportstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"rtsync/internal/labs"
	"rtsync/internal/manifest"
)

// Current schema version - increment when Entry format changes
const schemaVersion uint16 = 1

const ext = ".mp"

// Store is a directory of msgpack encoded reports, one file per lab.
// Thread-safe for concurrent access.
type Store struct {
	mu  sync.RWMutex
	dir string
}

// Entry is what one report file holds.
type Entry struct {
	Schema  uint16       `msgpack:"schema"`
	SavedAt time.Time    `msgpack:"saved_at"`
	Report  *labs.Report `msgpack:"report"`
}

// DefaultDir returns $XDG_CACHE_HOME/<app>/reports, falling back to
// ~/.cache when XDG_CACHE_HOME is unset.
func DefaultDir(app string) (string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".cache")
	}
	return filepath.Join(base, app, "reports"), nil
}

// Open creates dir if needed and returns a store rooted there. An empty dir
// selects DefaultDir("rtsync").
func Open(dir string) (*Store, error) {
	if dir == "" {
		var err error
		if dir, err = DefaultDir("rtsync"); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{dir: dir}, nil
}

// Dir returns the directory backing the store.
func (s *Store) Dir() string { return s.dir }

func (s *Store) pathFor(lab string) string {
	return filepath.Join(s.dir, manifest.NormalizeName(lab)+ext)
}

// Save replaces the stored report of rep.Lab. The file is swapped in with a
// rename so readers never see a partial write.
func (s *Store) Save(rep *labs.Report) error {
	if s == nil {
		return nil
	}
	if rep == nil || rep.Lab == "" {
		return errors.New("reportstore: report without lab name")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.pathFor(rep.Lab)
	f, err := os.CreateTemp(s.dir, "tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmp)
		}
	}()

	enc := msgpack.NewEncoder(f)
	if err := enc.Encode(&Entry{Schema: schemaVersion, SavedAt: time.Now(), Report: rep}); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, p); err != nil {
		return err
	}
	committed = true
	return nil
}

// Load reads the stored report of lab. ok is false when none was saved or
// the file was written by an incompatible version.
func (s *Store) Load(lab string) (entry *Entry, ok bool, err error) {
	if s == nil {
		return nil, false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := os.Open(s.pathFor(lab))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer f.Close()

	var e Entry
	if err := msgpack.NewDecoder(f).Decode(&e); err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", f.Name(), err)
	}
	if e.Schema != schemaVersion || e.Report == nil {
		return nil, false, nil
	}
	return &e, true, nil
}

// List returns the names of all labs with a stored report, sorted.
func (s *Store) List() ([]string, error) {
	if s == nil {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ents, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, ent := range ents {
		name := ent.Name()
		if ent.IsDir() || !strings.HasSuffix(name, ext) {
			continue
		}
		names = append(names, strings.TrimSuffix(name, ext))
	}
	sort.Strings(names)
	return names, nil
}

// DropAll removes every stored report.
func (s *Store) DropAll() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.dir + ".old-" + time.Now().Format("20060102150405")
	if err := os.Rename(s.dir, old); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	return os.RemoveAll(old)
}
