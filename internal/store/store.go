package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"taskwire/internal/domain"
)

var ErrNotFound = errors.New("not found")

// Store keeps one JSON record file per task under a per-identity namespace
// directory. The file path is a pure function of (token, task id).
type Store struct {
	Root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(root string) *Store {
	return &Store{Root: root, locks: map[string]*sync.Mutex{}}
}

// EnsureRoot creates the users root directory if missing.
func (s *Store) EnsureRoot() error {
	return os.MkdirAll(s.Root, 0o755)
}

func (s *Store) namespacePath(token string) string {
	return filepath.Join(s.Root, token)
}

func (s *Store) taskPath(token, taskID string) string {
	return filepath.Join(s.namespacePath(token), fmt.Sprintf("task_%s.json", taskID))
}

// NamespaceExists reports whether the identity's directory exists.
func (s *Store) NamespaceExists(token string) bool {
	info, err := os.Stat(s.namespacePath(token))
	return err == nil && info.IsDir()
}

// EnsureNamespace creates the identity's directory.
func (s *Store) EnsureNamespace(token string) error {
	if err := s.EnsureRoot(); err != nil {
		return err
	}
	return os.Mkdir(s.namespacePath(token), 0o755)
}

// Write serializes the full record, overwriting any existing file for the id.
func (s *Store) Write(token string, t domain.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", t.ID, err)
	}
	return os.WriteFile(s.taskPath(token, t.ID), data, 0o644)
}

// Read loads one record. A missing or unparsable file is ErrNotFound.
func (s *Store) Read(token, taskID string) (domain.Task, error) {
	data, err := os.ReadFile(s.taskPath(token, taskID))
	if err != nil {
		if os.IsNotExist(err) {
			return domain.Task{}, ErrNotFound
		}
		return domain.Task{}, err
	}
	var t domain.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return domain.Task{}, ErrNotFound
	}
	if t.ID == "" {
		return domain.Task{}, ErrNotFound
	}
	return t, nil
}

// Remove deletes the record file; already absent counts as success.
func (s *Store) Remove(token, taskID string) error {
	err := os.Remove(s.taskPath(token, taskID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ListForToken enumerates every record in the namespace, skipping files that
// fail to parse or lack an id. Order is filesystem enumeration order.
func (s *Store) ListForToken(token string) ([]domain.Task, error) {
	entries, err := os.ReadDir(s.namespacePath(token))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	tasks := []domain.Task{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.namespacePath(token), e.Name()))
		if err != nil {
			continue
		}
		var t domain.Task
		if err := json.Unmarshal(data, &t); err != nil || t.ID == "" {
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// CountForToken returns the number of record files in the namespace.
func (s *Store) CountForToken(token string) int {
	entries, err := os.ReadDir(s.namespacePath(token))
	if err != nil {
		return 0
	}
	return len(entries)
}

// WithTaskLock runs fn inside the per-(token, task id) critical section,
// serializing read-modify-write cycles against the same record file.
func (s *Store) WithTaskLock(token, taskID string, fn func() error) error {
	key := token + "/" + taskID
	s.mu.Lock()
	if s.locks == nil {
		s.locks = map[string]*sync.Mutex{}
	}
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	s.mu.Unlock()

	l.Lock()
	defer l.Unlock()
	return fn()
}
