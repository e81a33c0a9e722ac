package taskstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	waitingDir = "waiting"
	runningDir = "running"
	tmpDir     = "tmp"

	logKeyTaskKey = "task-key"
)

// Store is a crash-safe persistent index of pending and in-flight
// replication tasks, rooted at a directory with waiting/, running/, and
// tmp/ siblings. The filesystem's atomic rename is the store's only
// concurrency primitive: every mutation on a single key is a single
// rename or unlink, so no cross-key locking is required. Multiple Store
// instances, in the same or different processes, may share a root
// directory.
type Store struct {
	root string
	log  *logrus.Entry
}

// New opens (creating if necessary) a task store rooted at dir.
func New(dir string, log *logrus.Entry) (*Store, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Store{root: dir, log: log}
	for _, sub := range []string{waitingDir, runningDir, tmpDir} {
		if err := os.MkdirAll(s.path(sub), 0o755); err != nil {
			return nil, fmt.Errorf("taskstore: create %s: %w", sub, err)
		}
	}
	return s, nil
}

func (s *Store) path(elem ...string) string {
	return filepath.Join(append([]string{s.root}, elem...)...)
}

func (s *Store) waitingPath(key string) string { return s.path(waitingDir, key) }
func (s *Store) runningPath(key string) string { return s.path(runningDir, key) }

// Create persists u as a Waiting task and returns its key. If a task with
// the same key already exists in either waiting or running, it is left
// untouched and its key is returned (dedup, invariant I1).
func (s *Store) Create(u RefUpdate) (string, error) {
	key := u.Key()

	if exists(s.waitingPath(key)) || exists(s.runningPath(key)) {
		return key, nil
	}

	payload, err := json.Marshal(u)
	if err != nil {
		return "", fmt.Errorf("taskstore: marshal %s: %w", u, err)
	}

	tmp := s.path(tmpDir, uuid.NewString())
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return "", fmt.Errorf("taskstore: write temp for %s: %w", u, err)
	}

	if err := os.Rename(tmp, s.waitingPath(key)); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("taskstore: rename into waiting for %s: %w", u, err)
	}

	return key, nil
}

// Start moves each task in group from waiting to running. A task that is
// already missing from waiting is tolerated: it may have been started
// concurrently by another process sharing this store.
func (s *Store) Start(group UriUpdates) error {
	return s.moveGroup(group, s.waitingPath, s.runningPath, "start")
}

// Reset is the inverse of Start: it moves each task in group from running
// back to waiting. A missing source file is tolerated.
func (s *Store) Reset(group UriUpdates) error {
	return s.moveGroup(group, s.runningPath, s.waitingPath, "reset")
}

// Finish removes each task in group from running. Finishing a task that is
// missing or was already finished is a no-op, never an error (invariant
// I5).
func (s *Store) Finish(group UriUpdates) error {
	var firstErr error
	for _, u := range group.RefUpdates() {
		key := u.Key()
		if err := os.Remove(s.runningPath(key)); err != nil && !os.IsNotExist(err) {
			s.log.WithField(logKeyTaskKey, key).WithError(err).Error("taskstore: failed to finish task")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// ResetAll moves every task currently in running back to waiting. Every
// destination's Start calls it before replaying its waiting tasks
// (invariant I4): a task found in running at that point is taken to be
// left over from a crash, not pushed by a live worker.
func (s *Store) ResetAll() error {
	entries, err := os.ReadDir(s.path(runningDir))
	if err != nil {
		return fmt.Errorf("taskstore: list running: %w", err)
	}

	var firstErr error
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		key := e.Name()
		if err := os.Rename(s.runningPath(key), s.waitingPath(key)); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			s.log.WithField(logKeyTaskKey, key).WithError(err).Error("taskstore: failed to reset task")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// ListWaiting returns every task currently in the waiting state. A file
// that disappears mid-scan is skipped; one that cannot be read or parsed
// is logged and skipped. Neither is treated as an error.
func (s *Store) ListWaiting() ([]RefUpdate, error) {
	return s.list(waitingDir)
}

// ListRunning returns every task currently in the running state.
func (s *Store) ListRunning() ([]RefUpdate, error) {
	return s.list(runningDir)
}

func (s *Store) list(sub string) ([]RefUpdate, error) {
	entries, err := os.ReadDir(s.path(sub))
	if err != nil {
		return nil, fmt.Errorf("taskstore: list %s: %w", sub, err)
	}

	out := make([]RefUpdate, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		b, err := os.ReadFile(s.path(sub, e.Name()))
		if err != nil {
			if os.IsNotExist(err) {
				continue // vanished mid-scan: not an error
			}
			s.log.WithField(logKeyTaskKey, e.Name()).WithError(err).Warn("taskstore: failed to read task file")
			continue
		}
		var u RefUpdate
		if err := json.Unmarshal(b, &u); err != nil {
			s.log.WithField(logKeyTaskKey, e.Name()).WithError(err).Warn("taskstore: failed to parse task file, skipping")
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

func (s *Store) moveGroup(group UriUpdates, from, to func(string) string, op string) error {
	var firstErr error
	for _, u := range group.RefUpdates() {
		key := u.Key()
		if err := os.Rename(from(key), to(key)); err != nil {
			if os.IsNotExist(err) {
				continue // already moved elsewhere: idempotent
			}
			s.log.WithField(logKeyTaskKey, key).WithError(err).Errorf("taskstore: failed to %s task", op)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
