package config

import (
	"errors"
	"os"
	"sync"
)

// Watcher detects changes to the config file by content hash.
// A missing file hashes to the empty string.
type Watcher struct {
	path string

	mu   sync.Mutex
	hash string
}

// NewWatcher records the current state of path as the baseline.
func NewWatcher(path string) (*Watcher, error) {
	w := &Watcher{path: path}
	h, err := w.current()
	if err != nil {
		return nil, err
	}
	w.hash = h
	return w, nil
}

// Path returns the watched file.
func (w *Watcher) Path() string {
	return w.path
}

// Changed reports whether the file differs from the baseline.
func (w *Watcher) Changed() (bool, error) {
	h, err := w.current()
	if err != nil {
		return false, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return h != w.hash, nil
}

// Mark makes the current file state the new baseline.
func (w *Watcher) Mark() error {
	h, err := w.current()
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.hash = h
	w.mu.Unlock()
	return nil
}

func (w *Watcher) current() (string, error) {
	h, err := ComputeBlake3Hash(w.path)
	if err != nil {
		if _, statErr := os.Stat(w.path); errors.Is(statErr, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return h, nil
}
