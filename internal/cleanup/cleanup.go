// Package cleanup removes the files a job leaves behind.
package cleanup

import (
	"errors"
	"io/fs"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Manager tracks paths and removes them in reverse order of registration.
// Directories are tracked before the files inside them, so reverse order
// empties a directory before it is removed.
type Manager struct {
	mu    sync.Mutex
	paths []string
	log   *logrus.Entry
}

func New(log *logrus.Entry) *Manager {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Manager{log: log}
}

// Track registers paths for removal. Paths that are never created are fine.
func (m *Manager) Track(paths ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range paths {
		if p != "" {
			m.paths = append(m.paths, p)
		}
	}
}

// Paths returns the tracked paths in registration order.
func (m *Manager) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.paths...)
}

// Run attempts to remove every tracked path and clears the list. Failures
// are logged and returned joined, missing paths are skipped.
func (m *Manager) Run() error {
	m.mu.Lock()
	paths := m.paths
	m.paths = nil
	m.mu.Unlock()

	var errs []error
	for i := len(paths) - 1; i >= 0; i-- {
		err := os.Remove(paths[i])
		if err == nil || errors.Is(err, fs.ErrNotExist) {
			continue
		}
		m.log.WithError(err).WithField("path", paths[i]).Warn("cleanup failed")
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
