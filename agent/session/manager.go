// Package session wraps a browser.Driver with an explicit logged-in bit,
// an idle-timeout policy, and safe re-entrancy, per the session state
// machine (LoggedOut <-> LoggedIn).
package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"mitchell-agent/agent/browser"
	"mitchell-agent/logger"
)

const (
	defaultTimeout     = 300 * time.Second
	watcherTickInterval = 10 * time.Second
)

// Manager is not safe for concurrent calls to ensure_logged_in / logout
// from multiple goroutines; a Worker's Session Manager is only ever driven
// by that Worker's own processing goroutine plus its own timeout watcher.
type Manager struct {
	driver  *browser.Driver
	timeout time.Duration

	mu             sync.Mutex
	loggedIn       bool
	lastActivityTs time.Time

	watcherCancel context.CancelFunc
	watcherDone   chan struct{}
}

// New returns a Manager wrapping driver. A zero timeout defaults to 300s.
func New(driver *browser.Driver, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Manager{driver: driver, timeout: timeout}
}

// EnsureLoggedIn returns true if the session is already logged in
// (stamping activity), or attempts a fresh connect/login otherwise.
func (m *Manager) EnsureLoggedIn() (bool, error) {
	m.mu.Lock()
	if m.loggedIn {
		m.lastActivityTs = time.Now()
		m.mu.Unlock()
		return true, nil
	}
	m.mu.Unlock()

	if err := m.driver.Connect(); err != nil {
		return false, err
	}

	m.mu.Lock()
	m.loggedIn = true
	m.lastActivityTs = time.Now()
	m.mu.Unlock()
	return true, nil
}

// UpdateActivity stamps last_activity_ts to now; callers invoke this after
// every external-portal interaction.
func (m *Manager) UpdateActivity() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loggedIn {
		m.lastActivityTs = time.Now()
	}
}

// IsLoggedIn reports the current state bit.
func (m *Manager) IsLoggedIn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loggedIn
}

// Logout is idempotent and always clears the state bit, even if the
// underlying portal logout call fails.
func (m *Manager) Logout() error {
	m.mu.Lock()
	if !m.loggedIn {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	err := m.driver.Logout()

	m.mu.Lock()
	m.loggedIn = false
	m.lastActivityTs = time.Time{}
	m.mu.Unlock()

	return err
}

// StartTimeoutWatcher spawns a goroutine that wakes every 10s and logs out
// an idle session once it has exceeded the configured timeout.
func (m *Manager) StartTimeoutWatcher(ctx context.Context) {
	watchCtx, cancel := context.WithCancel(ctx)
	m.watcherCancel = cancel
	m.watcherDone = make(chan struct{})

	go func() {
		defer close(m.watcherDone)
		ticker := time.NewTicker(watcherTickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-watchCtx.Done():
				return
			case <-ticker.C:
				m.checkIdle()
			}
		}
	}()
}

func (m *Manager) checkIdle() {
	m.mu.Lock()
	idle := m.loggedIn && time.Since(m.lastActivityTs) > m.timeout
	m.mu.Unlock()

	if idle {
		if err := m.Logout(); err != nil {
			logger.Warn("idle-timeout logout failed", zap.Error(err))
		}
	}
}

// StopTimeoutWatcher cancels the watcher goroutine and waits for it to
// exit.
func (m *Manager) StopTimeoutWatcher() {
	if m.watcherCancel == nil {
		return
	}
	m.watcherCancel()
	<-m.watcherDone
}
