// Package session owns the capture lifecycle for one owner: creating,
// starting, stopping, ending, and erasing logging sessions, plus the gate
// the record path consults before appending a roll.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/blackwell-systems/d20meter/internal/notify"
	"github.com/blackwell-systems/d20meter/internal/store"
	"github.com/google/uuid"
)

// DefaultAutoStartMinUsers is the presence threshold ("more than one user")
// above which capture starts on its own.
const DefaultAutoStartMinUsers = 2

// Options configures a Manager. Zero values pick sensible defaults.
type Options struct {
	Notifier notify.Notifier
	Logger   *slog.Logger
	Now      func() time.Time
	NewID    func() string

	// ClosePreviousOnCreate stamps ended on the outgoing active session when
	// CreateSession replaces it. Off by default: the previous session keeps
	// no ended timestamp.
	ClosePreviousOnCreate bool

	// AutoStartMinUsers is how many present users make Gate start capture
	// by itself.
	AutoStartMinUsers int
}

// Manager is the session state machine for a single owner. It caches the
// active pointer and capture flag and writes through to the store.
type Manager struct {
	store store.RollStore
	owner string
	opts  Options

	mu        sync.Mutex
	activeID  string
	capturing bool
	warned    bool
}

// NewManager returns a Manager for owner. Call Load to pick up persisted state.
func NewManager(st store.RollStore, owner string, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.AutoStartMinUsers <= 0 {
		opts.AutoStartMinUsers = DefaultAutoStartMinUsers
	}
	return &Manager{store: st, owner: owner, opts: opts}
}

// Owner returns the owner whose partition the manager writes.
func (m *Manager) Owner() string { return m.owner }

// Load restores the active-session pointer and capture flag from the store.
func (m *Manager) Load(ctx context.Context) error {
	log, err := m.store.Read(ctx, m.owner)
	if err != nil {
		return fmt.Errorf("loading session state: %w", err)
	}
	capturing, err := m.store.CaptureEnabled(ctx, m.owner)
	if err != nil {
		return fmt.Errorf("loading capture setting: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeID = log.ActiveSessionID
	m.capturing = capturing
	return nil
}

// ActiveSessionID returns the active session id, or "" when none is active.
func (m *Manager) ActiveSessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeID
}

// Capturing reports whether capture is enabled.
func (m *Manager) Capturing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.capturing
}

// CreateSession starts a new session and makes it active.
func (m *Manager) CreateSession(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(ctx)
}

func (m *Manager) createLocked(ctx context.Context) (string, error) {
	now := m.opts.Now()
	if m.opts.ClosePreviousOnCreate && m.activeID != "" {
		if err := m.store.UpsertSession(ctx, m.owner, m.activeID, store.SessionPatch{Ended: &now}); err != nil {
			return "", fmt.Errorf("closing session %s: %w", m.activeID, err)
		}
	}

	id := m.opts.NewID()
	if err := m.store.UpsertSession(ctx, m.owner, id, store.SessionPatch{Started: &now}); err != nil {
		return "", fmt.Errorf("creating session: %w", err)
	}
	if err := m.store.SetActiveSession(ctx, m.owner, id); err != nil {
		return "", fmt.Errorf("activating session %s: %w", id, err)
	}

	m.activeID = id
	m.warned = false
	m.opts.Logger.Info("session created", "owner", m.owner, "session", id)
	notify.Info(m.opts.Notifier, "Logging session %s created", id)
	return id, nil
}

// StartLogging enables capture, creating a session first if none is active.
func (m *Manager) StartLogging(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startLocked(ctx)
}

func (m *Manager) startLocked(ctx context.Context) (string, error) {
	if m.activeID == "" {
		if _, err := m.createLocked(ctx); err != nil {
			return "", err
		}
	}
	if err := m.store.SetCaptureEnabled(ctx, m.owner, true); err != nil {
		return "", fmt.Errorf("enabling capture: %w", err)
	}
	m.capturing = true
	m.opts.Logger.Info("capture started", "owner", m.owner, "session", m.activeID)
	return m.activeID, nil
}

// StopLogging disables capture and leaves the session open.
func (m *Manager) StopLogging(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked(ctx)
}

func (m *Manager) stopLocked(ctx context.Context) error {
	if err := m.store.SetCaptureEnabled(ctx, m.owner, false); err != nil {
		return fmt.Errorf("disabling capture: %w", err)
	}
	m.capturing = false
	m.opts.Logger.Info("capture stopped", "owner", m.owner)
	return nil
}

// EndSession stops capture and closes the active session, if any.
func (m *Manager) EndSession(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endLocked(ctx)
}

func (m *Manager) endLocked(ctx context.Context) error {
	if err := m.stopLocked(ctx); err != nil {
		return err
	}

	if m.activeID != "" {
		now := m.opts.Now()
		if err := m.store.UpsertSession(ctx, m.owner, m.activeID, store.SessionPatch{Ended: &now}); err != nil {
			return fmt.Errorf("ending session %s: %w", m.activeID, err)
		}
		m.opts.Logger.Info("session ended", "owner", m.owner, "session", m.activeID)
		notify.Info(m.opts.Notifier, "Logging session %s terminated", m.activeID)
	}
	if err := m.store.SetActiveSession(ctx, m.owner, ""); err != nil {
		return fmt.Errorf("clearing active session: %w", err)
	}

	m.activeID = ""
	m.warned = false
	return nil
}

// EraseData ends the session and deletes the owner's whole roll log. It is
// irreversible; callers confirm with the user first.
func (m *Manager) EraseData(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.endLocked(ctx); err != nil {
		return err
	}
	if err := m.store.Clear(ctx, m.owner, store.ClearOptions{Sessions: true, Rolls: true}); err != nil {
		return fmt.Errorf("erasing roll log: %w", err)
	}
	m.opts.Logger.Warn("roll log erased", "owner", m.owner)
	notify.Warn(m.opts.Notifier, "All recorded rolls were erased")
	return nil
}

// Gate decides whether a roll may be recorded now. When capture is off or
// no session is active, it auto-starts if at least AutoStartMinUsers users
// are present. Otherwise the roll is dropped, with one warning per inactive
// period.
func (m *Manager) Gate(ctx context.Context, presentUsers int) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.capturing && m.activeID != "" {
		return m.activeID, true, nil
	}

	if presentUsers >= m.opts.AutoStartMinUsers {
		id, err := m.startLocked(ctx)
		if err != nil {
			return "", false, err
		}
		return id, true, nil
	}

	if !m.warned {
		m.warned = true
		notify.Warn(m.opts.Notifier, "No active logging session; rolls are not being recorded")
	}
	return "", false, nil
}
