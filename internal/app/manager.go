package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/paraguayconcierge/voicecore/internal/config"
	"github.com/paraguayconcierge/voicecore/internal/observe"
	"github.com/paraguayconcierge/voicecore/internal/session"
	"github.com/paraguayconcierge/voicecore/pkg/device"
	"github.com/paraguayconcierge/voicecore/pkg/transport"
)

// SessionInfo is a snapshot of the managed session as exposed over the API.
type SessionInfo struct {
	// State is the coarse lifecycle phase: "idle", "connecting", "active"
	// or "error".
	State string `json:"state"`

	// Language is the conversation language of the current (or last)
	// session. Empty when no session has been started yet.
	Language string `json:"language,omitempty"`

	// StartedAt is when the current session became active.
	StartedAt time.Time `json:"started_at,omitzero"`

	// Error describes why the last session terminated abnormally. Only set
	// when State is "error".
	Error string `json:"error,omitempty"`
}

// Manager owns the single voice session. Sessions are single-use, so the
// manager creates a fresh [session.Session] on every Start and retires it on
// Stop or on terminal failure. All exported methods are safe for concurrent
// use.
type Manager struct {
	dialer transport.Dialer
	host   device.Host
	log    *slog.Logger
	met    *observe.Metrics

	mu       sync.Mutex
	cfg      *config.Config
	cur      *session.Session
	language string
	started  time.Time
}

// NewManager creates a Manager. The dialer and host are shared by every
// session it creates; the config supplies per-session tuning and may be
// swapped at runtime via UpdateConfig.
func NewManager(cfg *config.Config, dialer transport.Dialer, host device.Host, log *slog.Logger, met *observe.Metrics) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if met == nil {
		met = observe.DefaultMetrics()
	}
	return &Manager{
		dialer: dialer,
		host:   host,
		log:    log,
		met:    met,
		cfg:    cfg,
	}
}

// UpdateConfig swaps the config used for subsequent sessions. The running
// session, if any, keeps the settings it was started with.
func (m *Manager) UpdateConfig(cfg *config.Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
}

// Start begins a new voice session in the given language. An empty language
// falls back to the configured default. Returns
// [session.ErrAlreadyActive] when a session is already running.
func (m *Manager) Start(ctx context.Context, language string) (SessionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cur != nil && !m.cur.Status().Terminal() {
		return m.infoLocked(), fmt.Errorf("app: %w", session.ErrAlreadyActive)
	}

	cfg := m.cfg
	if language == "" {
		language = cfg.Session.DefaultLanguage
	}

	s := session.New(session.Config{
		Dialer:         m.dialer,
		Host:           m.host,
		CaptureRate:    cfg.Audio.CaptureRate,
		PlaybackRate:   cfg.Audio.PlaybackRate,
		FrameSize:      cfg.Audio.FrameSize,
		Voice:          cfg.Transport.Voice,
		Instructions:   cfg.Session.Instructions,
		FaultThreshold: cfg.Session.FaultThreshold,
		FaultWindow:    cfg.Session.FaultWindow.Std(),
		StopTimeout:    cfg.Session.StopTimeout.Std(),
		Logger:         m.log,
		Metrics:        m.met,
	})

	if err := s.Start(ctx, language); err != nil {
		// Keep the failed session around so Status reports the error.
		m.cur = s
		m.language = language
		m.started = time.Time{}
		return m.infoLocked(), err
	}

	m.cur = s
	m.language = language
	m.started = time.Now().UTC()

	m.log.Info("session started", "language", language)
	return m.infoLocked(), nil
}

// Stop ends the current session. Stopping when no session is running is a
// no-op, matching the idempotent release semantics of the session itself.
func (m *Manager) Stop() SessionInfo {
	m.mu.Lock()
	cur := m.cur
	m.mu.Unlock()

	if cur != nil {
		cur.Stop()
		m.log.Info("session stopped")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.infoLocked()
}

// Status reports the current session phase.
func (m *Manager) Status() SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.infoLocked()
}

// Close stops any running session. Used during application shutdown.
func (m *Manager) Close() error {
	m.Stop()
	return nil
}

// infoLocked builds a SessionInfo snapshot. Caller holds m.mu.
func (m *Manager) infoLocked() SessionInfo {
	if m.cur == nil {
		return SessionInfo{State: "idle"}
	}

	info := SessionInfo{Language: m.language}
	switch st := m.cur.Status(); st {
	case session.Connecting:
		info.State = "connecting"
	case session.Active, session.Closing:
		info.State = "active"
		info.StartedAt = m.started
	case session.Errored:
		info.State = "error"
		if err := m.cur.Err(); err != nil {
			info.Error = err.Error()
		}
	default:
		// Idle before Start, or Closed after a clean stop.
		return SessionInfo{State: "idle"}
	}
	return info
}
