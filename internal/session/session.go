// Package session keeps a client session alive across events and process
// restarts. A session expires after a period without events; the timeout
// depends on whether the application is in the foreground or background.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/snowtrail/snowtrail/internal/errors"
	"github.com/snowtrail/snowtrail/internal/payload"
)

// Defaults.
const (
	DefaultForegroundTimeout = 600 * time.Second
	DefaultBackgroundTimeout = 300 * time.Second
	DefaultCheckInterval     = 15 * time.Second
)

// Storage mechanisms reported in the session context.
const (
	StorageSQLite       = "SQLITE"
	StorageLocalStorage = "LOCAL_STORAGE"
)

// State is the persisted part of a session.
type State struct {
	UserID            string `json:"userId"`
	SessionID         string `json:"sessionId"`
	PreviousSessionID string `json:"previousSessionId,omitempty"`
	SessionIndex      int    `json:"sessionIndex"`
	StorageMechanism  string `json:"storageMechanism"`
	// LastAccessed is in unix milliseconds.
	LastAccessed int64 `json:"lastAccessed"`
	// FirstEventID is the first event seen in the current session.
	FirstEventID string `json:"firstEventId,omitempty"`
}

// Context is the data of a client_session context entity.
type Context struct {
	UserID            string  `json:"userId"`
	SessionID         string  `json:"sessionId"`
	PreviousSessionID *string `json:"previousSessionId"`
	SessionIndex      int     `json:"sessionIndex"`
	StorageMechanism  string  `json:"storageMechanism"`
	FirstEventID      string  `json:"firstEventId,omitempty"`
}

// Session tracks the current session and rotates it on expiry.
type Session struct {
	path   string
	logger *slog.Logger
	now    func() time.Time

	mu            sync.Mutex
	state         State
	foreground    time.Duration
	background    time.Duration
	checkInterval time.Duration
	inBackground  bool
	// savedAccess is the LastAccessed value last written to disk.
	savedAccess int64

	checkMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option configures a Session.
type Option func(*Session)

// WithForegroundTimeout sets the inactivity timeout while in the foreground.
func WithForegroundTimeout(d time.Duration) Option {
	return func(s *Session) { s.foreground = d }
}

// WithBackgroundTimeout sets the inactivity timeout while in the background.
func WithBackgroundTimeout(d time.Duration) Option {
	return func(s *Session) { s.background = d }
}

// WithCheckInterval sets how often the checker looks for expiry.
func WithCheckInterval(d time.Duration) Option {
	return func(s *Session) { s.checkInterval = d }
}

// WithStorageMechanism sets the storage mechanism reported in the context.
func WithStorageMechanism(m string) Option {
	return func(s *Session) { s.state.StorageMechanism = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// New loads the session persisted at path, or starts a new user when there
// is none. A persisted session whose last access is older than the
// foreground timeout is rotated; otherwise it resumes.
func New(path string, opts ...Option) (*Session, error) {
	if path == "" {
		return nil, errors.NewConfigError(errors.CodeInvalidConfig, "session path cannot be empty")
	}

	s := &Session{
		path:          path,
		now:           time.Now,
		foreground:    DefaultForegroundTimeout,
		background:    DefaultBackgroundTimeout,
		checkInterval: DefaultCheckInterval,
	}
	s.state.StorageMechanism = StorageSQLite
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.WithGroup("session")
	if s.foreground <= 0 || s.background <= 0 || s.checkInterval <= 0 {
		return nil, errors.NewConfigError(errors.CodeInvalidConfig, "session timeouts must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	mechanism := s.state.StorageMechanism
	loaded, err := load(path)
	switch {
	case err != nil:
		s.logger.Warn("failed to load session state, starting a new user", "path", path, "error", err)
		fallthrough
	case loaded == nil:
		s.state.UserID = uuid.NewString()
		s.rotate()
	default:
		s.state = *loaded
		s.state.StorageMechanism = mechanism
		if s.state.UserID == "" {
			s.state.UserID = uuid.NewString()
		}
		if s.state.SessionID == "" || s.expired(s.foreground) {
			s.rotate()
		}
	}

	s.touch()
	s.persist()
	s.logger.Debug("session ready", "session_id", s.state.SessionID, "index", s.state.SessionIndex)
	return s, nil
}

// GetSessionContext records an access and returns the client_session
// context. The first call after a rotation fixes eventID as the session's
// first event.
func (s *Session) GetSessionContext(eventID string) payload.SelfDescribingJSON {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.touch()
	if s.state.FirstEventID == "" && eventID != "" {
		s.state.FirstEventID = eventID
		s.persist()
	}

	ctx := Context{
		UserID:           s.state.UserID,
		SessionID:        s.state.SessionID,
		SessionIndex:     s.state.SessionIndex,
		StorageMechanism: s.state.StorageMechanism,
		FirstEventID:     s.state.FirstEventID,
	}
	if s.state.PreviousSessionID != "" {
		prev := s.state.PreviousSessionID
		ctx.PreviousSessionID = &prev
	}
	return payload.SelfDescribingJSON{Schema: payload.SchemaClientSession, Data: ctx}
}

// Check rotates the session if it has been idle longer than the current
// timeout. It reports whether a rotation happened. An unexpired session has
// its last access written out so that a restart can resume it.
func (s *Session) Check() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	timeout := s.foreground
	if s.inBackground {
		timeout = s.background
	}
	if !s.expired(timeout) {
		if s.state.LastAccessed != s.savedAccess {
			s.persist()
		}
		return false
	}

	s.logger.Debug("session expired, rotating", "session_id", s.state.SessionID)
	s.rotate()
	s.touch()
	s.persist()
	return true
}

// StartChecker runs Check every check interval until StopChecker is called
// or ctx is cancelled.
func (s *Session) StartChecker(ctx context.Context) {
	s.checkMu.Lock()
	defer s.checkMu.Unlock()
	if s.running {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.done = make(chan struct{})

	go s.run(ctx, s.CheckInterval())
}

// StopChecker stops the checker and waits for it to exit.
func (s *Session) StopChecker() {
	s.checkMu.Lock()
	defer s.checkMu.Unlock()
	if !s.running {
		return
	}
	s.cancel()
	<-s.done
	s.running = false
}

func (s *Session) run(ctx context.Context, interval time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Check()
		}
	}
}

// SetBackground switches between the foreground and background timeout.
func (s *Session) SetBackground(background bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inBackground = background
}

// Background reports whether the background timeout is in effect.
func (s *Session) Background() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inBackground
}

// SetForegroundTimeout changes the foreground timeout.
func (s *Session) SetForegroundTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d > 0 {
		s.foreground = d
	}
}

// SetBackgroundTimeout changes the background timeout.
func (s *Session) SetBackgroundTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d > 0 {
		s.background = d
	}
}

// SetCheckInterval changes the checker period. It takes effect the next
// time the checker is started.
func (s *Session) SetCheckInterval(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d > 0 {
		s.checkInterval = d
	}
}

func (s *Session) ForegroundTimeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.foreground
}

func (s *Session) BackgroundTimeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.background
}

func (s *Session) CheckInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkInterval
}

// State returns a copy of the persisted state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// rotate starts a new session. Callers hold mu.
func (s *Session) rotate() {
	s.state.PreviousSessionID = s.state.SessionID
	s.state.SessionID = uuid.NewString()
	s.state.SessionIndex++
	s.state.FirstEventID = ""
}

func (s *Session) touch() {
	s.state.LastAccessed = s.now().UnixMilli()
}

func (s *Session) expired(timeout time.Duration) bool {
	elapsed := s.now().Sub(time.UnixMilli(s.state.LastAccessed))
	return elapsed > timeout
}

// Save writes the current state to disk.
func (s *Session) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := save(s.path, s.state); err != nil {
		return err
	}
	s.savedAccess = s.state.LastAccessed
	return nil
}

// persist writes the state file. Failures are logged; the session keeps
// working in memory.
func (s *Session) persist() {
	if err := save(s.path, s.state); err != nil {
		s.logger.Error("failed to persist session state", "path", s.path, "error", err)
		return
	}
	s.savedAccess = s.state.LastAccessed
}

// load returns nil, nil when no state file exists.
func load(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewSessionError(errors.CodeLoadFailed, "failed to read session state", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, errors.NewSessionError(errors.CodeLoadFailed, "failed to decode session state", err)
	}
	return &st, nil
}

func save(path string, st State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return errors.NewSessionError(errors.CodePersistFailed, "failed to encode session state", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.NewSessionError(errors.CodePersistFailed, "failed to create session directory", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.NewSessionError(errors.CodePersistFailed, fmt.Sprintf("failed to write %s", tmp), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.NewSessionError(errors.CodePersistFailed, "failed to replace session state", err)
	}
	return nil
}
