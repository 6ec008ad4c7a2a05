// Package tracker enriches events with tracker, subject and session data
// and hands the resulting payloads to an emitter.
package tracker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/snowtrail/snowtrail/internal/errors"
	"github.com/snowtrail/snowtrail/internal/event"
	"github.com/snowtrail/snowtrail/internal/payload"
	"github.com/snowtrail/snowtrail/internal/session"
)

// Version is reported in the tv field.
const Version = "go-0.3.0"

// Platform is the device platform reported in the p field.
type Platform string

const (
	PlatformWeb              Platform = "web"
	PlatformMobile           Platform = "mob"
	PlatformDesktop          Platform = "pc"
	PlatformServerSideApp    Platform = "srv"
	PlatformGeneral          Platform = "app"
	PlatformConnectedTV      Platform = "tv"
	PlatformGameConsole      Platform = "cnsl"
	PlatformInternetOfThings Platform = "iot"
)

// Emitter is the delivery side of the tracker.
type Emitter interface {
	Add(ctx context.Context, p *payload.Payload)
	Start()
	Stop()
	IsSending() bool
}

// Tracker turns events into payloads.
type Tracker struct {
	mu        sync.RWMutex
	emitter   Emitter
	subject   *Subject
	session   *session.Session
	namespace string
	appID     string
	platform  Platform
	encode    bool

	tracking atomic.Bool
	// checkerCtx is the context the session checker was started with.
	checkerCtx context.Context
	logger     *slog.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

func WithNamespace(ns string) Option        { return func(t *Tracker) { t.namespace = ns } }
func WithAppID(id string) Option            { return func(t *Tracker) { t.appID = id } }
func WithPlatform(p Platform) Option        { return func(t *Tracker) { t.platform = p } }
func WithSubject(s *Subject) Option         { return func(t *Tracker) { t.subject = s } }
func WithSession(s *session.Session) Option { return func(t *Tracker) { t.session = s } }
func WithLogger(l *slog.Logger) Option      { return func(t *Tracker) { t.logger = l } }

// WithBase64 selects base64 encoding for contexts and self-describing
// event data. It defaults to true.
func WithBase64(encode bool) Option { return func(t *Tracker) { t.encode = encode } }

// New creates a tracker that is not yet collecting events.
func New(em Emitter, opts ...Option) (*Tracker, error) {
	if em == nil {
		return nil, errors.NewConfigError(errors.CodeInvalidConfig, "emitter cannot be null")
	}
	t := &Tracker{
		emitter:  em,
		platform: PlatformMobile,
		encode:   true,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	t.logger = t.logger.WithGroup("tracker")
	return t, nil
}

// Start enables tracking, starts the emitter and the session checker.
func (t *Tracker) Start(ctx context.Context) {
	t.mu.Lock()
	t.checkerCtx = ctx
	em, sess := t.emitter, t.session
	t.mu.Unlock()

	t.tracking.Store(true)
	em.Start()
	if sess != nil {
		sess.StartChecker(ctx)
	}
}

// Stop disables tracking and stops the emitter and session checker.
func (t *Tracker) Stop() {
	t.tracking.Store(false)

	t.mu.RLock()
	em, sess := t.emitter, t.session
	t.mu.RUnlock()

	em.Stop()
	if sess != nil {
		sess.StopChecker()
		if err := sess.Save(); err != nil {
			t.logger.Warn("failed to save session", "error", err)
		}
	}
}

// IsTracking reports whether Track records events.
func (t *Tracker) IsTracking() bool { return t.tracking.Load() }

// Track records ev. It does nothing while the tracker is stopped and only
// fails when ev itself is invalid.
func (t *Tracker) Track(ctx context.Context, ev event.Event) error {
	if !t.tracking.Load() {
		return nil
	}

	t.mu.RLock()
	encode := t.encode
	t.mu.RUnlock()

	p, err := ev.Payload(encode)
	if err != nil {
		return err
	}
	if err := t.enrich(p, ev.Contexts(), ev.EventID()); err != nil {
		return err
	}

	t.mu.RLock()
	em := t.emitter
	t.mu.RUnlock()

	t.logger.Debug("tracking event", "event_id", ev.EventID())
	em.Add(ctx, p)
	return nil
}

// enrich adds the tracker, subject and context fields to p.
func (t *Tracker) enrich(p *payload.Payload, contexts []payload.SelfDescribingJSON, eventID string) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p.Set(payload.KeyPlatform, string(t.platform))
	p.Set(payload.KeyAppID, t.appID)
	p.Set(payload.KeyNamespace, t.namespace)
	p.Set(payload.KeyTrackerVersion, Version)

	if t.subject != nil {
		p.Merge(t.subject.Payload())
	}
	if t.session != nil {
		contexts = append(contexts, t.session.GetSessionContext(eventID))
	}
	if len(contexts) == 0 {
		return nil
	}

	envelope := payload.SelfDescribingJSON{Schema: payload.SchemaContexts, Data: contexts}
	if err := p.AddJSON(envelope, t.encode, payload.KeyContextEncoded, payload.KeyContext); err != nil {
		return errors.NewEventError(err.Error())
	}
	return nil
}

// SetEmitter stops the current emitter, waits for its in-flight cycle to
// finish and switches to em. The new emitter is started if the tracker is
// tracking.
func (t *Tracker) SetEmitter(em Emitter) {
	if em == nil {
		return
	}

	t.mu.Lock()
	old := t.emitter
	t.emitter = em
	t.mu.Unlock()

	old.Stop()
	for old.IsSending() {
		time.Sleep(5 * time.Millisecond)
	}
	if t.tracking.Load() {
		em.Start()
	}
}

// Emitter returns the current emitter.
func (t *Tracker) Emitter() Emitter {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.emitter
}

// SetSession replaces the session, stopping the old session's checker.
func (t *Tracker) SetSession(s *session.Session) {
	t.mu.Lock()
	old := t.session
	t.session = s
	ctx := t.checkerCtx
	t.mu.Unlock()

	if old != nil && old != s {
		old.StopChecker()
	}
	if s != nil && t.tracking.Load() && ctx != nil {
		s.StartChecker(ctx)
	}
}

// Session returns the attached session, if any.
func (t *Tracker) Session() *session.Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.session
}

// SetSubject replaces the subject merged into every event.
func (t *Tracker) SetSubject(s *Subject) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subject = s
}

// Subject returns the attached subject, if any.
func (t *Tracker) Subject() *Subject {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.subject
}

// SetNamespace sets the tracker namespace sent as tna.
func (t *Tracker) SetNamespace(ns string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.namespace = ns
}

// Namespace returns the tracker namespace.
func (t *Tracker) Namespace() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.namespace
}

// SetAppID sets the application id sent as aid.
func (t *Tracker) SetAppID(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.appID = id
}

// AppID returns the application id.
func (t *Tracker) AppID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.appID
}

// SetPlatform sets the platform sent as p.
func (t *Tracker) SetPlatform(p Platform) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.platform = p
}

// Platform returns the device platform.
func (t *Tracker) Platform() Platform {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.platform
}

// SetBase64 selects base64 encoding for contexts and event data.
func (t *Tracker) SetBase64(encode bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.encode = encode
}

// Base64 reports whether contexts and event data are base64 encoded.
func (t *Tracker) Base64() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.encode
}
