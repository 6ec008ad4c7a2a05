package tracker

import (
	"strconv"
	"sync"

	"github.com/snowtrail/snowtrail/internal/payload"
)

// Subject holds the user and device fields added to every event.
type Subject struct {
	mu sync.RWMutex
	p  *payload.Payload
}

// NewSubject creates an empty subject.
func NewSubject() *Subject {
	return &Subject{p: payload.New()}
}

func (s *Subject) set(key, value string) *Subject {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.p.Set(key, value)
	return s
}

func (s *Subject) SetUserID(id string) *Subject { return s.set(payload.KeyUserID, id) }

func (s *Subject) SetScreenResolution(width, height int) *Subject {
	return s.set(payload.KeyResolution, dimensions(width, height))
}

func (s *Subject) SetViewport(width, height int) *Subject {
	return s.set(payload.KeyViewport, dimensions(width, height))
}

func (s *Subject) SetColorDepth(depth int) *Subject {
	return s.set(payload.KeyColorDepth, strconv.Itoa(depth))
}

func (s *Subject) SetTimezone(tz string) *Subject     { return s.set(payload.KeyTimezone, tz) }
func (s *Subject) SetLanguage(lang string) *Subject   { return s.set(payload.KeyLanguage, lang) }
func (s *Subject) SetIPAddress(ip string) *Subject    { return s.set(payload.KeyIPAddress, ip) }
func (s *Subject) SetUserAgent(ua string) *Subject    { return s.set(payload.KeyUserAgent, ua) }
func (s *Subject) SetDomainUserID(id string) *Subject { return s.set(payload.KeyDomainUserID, id) }

func (s *Subject) SetNetworkUserID(id string) *Subject {
	return s.set(payload.KeyNetworkUserID, id)
}

// Payload returns a copy of the subject fields.
func (s *Subject) Payload() *payload.Payload {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.p.Clone()
}

func dimensions(w, h int) string {
	return strconv.Itoa(w) + "x" + strconv.Itoa(h)
}
