package event

import (
	"strconv"

	"github.com/snowtrail/snowtrail/internal/errors"
	"github.com/snowtrail/snowtrail/internal/payload"
)

// Structured is a category/action event with optional label, property and
// value.
type Structured struct {
	Common
	Category string
	Action   string
	Label    string
	Property string
	Value    *float64
}

// NewStructured creates a structured event.
func NewStructured(category, action string) *Structured {
	return &Structured{Common: newCommon(), Category: category, Action: action}
}

// WithValue sets the numeric value.
func (s *Structured) WithValue(v float64) *Structured {
	s.Value = &v
	return s
}

// Validate checks the required fields.
func (s *Structured) Validate() error {
	if s.Category == "" {
		return errors.NewEventError("category cannot be null or empty")
	}
	if s.Action == "" {
		return errors.NewEventError("action cannot be null or empty")
	}
	return nil
}

// Payload returns e=se with the se_* fields.
func (s *Structured) Payload(bool) (*payload.Payload, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	p := payload.New()
	p.Set(payload.KeyEvent, payload.EventStructured)
	p.Set(payload.KeySECategory, s.Category)
	p.Set(payload.KeySEAction, s.Action)
	p.Set(payload.KeySELabel, s.Label)
	p.Set(payload.KeySEProperty, s.Property)
	if s.Value != nil {
		p.Set(payload.KeySEValue, strconv.FormatFloat(*s.Value, 'f', -1, 64))
	}
	s.addDefaults(p)
	return p, nil
}
