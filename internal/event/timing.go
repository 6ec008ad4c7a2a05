package event

import (
	"time"

	"github.com/snowtrail/snowtrail/internal/errors"
	"github.com/snowtrail/snowtrail/internal/payload"
)

// Timing records how long something took.
type Timing struct {
	Common
	Category string
	Variable string
	Timing   time.Duration
	Label    string
}

type timingData struct {
	Category string `json:"category"`
	Variable string `json:"variable"`
	Timing   int64  `json:"timing"`
	Label    string `json:"label,omitempty"`
}

// NewTiming creates a timing event.
func NewTiming(category, variable string, d time.Duration) *Timing {
	return &Timing{Common: newCommon(), Category: category, Variable: variable, Timing: d}
}

// Data returns the timing entity with the duration in milliseconds.
func (t *Timing) Data() (payload.SelfDescribingJSON, error) {
	if t.Category == "" {
		return payload.SelfDescribingJSON{}, errors.NewEventError("category cannot be null or empty")
	}
	if t.Variable == "" {
		return payload.SelfDescribingJSON{}, errors.NewEventError("variable cannot be null or empty")
	}
	if t.Timing < 0 {
		return payload.SelfDescribingJSON{}, errors.NewEventError("timing cannot be negative")
	}
	return payload.SelfDescribingJSON{
		Schema: payload.SchemaTiming,
		Data: timingData{
			Category: t.Category,
			Variable: t.Variable,
			Timing:   t.Timing.Milliseconds(),
			Label:    t.Label,
		},
	}, nil
}

// Payload sends the timing as a self-describing event.
func (t *Timing) Payload(encode bool) (*payload.Payload, error) {
	data, err := t.Data()
	if err != nil {
		return nil, err
	}
	return wrap(t.Common, data).Payload(encode)
}
