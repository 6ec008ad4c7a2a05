package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/snowtrail/snowtrail/internal/errors"
	"github.com/snowtrail/snowtrail/internal/payload"
)

// Event type names accepted by Decode.
const (
	TypeStructured     = "structured"
	TypeSelfDescribing = "self_describing"
	TypeScreenView     = "screen_view"
	TypeTiming         = "timing"
)

// Spec is the JSON form of an event, one per line on the CLI's input.
type Spec struct {
	Type string `json:"type"`

	Category string   `json:"category,omitempty"`
	Action   string   `json:"action,omitempty"`
	Label    string   `json:"label,omitempty"`
	Property string   `json:"property,omitempty"`
	Value    *float64 `json:"value,omitempty"`

	Name string `json:"name,omitempty"`
	ID   string `json:"id,omitempty"`

	Variable string `json:"variable,omitempty"`
	// TimingMs is the measured duration in milliseconds.
	TimingMs int64 `json:"timing,omitempty"`

	Schema string `json:"schema,omitempty"`
	Data   any    `json:"data,omitempty"`

	EventID string `json:"event_id,omitempty"`
	// Timestamp is the device time in epoch milliseconds.
	Timestamp int64                        `json:"timestamp,omitempty"`
	Contexts  []payload.SelfDescribingJSON `json:"contexts,omitempty"`
}

// Decode parses one JSON event.
func Decode(data []byte) (Event, error) {
	var spec Spec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, errors.NewEventError(fmt.Sprintf("malformed event: %v", err))
	}
	return spec.Build()
}

// Build constructs the event described by s.
func (s Spec) Build() (Event, error) {
	var (
		ev     Event
		common *Common
	)
	switch s.Type {
	case TypeStructured:
		se := NewStructured(s.Category, s.Action)
		se.Label, se.Property, se.Value = s.Label, s.Property, s.Value
		if err := se.Validate(); err != nil {
			return nil, err
		}
		ev, common = se, &se.Common
	case TypeSelfDescribing:
		sdj, err := payload.NewSelfDescribingJSON(s.Schema, s.Data)
		if err != nil {
			return nil, errors.NewEventError(err.Error())
		}
		sd := NewSelfDescribing(sdj)
		ev, common = sd, &sd.Common
	case TypeScreenView:
		sv := NewScreenView(s.Name, s.ID)
		if _, err := sv.Data(); err != nil {
			return nil, err
		}
		ev, common = sv, &sv.Common
	case TypeTiming:
		tm := NewTiming(s.Category, s.Variable, time.Duration(s.TimingMs)*time.Millisecond)
		tm.Label = s.Label
		if _, err := tm.Data(); err != nil {
			return nil, err
		}
		ev, common = tm, &tm.Common
	default:
		return nil, errors.NewEventError(fmt.Sprintf("unknown event type %q", s.Type))
	}

	common.SetEventID(s.EventID)
	if s.Timestamp > 0 {
		common.SetTimestamp(time.UnixMilli(s.Timestamp))
	}
	common.AddContext(s.Contexts...)
	return ev, nil
}
