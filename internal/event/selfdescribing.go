package event

import (
	"github.com/snowtrail/snowtrail/internal/errors"
	"github.com/snowtrail/snowtrail/internal/payload"
)

// SelfDescribing carries arbitrary data under an Iglu schema, wrapped in
// an unstruct_event envelope.
type SelfDescribing struct {
	Common
	Data payload.SelfDescribingJSON
}

// NewSelfDescribing creates a self-describing event for data.
func NewSelfDescribing(data payload.SelfDescribingJSON) *SelfDescribing {
	return &SelfDescribing{Common: newCommon(), Data: data}
}

// Payload returns e=ue with the envelope under ue_px when encode is set,
// ue_pr otherwise.
func (s *SelfDescribing) Payload(encode bool) (*payload.Payload, error) {
	if s.Data.Schema == "" {
		return nil, errors.NewEventError("event data cannot be null")
	}
	p := payload.New()
	p.Set(payload.KeyEvent, payload.EventUnstructured)
	envelope := payload.SelfDescribingJSON{Schema: payload.SchemaUnstructEvent, Data: s.Data}
	if err := p.AddJSON(envelope, encode, payload.KeyUnstructuredEncoded, payload.KeyUnstructured); err != nil {
		return nil, errors.NewEventError(err.Error())
	}
	s.addDefaults(p)
	return p, nil
}

// wrap turns a typed event into a self-describing one sharing its id,
// timestamp and contexts.
func wrap(c Common, data payload.SelfDescribingJSON) *SelfDescribing {
	return &SelfDescribing{Common: c, Data: data}
}
