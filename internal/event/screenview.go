package event

import (
	"github.com/snowtrail/snowtrail/internal/errors"
	"github.com/snowtrail/snowtrail/internal/payload"
)

// ScreenView records that a screen was shown.
type ScreenView struct {
	Common
	Name string
	ID   string
}

// NewScreenView creates a screen view. At least one of name and id must
// be set.
func NewScreenView(name, id string) *ScreenView {
	return &ScreenView{Common: newCommon(), Name: name, ID: id}
}

// Data returns the screen_view entity.
func (s *ScreenView) Data() (payload.SelfDescribingJSON, error) {
	if s.Name == "" && s.ID == "" {
		return payload.SelfDescribingJSON{}, errors.NewEventError("both name and id cannot be null or empty")
	}
	data := map[string]string{}
	if s.Name != "" {
		data["name"] = s.Name
	}
	if s.ID != "" {
		data["id"] = s.ID
	}
	return payload.SelfDescribingJSON{Schema: payload.SchemaScreenView, Data: data}, nil
}

// Payload sends the screen view as a self-describing event.
func (s *ScreenView) Payload(encode bool) (*payload.Payload, error) {
	data, err := s.Data()
	if err != nil {
		return nil, err
	}
	return wrap(s.Common, data).Payload(encode)
}
