package payload

import "errors"

// SelfDescribingJSON pairs a schema URI with its data.
type SelfDescribingJSON struct {
	Schema string `json:"schema"`
	Data   any    `json:"data"`
}

// ErrEmptySchema is returned when a self-describing JSON has no schema.
var ErrEmptySchema = errors.New("schema cannot be null or empty")

// NewSelfDescribingJSON creates an envelope for data under schema.
func NewSelfDescribingJSON(schema string, data any) (SelfDescribingJSON, error) {
	if schema == "" {
		return SelfDescribingJSON{}, ErrEmptySchema
	}
	return SelfDescribingJSON{Schema: schema, Data: data}, nil
}

// String returns the JSON encoding of the envelope.
func (s SelfDescribingJSON) String() string {
	b, err := marshalNoEscape(s)
	if err != nil {
		return ""
	}
	return string(b)
}
