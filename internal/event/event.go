// Package event builds tracker payloads for the supported event types.
package event

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/snowtrail/snowtrail/internal/payload"
)

// Event is anything the tracker can record.
type Event interface {
	// Payload returns the event fields. encode selects base64 encoding
	// for embedded JSON.
	Payload(encode bool) (*payload.Payload, error)
	EventID() string
	Timestamp() time.Time
	Contexts() []payload.SelfDescribingJSON
}

// Common holds the fields shared by every event. Event types embed it.
type Common struct {
	id       string
	ts       time.Time
	contexts []payload.SelfDescribingJSON
}

func newCommon() Common {
	return Common{id: uuid.NewString(), ts: time.Now()}
}

// EventID returns the event id, a random UUID unless overridden.
func (c *Common) EventID() string { return c.id }

// Timestamp returns the device creation time.
func (c *Common) Timestamp() time.Time { return c.ts }

// Contexts returns the custom contexts attached to the event.
func (c *Common) Contexts() []payload.SelfDescribingJSON {
	out := make([]payload.SelfDescribingJSON, len(c.contexts))
	copy(out, c.contexts)
	return out
}

// SetEventID overrides the event id. An empty id is ignored.
func (c *Common) SetEventID(id string) {
	if id != "" {
		c.id = id
	}
}

// SetTimestamp overrides the creation time.
func (c *Common) SetTimestamp(t time.Time) { c.ts = t }

// AddContext attaches custom context entities.
func (c *Common) AddContext(ctx ...payload.SelfDescribingJSON) {
	c.contexts = append(c.contexts, ctx...)
}

// addDefaults sets eid and dtm.
func (c *Common) addDefaults(p *payload.Payload) {
	p.Set(payload.KeyEventID, c.id)
	p.Set(payload.KeyTimestamp, strconv.FormatInt(c.ts.UnixMilli(), 10))
}
