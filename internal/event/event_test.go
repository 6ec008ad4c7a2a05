package event

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snowtrail/snowtrail/internal/errors"
	"github.com/snowtrail/snowtrail/internal/payload"
)

func TestStructured_Minimal(t *testing.T) {
	se := NewStructured("category", "action")
	p, err := se.Payload(false)
	require.NoError(t, err)

	assert.Equal(t, 5, p.Len())
	assertField(t, p, payload.KeyEvent, "se")
	assertField(t, p, payload.KeySECategory, "category")
	assertField(t, p, payload.KeySEAction, "action")
	assertField(t, p, payload.KeyEventID, se.EventID())
}

func TestStructured_Full(t *testing.T) {
	se := NewStructured("category", "action").WithValue(5.2)
	se.Label = "label"
	se.Property = "property"

	p, err := se.Payload(false)
	require.NoError(t, err)
	assert.Equal(t, 8, p.Len())
	assertField(t, p, payload.KeySELabel, "label")
	assertField(t, p, payload.KeySEProperty, "property")
	assertField(t, p, payload.KeySEValue, "5.2")
}

func TestStructured_Validation(t *testing.T) {
	_, err := NewStructured("", "action").Payload(false)
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidEvent, errors.GetCode(err))
	assert.Contains(t, err.Error(), "category")

	_, err = NewStructured("category", "").Payload(false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "action")
}

func TestCommon_Overrides(t *testing.T) {
	se := NewStructured("c", "a")
	ts := time.UnixMilli(1700000000123)
	se.SetEventID("fixed-id")
	se.SetEventID("")
	se.SetTimestamp(ts)

	p, err := se.Payload(false)
	require.NoError(t, err)
	assertField(t, p, payload.KeyEventID, "fixed-id")
	assertField(t, p, payload.KeyTimestamp, "1700000000123")
}

func TestSelfDescribing_Plain(t *testing.T) {
	data := payload.SelfDescribingJSON{Schema: "iglu:com.acme/level_up/jsonschema/1-0-0", Data: map[string]int{"level": 3}}
	ev := NewSelfDescribing(data)

	p, err := ev.Payload(false)
	require.NoError(t, err)
	assertField(t, p, payload.KeyEvent, "ue")

	raw, ok := p.Get(payload.KeyUnstructured)
	require.True(t, ok)
	assert.Equal(t,
		`{"schema":"iglu:com.snowplowanalytics.snowplow/unstruct_event/jsonschema/1-0-0","data":{"schema":"iglu:com.acme/level_up/jsonschema/1-0-0","data":{"level":3}}}`,
		raw)
	_, ok = p.Get(payload.KeyUnstructuredEncoded)
	assert.False(t, ok)
}

func TestSelfDescribing_Encoded(t *testing.T) {
	ev := NewSelfDescribing(payload.SelfDescribingJSON{Schema: "iglu:com.acme/x/jsonschema/1-0-0", Data: map[string]string{}})

	p, err := ev.Payload(true)
	require.NoError(t, err)

	enc, ok := p.Get(payload.KeyUnstructuredEncoded)
	require.True(t, ok)
	decoded, err := base64.URLEncoding.DecodeString(enc)
	require.NoError(t, err)

	var envelope payload.SelfDescribingJSON
	require.NoError(t, json.Unmarshal(decoded, &envelope))
	assert.Equal(t, payload.SchemaUnstructEvent, envelope.Schema)
}

func TestSelfDescribing_RequiresSchema(t *testing.T) {
	_, err := NewSelfDescribing(payload.SelfDescribingJSON{}).Payload(false)
	assert.Error(t, err)
}

func TestScreenView(t *testing.T) {
	sv := NewScreenView("Menu", "")
	data, err := sv.Data()
	require.NoError(t, err)
	assert.Equal(t, payload.SchemaScreenView, data.Schema)
	assert.Equal(t, map[string]string{"name": "Menu"}, data.Data)

	p, err := sv.Payload(false)
	require.NoError(t, err)
	assertField(t, p, payload.KeyEvent, "ue")
	assertField(t, p, payload.KeyEventID, sv.EventID())

	_, err = NewScreenView("", "").Payload(false)
	assert.Error(t, err)
}

func TestTiming(t *testing.T) {
	tm := NewTiming("category", "variable", 5*time.Millisecond)
	data, err := tm.Data()
	require.NoError(t, err)
	assert.Equal(t, payload.SchemaTiming, data.Schema)
	assert.Equal(t, `{"schema":"iglu:com.snowplowanalytics.snowplow/timing/jsonschema/1-0-0","data":{"category":"category","variable":"variable","timing":5}}`, data.String())

	tm.Label = "label"
	data, err = tm.Data()
	require.NoError(t, err)
	assert.Contains(t, data.String(), `"label":"label"`)

	_, err = NewTiming("", "v", time.Second).Payload(false)
	assert.Error(t, err)
	_, err = NewTiming("c", "", time.Second).Payload(false)
	assert.Error(t, err)
}

func TestContexts_ReturnsCopy(t *testing.T) {
	se := NewStructured("c", "a")
	se.AddContext(payload.SelfDescribingJSON{Schema: "iglu:a/b/jsonschema/1-0-0", Data: 1})

	ctx := se.Contexts()
	require.Len(t, ctx, 1)
	ctx[0].Schema = "changed"
	assert.Equal(t, "iglu:a/b/jsonschema/1-0-0", se.Contexts()[0].Schema)
}

func assertField(t *testing.T, p *payload.Payload, key, want string) {
	t.Helper()
	got, ok := p.Get(key)
	require.True(t, ok, "missing %s", key)
	assert.Equal(t, want, got)
}
