package payload

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayload_SetIgnoresEmpty(t *testing.T) {
	p := New()
	p.Set("demo", "application")
	assert.Equal(t, 1, p.Len())

	p.Set("demo", "")
	p.Set("", "demo")
	assert.Equal(t, 1, p.Len())

	v, ok := p.Get("demo")
	assert.True(t, ok)
	assert.Equal(t, "application", v)
}

func TestPayload_SetReplacesInPlace(t *testing.T) {
	p := New()
	p.Set("a", "1")
	p.Set("stm", "100")
	p.Set("b", "2")
	p.Set("stm", "200")

	assert.Equal(t, []string{"a", "stm", "b"}, p.Keys())
	assert.Equal(t, `{"a":"1","stm":"200","b":"2"}`, p.String())
}

func TestPayload_AddDictSkipsNonStrings(t *testing.T) {
	p := New()
	p.AddDict(map[string]any{"hello": "world", "demo": 10})

	assert.Equal(t, 1, p.Len())
	v, _ := p.Get("hello")
	assert.Equal(t, "world", v)
}

func TestPayload_AddJSONPlain(t *testing.T) {
	p := New()
	require.NoError(t, p.AddJSON(map[string]any{"hello": "world"}, false, "encoded", "not_encoded"))

	assert.Equal(t, 1, p.Len())
	v, _ := p.Get("not_encoded")
	assert.Equal(t, `{"hello":"world"}`, v)
	assert.Equal(t, 39, p.ByteSize())
	assert.Equal(t, `{"not_encoded":"{\"hello\":\"world\"}"}`, p.String())
}

func TestPayload_AddJSONEncoded(t *testing.T) {
	p := New()
	require.NoError(t, p.AddJSON(map[string]any{"hello": "world"}, true, "encoded", "not_encoded"))

	v, ok := p.Get("encoded")
	require.True(t, ok)
	raw, err := base64.URLEncoding.DecodeString(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"hello":"world"}`, string(raw))

	_, ok = p.Get("not_encoded")
	assert.False(t, ok)
}

func TestPayload_ByteSizeCountsUTF8Bytes(t *testing.T) {
	p := New()
	p.Set("k", "é")
	// {"k":"é"} with a two-byte rune
	assert.Equal(t, 10, p.ByteSize())
}

func TestPayload_CloneIsIndependent(t *testing.T) {
	p := New()
	p.Set("a", "1")

	c := p.Clone()
	c.Set("a", "2")
	c.Set("b", "3")

	v, _ := p.Get("a")
	assert.Equal(t, "1", v)
	assert.Equal(t, 1, p.Len())
}

func TestPayload_JSONRoundTripKeepsOrder(t *testing.T) {
	p := New()
	p.Set("z", "last")
	p.Set("a", "first")
	p.Set("m", "<tag>&")

	data, err := json.Marshal(p)
	require.NoError(t, err)

	var out Payload
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, []string{"z", "a", "m"}, out.Keys())
	assert.Equal(t, p.Map(), out.Map())
}

func TestPayload_UnmarshalScalars(t *testing.T) {
	var p Payload
	require.NoError(t, json.Unmarshal([]byte(`{"n":12,"b":true,"x":null}`), &p))

	n, _ := p.Get("n")
	assert.Equal(t, "12", n)
	b, _ := p.Get("b")
	assert.Equal(t, "true", b)
	_, ok := p.Get("x")
	assert.False(t, ok)

	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &p))
}

func TestPayload_QueryString(t *testing.T) {
	p := New()
	p.Set("e", "se")
	p.Set("se_ca", "a b&c")
	assert.Equal(t, "e=se&se_ca=a+b%26c", p.QueryString())
}

func TestPayload_Delete(t *testing.T) {
	p := New()
	p.Set("a", "1")
	p.Set("b", "2")
	p.Delete("a")
	p.Delete("missing")
	assert.Equal(t, []string{"b"}, p.Keys())
}

func TestSelfDescribingJSON(t *testing.T) {
	_, err := NewSelfDescribingJSON("", nil)
	assert.ErrorIs(t, err, ErrEmptySchema)

	inner := New()
	inner.Set("name", "menu")
	sdj, err := NewSelfDescribingJSON(SchemaScreenView, inner)
	require.NoError(t, err)
	assert.Equal(t, `{"schema":"`+SchemaScreenView+`","data":{"name":"menu"}}`, sdj.String())
}
