// Package payload holds the key/value representation of a single tracked
// event and its JSON and query-string encodings.
package payload

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Payload is an insertion-ordered mapping of event field names to string
// values. Setting an existing key replaces its value without moving it.
type Payload struct {
	keys   []string
	values map[string]string
}

// New creates an empty payload.
func New() *Payload {
	return &Payload{values: make(map[string]string)}
}

// FromMap builds a payload from m with keys in sorted order.
func FromMap(m map[string]string) *Payload {
	p := New()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		p.Set(k, m[k])
	}
	return p
}

// Set stores value under key. Empty keys and empty values are ignored.
func (p *Payload) Set(key, value string) {
	if key == "" || value == "" {
		return
	}
	if p.values == nil {
		p.values = make(map[string]string)
	}
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
}

// Get returns the value stored under key.
func (p *Payload) Get(key string) (string, bool) {
	v, ok := p.values[key]
	return v, ok
}

// Delete removes key if present.
func (p *Payload) Delete(key string) {
	if _, ok := p.values[key]; !ok {
		return
	}
	delete(p.values, key)
	for i, k := range p.keys {
		if k == key {
			p.keys = append(p.keys[:i], p.keys[i+1:]...)
			break
		}
	}
}

// Len returns the number of fields.
func (p *Payload) Len() int {
	return len(p.keys)
}

// Keys returns the field names in insertion order.
func (p *Payload) Keys() []string {
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// Map returns the fields as a plain map.
func (p *Payload) Map() map[string]string {
	out := make(map[string]string, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

// Clone returns an independent copy.
func (p *Payload) Clone() *Payload {
	c := &Payload{
		keys:   make([]string, len(p.keys)),
		values: make(map[string]string, len(p.values)),
	}
	copy(c.keys, p.keys)
	for k, v := range p.values {
		c.values[k] = v
	}
	return c
}

// Merge copies every field of other into p.
func (p *Payload) Merge(other *Payload) {
	if other == nil {
		return
	}
	for _, k := range other.keys {
		p.Set(k, other.values[k])
	}
}

// AddDict adds the string-valued entries of m in sorted key order.
// Entries with any other value type are skipped.
func (p *Payload) AddDict(m map[string]any) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if s, ok := m[k].(string); ok {
			p.Set(k, s)
		}
	}
}

// AddJSON serializes v and stores it either base64 encoded under
// encodedKey or as plain JSON under plainKey.
func (p *Payload) AddJSON(v any, encode bool, encodedKey, plainKey string) error {
	raw, err := marshalNoEscape(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", plainKey, err)
	}
	if encode {
		p.Set(encodedKey, base64.URLEncoding.EncodeToString(raw))
	} else {
		p.Set(plainKey, string(raw))
	}
	return nil
}

// MarshalJSON encodes the payload as a JSON object in insertion order.
func (p *Payload) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range p.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeJSONString(&buf, k)
		buf.WriteByte(':')
		writeJSONString(&buf, p.values[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a flat JSON object, keeping the field order of the
// input. Non-string scalar values are stored in their JSON text form.
func (p *Payload) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("payload: expected JSON object")
	}

	p.keys = nil
	p.values = make(map[string]string)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("payload: expected string key")
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			p.Set(key, s)
			continue
		}
		if string(raw) == "null" {
			continue
		}
		p.Set(key, string(raw))
	}
	_, err = dec.Token()
	return err
}

// String returns the JSON encoding of the payload.
func (p *Payload) String() string {
	b, _ := p.MarshalJSON()
	return string(b)
}

// ByteSize returns the length in bytes of the UTF-8 JSON encoding.
func (p *Payload) ByteSize() int {
	b, _ := p.MarshalJSON()
	return len(b)
}

// QueryString encodes the payload as URL query parameters in insertion order.
func (p *Payload) QueryString() string {
	var sb strings.Builder
	for i, k := range p.keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(k))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(p.values[k]))
	}
	return sb.String()
}

func writeJSONString(buf *bytes.Buffer, s string) {
	b, _ := marshalNoEscape(s)
	buf.Write(b)
}

// marshalNoEscape is json.Marshal without HTML escaping and without the
// trailing newline json.Encoder appends.
func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
