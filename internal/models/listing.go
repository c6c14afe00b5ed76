package models

import (
	"bytes"
	"encoding/json"
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Listing field names every upstream entry is keyed by.
const (
	FieldMaterialTicker = "MaterialTicker"
	FieldExchangeCode   = "ExchangeCode"
)

var jsonNull = json.RawMessage("null")

// ListingEntry is one row of the upstream exchange listing. Fields are kept as raw
// JSON in upstream key order so they can be passed through verbatim.
type ListingEntry struct {
	fields *orderedmap.OrderedMap[string, json.RawMessage]
}

// NewListingEntry creates an empty listing entry.
func NewListingEntry() *ListingEntry {
	return &ListingEntry{fields: orderedmap.New[string, json.RawMessage]()}
}

// NewListingEntryFrom builds an entry from alternating key/value pairs, mostly for tests
// and fixtures: NewListingEntryFrom("MaterialTicker", "RAT", "ExchangeCode", "AI1").
func NewListingEntryFrom(kv ...any) (*ListingEntry, error) {
	if len(kv)%2 != 0 {
		return nil, fmt.Errorf("odd number of key/value arguments: %d", len(kv))
	}

	entry := NewListingEntry()
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			return nil, fmt.Errorf("key at position %d is %T, want string", i, kv[i])
		}
		if err := entry.Set(key, kv[i+1]); err != nil {
			return nil, err
		}
	}
	return entry, nil
}

// Set stores value under key, marshalling it to JSON. Existing keys keep their position.
func (e *ListingEntry) Set(key string, value any) error {
	raw, ok := value.(json.RawMessage)
	if !ok {
		data, err := marshalValue(value)
		if err != nil {
			return fmt.Errorf("marshal listing field %s: %w", key, err)
		}
		raw = data
	}
	e.setRaw(key, raw)
	return nil
}

func (e *ListingEntry) setRaw(key string, raw json.RawMessage) {
	if len(raw) == 0 {
		raw = jsonNull
	}
	e.fields.Set(key, raw)
}

// Get returns the raw JSON value stored under key.
func (e *ListingEntry) Get(key string) (json.RawMessage, bool) {
	return e.fields.Get(key)
}

// Keys returns the field names in insertion order.
func (e *ListingEntry) Keys() []string {
	keys := make([]string, 0, e.fields.Len())
	for pair := e.fields.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// StringField decodes a string-valued field, returning "" when absent or not a string.
func (e *ListingEntry) StringField(key string) string {
	raw, ok := e.fields.Get(key)
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// MaterialTicker returns the material ticker, e.g. "RAT".
func (e *ListingEntry) MaterialTicker() string {
	return e.StringField(FieldMaterialTicker)
}

// ExchangeCode returns the exchange code, e.g. "AI1".
func (e *ListingEntry) ExchangeCode() string {
	return e.StringField(FieldExchangeCode)
}

// FullTicker returns the material ticker and exchange code joined by a dot.
func (e *ListingEntry) FullTicker() string {
	return FullTicker(e.MaterialTicker(), e.ExchangeCode())
}

// MarshalJSON implements json.Marshaler, preserving key order.
func (e *ListingEntry) MarshalJSON() ([]byte, error) {
	return marshalObject(e.fields)
}

// UnmarshalJSON implements json.Unmarshaler, preserving key order.
func (e *ListingEntry) UnmarshalJSON(data []byte) error {
	fields := orderedmap.New[string, json.RawMessage]()
	if err := fields.UnmarshalJSON(data); err != nil {
		return err
	}
	e.fields = fields
	return nil
}

// FullTicker joins a material ticker and an exchange code, e.g. "RAT.AI1".
func FullTicker(materialTicker, exchangeCode string) string {
	return materialTicker + "." + exchangeCode
}

// marshalValue encodes v without escaping HTML characters, so names such as
// "Rations <basic> & co" are stored as written.
func marshalValue(v any) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// marshalObject writes fields as a JSON object in insertion order. Values are
// compacted but, unlike the ordered map's own encoder, never HTML-escaped.
func marshalObject(fields *orderedmap.OrderedMap[string, json.RawMessage]) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for pair := fields.Oldest(); pair != nil; pair = pair.Next() {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		key, err := marshalValue(pair.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		if err := json.Compact(&buf, pair.Value); err != nil {
			return nil, fmt.Errorf("field %s: %w", pair.Key, err)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
