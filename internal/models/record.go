package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/guregu/null/v6"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Derived field names written after the passthrough listing fields.
const (
	FieldTimestamp  = "Timestamp"
	FieldFullTicker = "FullTicker"
)

// TimestampLayout is the ISO-8601 form used for the refresh timestamp.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Statistics holds the derived per-record statistics. An invalid value means no
// underlying data and is persisted as an explicit null.
type Statistics struct {
	OpenYesterday   null.Float
	CloseYesterday  null.Float
	HighYesterday   null.Float
	LowYesterday    null.Float
	TradedYesterday null.Float

	TWAP7D          null.Float
	VWAP7D          null.Float
	Traded7D        null.Float
	AverageTraded7D null.Float

	TWAP30D          null.Float
	VWAP30D          null.Float
	Traded30D        null.Float
	AverageTraded30D null.Float
}

type statField struct {
	name  string
	value *null.Float
}

// fields lists the statistics in their serialized order.
func (s *Statistics) fields() []statField {
	return []statField{
		{"OpenYesterday", &s.OpenYesterday},
		{"CloseYesterday", &s.CloseYesterday},
		{"HighYesterday", &s.HighYesterday},
		{"LowYesterday", &s.LowYesterday},
		{"TradedYesterday", &s.TradedYesterday},
		{"TWAP7D", &s.TWAP7D},
		{"VWAP7D", &s.VWAP7D},
		{"Traded7D", &s.Traded7D},
		{"AverageTraded7D", &s.AverageTraded7D},
		{"TWAP30D", &s.TWAP30D},
		{"VWAP30D", &s.VWAP30D},
		{"Traded30D", &s.Traded30D},
		{"AverageTraded30D", &s.AverageTraded30D},
	}
}

// StatisticNames returns the statistic field names in serialized order.
func StatisticNames() []string {
	var s Statistics
	fields := s.fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.name
	}
	return names
}

// IsReservedField reports whether key is written by the record itself rather than
// passed through from the upstream listing.
func IsReservedField(key string) bool {
	if key == FieldTimestamp || key == FieldFullTicker {
		return true
	}
	for _, name := range StatisticNames() {
		if key == name {
			return true
		}
	}
	return false
}

// PriceRecord is one persisted entry per (MaterialTicker, ExchangeCode) pair.
type PriceRecord struct {
	// Listing holds the upstream listing fields, copied verbatim.
	Listing *ListingEntry

	// Timestamp is the instant of the last statistics refresh; invalid means never refreshed.
	Timestamp null.Time

	Statistics Statistics
}

// NewPriceRecord creates a never-refreshed record from a listing entry.
func NewPriceRecord(entry *ListingEntry) *PriceRecord {
	record := &PriceRecord{Listing: NewListingEntry()}
	record.Overlay(entry)
	return record
}

// FullTicker returns the record's "<MaterialTicker>.<ExchangeCode>" key.
func (r *PriceRecord) FullTicker() string {
	return r.Listing.FullTicker()
}

// Overlay copies every listing field from entry onto the record. Existing keys keep
// their position, new keys are appended, reserved keys are ignored.
func (r *PriceRecord) Overlay(entry *ListingEntry) {
	if entry == nil {
		return
	}
	for pair := entry.fields.Oldest(); pair != nil; pair = pair.Next() {
		if IsReservedField(pair.Key) {
			continue
		}
		raw := make(json.RawMessage, len(pair.Value))
		copy(raw, pair.Value)
		r.Listing.setRaw(pair.Key, raw)
	}
}

// Stamp marks the record as refreshed at the given instant.
func (r *PriceRecord) Stamp(at time.Time) {
	r.Timestamp = null.TimeFrom(at.UTC())
}

// OutputFields builds the serialized form of the record: listing fields in order,
// then Timestamp, FullTicker and every statistic. Absent values are explicit nulls.
func (r *PriceRecord) OutputFields() (*orderedmap.OrderedMap[string, json.RawMessage], error) {
	out := orderedmap.New[string, json.RawMessage]()
	if r.Listing != nil {
		for pair := r.Listing.fields.Oldest(); pair != nil; pair = pair.Next() {
			out.Set(pair.Key, pair.Value)
		}
	}

	timestamp := jsonNull
	if r.Timestamp.Valid {
		data, err := marshalValue(r.Timestamp.Time.UTC().Format(TimestampLayout))
		if err != nil {
			return nil, err
		}
		timestamp = data
	}
	out.Set(FieldTimestamp, timestamp)

	fullTicker, err := marshalValue(r.FullTicker())
	if err != nil {
		return nil, err
	}
	out.Set(FieldFullTicker, fullTicker)

	for _, f := range r.Statistics.fields() {
		data, err := f.value.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("marshal %s for %s: %w", f.name, r.FullTicker(), err)
		}
		out.Set(f.name, data)
	}

	return out, nil
}

// MarshalJSON implements json.Marshaler. Strings are written without HTML escaping;
// an encoder with escaping enabled still applies it to the result.
func (r *PriceRecord) MarshalJSON() ([]byte, error) {
	out, err := r.OutputFields()
	if err != nil {
		return nil, err
	}
	return marshalObject(out)
}

// UnmarshalJSON implements json.Unmarshaler. Reserved keys populate the typed
// fields; everything else is kept as passthrough in file order.
func (r *PriceRecord) UnmarshalJSON(data []byte) error {
	entry := NewListingEntry()
	if err := entry.UnmarshalJSON(data); err != nil {
		return err
	}

	record := PriceRecord{Listing: NewListingEntry()}

	if raw, ok := entry.Get(FieldTimestamp); ok {
		ts, err := parseTimestamp(raw)
		if err != nil {
			return fmt.Errorf("record %s: %w", entry.FullTicker(), err)
		}
		record.Timestamp = ts
	}

	for _, f := range record.Statistics.fields() {
		raw, ok := entry.Get(f.name)
		if !ok {
			continue
		}
		if err := f.value.UnmarshalJSON(raw); err != nil {
			return fmt.Errorf("record %s field %s: %w", entry.FullTicker(), f.name, err)
		}
	}

	for pair := entry.fields.Oldest(); pair != nil; pair = pair.Next() {
		if IsReservedField(pair.Key) {
			continue
		}
		record.Listing.setRaw(pair.Key, pair.Value)
	}

	*r = record
	return nil
}

func parseTimestamp(raw json.RawMessage) (null.Time, error) {
	var s *string
	if err := json.Unmarshal(raw, &s); err != nil {
		return null.Time{}, fmt.Errorf("invalid Timestamp %s: %w", string(raw), err)
	}
	if s == nil || strings.TrimSpace(*s) == "" {
		return null.Time{}, nil
	}

	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return null.Time{}, fmt.Errorf("invalid Timestamp %q: %w", *s, err)
	}
	return null.TimeFrom(t.UTC()), nil
}
