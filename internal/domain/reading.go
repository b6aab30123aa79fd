package domain

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Field names of a raw reading as submitted by a device or mapped from the feed.
const (
	FieldTemperature = "temperature"
	FieldHumidity    = "humidity"
	FieldDeviceID    = "device_id"
	FieldSource      = "source"
	FieldEntryID     = "entry_id"
	FieldCreatedAt   = "created_at"
)

// Source tags attached during extraction.
const (
	SourceIoTSensor  = "iot_sensor"
	SourceThingSpeak = "thingspeak"
	SourceFallback   = "fallback"
)

// DefaultDeviceID is assigned by the ingestion endpoint when a device omits its id.
const DefaultDeviceID = "esp32-default"

// RawReading is an unprocessed reading keyed by field name. Values keep the
// type they arrived with so the validator can tell a missing field from a
// field of the wrong type.
type RawReading map[string]any

// Clone returns a shallow copy of the reading.
func (r RawReading) Clone() RawReading {
	out := make(RawReading, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// ComfortLevel is the thermal comfort classification of a reading.
type ComfortLevel string

const (
	ComfortCold        ComfortLevel = "cold"
	ComfortMild        ComfortLevel = "mild"
	ComfortComfortable ComfortLevel = "comfortable"
	ComfortHumid       ComfortLevel = "humid"
	ComfortHot         ComfortLevel = "hot"
	ComfortHotHumid    ComfortLevel = "hot_humid"
)

// Validation is the structured outcome of validating a raw reading.
type Validation struct {
	IsValid  bool     `bson:"is_valid" json:"is_valid"`
	Errors   []string `bson:"errors" json:"errors"`
	Warnings []string `bson:"warnings" json:"warnings"`
}

// HasError reports whether code is among the validation errors.
func (v Validation) HasError(code string) bool {
	for _, e := range v.Errors {
		if e == code {
			return true
		}
	}
	return false
}

// Reading is the persisted document. It is built once from a RawReading,
// filled in as it passes through the pipeline, and never updated after Load.
type Reading struct {
	ID string `bson:"-" json:"id,omitempty"`

	Temperature *float64 `bson:"temperature,omitempty" json:"temperature,omitempty"`
	Humidity    *float64 `bson:"humidity,omitempty" json:"humidity,omitempty"`
	DeviceID    string   `bson:"device_id,omitempty" json:"device_id,omitempty"`
	Source      string   `bson:"source" json:"source"`

	// Feed audit fields, set only for readings pulled from the external feed.
	FeedEntryID   *int64     `bson:"feed_entry_id,omitempty" json:"feed_entry_id,omitempty"`
	FeedCreatedAt *time.Time `bson:"feed_created_at,omitempty" json:"feed_created_at,omitempty"`

	Validation *Validation `bson:"validation,omitempty" json:"validation,omitempty"`

	// Outlier flags stay nil until the detector had enough history to decide.
	IsTemperatureOutlier *bool `bson:"is_temperature_outlier,omitempty" json:"is_temperature_outlier,omitempty"`
	IsHumidityOutlier    *bool `bson:"is_humidity_outlier,omitempty" json:"is_humidity_outlier,omitempty"`

	HeatIndex        *float64     `bson:"heat_index,omitempty" json:"heat_index,omitempty"`
	DewPoint         *float64     `bson:"dew_point,omitempty" json:"dew_point,omitempty"`
	ComfortLevel     ComfortLevel `bson:"comfort_level,omitempty" json:"comfort_level,omitempty"`
	DataQualityScore *float64     `bson:"data_quality_score,omitempty" json:"data_quality_score,omitempty"`

	RecordedAt  time.Time `bson:"recorded_at,omitempty" json:"recorded_at,omitzero"`
	ExtractedAt time.Time `bson:"extracted_at,omitempty" json:"extracted_at,omitzero"`
	ProcessedAt time.Time `bson:"processed_at,omitempty" json:"processed_at,omitzero"`
	LoadedAt    time.Time `bson:"loaded_at,omitempty" json:"loaded_at,omitzero"`

	raw RawReading
}

// NewReading maps a raw reading onto the document shape. Non-numeric
// temperature or humidity values are left nil; Validate reports why.
func NewReading(raw RawReading) Reading {
	r := Reading{raw: raw.Clone()}
	if v, ok := Numeric(raw[FieldTemperature]); ok {
		r.Temperature = &v
	}
	if v, ok := Numeric(raw[FieldHumidity]); ok {
		r.Humidity = &v
	}
	if s, ok := raw[FieldDeviceID].(string); ok {
		r.DeviceID = s
	}
	if s, ok := raw[FieldSource].(string); ok {
		r.Source = s
	}
	if id, ok := integer(raw[FieldEntryID]); ok {
		r.FeedEntryID = &id
	}
	if ts, ok := raw[FieldCreatedAt].(time.Time); ok {
		r.FeedCreatedAt = &ts
	}
	return r
}

// Raw returns the raw input the reading was built from.
func (r Reading) Raw() RawReading {
	return r.raw
}

// IsValid reports whether the reading carries a passing validation record.
func (r Reading) IsValid() bool {
	return r.Validation != nil && r.Validation.IsValid
}

// Numeric converts a decoded JSON or Go numeric value to float64. Strings,
// booleans, NaN and infinities are not numeric.
func Numeric(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func integer(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		if n == math.Trunc(n) {
			return int64(n), true
		}
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	}
	return 0, false
}

func float64Ptr(v float64) *float64 { return &v }

func boolPtr(v bool) *bool { return &v }
