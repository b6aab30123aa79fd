package domain

import "time"

// FeedEntry is one item of the external telemetry feed after parsing.
// EntryID is assigned by the feed and increases monotonically.
type FeedEntry struct {
	EntryID     int64     `json:"entry_id"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	CreatedAt   time.Time `json:"created_at"`
}

// RawReading maps the entry onto the pipeline's raw input, tagged as a feed
// reading from deviceID.
func (e FeedEntry) RawReading(deviceID string) RawReading {
	raw := RawReading{
		FieldTemperature: e.Temperature,
		FieldHumidity:    e.Humidity,
		FieldSource:      SourceThingSpeak,
		FieldEntryID:     e.EntryID,
		FieldCreatedAt:   e.CreatedAt,
	}
	if deviceID != "" {
		raw[FieldDeviceID] = deviceID
	}
	return raw
}

// Cursor is the durable position of the feed consumer.
type Cursor struct {
	LastEntryID int64     `bson:"last_entry_id" json:"last_entry_id"`
	UpdatedAt   time.Time `bson:"updated_at" json:"updated_at"`
}
