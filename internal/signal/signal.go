// Package signal defines the normalized disaster-signal model shared by
// ingestion connectors, the clustering engine, and the reasoning pipeline.
package signal

import "time"

// Source identifies the provenance channel a signal arrived through.
type Source string

const (
	SourceOfficial    Source = "official"
	SourceUserReport  Source = "user_report"
	SourceSocialMedia Source = "social_media"
	SourceNews        Source = "news"
	SourceSensor      Source = "sensor"
)

// Status tracks where a signal is in its lifecycle. Signals are immutable
// once persisted except for status transitions.
type Status string

const (
	// StatusPending means ingested, not yet attached to an incident
	StatusPending Status = "pending"

	// StatusProcessed means attached to an incident by a clustering pass
	StatusProcessed Status = "processed"

	// StatusRejected means dismissed by reasoning, kept for audit
	StatusRejected Status = "rejected"
)

// Event types a signal can hint at. EventOther and EventNoise are terminal
// classifications: such signals never participate in clustering.
const (
	EventEarthquake = "earthquake"
	EventFlood      = "flood"
	EventFire       = "fire"
	EventLandslide  = "landslide"
	EventVolcano    = "volcano"
	EventTsunami    = "tsunami"
	EventOther      = "other"
	EventNoise      = "noise"
)

// Signal is a single normalized observation from any connector.
type Signal struct {
	ID        string    `json:"id"`
	Source    Source    `json:"source"`
	Text      string    `json:"text"`
	Latitude  *float64  `json:"lat,omitempty"`
	Longitude *float64  `json:"lng,omitempty"`
	EventType string    `json:"event_type"`
	CityHint  string    `json:"city_hint,omitempty"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// IsNoise reports whether the signal carries a classification that excludes
// it from clustering.
func (s *Signal) IsNoise() bool {
	return s.EventType == EventOther || s.EventType == EventNoise
}

// HasCoordinates reports whether both latitude and longitude are present.
func (s *Signal) HasCoordinates() bool {
	return s.Latitude != nil && s.Longitude != nil
}
