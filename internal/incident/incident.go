// Package incident defines the durable incident model and the pure policies
// that govern its lifecycle.
package incident

import "time"

// Status is the incident state machine. Incidents are never hard-deleted,
// only status-transitioned.
type Status string

const (
	// StatusMonitor means evidence exists but is too weak to page anyone
	StatusMonitor Status = "monitor"

	// StatusAlert means corroborated evidence warrants attention
	StatusAlert Status = "alert"

	// StatusConfirm means high-confidence, high-severity, well-corroborated
	StatusConfirm Status = "confirm"

	// StatusResolved means manually or automatically closed
	StatusResolved Status = "resolved"
)

// Severity buckets for an incident.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Incident is the durable output of the reasoning pipeline.
type Incident struct {
	ID              string     `json:"id"`
	EventType       string     `json:"event_type"`
	City            string     `json:"city"`
	Latitude        float64    `json:"lat"`
	Longitude       float64    `json:"lng"`
	Status          Status     `json:"status"`
	Severity        Severity   `json:"severity"`
	ConfidenceScore float64    `json:"confidence_score"`
	Title           string     `json:"title"`
	Summary         string     `json:"summary"`
	SignalCount     int        `json:"signal_count"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
}

// LifecycleEvent records a single status transition, append-only.
type LifecycleEvent struct {
	IncidentID string    `json:"incident_id"`
	From       Status    `json:"from"`
	To         Status    `json:"to"`
	Reason     string    `json:"reason"`
	At         time.Time `json:"at"`
}

// DetermineStatus seeds the status of a newly created incident from the
// evidence that produced it:
//   - confidence >= 0.8, high severity, 3+ signals: confirm
//   - confidence >= 0.6 with 2+ signals: alert
//   - anything weaker: monitor
func DetermineStatus(signalCount int, confidence float64, severity Severity) Status {
	if confidence >= 0.8 && severity == SeverityHigh && signalCount >= 3 {
		return StatusConfirm
	}
	if confidence >= 0.6 && signalCount >= 2 {
		return StatusAlert
	}
	return StatusMonitor
}

// ClampConfidence bounds a confidence score to [0, 1]. Diversity-bonus
// adjustment can push the raw value outside the range in either direction.
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
