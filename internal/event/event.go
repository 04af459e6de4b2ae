// Package event defines the normalized record produced by every source
// runner and the envelope a queue entry wraps it in.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Severity is the normalized urgency of an Event.
type Severity string

const (
	SeverityLow      Severity = "Low"
	SeverityMedium   Severity = "Medium"
	SeverityHigh     Severity = "High"
	SeverityCritical Severity = "Critical"
)

// Event is the common record every source runner yields. Once an Event
// enters the durable queue its ID is immutable and uniquely identifies it
// for removal.
type Event struct {
	ID            uuid.UUID         `json:"id"`
	Timestamp     time.Time         `json:"timestamp"`
	SourceSystem  string            `json:"sourceSystem"`
	EventType     string            `json:"eventType"`
	Severity      Severity          `json:"severity"`
	Description   string            `json:"description"`
	SourceIP      string            `json:"sourceIp,omitempty"`
	DestinationIP string            `json:"destinationIp,omitempty"`
	RawPayload    string            `json:"rawPayload"`
	CustomFields  map[string]any    `json:"customFields,omitempty"`

	// Envelope fields. AgentID and AgentVersion are stamped by the source
	// runner that builds the event; RetryCount and Cached are filled in
	// by the drainer when it forwards a queued event.
	AgentID      string `json:"agentId"`
	AgentVersion string `json:"agentVersion"`
	RetryCount   int    `json:"retryCount"`
	Cached       bool   `json:"cached"`
}

// New builds an Event with a freshly generated ID and the given receipt
// time as a timestamp fallback. Callers overwrite Timestamp when
// extractTimestamp finds one in the payload.
func New(eventType, sourceSystem, rawPayload string, receivedAt time.Time) Event {
	return Event{
		ID:           uuid.New(),
		Timestamp:    receivedAt,
		SourceSystem: sourceSystem,
		EventType:    eventType,
		Severity:     SeverityLow,
		RawPayload:   rawPayload,
		CustomFields: make(map[string]any),
	}
}

// QueueEntry wraps an Event with the bookkeeping the durable queue needs
// to drain it in FIFO order and retire it on success, retry exhaustion,
// or age.
type QueueEntry struct {
	Event      Event
	CachedAt   time.Time
	RetryCount int
	LastRetryAt *time.Time
}
