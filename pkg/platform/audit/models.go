package audit

import (
	"time"

	dErrors "phigate/pkg/domain-errors"
)

// EventType is the kind of access an event records.
type EventType string

const (
	EventCreate EventType = "CREATE"
	EventRead   EventType = "READ"
	EventList   EventType = "LIST"
)

func (t EventType) IsValid() bool {
	switch t {
	case EventCreate, EventRead, EventList:
		return true
	}
	return false
}

// Outcome is how the audited access ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeDenied  Outcome = "DENIED"
	OutcomeError   Outcome = "ERROR"
)

func (o Outcome) IsValid() bool {
	switch o {
	case OutcomeSuccess, OutcomeDenied, OutcomeError:
		return true
	}
	return false
}

// Event is an immutable record of one access attempt. The resource id and
// free-text fields are redacted by Log before the event reaches a Store, so
// stored events are safe to read directly. PrincipalID and PrincipalRole are
// authenticated identifiers and are stored as given.
type Event struct {
	EventID       string
	PrincipalID   string
	PrincipalRole string
	Timestamp     time.Time
	EventType     EventType
	ResourceID    string
	SourceIP      string
	UserAgent     string
	Outcome       Outcome

	// Seq is assigned by the store and breaks timestamp ties. Zero until
	// the event has been persisted.
	Seq int64
}

// Cursor is the position of an event in query order.
type Cursor struct {
	Timestamp time.Time
	Seq       int64
}

// Cursor returns the position of e in query order.
func (e Event) Cursor() Cursor {
	return Cursor{Timestamp: e.Timestamp, Seq: e.Seq}
}

// After reports whether c sorts strictly after other.
func (c Cursor) After(other Cursor) bool {
	if c.Timestamp.Equal(other.Timestamp) {
		return c.Seq > other.Seq
	}
	return c.Timestamp.After(other.Timestamp)
}

// Record is the export shape of an event.
type Record struct {
	EventID       string `json:"event_id"`
	PrincipalID   string `json:"principal_id"`
	PrincipalRole string `json:"principal_role"`
	Timestamp     string `json:"timestamp"`
	EventType     string `json:"event_type"`
	ResourceID    string `json:"resource_id"`
	SourceIP      string `json:"source_ip"`
	UserAgent     string `json:"user_agent"`
	Outcome       string `json:"outcome"`
}

// Export converts e to its export shape with an ISO-8601 UTC timestamp.
func (e Event) Export() Record {
	return Record{
		EventID:       e.EventID,
		PrincipalID:   e.PrincipalID,
		PrincipalRole: e.PrincipalRole,
		Timestamp:     e.Timestamp.UTC().Format(time.RFC3339Nano),
		EventType:     string(e.EventType),
		ResourceID:    e.ResourceID,
		SourceIP:      e.SourceIP,
		UserAgent:     e.UserAgent,
		Outcome:       string(e.Outcome),
	}
}

// Filter selects events. Set fields compose with AND; zero fields match
// everything. Start and End are inclusive.
type Filter struct {
	Start       time.Time
	End         time.Time
	PrincipalID string
	ResourceID  string
	EventType   EventType
}

// Validate rejects filters that can never match.
func (f Filter) Validate() error {
	if !f.Start.IsZero() && !f.End.IsZero() && f.End.Before(f.Start) {
		return dErrors.New(dErrors.CodeValidation, "end date must not be before start date")
	}
	if f.EventType != "" && !f.EventType.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "unknown event type")
	}
	return nil
}

// Matches reports whether e satisfies every set field of f.
func (f Filter) Matches(e Event) bool {
	if !f.Start.IsZero() && e.Timestamp.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && e.Timestamp.After(f.End) {
		return false
	}
	if f.PrincipalID != "" && e.PrincipalID != f.PrincipalID {
		return false
	}
	if f.ResourceID != "" && e.ResourceID != f.ResourceID {
		return false
	}
	if f.EventType != "" && e.EventType != f.EventType {
		return false
	}
	return true
}
