package models

import (
	"time"

	dErrors "phigate/pkg/domain-errors"
)

// Filter narrows encounter lookups. Zero fields match everything; set
// fields compose with AND. Start and End bound EncounterDate inclusively.
type Filter struct {
	PatientID  string
	ProviderID string
	Type       Category
	Start      time.Time
	End        time.Time
}

func (f Filter) IsEmpty() bool {
	return f == Filter{}
}

// Validate rejects filters that can never match.
func (f Filter) Validate() error {
	if !f.Start.IsZero() && !f.End.IsZero() && f.End.Before(f.Start) {
		return dErrors.New(dErrors.CodeValidation, "end_date must be after start_date")
	}
	if f.Type != "" && !f.Type.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "encounter_type is invalid")
	}
	return nil
}

// Matches reports whether e satisfies every set field of f.
func (f Filter) Matches(e *Encounter) bool {
	if e == nil {
		return false
	}
	if f.PatientID != "" && e.PatientID != f.PatientID {
		return false
	}
	if f.ProviderID != "" && e.ProviderID != f.ProviderID {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if !f.Start.IsZero() && e.EncounterDate.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && e.EncounterDate.After(f.End) {
		return false
	}
	return true
}
