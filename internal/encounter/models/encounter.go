package models

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	dErrors "phigate/pkg/domain-errors"
)

// Category is the kind of clinical encounter.
type Category string

const (
	CategoryInitialAssessment Category = "initial_assessment"
	CategoryFollowUp          Category = "follow_up"
	CategoryTreatmentSession  Category = "treatment_session"
	CategoryConsultation      Category = "consultation"
	CategoryDischarge         Category = "discharge"
)

func (c Category) IsValid() bool {
	switch c {
	case CategoryInitialAssessment, CategoryFollowUp, CategoryTreatmentSession,
		CategoryConsultation, CategoryDischarge:
		return true
	}
	return false
}

const encounterIDPrefix = "enc_"

// Encounter is a protected clinical record.
//
// Invariants:
//   - ID is opaque and random ("enc_" + 32 hex characters), never sequential
//   - PatientID and ProviderID are non-empty and trimmed
//   - Type is a known Category
//   - The record is immutable once stored; readers get copies
//
// PatientID and ClinicalData carry PHI. They are returned to authorized
// callers as-is and must never reach logs or audit events.
type Encounter struct {
	ID            string         `json:"encounter_id"`
	PatientID     string         `json:"patient_id"`
	ProviderID    string         `json:"provider_id"`
	EncounterDate time.Time      `json:"encounter_date"`
	Type          Category       `json:"encounter_type"`
	ClinicalData  map[string]any `json:"clinical_data"`
	CreatedAt     time.Time      `json:"created_at"`
	CreatedBy     string         `json:"created_by"`
}

// NewEncounterInput carries caller-supplied fields for a new record.
type NewEncounterInput struct {
	PatientID     string
	ProviderID    string
	EncounterDate time.Time
	Type          Category
	ClinicalData  map[string]any
}

// NewEncounter validates input and builds a record with a fresh id.
func NewEncounter(in NewEncounterInput, createdBy string, now time.Time) (*Encounter, error) {
	patientID := strings.TrimSpace(in.PatientID)
	providerID := strings.TrimSpace(in.ProviderID)
	if patientID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "patient_id is required")
	}
	if providerID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "provider_id is required")
	}
	if in.EncounterDate.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "encounter_date is required")
	}
	if !in.Type.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "encounter_type is invalid")
	}
	clinical := cloneMap(in.ClinicalData)
	if clinical == nil {
		clinical = map[string]any{}
	}
	return &Encounter{
		ID:            NewEncounterID(),
		PatientID:     patientID,
		ProviderID:    providerID,
		EncounterDate: in.EncounterDate.UTC(),
		Type:          in.Type,
		ClinicalData:  clinical,
		CreatedAt:     now.UTC(),
		CreatedBy:     createdBy,
	}, nil
}

// NewEncounterID returns a random opaque id. The id is not UUID-shaped, so
// redaction leaves it intact in logs and audit events.
func NewEncounterID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return encounterIDPrefix + hex.EncodeToString(b[:])
}

// Clone returns a deep copy of e.
func (e *Encounter) Clone() *Encounter {
	if e == nil {
		return nil
	}
	c := *e
	c.ClinicalData = cloneMap(e.ClinicalData)
	return &c
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
