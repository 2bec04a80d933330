package handler

import (
	"net/url"
	"strings"
	"time"

	"phigate/internal/encounter/models"
	dErrors "phigate/pkg/domain-errors"
	"phigate/pkg/platform/audit"
)

// maxClinicalDataKeys bounds the top level of the free-form clinical payload.
const maxClinicalDataKeys = 256

// CreateEncounterRequest is the body of POST /api/v1/encounters.
type CreateEncounterRequest struct {
	PatientID     string         `json:"patient_id"`
	ProviderID    string         `json:"provider_id"`
	EncounterDate time.Time      `json:"encounter_date"`
	EncounterType string         `json:"encounter_type"`
	ClinicalData  map[string]any `json:"clinical_data"`
}

// Normalize trims identifiers and folds the encounter type to lower case.
func (r *CreateEncounterRequest) Normalize() {
	if r == nil {
		return
	}
	r.PatientID = strings.TrimSpace(r.PatientID)
	r.ProviderID = strings.TrimSpace(r.ProviderID)
	r.EncounterType = strings.ToLower(strings.TrimSpace(r.EncounterType))
}

// Validate checks required fields. Messages name fields only, never values.
func (r *CreateEncounterRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if r.PatientID == "" {
		return dErrors.New(dErrors.CodeValidation, "patient_id is required")
	}
	if r.ProviderID == "" {
		return dErrors.New(dErrors.CodeValidation, "provider_id is required")
	}
	if r.EncounterDate.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "encounter_date is required")
	}
	if !models.Category(r.EncounterType).IsValid() {
		return dErrors.New(dErrors.CodeValidation, "encounter_type is invalid")
	}
	if len(r.ClinicalData) > maxClinicalDataKeys {
		return dErrors.New(dErrors.CodeValidation, "clinical_data has too many fields")
	}
	return nil
}

// ToInput converts the request to gateway input.
func (r *CreateEncounterRequest) ToInput() models.NewEncounterInput {
	return models.NewEncounterInput{
		PatientID:     r.PatientID,
		ProviderID:    r.ProviderID,
		EncounterDate: r.EncounterDate,
		Type:          models.Category(r.EncounterType),
		ClinicalData:  r.ClinicalData,
	}
}

// ParseEncounterFilter reads the optional read filters from a query string.
func ParseEncounterFilter(q url.Values) (models.Filter, error) {
	start, err := parseDate(q, "start_date")
	if err != nil {
		return models.Filter{}, err
	}
	end, err := parseDate(q, "end_date")
	if err != nil {
		return models.Filter{}, err
	}
	f := models.Filter{
		PatientID:  strings.TrimSpace(q.Get("patient_id")),
		ProviderID: strings.TrimSpace(q.Get("provider_id")),
		Type:       models.Category(strings.ToLower(strings.TrimSpace(q.Get("encounter_type")))),
		Start:      start,
		End:        end,
	}
	return f, f.Validate()
}

// ParseAuditFilter reads audit query filters. user_id is accepted as an
// alias of principal_id.
func ParseAuditFilter(q url.Values) (audit.Filter, error) {
	start, err := parseDate(q, "start_date")
	if err != nil {
		return audit.Filter{}, err
	}
	end, err := parseDate(q, "end_date")
	if err != nil {
		return audit.Filter{}, err
	}
	principal := strings.TrimSpace(q.Get("principal_id"))
	if principal == "" {
		principal = strings.TrimSpace(q.Get("user_id"))
	}
	f := audit.Filter{
		Start:       start,
		End:         end,
		PrincipalID: principal,
		ResourceID:  strings.TrimSpace(q.Get("resource_id")),
		EventType:   audit.EventType(strings.ToUpper(strings.TrimSpace(q.Get("event_type")))),
	}
	return f, f.Validate()
}

const dateOnly = "2006-01-02"

var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", dateOnly}

// parseDate accepts ISO-8601 timestamps or plain dates. Values without a
// zone are taken as UTC. A plain end_date covers the whole day.
func parseDate(q url.Values, key string) (time.Time, error) {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return time.Time{}, nil
	}
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, raw)
		if err != nil {
			continue
		}
		if layout == dateOnly && key == "end_date" {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		return t.UTC(), nil
	}
	return time.Time{}, dErrors.New(dErrors.CodeValidation, key+" must be an ISO-8601 date")
}
