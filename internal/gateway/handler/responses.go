package handler

import (
	"net/http"
	"strconv"
	"time"

	"phigate/internal/encounter/models"
	"phigate/internal/gateway"
	"phigate/pkg/platform/audit"
)

// Response headers describing the audit event of a call.
const (
	HeaderAuditEventID  = "X-Audit-Event-ID"
	HeaderAuditDegraded = "X-Audit-Degraded"
)

// EncounterResponse is the wire shape of an encounter.
type EncounterResponse struct {
	EncounterID   string         `json:"encounter_id"`
	PatientID     string         `json:"patient_id"`
	ProviderID    string         `json:"provider_id"`
	EncounterDate time.Time      `json:"encounter_date"`
	EncounterType string         `json:"encounter_type"`
	ClinicalData  map[string]any `json:"clinical_data"`
	CreatedAt     time.Time      `json:"created_at"`
	CreatedBy     string         `json:"created_by"`
}

func toEncounterResponse(e *models.Encounter) EncounterResponse {
	return EncounterResponse{
		EncounterID:   e.ID,
		PatientID:     e.PatientID,
		ProviderID:    e.ProviderID,
		EncounterDate: e.EncounterDate,
		EncounterType: string(e.Type),
		ClinicalData:  e.ClinicalData,
		CreatedAt:     e.CreatedAt,
		CreatedBy:     e.CreatedBy,
	}
}

func toAuditRecords(events []audit.Event) []audit.Record {
	out := make([]audit.Record, len(events))
	for i, e := range events {
		out[i] = e.Export()
	}
	return out
}

func setAuditHeaders(w http.ResponseWriter, out gateway.AuditOutcome) {
	if out.AuditEventID != "" {
		w.Header().Set(HeaderAuditEventID, out.AuditEventID)
	}
	w.Header().Set(HeaderAuditDegraded, strconv.FormatBool(out.AuditDegraded))
}
