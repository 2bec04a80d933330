package redact

import (
	"regexp"
	"strings"
)

// RuleKind classifies how a rule matches PHI.
type RuleKind string

const (
	// KindPattern rules match substrings of free text.
	KindPattern RuleKind = "pattern"
	// KindFieldName rules match mapping keys that are known to carry PHI.
	KindFieldName RuleKind = "field_name"
	// KindStructural rules cover values that cannot be inspected as text.
	KindStructural RuleKind = "structural"
)

// Placeholders are fixed per rule. None of them can match any pattern rule,
// which is what keeps sanitizing idempotent.
const (
	PlaceholderUUID   = "[UUID_REDACTED]"
	PlaceholderEmail  = "[EMAIL_REDACTED]"
	PlaceholderSSN    = "[SSN_REDACTED]"
	PlaceholderPhone  = "[PHONE_REDACTED]"
	PlaceholderID     = "[ID_REDACTED]"
	PlaceholderField  = "[PHI_REDACTED]"
	PlaceholderFailed = "[REDACTION_FAILED]"
)

// Rule is a named matcher with its replacement token.
type Rule struct {
	Name        string
	Kind        RuleKind
	Pattern     *regexp.Regexp
	Fields      []string
	Replacement string
}

// patternRules run in order. UUIDs go first so that digit groups inside an
// approved identifier are never picked up by the numeric rules.
var patternRules = []Rule{
	{
		Name:        "uuid",
		Kind:        KindPattern,
		Pattern:     regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`),
		Replacement: PlaceholderUUID,
	},
	{
		Name:        "email",
		Kind:        KindPattern,
		Pattern:     regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
		Replacement: PlaceholderEmail,
	},
	{
		Name:        "ssn",
		Kind:        KindPattern,
		Pattern:     regexp.MustCompile(`\b\d{3}[-.]\d{2}[-.]\d{4}\b`),
		Replacement: PlaceholderSSN,
	},
	{
		Name:        "phone",
		Kind:        KindPattern,
		Pattern:     regexp.MustCompile(`(?:\b\d{3}-|\(\d{3}\)\s?)\d{3}-\d{4}\b`),
		Replacement: PlaceholderPhone,
	},
	{
		Name:        "id_number",
		Kind:        KindPattern,
		Pattern:     regexp.MustCompile(`\b\d{10}\b`),
		Replacement: PlaceholderID,
	},
}

// FieldSetVersion identifies the revision of phiFieldNames. Bump it when
// names are added so operators can tell which set produced stored output.
const FieldSetVersion = 2

// phiFieldNames lists mapping keys whose values are always PHI. Adding a name
// here is the only change needed to start redacting a new field.
var phiFieldNames = []string{
	"patient_id",
	"patient_name",
	"patient_email",
	"patient_phone",
	"subject_id",
	"ssn",
	"social_security_number",
	"date_of_birth",
	"dob",
	"address",
	"medical_record_number",
	"mrn",
}

var phiFields = func() map[string]struct{} {
	set := make(map[string]struct{}, len(phiFieldNames))
	for _, name := range phiFieldNames {
		set[normalizeFieldName(name)] = struct{}{}
	}
	return set
}()

// normalizeFieldName folds case and drops separators so that patient_id,
// patientId and Patient-ID are the same member.
func normalizeFieldName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(name) {
		if r == '_' || r == '-' || r == ' ' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// IsPHIField reports whether a mapping key belongs to the PHI field set.
func IsPHIField(name string) bool {
	_, ok := phiFields[normalizeFieldName(name)]
	return ok
}

// Rules returns the process-wide rule set in application order.
func Rules() []Rule {
	rules := make([]Rule, 0, len(patternRules)+2)
	rules = append(rules, patternRules...)
	rules = append(rules,
		Rule{
			Name:        "phi_field",
			Kind:        KindFieldName,
			Fields:      append([]string(nil), phiFieldNames...),
			Replacement: PlaceholderField,
		},
		Rule{
			Name:        "unserializable",
			Kind:        KindStructural,
			Replacement: PlaceholderFailed,
		},
	)
	return rules
}
