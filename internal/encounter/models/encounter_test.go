package models

import (
	"regexp"
	"testing"
	"time"

	dErrors "phigate/pkg/domain-errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var encounterIDShape = regexp.MustCompile(`^enc_[0-9a-f]{32}$`)

func validInput() NewEncounterInput {
	return NewEncounterInput{
		PatientID:     " pat_1 ",
		ProviderID:    "prov_1",
		EncounterDate: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		Type:          CategoryInitialAssessment,
		ClinicalData:  map[string]any{"notes": map[string]any{"mood": "calm"}},
	}
}

func TestNewEncounter(t *testing.T) {
	now := time.Date(2024, 1, 15, 11, 0, 0, 0, time.UTC)

	t.Run("builds a record with an opaque id", func(t *testing.T) {
		in := validInput()
		e, err := NewEncounter(in, "u1", now)
		require.NoError(t, err)
		assert.Regexp(t, encounterIDShape, e.ID)
		assert.Equal(t, "pat_1", e.PatientID)
		assert.Equal(t, "u1", e.CreatedBy)
		assert.Equal(t, now, e.CreatedAt)

		in.ClinicalData["notes"].(map[string]any)["mood"] = "changed"
		assert.Equal(t, "calm", e.ClinicalData["notes"].(map[string]any)["mood"])
	})

	t.Run("ids do not repeat", func(t *testing.T) {
		seen := map[string]bool{}
		for i := 0; i < 100; i++ {
			id := NewEncounterID()
			assert.False(t, seen[id])
			seen[id] = true
		}
	})

	t.Run("missing clinical data becomes an empty map", func(t *testing.T) {
		in := validInput()
		in.ClinicalData = nil
		e, err := NewEncounter(in, "u1", now)
		require.NoError(t, err)
		assert.NotNil(t, e.ClinicalData)
	})

	invalid := map[string]func(*NewEncounterInput){
		"blank patient":  func(in *NewEncounterInput) { in.PatientID = "  " },
		"blank provider": func(in *NewEncounterInput) { in.ProviderID = "" },
		"no date":        func(in *NewEncounterInput) { in.EncounterDate = time.Time{} },
		"unknown type":   func(in *NewEncounterInput) { in.Type = "surgery" },
	}
	for name, mutate := range invalid {
		t.Run(name, func(t *testing.T) {
			in := validInput()
			mutate(&in)
			_, err := NewEncounter(in, "u1", now)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		})
	}
}

func TestEncounter_Clone(t *testing.T) {
	e, err := NewEncounter(validInput(), "u1", time.Now())
	require.NoError(t, err)

	c := e.Clone()
	c.ClinicalData["notes"].(map[string]any)["mood"] = "changed"
	assert.Equal(t, "calm", e.ClinicalData["notes"].(map[string]any)["mood"])
	assert.Nil(t, (*Encounter)(nil).Clone())
}

func TestFilter(t *testing.T) {
	e, err := NewEncounter(validInput(), "u1", time.Now())
	require.NoError(t, err)
	day := e.EncounterDate

	assert.True(t, Filter{}.IsEmpty())
	assert.True(t, Filter{}.Matches(e))
	assert.True(t, Filter{PatientID: "pat_1", Type: CategoryInitialAssessment}.Matches(e))
	assert.True(t, Filter{Start: day, End: day}.Matches(e), "bounds are inclusive")
	assert.False(t, Filter{ProviderID: "prov_2"}.Matches(e))
	assert.False(t, Filter{Start: day.Add(time.Second)}.Matches(e))
	assert.False(t, Filter{}.Matches(nil))

	err = Filter{Start: day, End: day.Add(-time.Hour)}.Validate()
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	assert.True(t, dErrors.HasCode(Filter{Type: "x"}.Validate(), dErrors.CodeValidation))
}
