package medication

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTimingBuckets(t *testing.T) {
	var tb TimingBuckets
	assert.True(t, tb.IsEmpty())

	tb.Set(SlotMorning, 1)
	tb.Set(SlotNight, 2)
	tb.Set(SlotEvening, -3)

	assert.Equal(t, 1, tb.Count(SlotMorning))
	assert.Equal(t, 0, tb.Count(SlotEvening))
	assert.Equal(t, 3, tb.Total())
	assert.Equal(t, []TimeSlot{SlotMorning, SlotNight}, tb.Populated())
	assert.Equal(t, 0, tb.Count(TimeSlot("noon")))
}

func TestClampConfidence(t *testing.T) {
	for _, c := range []float64{-1, 0, 0.3, 1, 1.7, math.Inf(1), math.Inf(-1), math.NaN()} {
		got := ClampConfidence(c)
		assert.GreaterOrEqual(t, got, 0.0)
		assert.LessOrEqual(t, got, 1.0)
	}
	assert.Equal(t, 0.42, ClampConfidence(0.42))
	assert.Equal(t, 0.95, RoundConfidence(0.3+0.2+0.2+0.15+0.1))
}

func TestMedicationRecord_FieldValue(t *testing.T) {
	r := MedicationRecord{
		Name:                "Amlodipine",
		Strength:            "5mg",
		FrequencyCode:       "OD",
		NormalizedFrequency: "once daily",
		Duration:            "30 days",
		FoodInstruction:     "Before breakfast",
		Form:                "tablet",
	}
	assert.Equal(t, "Amlodipine", r.FieldValue(FieldDrugName))
	assert.Equal(t, "once daily", r.FieldValue(FieldFrequency))
	assert.Equal(t, "tablet", r.FieldValue(FieldForm))
	assert.Equal(t, "", r.FieldValue(FieldImageQuality))
	assert.Equal(t, "Amlodipine 5mg", r.DisplayName())

	r.NormalizedFrequency = ""
	assert.Equal(t, "OD", r.FieldValue(FieldFrequency))
}

func TestMedicationRecord_MarkUncertain(t *testing.T) {
	var r MedicationRecord
	assert.Equal(t, 0.0, r.ConfidenceFor(FieldDrugName))

	r.MarkUncertain(FieldStrength)
	r.MarkUncertain(FieldStrength)

	assert.True(t, r.NeedsConfirmation)
	assert.Equal(t, []Field{FieldStrength}, r.UncertainFields)
	assert.True(t, r.HasUncertainField(FieldStrength))
	assert.False(t, r.HasUncertainField(FieldDrugName))
}

func TestMedicationPlan_ComputeOverallConfidence(t *testing.T) {
	p := MedicationPlan{}
	assert.Equal(t, 0.0, p.ComputeOverallConfidence())

	p.Medications = []MedicationRecord{{Confidence: 0.9}, {Confidence: 1.5}, {Confidence: 0.3}}
	got := p.ComputeOverallConfidence()
	assert.InDelta(t, (0.9+1.0+0.3)/3, got, 1e-9)
	assert.Equal(t, got, p.OverallConfidence)
}

func TestMedicationPlan_QuestionsFor(t *testing.T) {
	p := MedicationPlan{ClarificationQuestions: []ClarificationQuestion{
		{Field: FieldDrugName, MedicationIndex: 0},
		{Field: FieldStrength, MedicationIndex: 0},
		{Field: FieldStrength, MedicationIndex: 1},
		{Field: FieldImageQuality, MedicationIndex: -1},
	}}

	got := p.QuestionsFor(0, []Field{FieldStrength})
	assert.Len(t, got, 1)
	assert.Equal(t, FieldStrength, got[0].Field)
	assert.Empty(t, p.QuestionsFor(2, []Field{FieldStrength}))
	assert.NotNil(t, p.QuestionsFor(0, nil))
}

func TestUserPreferences_TimeFor(t *testing.T) {
	var nilPrefs *UserPreferences
	assert.Equal(t, "", nilPrefs.TimeFor(SlotMorning))

	u := &UserPreferences{MorningTime: "07:30", BedTime: "22:30"}
	assert.Equal(t, "07:30", u.TimeFor(SlotMorning))
	assert.Equal(t, "22:30", u.TimeFor(SlotNight))
	assert.Equal(t, "", u.TimeFor(SlotAfternoon))
}

func TestFieldEvidence_FirstToken(t *testing.T) {
	assert.True(t, FieldEvidence{}.FirstToken().BBox.IsZero())
	e := FieldEvidence{Tokens: []OCRToken{{Text: "5mg", BBox: BBox{X: 1}}}}
	assert.Equal(t, "5mg", e.FirstToken().Text)
}
