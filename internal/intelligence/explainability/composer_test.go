package explainability

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/MedPlan-Intelligence/internal/domain/medication"
)

func amlodipine() medication.MedicationRecord {
	return medication.MedicationRecord{
		Name:                "Amlodipine",
		Strength:            "5mg",
		DosePattern:         "1-0-0",
		NormalizedFrequency: "once daily",
		Timing:              medication.TimingBuckets{Morning: 1},
		Duration:            "30 days",
		FoodInstruction:     "Before breakfast",
		Confidence:          0.9,
		FieldConfidence: map[medication.Field]float64{
			medication.FieldDrugName:  0.85,
			medication.FieldStrength:  0.9,
			medication.FieldFrequency: 0.9,
		},
		Evidence: map[medication.Field]medication.FieldEvidence{
			medication.FieldDrugName: {
				Value: "Amlodipine", Confidence: 0.85, RuleID: "rx.name.form_prefix",
				Tokens: []medication.OCRToken{{Text: "Amlodipine", Confidence: 0.9, BBox: medication.BBox{X: 40, Y: 10, Width: 80, Height: 12}}},
			},
			medication.FieldStrength: {Value: "5mg", Confidence: 0.9, RuleID: "rx.strength.unit"},
		},
	}
}

func TestCompose_WhatWasDetected(t *testing.T) {
	rec := amlodipine()
	card := NewComposer(nil).Compose(0, &rec, nil)

	require.NotNil(t, card.WhatWasDetected.Name.Value)
	assert.Equal(t, "Amlodipine", *card.WhatWasDetected.Name.Value)
	require.NotNil(t, card.WhatWasDetected.Name.Confidence)
	assert.InDelta(t, 0.85, *card.WhatWasDetected.Name.Confidence, 1e-9)
	assert.Equal(t, "once daily", *card.WhatWasDetected.Frequency.Value)
	assert.NotNil(t, card.WhatWasDetected.Duration.Value)
	assert.Nil(t, card.WhatWasDetected.Duration.Confidence)
}

func TestCompose_NullSafeOnEmptyRecord(t *testing.T) {
	c := NewComposer(nil)
	assert.NotPanics(t, func() {
		card := c.Compose(0, &medication.MedicationRecord{}, nil)
		assert.Nil(t, card.WhatWasDetected.Name.Value)
		assert.Nil(t, card.WhatWasDetected.Strength.Value)
		assert.Empty(t, card.Evidence.Items)
		assert.Equal(t, "", card.Evidence.OriginalTextSnippet)

		b, err := json.Marshal(card)
		require.NoError(t, err)
		assert.Contains(t, string(b), `"name":{"value":null,"confidence":null}`)
	})
	assert.NotPanics(t, func() { c.Compose(0, nil, nil) })
}

func TestCompose_Evidence(t *testing.T) {
	rec := amlodipine()
	card := NewComposer(nil).Compose(0, &rec, nil)

	require.Len(t, card.Evidence.Items, 3)
	name := card.Evidence.Items[0]
	assert.Equal(t, medication.FieldDrugName, name.Field)
	assert.Equal(t, "Amlodipine", name.TokenText)
	assert.Equal(t, 40.0, name.BBox.X)
	assert.Equal(t, "rx.name.form_prefix", name.RuleID)

	strength := card.Evidence.Items[1]
	assert.True(t, strength.BBox.IsZero())
	assert.Equal(t, "5mg", strength.TokenText)
	assert.Equal(t, "rx.strength.unit", strength.RuleID)

	freq := card.Evidence.Items[2]
	assert.Equal(t, "once daily", freq.Value)
	assert.True(t, freq.BBox.IsZero())
	assert.Empty(t, freq.RuleID)

	assert.Equal(t, "Amlodipine 5mg 1-0-0", card.Evidence.OriginalTextSnippet)
}

func TestCompose_WhyThisPlan(t *testing.T) {
	rec := amlodipine()
	why := NewComposer(nil).Compose(0, &rec, nil).WhyThisPlan
	assert.Equal(t, "Take 1 dose in the morning (1 dose a day).", why.Schedule)
	assert.Contains(t, why.TimingRationale, "before food")
	assert.Contains(t, why.CourseCompletion, "30 days")
}

func TestScheduleText(t *testing.T) {
	assert.Equal(t, "Take 1 dose in the morning, 1 dose in the evening and 2 doses at night (4 doses a day).",
		ScheduleText(medication.TimingBuckets{Morning: 1, Evening: 1, Night: 2}, ""))
	assert.Contains(t, ScheduleText(medication.TimingBuckets{}, "every 8 hours"), "every 8 hours")
	assert.Contains(t, ScheduleText(medication.TimingBuckets{}, ""), "No fixed schedule")
}

func TestTimingRationale(t *testing.T) {
	assert.Contains(t, TimingRationale("on empty stomach"), "empty stomach")
	assert.Contains(t, TimingRationale("After meals"), "after food")
	assert.Contains(t, TimingRationale("with food"), "with food")
	assert.Contains(t, TimingRationale(""), "No food instruction")
}

func TestCourseCompletionText(t *testing.T) {
	assert.Contains(t, CourseCompletionText(""), "as long as your doctor")
	assert.Contains(t, CourseCompletionText("As Directed"), "as long as your doctor")
	assert.Contains(t, CourseCompletionText("5 days"), "full 5 days course")
}

func TestCompose_DrugDetailsMiss(t *testing.T) {
	rec := amlodipine()
	card := NewComposer(nil).Compose(0, &rec, nil)
	d := card.DrugDetails
	assert.False(t, d.Available)
	assert.Equal(t, NotAvailable, d.Indications)
	assert.Equal(t, NotAvailable, d.Mechanism)
	assert.Equal(t, NotAvailable, d.SideEffects)
	assert.Equal(t, NotAvailable, d.Precautions)
	assert.Empty(t, d.Source)

	b, err := json.Marshal(card)
	require.NoError(t, err)
	assert.Contains(t, string(b), "Information not available")

	card = NewComposer(nil).Compose(0, &rec, &medication.DrugInfo{Name: "Amlodipine"})
	assert.False(t, card.DrugDetails.Available)
}

func TestCompose_DrugDetailsHit(t *testing.T) {
	rec := amlodipine()
	info := &medication.DrugInfo{
		Name:        "Amlodipine",
		Indications: []string{"High blood pressure", "Angina"},
		Mechanism:   "Calcium channel blocker",
		SideEffects: []string{"Ankle swelling", "Flushing"},
		Source:      "MedPlan reference set",
	}
	d := NewComposer(nil).Compose(0, &rec, info).DrugDetails
	assert.True(t, d.Available)
	assert.Equal(t, "High blood pressure, Angina", d.Indications)
	assert.Equal(t, "Ankle swelling, Flushing", d.SideEffects)
	assert.Equal(t, NotAvailable, d.Precautions)
	assert.Equal(t, "MedPlan reference set", d.Source)
}

func TestComposeAll_AttachesQuestions(t *testing.T) {
	first := amlodipine()
	first.NeedsConfirmation = true
	first.UncertainFields = []medication.Field{medication.FieldStrength}
	second := amlodipine()
	second.Name = "Metformin"

	plan := &medication.MedicationPlan{
		Medications: []medication.MedicationRecord{first, second},
		ClarificationQuestions: []medication.ClarificationQuestion{
			{Field: medication.FieldStrength, MedicationIndex: 0, Question: "strength?"},
			{Field: medication.FieldDrugName, MedicationIndex: 0, Question: "name?"},
			{Field: medication.FieldStrength, MedicationIndex: 1, Question: "other strength?"},
		},
	}

	cards := NewComposer(nil).ComposeAll(plan, []*medication.DrugInfo{nil})
	require.Len(t, cards, 2)
	assert.True(t, cards[0].Uncertainty.NeedsConfirmation)
	require.Len(t, cards[0].Uncertainty.ConfirmationQuestions, 1)
	assert.Equal(t, "strength?", cards[0].Uncertainty.ConfirmationQuestions[0].Question)
	assert.Empty(t, cards[1].Uncertainty.ConfirmationQuestions)
	assert.NotNil(t, cards[1].Uncertainty.ConfirmationQuestions)
	assert.Equal(t, "Metformin", cards[1].MedicationName)
	assert.False(t, cards[1].DrugDetails.Available)
}

func TestComposeAll_Deterministic(t *testing.T) {
	rec := amlodipine()
	plan := &medication.MedicationPlan{Medications: []medication.MedicationRecord{rec}}
	c := NewComposer(nil)
	a, _ := json.Marshal(c.ComposeAll(plan, nil))
	b, _ := json.Marshal(c.ComposeAll(plan, nil))
	assert.Equal(t, string(a), string(b))
	assert.Empty(t, c.ComposeAll(nil, nil))
}
