package llm_parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/MedPlan-Intelligence/internal/domain/medication"
	"github.com/turtacn/MedPlan-Intelligence/internal/intelligence/confidence_gate"
	"github.com/turtacn/MedPlan-Intelligence/pkg/errors"
)

func TestExtractJSONObject(t *testing.T) {
	cases := map[string]string{
		"plain":        `{"a":1}`,
		"fenced":       "```json\n{\"a\":1}\n```",
		"bare fence":   "```\n{\"a\":1}\n```",
		"prose around": "Here is the plan:\n{\"a\":1}\nLet me know!",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			out, err := ExtractJSONObject(in)
			require.NoError(t, err)
			assert.Equal(t, `{"a":1}`, out)
		})
	}

	_, err := ExtractJSONObject("I cannot help with that.")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeOracleOutput))
}

func TestDecodePlan_FullShape(t *testing.T) {
	raw := `{
	  "medications": [{
	    "name": "Amlodipine", "strength": "5mg", "form": "Tablet",
	    "dose_pattern": "1-0-0", "duration": "30 days", "food_instruction": "before breakfast",
	    "confidence": 0.92,
	    "field_confidence": {"drug_name": 0.95, "strength": 0.5}
	  }],
	  "extracted_language": "EN",
	  "needs_confirmation": false,
	  "clarification_questions": []
	}`
	plan, err := DecodePlan(raw, "")
	require.NoError(t, err)
	require.Len(t, plan.Medications, 1)

	m := plan.Medications[0]
	assert.Equal(t, "Amlodipine", m.Name)
	assert.Equal(t, "tablet", m.Form)
	assert.Equal(t, medication.TimingBuckets{Morning: 1}, m.Timing)
	assert.Equal(t, "once daily", m.NormalizedFrequency)
	assert.InDelta(t, 0.92, m.Confidence, 1e-9)
	assert.InDelta(t, 0.95, m.ConfidenceFor(medication.FieldDrugName), 1e-9)
	assert.InDelta(t, 0.5, m.ConfidenceFor(medication.FieldStrength), 1e-9)
	assert.InDelta(t, 0.92, m.ConfidenceFor(medication.FieldDuration), 1e-9)
	assert.Equal(t, RuleLLM, m.Evidence[medication.FieldDrugName].RuleID)

	assert.Equal(t, "en", plan.ExtractedLanguage)
	assert.Equal(t, medication.SourceLLM, plan.Source)
	assert.False(t, plan.NeedsConfirmation)
	assert.InDelta(t, 0.92, plan.OverallConfidence, 1e-9)
}

func TestDecodePlan_DefaultsAndDrift(t *testing.T) {
	raw := "```json\n" + `{
	  "Medications": [
	    {"Drug Name": "Metformin", "Dosage": 500, "Frequency": "bd", "Confidence": "85%"},
	    {"medicine": "Paracetamol", "timing": ["morning", "bedtime"]},
	    {"name": "Cetirizine", "timing": "0-0-1", "duration": null},
	    null
	  ]
	}` + "\n```"
	plan, err := DecodePlan(raw, "HI")
	require.NoError(t, err)
	require.Len(t, plan.Medications, 3)

	met := plan.Medications[0]
	assert.Equal(t, "Metformin", met.Name)
	assert.Equal(t, "500", met.Strength)
	assert.Equal(t, "BD", met.FrequencyCode)
	assert.Equal(t, "twice daily", met.NormalizedFrequency)
	assert.Equal(t, medication.TimingBuckets{Morning: 1, Evening: 1}, met.Timing)
	assert.InDelta(t, 0.85, met.Confidence, 1e-9)
	assert.Equal(t, medication.DurationAsDirected, met.Duration)

	para := plan.Medications[1]
	assert.Equal(t, medication.TimingBuckets{Morning: 1, Night: 1}, para.Timing)
	assert.InDelta(t, DefaultRecordConfidence, para.Confidence, 1e-9)
	assert.Equal(t, "twice daily", para.NormalizedFrequency)

	cet := plan.Medications[2]
	assert.Equal(t, medication.TimingBuckets{Evening: 1}, cet.Timing)

	assert.Equal(t, "hi", plan.ExtractedLanguage)
	assert.NotNil(t, plan.ClarificationQuestions)
}

func TestDecodePlan_TimingObjectNeverNegative(t *testing.T) {
	plan, err := DecodePlan(`{"medications":[{"name":"X","timing":{"Morning":-2,"night":"1"}}]}`, "")
	require.NoError(t, err)
	tb := plan.Medications[0].Timing
	assert.Equal(t, 0, tb.Morning)
	assert.Equal(t, 1, tb.Night)
}

func TestDecodePlan_ConfidenceClamped(t *testing.T) {
	plan, err := DecodePlan(`{"medications":[{"name":"X","confidence":7,"field_confidence":{"drug_name":-1}}]}`, "")
	require.NoError(t, err)
	m := plan.Medications[0]
	assert.Equal(t, 1.0, m.Confidence)
	assert.Equal(t, 0.0, m.ConfidenceFor(medication.FieldDrugName))
}

func TestDecodePlan_Questions(t *testing.T) {
	raw := `{"medications":[{"name":"Amlodipne"}],
	  "needs_confirmation": "no",
	  "clarification_questions":[
	    {"field":"Drug_Name","question":"Is it Amlodipine?","detected_value":"Amlodipne","medication_index":0,
	     "suggestions":["Amlodipine","Amlodipne","a","b","c"]},
	    {"field":"strength","question":"What strength?","medication_index":9},
	    {"field":"x"}
	  ]}`
	plan, err := DecodePlan(raw, "")
	require.NoError(t, err)
	assert.True(t, plan.NeedsConfirmation)
	require.Len(t, plan.ClarificationQuestions, 2)

	q := plan.ClarificationQuestions[0]
	assert.Equal(t, medication.FieldDrugName, q.Field)
	assert.Equal(t, 0, q.MedicationIndex)
	assert.Len(t, q.Suggestions, 4)

	q = plan.ClarificationQuestions[1]
	assert.Equal(t, -1, q.MedicationIndex)
	assert.NotNil(t, q.Suggestions)
}

func TestDecodePlan_Errors(t *testing.T) {
	for name, raw := range map[string]string{
		"not json":            "sorry",
		"truncated":           `{"medications":[{"name":"X"}`,
		"missing medications": `{"extracted_language":"en"}`,
		"wrong type":          `{"medications":"Amlodipine"}`,
	} {
		t.Run(name, func(t *testing.T) {
			plan, err := DecodePlan(raw, "")
			require.Error(t, err)
			assert.Nil(t, plan)
			assert.True(t, errors.IsCode(err, errors.ErrCodeOracleOutput))
		})
	}
}

func TestDecodePlan_EmptyMedications(t *testing.T) {
	plan, err := DecodePlan(`{"medications":null}`, "")
	require.Error(t, err)
	assert.Nil(t, plan)

	plan, err = DecodePlan(`{"medications":[]}`, "")
	require.NoError(t, err)
	assert.Empty(t, plan.Medications)
	assert.Equal(t, 0.0, plan.OverallConfidence)
}

func TestDecodePlan_NeedsConfirmationFollowsQuestions(t *testing.T) {
	raw := `{"medications":[{"name":"Amlodipine","strength":"5mg","confidence":0.95}],
	  "needs_confirmation": true, "clarification_questions": []}`
	plan, err := DecodePlan(raw, "")
	require.NoError(t, err)
	assert.Empty(t, plan.ClarificationQuestions)
	assert.False(t, plan.NeedsConfirmation)
}

func TestDecodePlan_UnscoredOutputIsConfirmed(t *testing.T) {
	raw := `{"medications": [{"name": "Amlodipine", "strength": "5mg", "frequency": "OD"}]}`
	plan, err := DecodePlan(raw, "")
	require.NoError(t, err)

	m := plan.Medications[0]
	assert.InDelta(t, DefaultRecordConfidence, m.ConfidenceFor(medication.FieldDrugName), 1e-9)
	assert.InDelta(t, DefaultRecordConfidence, m.ConfidenceFor(medication.FieldStrength), 1e-9)

	confidence_gate.NewGate(confidence_gate.DefaultGateConfig(), nil).ApplyToPlan(plan, nil)
	assert.True(t, plan.NeedsConfirmation)
	assert.True(t, plan.Medications[0].HasUncertainField(medication.FieldDrugName))
	assert.True(t, plan.Medications[0].HasUncertainField(medication.FieldStrength))
}
