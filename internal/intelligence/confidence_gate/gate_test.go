package confidence_gate

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/MedPlan-Intelligence/internal/domain/medication"
)

func ptr(f float64) *float64 { return &f }

func record(name, strength, freq string, conf map[medication.Field]float64) medication.MedicationRecord {
	return medication.MedicationRecord{
		Name:                name,
		Strength:            strength,
		NormalizedFrequency: freq,
		FieldConfidence:     conf,
		Confidence:          0.8,
		SourceLine:          1,
	}
}

func trustedRecord() medication.MedicationRecord {
	return record("Amlodipine", "5mg", "once daily", map[medication.Field]float64{
		medication.FieldDrugName:  0.85,
		medication.FieldStrength:  0.9,
		medication.FieldFrequency: 0.9,
	})
}

func TestCheckImageQuality_BelowMinimumRejects(t *testing.T) {
	g := NewGate(DefaultGateConfig(), nil)
	res := g.Evaluate([]medication.MedicationRecord{
		record("", "", "", nil),
	}, ptr(0.40))

	assert.False(t, res.Passed)
	assert.Equal(t, ReasonImageQuality, res.Reason)
	require.Len(t, res.Questions, 1)
	assert.Equal(t, medication.FieldImageQuality, res.Questions[0].Field)
	assert.Equal(t, -1, res.Questions[0].MedicationIndex)
	assert.True(t, res.NeedsConfirmation)
	assert.Nil(t, res.Records)
}

func TestCheckImageQuality_WarningBand(t *testing.T) {
	g := NewGate(DefaultGateConfig(), nil)

	res := g.CheckImageQuality(0.58)
	assert.True(t, res.Passed)
	assert.Empty(t, res.Questions)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "0.58")

	res = g.CheckImageQuality(0.50)
	assert.True(t, res.Passed)
	assert.Len(t, res.Warnings, 1)

	res = g.CheckImageQuality(0.65)
	assert.True(t, res.Passed)
	assert.Empty(t, res.Warnings)
}

func TestEvaluate_NoOCRSkipsGlobalGate(t *testing.T) {
	g := NewGate(DefaultGateConfig(), nil)
	res := g.Evaluate([]medication.MedicationRecord{trustedRecord()}, nil)
	assert.True(t, res.Passed)
	assert.False(t, res.NeedsConfirmation)
	assert.Empty(t, res.Questions)
	assert.Empty(t, res.Warnings)
}

func TestStatus(t *testing.T) {
	g := NewGate(DefaultGateConfig(), nil)
	assert.Equal(t, StatusTrusted, g.Status(medication.FieldDrugName, "Aspirin", 0.70))
	assert.Equal(t, StatusUncertain, g.Status(medication.FieldDrugName, "Aspirin", 0.69))
	assert.Equal(t, StatusMissing, g.Status(medication.FieldDrugName, "Aspirin", 0.29))
	assert.Equal(t, StatusMissing, g.Status(medication.FieldDrugName, "  ", 0.99))
	assert.Equal(t, StatusTrusted, g.Status(medication.FieldFoodInstruction, "after food", 0.55))
	assert.Equal(t, StatusUncertain, g.Status(medication.Field("route"), "oral", 0.6))
}

func TestEvaluate_NameAndStrengthAskWhenUncertain(t *testing.T) {
	g := NewGate(DefaultGateConfig(), nil)
	rec := record("Amlodipne", "5mg", "once daily", map[medication.Field]float64{
		medication.FieldDrugName:  0.6,
		medication.FieldStrength:  0.7,
		medication.FieldFrequency: 0.9,
	})

	res := g.Evaluate([]medication.MedicationRecord{rec}, nil)
	require.Len(t, res.Questions, 2)
	assert.Equal(t, medication.FieldDrugName, res.Questions[0].Field)
	assert.Equal(t, "Amlodipne", res.Questions[0].DetectedValue)
	assert.Equal(t, []string{"Amlodipne"}, res.Questions[0].Suggestions)
	assert.Equal(t, medication.FieldStrength, res.Questions[1].Field)
	assert.Equal(t, 0, res.Questions[1].MedicationIndex)
	assert.True(t, res.NeedsConfirmation)

	out := res.Records[0]
	assert.True(t, out.NeedsConfirmation)
	assert.Equal(t, []medication.Field{medication.FieldDrugName, medication.FieldStrength}, out.UncertainFields)
}

func TestEvaluate_FrequencyOnlyWhenMissing(t *testing.T) {
	g := NewGate(DefaultGateConfig(), nil)

	lowFreq := trustedRecord()
	lowFreq.FieldConfidence[medication.FieldFrequency] = 0.4
	res := g.Evaluate([]medication.MedicationRecord{lowFreq}, nil)
	assert.Empty(t, res.Questions)

	noFreq := trustedRecord()
	noFreq.NormalizedFrequency = ""
	delete(noFreq.FieldConfidence, medication.FieldFrequency)
	res = g.Evaluate([]medication.MedicationRecord{noFreq}, nil)
	require.Len(t, res.Questions, 1)
	q := res.Questions[0]
	assert.Equal(t, medication.FieldFrequency, q.Field)
	assert.Len(t, q.Suggestions, 4)
	assert.Contains(t, q.Question, "Amlodipine")
}

func TestEvaluate_DurationDisabledByDefault(t *testing.T) {
	rec := trustedRecord()

	res := NewGate(DefaultGateConfig(), nil).Evaluate([]medication.MedicationRecord{rec}, nil)
	assert.Empty(t, res.Questions)

	cfg := DefaultGateConfig()
	cfg.AskDuration = true
	res = NewGate(cfg, nil).Evaluate([]medication.MedicationRecord{rec}, nil)
	require.Len(t, res.Questions, 1)
	assert.Equal(t, medication.FieldDuration, res.Questions[0].Field)
	assert.Contains(t, res.Questions[0].Suggestions, medication.DurationAsDirected)
}

func TestEvaluate_OtherFieldsUseNeedsConfirmationThreshold(t *testing.T) {
	rec := trustedRecord()
	rec.FoodInstruction = "after food"
	rec.Form = "tablet"
	rec.FieldConfidence[medication.FieldFoodInstruction] = 0.6
	rec.FieldConfidence[medication.FieldForm] = 0.9

	res := NewGate(DefaultGateConfig(), nil).Evaluate([]medication.MedicationRecord{rec}, nil)
	require.Len(t, res.Questions, 1)
	q := res.Questions[0]
	assert.Equal(t, medication.FieldFoodInstruction, q.Field)
	assert.Equal(t, "after food", q.DetectedValue)
	assert.InDelta(t, 0.6, q.Confidence, 1e-9)
	assert.GreaterOrEqual(t, len(q.Suggestions), 1)
	assert.LessOrEqual(t, len(q.Suggestions), 4)
}

func TestEvaluate_MissingNameAndStrength(t *testing.T) {
	rec := record("", "", "once daily", map[medication.Field]float64{medication.FieldFrequency: 0.9})
	rec.SourceLine = 3

	res := NewGate(DefaultGateConfig(), nil).Evaluate([]medication.MedicationRecord{rec}, nil)
	require.Len(t, res.Questions, 2)
	assert.Contains(t, res.Questions[0].Question, "line 3")
	assert.Equal(t, []string{"Not written on the prescription"}, res.Questions[1].Suggestions)
}

func TestEvaluate_NoMedications(t *testing.T) {
	res := NewGate(DefaultGateConfig(), nil).Evaluate(nil, ptr(0.9))
	assert.False(t, res.Passed)
	assert.Equal(t, ReasonNoMedications, res.Reason)
	require.Len(t, res.Questions, 1)
	assert.Equal(t, medication.FieldDrugName, res.Questions[0].Field)
	assert.Equal(t, -1, res.Questions[0].MedicationIndex)
}

func TestEvaluate_DoesNotMutateInput(t *testing.T) {
	rec := record("Amlodipne", "5mg", "once daily", map[medication.Field]float64{
		medication.FieldDrugName:  0.5,
		medication.FieldStrength:  0.9,
		medication.FieldFrequency: 0.9,
	})
	in := []medication.MedicationRecord{rec}

	res := NewGate(DefaultGateConfig(), nil).Evaluate(in, nil)
	assert.True(t, res.Records[0].NeedsConfirmation)
	assert.False(t, in[0].NeedsConfirmation)
	assert.Empty(t, in[0].UncertainFields)
}

func TestEvaluate_Deterministic(t *testing.T) {
	rec := trustedRecord()
	rec.FieldConfidence[medication.FieldForm] = 0.2
	rec.FieldConfidence[medication.FieldFoodInstruction] = 0.1
	g := NewGate(DefaultGateConfig(), nil)

	a := g.Evaluate([]medication.MedicationRecord{rec}, nil)
	b := g.Evaluate([]medication.MedicationRecord{rec}, nil)
	assert.Equal(t, a.Questions, b.Questions)
	require.Len(t, a.Questions, 2)
	assert.Equal(t, medication.FieldFoodInstruction, a.Questions[0].Field)
	assert.Equal(t, medication.FieldForm, a.Questions[1].Field)
}

func TestEvaluate_OverallConfidenceClamped(t *testing.T) {
	g := NewGate(DefaultGateConfig(), nil)
	for _, c := range []float64{-3, 0, 0.42, 1, 7, math.NaN(), math.Inf(1)} {
		rec := trustedRecord()
		rec.Confidence = c
		res := g.Evaluate([]medication.MedicationRecord{rec, trustedRecord()}, nil)
		assert.GreaterOrEqual(t, res.OverallConfidence, 0.0)
		assert.LessOrEqual(t, res.OverallConfidence, 1.0)
	}
	for _, c := range []float64{-1, math.NaN(), 2} {
		res := g.CheckImageQuality(c)
		for _, q := range res.Questions {
			assert.GreaterOrEqual(t, q.Confidence, 0.0)
			assert.LessOrEqual(t, q.Confidence, 1.0)
		}
	}
}

func TestApplyToPlan(t *testing.T) {
	rec := trustedRecord()
	rec.Strength = ""
	delete(rec.FieldConfidence, medication.FieldStrength)
	plan := &medication.MedicationPlan{Medications: []medication.MedicationRecord{rec, trustedRecord()}}

	res := NewGate(DefaultGateConfig(), nil).ApplyToPlan(plan, ptr(0.6))
	assert.True(t, res.Passed)
	assert.True(t, plan.NeedsConfirmation)
	require.Len(t, plan.ClarificationQuestions, 1)
	assert.Equal(t, medication.FieldStrength, plan.ClarificationQuestions[0].Field)
	assert.True(t, plan.Medications[0].HasUncertainField(medication.FieldStrength))
	assert.False(t, plan.Medications[1].NeedsConfirmation)
	assert.InDelta(t, 0.8, plan.OverallConfidence, 1e-9)
	assert.Len(t, res.Warnings, 1)
}

func TestApplyToPlan_IgnoresStaleConfirmationFlag(t *testing.T) {
	plan := &medication.MedicationPlan{
		Medications:       []medication.MedicationRecord{trustedRecord()},
		NeedsConfirmation: true,
	}
	NewGate(DefaultGateConfig(), nil).ApplyToPlan(plan, nil)
	assert.Empty(t, plan.ClarificationQuestions)
	assert.False(t, plan.NeedsConfirmation)
}

func TestApplyToPlan_DropsDuplicateQuestions(t *testing.T) {
	rec := trustedRecord()
	rec.Strength = ""
	delete(rec.FieldConfidence, medication.FieldStrength)
	plan := &medication.MedicationPlan{
		Medications: []medication.MedicationRecord{rec},
		ClarificationQuestions: []medication.ClarificationQuestion{
			{Field: medication.FieldStrength, Question: "Is it 5mg?", MedicationIndex: 0},
		},
	}
	NewGate(DefaultGateConfig(), nil).ApplyToPlan(plan, nil)
	require.Len(t, plan.ClarificationQuestions, 1)
	assert.Equal(t, "Is it 5mg?", plan.ClarificationQuestions[0].Question)
	assert.True(t, plan.NeedsConfirmation)
}

func TestThresholdsFor(t *testing.T) {
	th := DefaultThresholds()
	assert.Equal(t, 0.70, th.For(medication.FieldDrugName))
	assert.Equal(t, 0.75, th.For(medication.FieldStrength))
	assert.Equal(t, 0.65, th.For(medication.FieldFrequency))
	assert.Equal(t, 0.60, th.For(medication.FieldDuration))
	assert.Equal(t, 0.55, th.For(medication.FieldFoodInstruction))
	assert.Equal(t, 0.65, th.For(medication.FieldForm))
}
