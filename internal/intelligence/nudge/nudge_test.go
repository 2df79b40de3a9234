package nudge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/MedPlan-Intelligence/internal/domain/medication"
)

func med(name string, timing medication.TimingBuckets) medication.MedicationRecord {
	return medication.MedicationRecord{Name: name, Strength: "5mg", Timing: timing}
}

func countCategory(ns []Nudge, c Category) int {
	n := 0
	for _, x := range ns {
		if x.Category == c {
			n++
		}
	}
	return n
}

func TestGenerate_MorningAndNight(t *testing.T) {
	g := NewGenerator(DefaultGeneratorConfig(), nil)
	out := g.Generate([]medication.MedicationRecord{
		med("Atorvastatin", medication.TimingBuckets{Morning: 1, Night: 1}),
	}, nil)

	assert.GreaterOrEqual(t, countCategory(out, CategoryImplementationIntention), 2)
	assert.LessOrEqual(t, len(out), MaxNudges)
	assert.Equal(t, "At breakfast, take your Atorvastatin 5mg.", out[0].Message)
	assert.Equal(t, "At bedtime, take your Atorvastatin 5mg.", out[1].Message)
	assert.Equal(t, "morning", out[0].TimingTag)
	assert.Equal(t, "timing.night", out[1].Evidence)
}

func TestGenerate_NeverExceedsFive(t *testing.T) {
	meds := make([]medication.MedicationRecord, 0, 10)
	for i := 0; i < 10; i++ {
		m := med("Drug", medication.TimingBuckets{Morning: 1, Afternoon: 1, Evening: 1, Night: 1})
		m.Duration = "7 days"
		meds = append(meds, m)
	}
	out := NewGenerator(DefaultGeneratorConfig(), nil).Generate(meds, &medication.UserPreferences{AdherenceStreakDays: 3})
	assert.Len(t, out, 5)
	for _, n := range out {
		assert.Equal(t, PriorityImplementationIntention, n.Priority)
	}

	out = NewGenerator(GeneratorConfig{MaxNudges: 50}, nil).Generate(meds, nil)
	assert.Len(t, out, 5)
}

func TestGenerate_ConfiguredLimit(t *testing.T) {
	out := NewGenerator(GeneratorConfig{MaxNudges: 2}, nil).Generate([]medication.MedicationRecord{
		med("Amlodipine", medication.TimingBuckets{Morning: 1}),
	}, nil)
	assert.Len(t, out, 2)
}

func TestGenerate_PriorityOrderAndStableTies(t *testing.T) {
	m := med("Amoxicillin", medication.TimingBuckets{})
	m.Duration = "5 days"
	out := NewGenerator(DefaultGeneratorConfig(), nil).Generate([]medication.MedicationRecord{m},
		&medication.UserPreferences{AdherenceStreakDays: 4})

	require.Len(t, out, 4)
	assert.Equal(t, CategoryPositiveReinforcement, out[0].Category)
	assert.Equal(t, -1, out[0].MedicationIndex)
	assert.Contains(t, out[0].Message, "4 days")
	// equal priority 7: friction reduction was generated before duration completion
	assert.Equal(t, CategoryFrictionReduction, out[1].Category)
	assert.Equal(t, "duration", out[2].Evidence)
	assert.Contains(t, out[2].Message, "5 days")
	assert.Equal(t, PriorityWhyItMatters, out[3].Priority)
	assert.Contains(t, out[3].Message, "amoxicillin")
}

func TestGenerate_NoDurationNudgeWhenAsDirected(t *testing.T) {
	m := med("Amlodipine", medication.TimingBuckets{})
	m.Duration = "as directed"
	out := NewGenerator(DefaultGeneratorConfig(), nil).Generate([]medication.MedicationRecord{m}, nil)
	for _, n := range out {
		assert.NotEqual(t, "duration", n.Evidence)
	}
	assert.Len(t, out, 2)
}

func TestGenerate_UserPreferenceTimingTag(t *testing.T) {
	prefs := &medication.UserPreferences{MorningTime: "07:30", BedTime: "22:45"}
	out := NewGenerator(DefaultGeneratorConfig(), nil).Generate([]medication.MedicationRecord{
		med("Metformin", medication.TimingBuckets{Morning: 1, Evening: 1, Night: 1}),
	}, prefs)

	require.GreaterOrEqual(t, len(out), 3)
	assert.Equal(t, "07:30", out[0].TimingTag)
	assert.Equal(t, "evening", out[1].TimingTag)
	assert.Equal(t, "22:45", out[2].TimingTag)
}

func TestGenerate_Empty(t *testing.T) {
	out := NewGenerator(DefaultGeneratorConfig(), nil).Generate(nil, nil)
	assert.NotNil(t, out)
	assert.Empty(t, out)

	out = NewGenerator(DefaultGeneratorConfig(), nil).Generate(nil, &medication.UserPreferences{AdherenceStreakDays: 1})
	require.Len(t, out, 1)
	assert.Contains(t, out[0].Message, "1 day in a row")
}

func TestCue(t *testing.T) {
	assert.Equal(t, "Before breakfast", Cue(medication.SlotMorning, "Before breakfast"))
	assert.Equal(t, "After dinner", Cue(medication.SlotEvening, "after food"))
	assert.Equal(t, "With lunch", Cue(medication.SlotAfternoon, "with meals"))
	assert.Equal(t, "Before breakfast, on an empty stomach", Cue(medication.SlotMorning, "on empty stomach"))
	assert.Equal(t, "At bedtime", Cue(medication.SlotNight, ""))
	assert.Equal(t, "At dinner", Cue(medication.SlotEvening, ""))
}

func TestWhyItMatters(t *testing.T) {
	assert.Contains(t, WhyItMatters("AMLODIPINE"), "blood pressure")
	assert.Contains(t, WhyItMatters("Zyrtec"), "Taking Zyrtec exactly as prescribed")
	assert.Contains(t, WhyItMatters(""), "your medicine")
}
