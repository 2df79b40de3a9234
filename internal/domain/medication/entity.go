// Package medication defines the request-scoped value objects produced by the
// prescription pipeline: medication records with per-field confidence and
// provenance, clarification questions, the aggregate plan, and drug reference
// information.
package medication

import (
	"math"
	"strings"
)

// Field names a MedicationRecord attribute for confidence, evidence and
// clarification purposes.
type Field string

const (
	FieldDrugName        Field = "drug_name"
	FieldStrength        Field = "strength"
	FieldFrequency       Field = "frequency"
	FieldDuration        Field = "duration"
	FieldFoodInstruction Field = "food_instruction"
	FieldForm            Field = "form"
	FieldImageQuality    Field = "image_quality"
)

// DurationAsDirected is the silent default for a missing course duration.
const DurationAsDirected = "as directed"

// BBox is an axis-aligned bounding box in image pixel coordinates.
type BBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// IsZero reports whether b is the zero box.
func (b BBox) IsZero() bool {
	return b == BBox{}
}

// OCRToken is a single recognised word.
type OCRToken struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	BBox       BBox    `json:"bbox"`
}

// FieldEvidence records how one field value was obtained. It exists so the
// explainability layer can cite provenance and is never persisted on its own.
type FieldEvidence struct {
	Value      string     `json:"value"`
	Confidence float64    `json:"confidence"`
	Tokens     []OCRToken `json:"tokens,omitempty"`
	RuleID     string     `json:"rule_id"`
}

// FirstToken returns the first recorded OCR token, or a zero token.
func (e FieldEvidence) FirstToken() OCRToken {
	if len(e.Tokens) == 0 {
		return OCRToken{}
	}
	return e.Tokens[0]
}

// ─────────────────────────────────────────────────────────────────────────────
// Timing
// ─────────────────────────────────────────────────────────────────────────────

// TimeSlot is one of the four daily dosing buckets.
type TimeSlot string

const (
	SlotMorning   TimeSlot = "morning"
	SlotAfternoon TimeSlot = "afternoon"
	SlotEvening   TimeSlot = "evening"
	SlotNight     TimeSlot = "night"
)

// AllSlots lists the buckets in day order.
var AllSlots = []TimeSlot{SlotMorning, SlotAfternoon, SlotEvening, SlotNight}

// TimingBuckets holds dose counts per time of day. Counts are never negative.
type TimingBuckets struct {
	Morning   int `json:"morning"`
	Afternoon int `json:"afternoon"`
	Evening   int `json:"evening"`
	Night     int `json:"night"`
}

// Count returns the dose count for slot.
func (t TimingBuckets) Count(slot TimeSlot) int {
	switch slot {
	case SlotMorning:
		return t.Morning
	case SlotAfternoon:
		return t.Afternoon
	case SlotEvening:
		return t.Evening
	case SlotNight:
		return t.Night
	}
	return 0
}

// Set assigns the dose count for slot, flooring negatives at zero.
func (t *TimingBuckets) Set(slot TimeSlot, n int) {
	if n < 0 {
		n = 0
	}
	switch slot {
	case SlotMorning:
		t.Morning = n
	case SlotAfternoon:
		t.Afternoon = n
	case SlotEvening:
		t.Evening = n
	case SlotNight:
		t.Night = n
	}
}

// Total returns the number of doses per day.
func (t TimingBuckets) Total() int {
	return t.Morning + t.Afternoon + t.Evening + t.Night
}

// IsEmpty reports whether no bucket is populated.
func (t TimingBuckets) IsEmpty() bool {
	return t.Total() == 0
}

// Populated returns the populated slots in day order.
func (t TimingBuckets) Populated() []TimeSlot {
	var out []TimeSlot
	for _, s := range AllSlots {
		if t.Count(s) > 0 {
			out = append(out, s)
		}
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// MedicationRecord
// ─────────────────────────────────────────────────────────────────────────────

// MedicationRecord is one typed medication line extracted from a prescription.
type MedicationRecord struct {
	Name                string        `json:"name"`
	Strength            string        `json:"strength,omitempty"`
	Form                string        `json:"form,omitempty"`
	FrequencyCode       string        `json:"frequency_code,omitempty"`
	NormalizedFrequency string        `json:"normalized_frequency,omitempty"`
	DosePattern         string        `json:"dose_pattern,omitempty"`
	Timing              TimingBuckets `json:"timing"`
	Duration            string        `json:"duration,omitempty"`
	FoodInstruction     string        `json:"food_instruction,omitempty"`
	Notes               string        `json:"notes,omitempty"`

	// FieldConfidence holds a score in [0,1] per populated field.
	FieldConfidence map[Field]float64 `json:"field_confidence"`
	// Confidence is the overall record score in [0,1].
	Confidence float64 `json:"confidence"`

	Evidence map[Field]FieldEvidence `json:"evidence,omitempty"`

	NeedsConfirmation bool    `json:"needs_confirmation"`
	UncertainFields   []Field `json:"uncertain_fields,omitempty"`

	// SourceLine is the 1-based line number in the input text, 0 when the
	// record did not come from line extraction.
	SourceLine int    `json:"source_line,omitempty"`
	RawLine    string `json:"raw_line,omitempty"`
}

// FieldValue returns the string value for f.
func (r *MedicationRecord) FieldValue(f Field) string {
	switch f {
	case FieldDrugName:
		return r.Name
	case FieldStrength:
		return r.Strength
	case FieldFrequency:
		if r.NormalizedFrequency != "" {
			return r.NormalizedFrequency
		}
		return r.FrequencyCode
	case FieldDuration:
		return r.Duration
	case FieldFoodInstruction:
		return r.FoodInstruction
	case FieldForm:
		return r.Form
	}
	return ""
}

// ConfidenceFor returns the confidence recorded for f, or 0.
func (r *MedicationRecord) ConfidenceFor(f Field) float64 {
	if r.FieldConfidence == nil {
		return 0
	}
	return r.FieldConfidence[f]
}

// HasUncertainField reports whether f is listed in UncertainFields.
func (r *MedicationRecord) HasUncertainField(f Field) bool {
	for _, u := range r.UncertainFields {
		if u == f {
			return true
		}
	}
	return false
}

// MarkUncertain adds f to UncertainFields once and sets NeedsConfirmation.
func (r *MedicationRecord) MarkUncertain(f Field) {
	if !r.HasUncertainField(f) {
		r.UncertainFields = append(r.UncertainFields, f)
	}
	r.NeedsConfirmation = true
}

// DisplayName returns "{name} {strength}" trimmed.
func (r *MedicationRecord) DisplayName() string {
	return strings.TrimSpace(r.Name + " " + r.Strength)
}

// ─────────────────────────────────────────────────────────────────────────────
// Clarification & plan
// ─────────────────────────────────────────────────────────────────────────────

// ClarificationQuestion asks the user to confirm or supply a field value.
type ClarificationQuestion struct {
	Field         Field    `json:"field"`
	Question      string   `json:"question"`
	DetectedValue string   `json:"detected_value,omitempty"`
	Confidence    float64  `json:"confidence"`
	Suggestions   []string `json:"suggestions"`
	// MedicationIndex ties the question to Medications[i]; -1 for plan-level
	// questions such as image quality.
	MedicationIndex int `json:"medication_index"`
}

// PlanSource identifies which parser produced a plan.
type PlanSource string

const (
	SourceRules PlanSource = "rules"
	SourceLLM   PlanSource = "llm"
)

// MedicationPlan is the structured result of parsing one prescription.
type MedicationPlan struct {
	Medications            []MedicationRecord      `json:"medications"`
	ExtractedLanguage      string                  `json:"extracted_language,omitempty"`
	NeedsConfirmation      bool                    `json:"needs_confirmation"`
	ClarificationQuestions []ClarificationQuestion `json:"clarification_questions"`
	OverallConfidence      float64                 `json:"overall_confidence"`
	Source                 PlanSource              `json:"source,omitempty"`
}

// ComputeOverallConfidence sets OverallConfidence to the clamped mean of
// record confidences, or 0 for an empty plan.
func (p *MedicationPlan) ComputeOverallConfidence() float64 {
	if len(p.Medications) == 0 {
		p.OverallConfidence = 0
		return 0
	}
	var sum float64
	for _, m := range p.Medications {
		sum += ClampConfidence(m.Confidence)
	}
	p.OverallConfidence = ClampConfidence(sum / float64(len(p.Medications)))
	return p.OverallConfidence
}

// QuestionsFor returns the questions attached to medication index i whose
// field is in fields.
func (p *MedicationPlan) QuestionsFor(i int, fields []Field) []ClarificationQuestion {
	out := []ClarificationQuestion{}
	for _, q := range p.ClarificationQuestions {
		if q.MedicationIndex != i {
			continue
		}
		for _, f := range fields {
			if q.Field == f {
				out = append(out, q)
				break
			}
		}
	}
	return out
}

// Names returns the medication names in plan order.
func (p *MedicationPlan) Names() []string {
	names := make([]string, 0, len(p.Medications))
	for _, m := range p.Medications {
		names = append(names, m.Name)
	}
	return names
}

// UserPreferences carries optional per-user scheduling hints.
type UserPreferences struct {
	MorningTime         string `json:"morning_time,omitempty"`
	AfternoonTime       string `json:"afternoon_time,omitempty"`
	EveningTime         string `json:"evening_time,omitempty"`
	BedTime             string `json:"bed_time,omitempty"`
	AdherenceStreakDays int    `json:"adherence_streak_days,omitempty"`
}

// TimeFor returns the preferred clock time for slot, or "".
func (u *UserPreferences) TimeFor(slot TimeSlot) string {
	if u == nil {
		return ""
	}
	switch slot {
	case SlotMorning:
		return u.MorningTime
	case SlotAfternoon:
		return u.AfternoonTime
	case SlotEvening:
		return u.EveningTime
	case SlotNight:
		return u.BedTime
	}
	return ""
}

// ClampConfidence bounds c to [0,1]. NaN maps to 0.
func ClampConfidence(c float64) float64 {
	if math.IsNaN(c) || c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// RoundConfidence rounds c to two decimals after clamping, so repeated
// additive scoring produces stable output.
func RoundConfidence(c float64) float64 {
	return math.Round(ClampConfidence(c)*100) / 100
}
