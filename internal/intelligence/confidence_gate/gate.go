// Package confidence_gate decides which extracted values can be trusted and
// which must be confirmed by the user. It is a pure policy layer: thresholds
// are read-only and every decision is deterministic.
package confidence_gate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/turtacn/MedPlan-Intelligence/internal/domain/medication"
	"github.com/turtacn/MedPlan-Intelligence/internal/infrastructure/monitoring/logging"
)

// ---------------------------------------------------------------------------
// Policy table
// ---------------------------------------------------------------------------

// Thresholds is the gate policy table.
type Thresholds struct {
	OCRMinimum        float64 `json:"ocr_minimum" yaml:"ocr_minimum"`
	OCRWarning        float64 `json:"ocr_warning" yaml:"ocr_warning"`
	DrugName          float64 `json:"drug_name" yaml:"drug_name"`
	Strength          float64 `json:"strength" yaml:"strength"`
	Frequency         float64 `json:"frequency" yaml:"frequency"`
	Duration          float64 `json:"duration" yaml:"duration"`
	FoodInstruction   float64 `json:"food_instruction" yaml:"food_instruction"`
	Missing           float64 `json:"missing" yaml:"missing"`
	NeedsConfirmation float64 `json:"needs_confirmation" yaml:"needs_confirmation"`
}

// DefaultThresholds returns the stock policy.
func DefaultThresholds() Thresholds {
	return Thresholds{
		OCRMinimum:        0.50,
		OCRWarning:        0.65,
		DrugName:          0.70,
		Strength:          0.75,
		Frequency:         0.65,
		Duration:          0.60,
		FoodInstruction:   0.55,
		Missing:           0.30,
		NeedsConfirmation: 0.65,
	}
}

// For returns the field-specific threshold, falling back to
// NeedsConfirmation for fields without one.
func (t Thresholds) For(f medication.Field) float64 {
	switch f {
	case medication.FieldDrugName:
		return t.DrugName
	case medication.FieldStrength:
		return t.Strength
	case medication.FieldFrequency:
		return t.Frequency
	case medication.FieldDuration:
		return t.Duration
	case medication.FieldFoodInstruction:
		return t.FoodInstruction
	}
	return t.NeedsConfirmation
}

// GateConfig holds the thresholds plus per-field question switches.
type GateConfig struct {
	Thresholds Thresholds
	// AskDuration enables duration questions. Off by default: a missing
	// duration silently becomes "as directed".
	AskDuration bool
}

// DefaultGateConfig returns the stock configuration.
func DefaultGateConfig() GateConfig {
	return GateConfig{Thresholds: DefaultThresholds()}
}

// ---------------------------------------------------------------------------
// Results
// ---------------------------------------------------------------------------

// FieldStatus is the gate's verdict on one field.
type FieldStatus string

const (
	StatusTrusted   FieldStatus = "trusted"
	StatusUncertain FieldStatus = "uncertain"
	StatusMissing   FieldStatus = "missing"
)

// Rejection reasons.
const (
	ReasonImageQuality  = "image_quality"
	ReasonNoMedications = "no_medications"
)

// GateResult is the outcome of one evaluation.
type GateResult struct {
	// Passed is false when the input was rejected outright.
	Passed bool `json:"passed"`
	// Reason explains a rejection.
	Reason string `json:"reason,omitempty"`

	NeedsConfirmation bool                               `json:"needs_confirmation"`
	Questions         []medication.ClarificationQuestion `json:"clarification_questions"`
	Warnings          []string                           `json:"warnings,omitempty"`

	// Records are copies of the input with uncertain fields marked.
	Records []medication.MedicationRecord `json:"records,omitempty"`

	// OverallConfidence is the clamped mean record confidence.
	OverallConfidence float64 `json:"overall_confidence"`
}

// ---------------------------------------------------------------------------
// Gate
// ---------------------------------------------------------------------------

// Gate applies the confidence policy.
type Gate interface {
	// CheckImageQuality applies the global OCR gate only.
	CheckImageQuality(ocrConfidence float64) *GateResult

	// Evaluate runs the global gate (when ocrConfidence is non-nil) and then
	// the field-level policy over records.
	Evaluate(records []medication.MedicationRecord, ocrConfidence *float64) *GateResult

	// ApplyToPlan evaluates plan.Medications and writes the outcome back
	// onto the plan.
	ApplyToPlan(plan *medication.MedicationPlan, ocrConfidence *float64) *GateResult

	// Status classifies one field value.
	Status(f medication.Field, value string, confidence float64) FieldStatus
}

type gateImpl struct {
	cfg    GateConfig
	logger logging.Logger
}

// NewGate builds a Gate. A nil logger discards output.
func NewGate(cfg GateConfig, logger logging.Logger) Gate {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &gateImpl{cfg: cfg, logger: logger.Named("confidence_gate")}
}

func (g *gateImpl) Status(f medication.Field, value string, confidence float64) FieldStatus {
	confidence = medication.ClampConfidence(confidence)
	if strings.TrimSpace(value) == "" || confidence < g.cfg.Thresholds.Missing {
		return StatusMissing
	}
	if confidence < g.cfg.Thresholds.For(f) {
		return StatusUncertain
	}
	return StatusTrusted
}

func (g *gateImpl) CheckImageQuality(ocrConfidence float64) *GateResult {
	t := g.cfg.Thresholds
	c := medication.ClampConfidence(ocrConfidence)
	res := &GateResult{Passed: true, Questions: []medication.ClarificationQuestion{}}

	if c < t.OCRMinimum {
		res.Passed = false
		res.Reason = ReasonImageQuality
		res.NeedsConfirmation = true
		res.Questions = append(res.Questions, medication.ClarificationQuestion{
			Field:           medication.FieldImageQuality,
			Question:        "The photo is not clear enough to read reliably. Could you retake it in good light, or type the prescription instead?",
			Confidence:      medication.RoundConfidence(c),
			Suggestions:     []string{"Retake the photo", "Type the prescription text"},
			MedicationIndex: -1,
		})
		g.logger.Info("input rejected by image quality gate", logging.Float64("ocr_confidence", c))
		return res
	}
	if c < t.OCRWarning {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("Image quality is marginal (OCR confidence %.2f). Please double-check the detected values.", c))
	}
	return res
}

func (g *gateImpl) Evaluate(records []medication.MedicationRecord, ocrConfidence *float64) *GateResult {
	res := &GateResult{Passed: true, Questions: []medication.ClarificationQuestion{}}
	if ocrConfidence != nil {
		res = g.CheckImageQuality(*ocrConfidence)
		if !res.Passed {
			return res
		}
	}

	if len(records) == 0 {
		res.Passed = false
		res.Reason = ReasonNoMedications
		res.NeedsConfirmation = true
		res.Records = []medication.MedicationRecord{}
		res.Questions = append(res.Questions, medication.ClarificationQuestion{
			Field:           medication.FieldDrugName,
			Question:        "We could not find any medicines in this prescription. Which medicines were you prescribed?",
			Suggestions:     []string{"Type the medicine names"},
			MedicationIndex: -1,
		})
		return res
	}

	res.Records = make([]medication.MedicationRecord, len(records))
	for i := range records {
		rec := records[i]
		rec.UncertainFields = append([]medication.Field(nil), records[i].UncertainFields...)
		for _, q := range g.fieldQuestions(i, &rec) {
			rec.MarkUncertain(q.Field)
			res.Questions = append(res.Questions, q)
		}
		res.Records[i] = rec
	}

	plan := medication.MedicationPlan{Medications: res.Records}
	res.OverallConfidence = plan.ComputeOverallConfidence()
	res.NeedsConfirmation = len(res.Questions) > 0

	g.logger.Debug("field gate evaluated",
		logging.Int("records", len(records)),
		logging.Int("questions", len(res.Questions)),
		logging.Float64("overall_confidence", res.OverallConfidence))
	return res
}

func (g *gateImpl) ApplyToPlan(plan *medication.MedicationPlan, ocrConfidence *float64) *GateResult {
	res := g.Evaluate(plan.Medications, ocrConfidence)
	if res.Records != nil {
		plan.Medications = res.Records
	}
	plan.ClarificationQuestions = dedupeQuestions(append(plan.ClarificationQuestions, res.Questions...))
	plan.NeedsConfirmation = len(plan.ClarificationQuestions) > 0
	plan.ComputeOverallConfidence()
	return res
}

// dedupeQuestions keeps the first question per (medication, field), so a
// question the parser already asked is not asked again by the gate.
func dedupeQuestions(qs []medication.ClarificationQuestion) []medication.ClarificationQuestion {
	type key struct {
		index int
		field medication.Field
	}
	seen := make(map[key]bool, len(qs))
	out := make([]medication.ClarificationQuestion, 0, len(qs))
	for _, q := range qs {
		k := key{q.MedicationIndex, q.Field}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, q)
	}
	return out
}

// ---------------------------------------------------------------------------
// Question policy
// ---------------------------------------------------------------------------

var fixedFieldOrder = []medication.Field{
	medication.FieldDrugName,
	medication.FieldStrength,
	medication.FieldFrequency,
	medication.FieldDuration,
}

// fieldQuestions evaluates each field independently. Fixed fields always run;
// any other field runs only when the record carries a confidence for it.
func (g *gateImpl) fieldQuestions(idx int, rec *medication.MedicationRecord) []medication.ClarificationQuestion {
	var out []medication.ClarificationQuestion

	for _, f := range fixedFieldOrder {
		value := rec.FieldValue(f)
		conf := rec.ConfidenceFor(f)
		st := g.Status(f, value, conf)

		ask := false
		switch f {
		case medication.FieldDrugName, medication.FieldStrength:
			ask = st != StatusTrusted
		case medication.FieldFrequency:
			ask = st == StatusMissing
		case medication.FieldDuration:
			ask = g.cfg.AskDuration && st != StatusTrusted
		}
		if ask {
			out = append(out, g.question(idx, rec, f, value, conf, st))
		}
	}

	fixed := make(map[medication.Field]bool, len(fixedFieldOrder))
	for _, f := range fixedFieldOrder {
		fixed[f] = true
	}
	others := make([]string, 0, len(rec.FieldConfidence))
	for f := range rec.FieldConfidence {
		if !fixed[f] {
			others = append(others, string(f))
		}
	}
	sort.Strings(others)
	for _, name := range others {
		f := medication.Field(name)
		value := rec.FieldValue(f)
		conf := medication.ClampConfidence(rec.ConfidenceFor(f))
		if conf < g.cfg.Thresholds.NeedsConfirmation {
			out = append(out, g.question(idx, rec, f, value, conf, g.Status(f, value, conf)))
		}
	}
	return out
}

var cannedSuggestions = map[medication.Field][]string{
	medication.FieldFrequency:       {"Once daily", "Twice daily", "Three times daily", "As needed"},
	medication.FieldDuration:        {"5 days", "7 days", "30 days", medication.DurationAsDirected},
	medication.FieldFoodInstruction: {"Before food", "After food", "With food", "No food instruction"},
}

const maxSuggestions = 4

func (g *gateImpl) question(idx int, rec *medication.MedicationRecord, f medication.Field, value string, conf float64, st FieldStatus) medication.ClarificationQuestion {
	name := rec.Name
	if name == "" {
		name = "this medicine"
	}
	q := medication.ClarificationQuestion{
		Field:           f,
		DetectedValue:   value,
		Confidence:      medication.RoundConfidence(conf),
		MedicationIndex: idx,
	}

	switch f {
	case medication.FieldDrugName:
		if st == StatusMissing {
			q.Question = fmt.Sprintf("We could not read the medicine name on line %d. What is it called?", rec.SourceLine)
		} else {
			q.Question = fmt.Sprintf("Is the medicine name %q correct?", value)
		}
	case medication.FieldStrength:
		if st == StatusMissing {
			q.Question = fmt.Sprintf("What is the strength of %s (for example 5mg or 500mg)?", name)
		} else {
			q.Question = fmt.Sprintf("Is the strength of %s %q?", name, value)
		}
	case medication.FieldFrequency:
		q.Question = fmt.Sprintf("How often should you take %s?", name)
	case medication.FieldDuration:
		q.Question = fmt.Sprintf("For how long should you take %s?", name)
	case medication.FieldFoodInstruction:
		q.Question = fmt.Sprintf("Should %s be taken %q?", name, value)
	default:
		q.Question = fmt.Sprintf("Please confirm the %s of %s: %q", strings.ReplaceAll(string(f), "_", " "), name, value)
	}

	q.Suggestions = suggestionsFor(f, value)
	return q
}

func suggestionsFor(f medication.Field, value string) []string {
	var out []string
	if canned, ok := cannedSuggestions[f]; ok {
		out = append(out, canned...)
	} else if value != "" {
		out = append(out, value)
	} else {
		out = append(out, "Not written on the prescription")
	}
	if len(out) > maxSuggestions {
		out = out[:maxSuggestions]
	}
	return out
}
