// Package explainability builds display-ready cards that explain, for each
// medication, what was detected, where it came from, why the plan looks the
// way it does, and what remains uncertain. Cards are built from templates
// only; nothing here calls a model or invents clinical content.
package explainability

import (
	"github.com/turtacn/MedPlan-Intelligence/internal/domain/medication"
)

// NotAvailable is the placeholder used when no drug information exists.
const NotAvailable = "Information not available"

// DetectedValue is a nullable value/confidence pair.
type DetectedValue struct {
	Value      *string  `json:"value"`
	Confidence *float64 `json:"confidence"`
}

// WhatWasDetected echoes the extracted values.
type WhatWasDetected struct {
	Name            DetectedValue `json:"name"`
	Strength        DetectedValue `json:"strength"`
	Frequency       DetectedValue `json:"frequency"`
	Duration        DetectedValue `json:"duration"`
	FoodInstruction DetectedValue `json:"food_instruction"`
}

// EvidenceItem cites where one field value came from.
type EvidenceItem struct {
	Field      medication.Field `json:"field"`
	Value      string           `json:"value"`
	TokenText  string           `json:"token_text"`
	BBox       medication.BBox  `json:"bbox"`
	Confidence float64          `json:"confidence"`
	RuleID     string           `json:"rule_id"`
}

// PrescriptionEvidence groups the cited fields.
type PrescriptionEvidence struct {
	Items               []EvidenceItem `json:"items"`
	OriginalTextSnippet string         `json:"original_text_snippet"`
}

// WhyThisPlan holds the template-generated rationale.
type WhyThisPlan struct {
	Schedule         string `json:"schedule"`
	TimingRationale  string `json:"timing_rationale"`
	CourseCompletion string `json:"course_completion"`
}

// DrugDetails is drug reference text, or the NotAvailable placeholder.
type DrugDetails struct {
	Available   bool   `json:"available"`
	Indications string `json:"indications"`
	Mechanism   string `json:"mechanism"`
	SideEffects string `json:"side_effects"`
	Precautions string `json:"precautions"`
	Source      string `json:"source,omitempty"`
}

// Uncertainty mirrors the record's confirmation state.
type Uncertainty struct {
	NeedsConfirmation     bool                               `json:"needs_confirmation"`
	UncertainFields       []medication.Field                 `json:"uncertain_fields"`
	ConfirmationQuestions []medication.ClarificationQuestion `json:"confirmation_questions"`
}

// Card is the explainability bundle for one medication.
type Card struct {
	MedicationIndex int                  `json:"medication_index"`
	MedicationName  string               `json:"medication_name"`
	WhatWasDetected WhatWasDetected      `json:"what_was_detected"`
	Evidence        PrescriptionEvidence `json:"prescription_evidence"`
	WhyThisPlan     WhyThisPlan          `json:"why_this_plan"`
	DrugDetails     DrugDetails          `json:"drug_details"`
	Uncertainty     Uncertainty          `json:"uncertainty"`
}
