package explainability

import (
	"fmt"
	"strings"

	"github.com/turtacn/MedPlan-Intelligence/internal/domain/medication"
	"github.com/turtacn/MedPlan-Intelligence/internal/infrastructure/monitoring/logging"
)

// Composer builds explainability cards.
type Composer interface {
	// Compose builds the card for one record. info may be nil.
	Compose(index int, rec *medication.MedicationRecord, info *medication.DrugInfo) Card

	// ComposeAll builds one card per plan medication. infos is indexed like
	// plan.Medications; missing or nil entries yield the placeholder.
	ComposeAll(plan *medication.MedicationPlan, infos []*medication.DrugInfo) []Card

	// AttachQuestions fills each card's confirmation questions from the
	// plan's clarification questions whose field is uncertain on that card.
	AttachQuestions(cards []Card, plan *medication.MedicationPlan)
}

type composerImpl struct {
	logger logging.Logger
}

// NewComposer builds a Composer. A nil logger discards output.
func NewComposer(logger logging.Logger) Composer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &composerImpl{logger: logger.Named("explainability")}
}

func (c *composerImpl) Compose(index int, rec *medication.MedicationRecord, info *medication.DrugInfo) Card {
	if rec == nil {
		rec = &medication.MedicationRecord{}
	}
	card := Card{
		MedicationIndex: index,
		MedicationName:  rec.Name,
		WhatWasDetected: detected(rec),
		Evidence:        evidence(rec),
		WhyThisPlan: WhyThisPlan{
			Schedule:         ScheduleText(rec.Timing, rec.NormalizedFrequency),
			TimingRationale:  TimingRationale(rec.FoodInstruction),
			CourseCompletion: CourseCompletionText(rec.Duration),
		},
		DrugDetails: details(info),
		Uncertainty: Uncertainty{
			NeedsConfirmation:     rec.NeedsConfirmation,
			UncertainFields:       append([]medication.Field{}, rec.UncertainFields...),
			ConfirmationQuestions: []medication.ClarificationQuestion{},
		},
	}
	return card
}

func (c *composerImpl) ComposeAll(plan *medication.MedicationPlan, infos []*medication.DrugInfo) []Card {
	if plan == nil {
		return []Card{}
	}
	cards := make([]Card, 0, len(plan.Medications))
	missing := 0
	for i := range plan.Medications {
		var info *medication.DrugInfo
		if i < len(infos) {
			info = infos[i]
		}
		card := c.Compose(i, &plan.Medications[i], info)
		if !card.DrugDetails.Available {
			missing++
		}
		cards = append(cards, card)
	}
	c.AttachQuestions(cards, plan)
	c.logger.Debug("cards composed", logging.Int("cards", len(cards)), logging.Int("without_drug_info", missing))
	return cards
}

func (c *composerImpl) AttachQuestions(cards []Card, plan *medication.MedicationPlan) {
	if plan == nil {
		return
	}
	for i := range cards {
		cards[i].Uncertainty.ConfirmationQuestions =
			plan.QuestionsFor(cards[i].MedicationIndex, cards[i].Uncertainty.UncertainFields)
	}
}

// ---------------------------------------------------------------------------
// Sections
// ---------------------------------------------------------------------------

func detectedValue(rec *medication.MedicationRecord, f medication.Field, value string) DetectedValue {
	if value == "" {
		return DetectedValue{}
	}
	v := value
	dv := DetectedValue{Value: &v}
	if conf, ok := rec.FieldConfidence[f]; ok {
		c := medication.ClampConfidence(conf)
		dv.Confidence = &c
	}
	return dv
}

func detected(rec *medication.MedicationRecord) WhatWasDetected {
	return WhatWasDetected{
		Name:            detectedValue(rec, medication.FieldDrugName, rec.Name),
		Strength:        detectedValue(rec, medication.FieldStrength, rec.Strength),
		Frequency:       detectedValue(rec, medication.FieldFrequency, rec.NormalizedFrequency),
		Duration:        detectedValue(rec, medication.FieldDuration, rec.Duration),
		FoodInstruction: detectedValue(rec, medication.FieldFoodInstruction, rec.FoodInstruction),
	}
}

var evidenceFields = []medication.Field{
	medication.FieldDrugName,
	medication.FieldStrength,
	medication.FieldFrequency,
}

func evidence(rec *medication.MedicationRecord) PrescriptionEvidence {
	items := make([]EvidenceItem, 0, len(evidenceFields))
	for _, f := range evidenceFields {
		ev, ok := rec.Evidence[f]
		value := rec.FieldValue(f)
		if !ok && value == "" {
			continue
		}
		item := EvidenceItem{
			Field:      f,
			Value:      value,
			Confidence: medication.ClampConfidence(rec.ConfidenceFor(f)),
		}
		if ok {
			tok := ev.FirstToken()
			item.Value = ev.Value
			item.TokenText = tok.Text
			item.BBox = tok.BBox
			item.Confidence = medication.ClampConfidence(ev.Confidence)
			item.RuleID = ev.RuleID
		}
		if item.TokenText == "" {
			item.TokenText = item.Value
		}
		items = append(items, item)
	}

	freq := rec.DosePattern
	if freq == "" {
		freq = rec.FrequencyCode
	}
	if freq == "" {
		freq = rec.NormalizedFrequency
	}
	snippet := strings.Join(strings.Fields(fmt.Sprintf("%s %s %s", rec.Name, rec.Strength, freq)), " ")

	return PrescriptionEvidence{Items: items, OriginalTextSnippet: snippet}
}

func details(info *medication.DrugInfo) DrugDetails {
	if info == nil || (len(info.Indications) == 0 && info.Mechanism == "" &&
		len(info.SideEffects) == 0 && len(info.Precautions) == 0) {
		return DrugDetails{
			Indications: NotAvailable,
			Mechanism:   NotAvailable,
			SideEffects: NotAvailable,
			Precautions: NotAvailable,
		}
	}
	orNA := func(s string) string {
		if strings.TrimSpace(s) == "" {
			return NotAvailable
		}
		return s
	}
	return DrugDetails{
		Available:   true,
		Indications: orNA(strings.Join(info.Indications, ", ")),
		Mechanism:   orNA(info.Mechanism),
		SideEffects: orNA(strings.Join(info.SideEffects, ", ")),
		Precautions: orNA(strings.Join(info.Precautions, "; ")),
		Source:      info.Source,
	}
}

// ---------------------------------------------------------------------------
// Templates
// ---------------------------------------------------------------------------

var slotPhrase = map[medication.TimeSlot]string{
	medication.SlotMorning:   "in the morning",
	medication.SlotAfternoon: "in the afternoon",
	medication.SlotEvening:   "in the evening",
	medication.SlotNight:     "at night",
}

func doses(n int) string {
	if n == 1 {
		return "1 dose"
	}
	return fmt.Sprintf("%d doses", n)
}

// ScheduleText describes the daily schedule from the timing buckets.
func ScheduleText(t medication.TimingBuckets, normalized string) string {
	slots := t.Populated()
	if len(slots) == 0 {
		if normalized != "" {
			return fmt.Sprintf("Take it %s, as your doctor directed.", normalized)
		}
		return "No fixed schedule was found. Take it as your doctor directed."
	}
	parts := make([]string, 0, len(slots))
	for _, s := range slots {
		parts = append(parts, doses(t.Count(s))+" "+slotPhrase[s])
	}
	return fmt.Sprintf("Take %s (%s a day).", joinAnd(parts), doses(t.Total()))
}

// TimingRationale explains the food instruction by keyword.
func TimingRationale(food string) string {
	f := strings.ToLower(food)
	switch {
	case strings.Contains(f, "empty stomach"):
		return "Your prescription says to take it on an empty stomach, which helps your body absorb it properly."
	case strings.Contains(f, "before"):
		return "Your prescription says to take it before food, so it can start working before your meal."
	case strings.Contains(f, "after"):
		return "Your prescription says to take it after food, which can reduce stomach upset."
	case strings.Contains(f, "with"):
		return "Your prescription says to take it with food, which can reduce stomach upset."
	}
	return "No food instruction was found. Ask your pharmacist whether to take it with food."
}

// CourseCompletionText reminds the user to finish the course.
func CourseCompletionText(duration string) string {
	d := strings.TrimSpace(duration)
	if d == "" || strings.EqualFold(d, medication.DurationAsDirected) {
		return "Keep taking it for as long as your doctor has directed."
	}
	return fmt.Sprintf("Complete the full %s course, even if you feel better sooner.", d)
}

func joinAnd(parts []string) string {
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	}
	return strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1]
}
