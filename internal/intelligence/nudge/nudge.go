// Package nudge turns a medication list into short adherence prompts drawn
// from fixed behavioural-science templates. The framework names (EAST, COM-B)
// are labels on the templates only.
package nudge

import (
	"fmt"
	"sort"
	"strings"

	"github.com/turtacn/MedPlan-Intelligence/internal/domain/medication"
	"github.com/turtacn/MedPlan-Intelligence/internal/infrastructure/monitoring/logging"
)

// Category is the nudge family.
type Category string

const (
	CategoryImplementationIntention Category = "implementation_intention"
	CategoryFrictionReduction       Category = "friction_reduction"
	CategoryPositiveReinforcement   Category = "positive_reinforcement"
	CategoryWhyItMatters            Category = "why_it_matters"
)

// Priorities per template.
const (
	PriorityImplementationIntention = 9
	PriorityPositiveReinforcement   = 8
	PriorityFrictionReduction       = 7
	PriorityDurationCompletion      = 7
	PriorityWhyItMatters            = 6
)

// MaxNudges is the hard cap on returned nudges.
const MaxNudges = 5

// Nudge is one adherence prompt.
type Nudge struct {
	Category  Category `json:"category"`
	Message   string   `json:"message"`
	Principle string   `json:"principle"`
	// MedicationIndex points into the plan's medications; -1 for general
	// nudges.
	MedicationIndex int `json:"medication_index"`
	// Evidence names the record attribute the nudge was derived from.
	Evidence  string `json:"evidence"`
	Priority  int    `json:"priority"`
	TimingTag string `json:"timing_tag,omitempty"`
}

// GeneratorConfig bounds the output.
type GeneratorConfig struct {
	// MaxNudges is clamped to [1, MaxNudges].
	MaxNudges int `json:"max_nudges" yaml:"max_nudges"`
}

// DefaultGeneratorConfig returns the stock configuration.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{MaxNudges: MaxNudges}
}

// Generator produces ranked nudges.
type Generator interface {
	// Generate returns at most the configured number of nudges, sorted by
	// priority descending. Equal priorities keep generation order:
	// medications in plan order, and per medication implementation
	// intentions (day order), friction reduction, why-it-matters, duration
	// completion; the streak nudge comes last.
	Generate(meds []medication.MedicationRecord, prefs *medication.UserPreferences) []Nudge
}

type generatorImpl struct {
	limit  int
	logger logging.Logger
}

// NewGenerator builds a Generator. A nil logger discards output.
func NewGenerator(cfg GeneratorConfig, logger logging.Logger) Generator {
	limit := cfg.MaxNudges
	if limit <= 0 || limit > MaxNudges {
		limit = MaxNudges
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &generatorImpl{limit: limit, logger: logger.Named("nudge")}
}

func (g *generatorImpl) Generate(meds []medication.MedicationRecord, prefs *medication.UserPreferences) []Nudge {
	var all []Nudge
	for i := range meds {
		all = append(all, forMedication(i, &meds[i], prefs)...)
	}
	if prefs != nil && prefs.AdherenceStreakDays > 0 {
		all = append(all, streak(prefs.AdherenceStreakDays))
	}

	sort.SliceStable(all, func(a, b int) bool { return all[a].Priority > all[b].Priority })
	generated := len(all)
	if len(all) > g.limit {
		all = all[:g.limit]
	}
	if all == nil {
		all = []Nudge{}
	}
	g.logger.Debug("nudges generated", logging.Int("generated", generated), logging.Int("returned", len(all)))
	return all
}

func forMedication(idx int, rec *medication.MedicationRecord, prefs *medication.UserPreferences) []Nudge {
	var out []Nudge
	display := rec.DisplayName()
	if display == "" {
		display = "medicine"
	}

	for _, slot := range rec.Timing.Populated() {
		tag := prefs.TimeFor(slot)
		if tag == "" {
			tag = string(slot)
		}
		out = append(out, Nudge{
			Category:        CategoryImplementationIntention,
			Message:         fmt.Sprintf("%s, take your %s.", Cue(slot, rec.FoodInstruction), display),
			Principle:       "Implementation intentions (EAST: Timely)",
			MedicationIndex: idx,
			Evidence:        "timing." + string(slot),
			Priority:        PriorityImplementationIntention,
			TimingTag:       tag,
		})
	}

	out = append(out, Nudge{
		Category:        CategoryFrictionReduction,
		Message:         fmt.Sprintf("Keep your %s next to something you use every day, like your toothbrush or kettle.", nameOr(rec)),
		Principle:       "Friction reduction (EAST: Easy)",
		MedicationIndex: idx,
		Evidence:        "name",
		Priority:        PriorityFrictionReduction,
	})

	out = append(out, Nudge{
		Category:        CategoryWhyItMatters,
		Message:         WhyItMatters(rec.Name),
		Principle:       "Personal relevance (COM-B: Motivation)",
		MedicationIndex: idx,
		Evidence:        "name",
		Priority:        PriorityWhyItMatters,
	})

	if d := strings.TrimSpace(rec.Duration); d != "" && !strings.EqualFold(d, medication.DurationAsDirected) {
		out = append(out, Nudge{
			Category:        CategoryWhyItMatters,
			Message:         fmt.Sprintf("Your %s course lasts %s. Finish every dose, even if you feel better sooner.", nameOr(rec), d),
			Principle:       "Goal completion (COM-B: Motivation)",
			MedicationIndex: idx,
			Evidence:        "duration",
			Priority:        PriorityDurationCompletion,
		})
	}
	return out
}

func streak(days int) Nudge {
	unit := "days"
	if days == 1 {
		unit = "day"
	}
	return Nudge{
		Category:        CategoryPositiveReinforcement,
		Message:         fmt.Sprintf("You have taken your medicines on time for %d %s in a row. Keep it going!", days, unit),
		Principle:       "Positive reinforcement (EAST: Attractive)",
		MedicationIndex: -1,
		Evidence:        "adherence_streak_days",
		Priority:        PriorityPositiveReinforcement,
	}
}

func nameOr(rec *medication.MedicationRecord) string {
	if rec.Name == "" {
		return "medicine"
	}
	return rec.Name
}

// ---------------------------------------------------------------------------
// Templates
// ---------------------------------------------------------------------------

var slotMeal = map[medication.TimeSlot]string{
	medication.SlotMorning:   "breakfast",
	medication.SlotAfternoon: "lunch",
	medication.SlotEvening:   "dinner",
	medication.SlotNight:     "dinner",
}

var slotDefaultCue = map[medication.TimeSlot]string{
	medication.SlotMorning:   "At breakfast",
	medication.SlotAfternoon: "At lunch",
	medication.SlotEvening:   "At dinner",
	medication.SlotNight:     "At bedtime",
}

// Cue picks the anchoring routine for a slot, preferring the food
// instruction's wording.
func Cue(slot medication.TimeSlot, food string) string {
	f := strings.ToLower(food)
	meal := slotMeal[slot]
	switch {
	case strings.Contains(f, "empty stomach"):
		return fmt.Sprintf("Before %s, on an empty stomach", meal)
	case strings.Contains(f, "before"):
		return "Before " + meal
	case strings.Contains(f, "after"):
		return "After " + meal
	case strings.Contains(f, "with"):
		return "With " + meal
	}
	return slotDefaultCue[slot]
}

var whyItMatters = []struct {
	key     string
	message string
}{
	{"amlodipine", "Amlodipine keeps your blood pressure steady, which protects your heart, brain and kidneys."},
	{"metformin", "Metformin keeps your blood sugar in range, which lowers the risk of long-term complications."},
	{"atorvastatin", "Atorvastatin lowers your cholesterol and your risk of heart attack and stroke."},
	{"aspirin", "Low-dose aspirin helps prevent blood clots that can cause heart attacks and strokes."},
	{"warfarin", "Warfarin prevents dangerous blood clots. Taking it at the same time each day keeps its effect stable."},
	{"amoxicillin", "Finishing every dose of amoxicillin clears the infection and stops it coming back."},
	{"omeprazole", "Omeprazole reduces stomach acid so your stomach lining can heal."},
	{"paracetamol", "Paracetamol eases pain and fever. Spacing doses evenly keeps you comfortable."},
	{"levothyroxine", "Levothyroxine replaces thyroid hormone your body needs for energy and metabolism."},
}

// WhyItMatters returns the drug-specific motivation line or a generic one.
func WhyItMatters(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if n != "" {
		for _, w := range whyItMatters {
			if strings.Contains(n, w.key) {
				return w.message
			}
		}
	}
	if name == "" {
		name = "your medicine"
	}
	return fmt.Sprintf("Taking %s exactly as prescribed helps it work the way your doctor intended.", name)
}
