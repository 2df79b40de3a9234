package rx_extractor

import (
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/turtacn/MedPlan-Intelligence/internal/domain/medication"
)

// ---------------------------------------------------------------------------
// Rule identifiers (cited by explainability evidence)
// ---------------------------------------------------------------------------

const (
	RuleNameFormPrefix      = "rx.name.form_prefix"
	RuleNameFirstToken      = "rx.name.first_token"
	RuleStrengthUnit        = "rx.strength.unit"
	RuleFrequencyPattern    = "rx.frequency.dose_pattern"
	RuleFrequencyAbbrev     = "rx.frequency.abbreviation"
	RuleFrequencyTimingWord = "rx.frequency.timing_word"
	RuleTimingOverride      = "rx.frequency.timing_override"
	RuleDurationPhrase      = "rx.duration.phrase"
	RuleFoodInstruction     = "rx.food.instruction"
	RuleFormKeyword         = "rx.form.keyword"
)

// FrequencyRule maps an abbreviation to its dose buckets and plain wording.
type FrequencyRule struct {
	Code       string
	Normalized string
	Timing     medication.TimingBuckets
}

// RuleSet is the immutable lookup data consumed by the extractor. Build it
// once and share it; nothing mutates a RuleSet after construction.
type RuleSet struct {
	// HeaderWords reject a line when they appear as its first word.
	HeaderWords map[string]struct{}
	// NameStopwords never qualify as a drug name.
	NameStopwords map[string]struct{}
	// Forms maps form keywords to a canonical form name.
	Forms map[string]string
	// Frequencies is keyed by upper-case abbreviation.
	Frequencies map[string]FrequencyRule
	// TimingWords maps bare timing words to a bucket.
	TimingWords map[string]medication.TimeSlot

	strengthRe *regexp.Regexp
	patternRe  *regexp.Regexp
	freqRe     *regexp.Regexp
	durationRe *regexp.Regexp
	foodRe     *regexp.Regexp
	timingRe   *regexp.Regexp
}

var (
	defaultRulesOnce sync.Once
	defaultRules     *RuleSet
)

// DefaultRuleSet returns the shared built-in rule tables.
func DefaultRuleSet() *RuleSet {
	defaultRulesOnce.Do(func() {
		defaultRules = newDefaultRuleSet()
	})
	return defaultRules
}

func newDefaultRuleSet() *RuleSet {
	m, a, e, n := medication.SlotMorning, medication.SlotAfternoon, medication.SlotEvening, medication.SlotNight
	buckets := func(slots ...medication.TimeSlot) medication.TimingBuckets {
		var tb medication.TimingBuckets
		for _, s := range slots {
			tb.Set(s, 1)
		}
		return tb
	}

	freqs := []FrequencyRule{
		{Code: "OD", Normalized: "once daily", Timing: buckets(m)},
		{Code: "BD", Normalized: "twice daily", Timing: buckets(m, e)},
		{Code: "TDS", Normalized: "three times daily", Timing: buckets(m, a, e)},
		{Code: "QDS", Normalized: "four times daily", Timing: buckets(m, a, e, n)},
		{Code: "QID", Normalized: "four times daily", Timing: buckets(m, a, e, n)},
		{Code: "HS", Normalized: "at bedtime", Timing: buckets(n)},
		{Code: "SOS", Normalized: "if needed", Timing: buckets(n)},
		{Code: "PRN", Normalized: "as needed"},
		{Code: "STAT", Normalized: "immediately, once"},
		{Code: "Q4H", Normalized: "every 4 hours"},
		{Code: "Q6H", Normalized: "every 6 hours"},
		{Code: "Q8H", Normalized: "every 8 hours"},
		{Code: "Q12H", Normalized: "every 12 hours"},
	}
	freqMap := make(map[string]FrequencyRule, len(freqs))
	codes := make([]string, 0, len(freqs))
	for _, f := range freqs {
		freqMap[f.Code] = f
		codes = append(codes, f.Code)
	}

	forms := map[string]string{
		"tab": "tablet", "tabs": "tablet", "tablet": "tablet", "tablets": "tablet",
		"cap": "capsule", "caps": "capsule", "capsule": "capsule", "capsules": "capsule",
		"syr": "syrup", "syp": "syrup", "syrup": "syrup",
		"inj": "injection", "injection": "injection",
		"susp": "suspension", "suspension": "suspension",
		"drop": "drops", "drops": "drops",
		"oint": "ointment", "ointment": "ointment",
		"cream": "cream", "gel": "gel", "lotion": "lotion",
		"inhaler": "inhaler", "sachet": "sachet", "spray": "spray",
		"sol": "solution", "soln": "solution", "solution": "solution",
	}

	header := toSet(
		"name", "date", "doctor", "dr", "patient", "age", "sex", "gender",
		"address", "phone", "mobile", "tel", "email", "hospital", "clinic",
		"signature", "sign", "diagnosis", "diag", "reg", "registration",
		"weight", "wt", "bp", "pulse", "temp", "advice", "complaints",
		"history", "follow", "review", "mr", "mrs", "ms", "uhid", "id",
	)

	stop := toSet(
		"rx", "take", "and", "the", "with", "before", "after", "for", "daily",
		"days", "day", "weeks", "week", "months", "month", "food", "meal",
		"meals", "breakfast", "lunch", "dinner", "supper", "empty", "stomach",
		"morning", "afternoon", "evening", "night", "bedtime", "once", "twice",
		"thrice", "times", "units", "unit", "mg", "mcg", "ml", "iu",
	)
	for k := range header {
		stop[k] = struct{}{}
	}
	for k := range forms {
		stop[k] = struct{}{}
	}
	for _, c := range codes {
		stop[strings.ToLower(c)] = struct{}{}
	}

	return &RuleSet{
		HeaderWords:   header,
		NameStopwords: stop,
		Forms:         forms,
		Frequencies:   freqMap,
		TimingWords: map[string]medication.TimeSlot{
			"morning":   m,
			"afternoon": a,
			"evening":   e,
			"night":     n,
			"bedtime":   n,
		},

		strengthRe: regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(mcg|μg|mg|ml|iu|units?|g)\b`),
		patternRe:  regexp.MustCompile(`(?:^|[^\d-])(\d)\s*-\s*(\d)\s*-\s*(\d)(?:\s*-\s*(\d))?(?:[^\d-]|$)`),
		freqRe:     regexp.MustCompile(`(?i)\b(` + strings.Join(codes, "|") + `)\b`),
		durationRe: regexp.MustCompile(`(?i)(?:^|[\s(,])(?:x|for)\s*(\d+)\s*(day|week|month)s?\b`),
		foodRe:     regexp.MustCompile(`(?i)\b(?:(?:before|after|with)\s+(?:food|meals?|breakfast|lunch|dinner|supper)|(?:on\s+(?:an\s+)?)?empty\s+stomach)\b`),
		timingRe:   regexp.MustCompile(`(?i)\b(morning|afternoon|evening|night|bedtime)\b`),
	}
}

func toSet(words ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		out[w] = struct{}{}
	}
	return out
}

// IsHeaderWord reports whether w (any case) is a header denylist word.
func (r *RuleSet) IsHeaderWord(w string) bool {
	_, ok := r.HeaderWords[strings.ToLower(w)]
	return ok
}

// FormFor returns the canonical form for a keyword.
func (r *RuleSet) FormFor(w string) (string, bool) {
	f, ok := r.Forms[strings.ToLower(w)]
	return f, ok
}

// Frequency looks up an abbreviation case-insensitively.
func (r *RuleSet) Frequency(code string) (FrequencyRule, bool) {
	f, ok := r.Frequencies[strings.ToUpper(code)]
	return f, ok
}

// NormalizedForCount words a per-day dose count.
func NormalizedForCount(n int) string {
	switch n {
	case 0:
		return ""
	case 1:
		return "once daily"
	case 2:
		return "twice daily"
	case 3:
		return "three times daily"
	case 4:
		return "four times daily"
	}
	return strconv.Itoa(n) + " times daily"
}
