// Package rx_extractor turns prescription text into structured medication
// records using regular expressions and static lookup tables. Extraction is
// pure: the same input and rule set always yield the same records.
package rx_extractor

import (
	"context"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/turtacn/MedPlan-Intelligence/internal/domain/medication"
	"github.com/turtacn/MedPlan-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MedPlan-Intelligence/pkg/errors"
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// ExtractorConfig controls scoring and input limits.
type ExtractorConfig struct {
	// BaseConfidence is the score every accepted record starts from and the
	// floor it is clamped to.
	BaseConfidence float64 `json:"base_confidence" yaml:"base_confidence"`
	// MaxLines bounds the number of lines scanned. Zero means unlimited.
	MaxLines int `json:"max_lines" yaml:"max_lines"`
}

// DefaultExtractorConfig returns the stock configuration.
func DefaultExtractorConfig() ExtractorConfig {
	return ExtractorConfig{
		BaseConfidence: 0.3,
		MaxLines:       500,
	}
}

// Score increments for detected fields.
const (
	bonusStrength = 0.2
	bonusPattern  = 0.2
	bonusAbbrev   = 0.15
	bonusDuration = 0.1
	bonusFood     = 0.1
)

// Per-field rule confidences.
const (
	confNameForm    = 0.85
	confNameFirst   = 0.6
	confStrength    = 0.9
	confPattern     = 0.9
	confAbbrev      = 0.85
	confTimingWord  = 0.7
	confDuration    = 0.85
	confFood        = 0.8
	confForm        = 0.9
	minNameTokenLen = 3
)

// Rejection reasons reported in ExtractionResult.Rejected.
const (
	RejectTooShort = "too_short"
	RejectHeader   = "header"
	RejectNumeric  = "numeric"
	RejectNoSignal = "no_medication_signal"
	RejectNoName   = "no_drug_name"
)

// ---------------------------------------------------------------------------
// Results
// ---------------------------------------------------------------------------

// RejectedLine records why a line produced no record.
type RejectedLine struct {
	LineNumber int    `json:"line_number"`
	Text       string `json:"text"`
	Reason     string `json:"reason"`
}

// ExtractionResult is the output of one extraction pass.
type ExtractionResult struct {
	Records       []medication.MedicationRecord `json:"records"`
	LinesScanned  int                           `json:"lines_scanned"`
	LinesAccepted int                           `json:"lines_accepted"`
	Rejected      []RejectedLine                `json:"rejected,omitempty"`
}

// ---------------------------------------------------------------------------
// Interface
// ---------------------------------------------------------------------------

// Extractor is the rule-based medication extractor.
type Extractor interface {
	// Extract parses plain text. Records appear in line order; duplicates
	// are kept.
	Extract(ctx context.Context, text string) (*ExtractionResult, error)

	// ExtractWithTokens parses text recognised from an image. Field
	// confidences are capped by the confidence of the OCR tokens that
	// support them, and the tokens are kept as evidence.
	ExtractWithTokens(ctx context.Context, text string, tokens []medication.OCRToken) (*ExtractionResult, error)
}

type extractorImpl struct {
	cfg    ExtractorConfig
	rules  *RuleSet
	logger logging.Logger
}

// NewExtractor builds an Extractor. A nil rules uses DefaultRuleSet and a nil
// logger discards output.
func NewExtractor(cfg ExtractorConfig, rules *RuleSet, logger logging.Logger) Extractor {
	if cfg.BaseConfidence <= 0 || cfg.BaseConfidence > 1 {
		cfg.BaseConfidence = DefaultExtractorConfig().BaseConfidence
	}
	if cfg.MaxLines < 0 {
		cfg.MaxLines = 0
	}
	if rules == nil {
		rules = DefaultRuleSet()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &extractorImpl{cfg: cfg, rules: rules, logger: logger.Named("rx_extractor")}
}

func (e *extractorImpl) Extract(ctx context.Context, text string) (*ExtractionResult, error) {
	return e.extract(ctx, text, nil)
}

func (e *extractorImpl) ExtractWithTokens(ctx context.Context, text string, tokens []medication.OCRToken) (*ExtractionResult, error) {
	return e.extract(ctx, text, tokens)
}

func (e *extractorImpl) extract(ctx context.Context, text string, tokens []medication.OCRToken) (*ExtractionResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	lines := splitLines(NormalizeText(text))
	if e.cfg.MaxLines > 0 && len(lines) > e.cfg.MaxLines {
		e.logger.Warn("line limit reached, truncating input",
			logging.Int("lines", len(lines)), logging.Int("max_lines", e.cfg.MaxLines))
		lines = lines[:e.cfg.MaxLines]
	}

	var lineTokens [][]medication.OCRToken
	if len(tokens) > 0 {
		lineTokens = assignTokens(lines, tokens)
	}

	res := &ExtractionResult{Records: []medication.MedicationRecord{}}
	for i, line := range lines {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeTimeout, "extraction cancelled")
		}
		if line == "" {
			continue
		}
		res.LinesScanned++

		if reason := e.screen(line); reason != "" {
			res.Rejected = append(res.Rejected, RejectedLine{LineNumber: i + 1, Text: line, Reason: reason})
			continue
		}

		var toks []medication.OCRToken
		if lineTokens != nil {
			toks = lineTokens[i]
		}
		rec, ok := e.parseLine(line, toks)
		if !ok {
			res.Rejected = append(res.Rejected, RejectedLine{LineNumber: i + 1, Text: line, Reason: RejectNoName})
			continue
		}
		rec.SourceLine = i + 1
		res.Records = append(res.Records, rec)
		res.LinesAccepted++
	}

	e.logger.Debug("extraction complete",
		logging.Int("lines_scanned", res.LinesScanned),
		logging.Int("records", len(res.Records)),
		logging.Int("rejected", len(res.Rejected)))
	return res, nil
}

// ---------------------------------------------------------------------------
// Line screening
// ---------------------------------------------------------------------------

// screen returns a rejection reason, or "" when the line looks like a
// medication line.
func (e *extractorImpl) screen(line string) string {
	if len([]rune(line)) < 3 {
		return RejectTooShort
	}
	if !hasLetter(line) {
		return RejectNumeric
	}
	words := strings.Fields(line)
	if len(words) > 0 && e.rules.IsHeaderWord(cleanWord(words[0])) {
		return RejectHeader
	}
	if !e.hasSignal(line, words) {
		return RejectNoSignal
	}
	return ""
}

func (e *extractorImpl) hasSignal(line string, words []string) bool {
	r := e.rules
	if r.strengthRe.MatchString(line) || r.freqRe.MatchString(line) ||
		r.durationRe.MatchString(line) || r.patternRe.MatchString(line) {
		return true
	}
	for _, w := range words {
		if _, ok := r.FormFor(cleanWord(w)); ok {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Field extraction
// ---------------------------------------------------------------------------

type fieldHit struct {
	value  string
	conf   float64
	ruleID string
}

func (e *extractorImpl) parseLine(line string, toks []medication.OCRToken) (medication.MedicationRecord, bool) {
	r := e.rules
	words := strings.Fields(line)

	rec := medication.MedicationRecord{
		RawLine:         line,
		FieldConfidence: make(map[medication.Field]float64),
		Evidence:        make(map[medication.Field]medication.FieldEvidence),
	}
	hits := make(map[medication.Field]fieldHit)

	name, form := e.findName(words)
	if name.value == "" {
		return rec, false
	}
	rec.Name = name.value
	hits[medication.FieldDrugName] = name
	if form.value != "" {
		rec.Form = form.value
		hits[medication.FieldForm] = form
	}

	score := e.cfg.BaseConfidence

	if m := r.strengthRe.FindStringSubmatch(line); m != nil {
		rec.Strength = formatStrength(m[1], m[2])
		hits[medication.FieldStrength] = fieldHit{value: rec.Strength, conf: confStrength, ruleID: RuleStrengthUnit}
		score += bonusStrength
	}

	freq := e.findFrequency(line, &rec)
	if freq.value != "" {
		hits[medication.FieldFrequency] = freq
		switch freq.ruleID {
		case RuleFrequencyPattern:
			score += bonusPattern
		case RuleFrequencyAbbrev:
			score += bonusAbbrev
		case RuleTimingOverride:
			if rec.DosePattern != "" {
				score += bonusPattern
			} else {
				score += bonusAbbrev
			}
		}
	}

	if m := r.durationRe.FindStringSubmatch(line); m != nil {
		rec.Duration = formatDuration(m[1], m[2])
		hits[medication.FieldDuration] = fieldHit{value: rec.Duration, conf: confDuration, ruleID: RuleDurationPhrase}
		score += bonusDuration
	}

	if m := r.foodRe.FindString(line); m != "" {
		rec.FoodInstruction = strings.Join(strings.Fields(m), " ")
		hits[medication.FieldFoodInstruction] = fieldHit{value: rec.FoodInstruction, conf: confFood, ruleID: RuleFoodInstruction}
		score += bonusFood
	}

	for f, h := range hits {
		conf := h.conf
		ev := medication.FieldEvidence{Value: h.value, RuleID: h.ruleID}
		if len(toks) > 0 {
			ev.Tokens = matchTokens(h.value, toks)
			for _, t := range ev.Tokens {
				if tc := medication.ClampConfidence(t.Confidence); tc < conf {
					conf = tc
				}
			}
		}
		ev.Confidence = medication.RoundConfidence(conf)
		rec.FieldConfidence[f] = ev.Confidence
		rec.Evidence[f] = ev
	}

	if score < e.cfg.BaseConfidence {
		score = e.cfg.BaseConfidence
	}
	rec.Confidence = medication.RoundConfidence(score)
	return rec, true
}

// findName applies the form-prefix rule, then the first-plausible-token rule.
func (e *extractorImpl) findName(words []string) (name, form fieldHit) {
	for i, w := range words {
		f, ok := e.rules.FormFor(cleanWord(w))
		if !ok {
			continue
		}
		if form.value == "" {
			form = fieldHit{value: f, conf: confForm, ruleID: RuleFormKeyword}
		}
		if i+1 < len(words) {
			next := cleanWord(words[i+1])
			if startsWithLetter(next) && !e.isStopword(next) {
				return fieldHit{value: next, conf: confNameForm, ruleID: RuleNameFormPrefix}, form
			}
		}
	}
	for _, w := range words {
		c := cleanWord(w)
		if len([]rune(c)) >= minNameTokenLen && isAlphabetic(c) && !e.isStopword(c) {
			return fieldHit{value: c, conf: confNameFirst, ruleID: RuleNameFirstToken}, form
		}
	}
	return fieldHit{}, form
}

func (e *extractorImpl) isStopword(w string) bool {
	_, ok := e.rules.NameStopwords[strings.ToLower(w)]
	return ok
}

// findFrequency fills timing, pattern and frequency fields on rec. A numeric
// dose pattern wins over an abbreviation; a bare timing word, the last one on
// the line, then replaces whatever buckets were assigned.
func (e *extractorImpl) findFrequency(line string, rec *medication.MedicationRecord) fieldHit {
	r := e.rules
	var hit fieldHit

	if m := r.patternRe.FindStringSubmatch(line); m != nil {
		slots := []medication.TimeSlot{medication.SlotMorning, medication.SlotAfternoon, medication.SlotEvening, medication.SlotNight}
		parts := make([]string, 0, 4)
		for i, g := range m[1:5] {
			if g == "" {
				continue
			}
			n := int(g[0] - '0')
			rec.Timing.Set(slots[i], n)
			parts = append(parts, g)
		}
		rec.DosePattern = strings.Join(parts, "-")
		rec.NormalizedFrequency = NormalizedForCount(rec.Timing.Total())
		hit = fieldHit{value: rec.DosePattern, conf: confPattern, ruleID: RuleFrequencyPattern}
	} else if m := r.freqRe.FindStringSubmatch(line); m != nil {
		if fr, ok := r.Frequency(m[1]); ok {
			rec.FrequencyCode = fr.Code
			rec.NormalizedFrequency = fr.Normalized
			rec.Timing = fr.Timing
			hit = fieldHit{value: fr.Code, conf: confAbbrev, ruleID: RuleFrequencyAbbrev}
		}
	}

	words := r.timingRe.FindAllString(line, -1)
	if len(words) == 0 {
		return hit
	}
	last := strings.ToLower(words[len(words)-1])
	slot, ok := r.TimingWords[last]
	if !ok {
		return hit
	}
	rec.Timing = medication.TimingBuckets{}
	rec.Timing.Set(slot, 1)

	if hit.value == "" {
		rec.NormalizedFrequency = NormalizedForCount(1)
		return fieldHit{value: last, conf: confTimingWord, ruleID: RuleFrequencyTimingWord}
	}
	if rec.DosePattern != "" {
		rec.NormalizedFrequency = NormalizedForCount(rec.Timing.Total())
	}
	hit.ruleID = RuleTimingOverride
	return hit
}

// ---------------------------------------------------------------------------
// Formatting
// ---------------------------------------------------------------------------

func formatStrength(num, unit string) string {
	switch u := strings.ToLower(unit); u {
	case "iu":
		return num + "IU"
	case "μg":
		return num + "mcg"
	case "unit", "units":
		if num == "1" {
			return num + " unit"
		}
		return num + " units"
	default:
		return num + u
	}
}

func formatDuration(num, unit string) string {
	unit = strings.ToLower(unit)
	if num != "1" {
		unit += "s"
	}
	return num + " " + unit
}

// ---------------------------------------------------------------------------
// Text helpers
// ---------------------------------------------------------------------------

// NormalizeText applies NFKC compatibility normalisation, maps the
// multiplication sign to "x" and unifies line endings.
func NormalizeText(s string) string {
	s = norm.NFKC.String(s)
	s = strings.ReplaceAll(s, "×", "x")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

func splitLines(s string) []string {
	raw := strings.Split(s, "\n")
	out := make([]string, len(raw))
	for i, l := range raw {
		out[i] = strings.Join(strings.Fields(l), " ")
	}
	return out
}

func cleanWord(w string) string {
	return strings.TrimFunc(w, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

func startsWithLetter(s string) bool {
	for _, r := range s {
		return unicode.IsLetter(r)
	}
	return false
}

func isAlphabetic(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && r != '-' {
			return false
		}
	}
	return true
}

// ---------------------------------------------------------------------------
// OCR token alignment
// ---------------------------------------------------------------------------

func tokenKey(s string) string {
	return strings.ToLower(cleanWord(norm.NFKC.String(s)))
}

// assignTokens distributes reading-order OCR tokens across lines, advancing
// through each line left to right. A token that appears in no remaining line
// is skipped.
func assignTokens(lines []string, tokens []medication.OCRToken) [][]medication.OCRToken {
	lower := make([]string, len(lines))
	for i, l := range lines {
		lower[i] = strings.ToLower(l)
	}
	out := make([][]medication.OCRToken, len(lines))
	cur := 0
	for i := range lines {
		pos := 0
		for cur < len(tokens) {
			k := tokenKey(tokens[cur].Text)
			if k == "" || !containedInAny(lower[i:], k) {
				cur++
				continue
			}
			idx := strings.Index(lower[i][pos:], k)
			if idx < 0 {
				break
			}
			out[i] = append(out[i], tokens[cur])
			pos += idx + len(k)
			cur++
		}
	}
	return out
}

func containedInAny(lines []string, k string) bool {
	for _, l := range lines {
		if strings.Contains(l, k) {
			return true
		}
	}
	return false
}

// matchTokens returns the tokens supporting value, in value word order.
func matchTokens(value string, toks []medication.OCRToken) []medication.OCRToken {
	var out []medication.OCRToken
	used := make(map[int]bool)
	for _, w := range strings.Fields(strings.ToLower(value)) {
		w = cleanWord(w)
		if w == "" {
			continue
		}
		for i, t := range toks {
			if used[i] {
				continue
			}
			k := tokenKey(t.Text)
			if k == "" {
				continue
			}
			if k == w || strings.Contains(k, w) || strings.Contains(w, k) {
				out = append(out, t)
				used[i] = true
				break
			}
		}
	}
	return out
}
