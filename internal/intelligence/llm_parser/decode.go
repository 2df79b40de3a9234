package llm_parser

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/turtacn/MedPlan-Intelligence/internal/domain/medication"
	"github.com/turtacn/MedPlan-Intelligence/internal/intelligence/rx_extractor"
	"github.com/turtacn/MedPlan-Intelligence/pkg/errors"
)

// RuleLLM is the evidence rule identifier for oracle-produced fields.
const RuleLLM = "llm.json"

// DefaultRecordConfidence applies when the oracle reports no confidence.
const DefaultRecordConfidence = 0.6

const maxSuggestions = 4

// ExtractJSONObject strips markdown fences and surrounding prose and returns
// the outermost JSON object text.
func ExtractJSONObject(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return "", errors.New(errors.ErrCodeOracleOutput, "invalid LLM output: no JSON object found")
	}
	return s[start : end+1], nil
}

// partialPlan is the loosely typed first decoding stage. Every field is
// optional and raw so that casing and type drift can be normalised later.
type partialPlan struct {
	Medications            *[]map[string]json.RawMessage `json:"medications"`
	ExtractedLanguage      json.RawMessage               `json:"extracted_language"`
	ClarificationQuestions []map[string]json.RawMessage  `json:"clarification_questions"`
}

// DecodePlan turns oracle output into a MedicationPlan, filling defaults for
// absent fields. Malformed JSON or a missing medications list yields
// ErrCodeOracleOutput.
func DecodePlan(raw, languageHint string) (*medication.MedicationPlan, error) {
	obj, err := ExtractJSONObject(raw)
	if err != nil {
		return nil, err
	}
	var pp partialPlan
	if err := json.Unmarshal([]byte(obj), &pp); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeOracleOutput, "invalid LLM output: malformed JSON")
	}
	if pp.Medications == nil {
		return nil, errors.New(errors.ErrCodeOracleOutput, "invalid LLM output: medications missing")
	}

	plan := &medication.MedicationPlan{
		Medications:            make([]medication.MedicationRecord, 0, len(*pp.Medications)),
		ClarificationQuestions: []medication.ClarificationQuestion{},
		Source:                 medication.SourceLLM,
	}
	for _, m := range *pp.Medications {
		if m == nil {
			continue
		}
		plan.Medications = append(plan.Medications, decodeMedication(normalizeKeys(m)))
	}

	plan.ExtractedLanguage = strings.ToLower(asString(pp.ExtractedLanguage))
	if plan.ExtractedLanguage == "" {
		plan.ExtractedLanguage = strings.ToLower(languageHint)
	}
	if plan.ExtractedLanguage == "" {
		plan.ExtractedLanguage = "en"
	}

	for _, q := range pp.ClarificationQuestions {
		if q == nil {
			continue
		}
		if cq, ok := decodeQuestion(normalizeKeys(q), len(plan.Medications)); ok {
			plan.ClarificationQuestions = append(plan.ClarificationQuestions, cq)
		}
	}
	// The oracle's own needs_confirmation flag is ignored; confirmation is
	// owed only when there is a question to ask.
	plan.NeedsConfirmation = len(plan.ClarificationQuestions) > 0
	plan.ComputeOverallConfidence()
	return plan, nil
}

// ---------------------------------------------------------------------------
// Medication normalisation
// ---------------------------------------------------------------------------

func decodeMedication(m map[string]json.RawMessage) medication.MedicationRecord {
	rec := medication.MedicationRecord{
		Name:                str(m, "name", "drug_name", "medicine", "medication", "drug"),
		Strength:            str(m, "strength", "dose", "dosage"),
		Form:                strings.ToLower(str(m, "form", "dosage_form")),
		FrequencyCode:       strings.ToUpper(str(m, "frequency_code", "frequency_abbreviation")),
		DosePattern:         str(m, "dose_pattern", "pattern"),
		NormalizedFrequency: str(m, "normalized_frequency", "frequency"),
		Duration:            str(m, "duration"),
		FoodInstruction:     str(m, "food_instruction", "food", "instructions"),
		Notes:               str(m, "notes", "note"),
		FieldConfidence:     make(map[medication.Field]float64),
		Evidence:            make(map[medication.Field]medication.FieldEvidence),
	}

	rules := rx_extractor.DefaultRuleSet()
	// an abbreviation may arrive in the frequency slot
	if rec.FrequencyCode == "" {
		if fr, ok := rules.Frequency(rec.NormalizedFrequency); ok {
			rec.FrequencyCode = fr.Code
			rec.NormalizedFrequency = fr.Normalized
		}
	}

	timing, hasTiming := decodeTiming(m["timing"])
	switch {
	case hasTiming:
		rec.Timing = timing
	case rec.DosePattern != "":
		rec.Timing = timingFromPattern(rec.DosePattern)
	case rec.FrequencyCode != "":
		if fr, ok := rules.Frequency(rec.FrequencyCode); ok {
			rec.Timing = fr.Timing
		}
	}
	if rec.NormalizedFrequency == "" {
		if fr, ok := rules.Frequency(rec.FrequencyCode); ok {
			rec.NormalizedFrequency = fr.Normalized
		} else {
			rec.NormalizedFrequency = rx_extractor.NormalizedForCount(rec.Timing.Total())
		}
	}
	if rec.Duration == "" {
		rec.Duration = medication.DurationAsDirected
	}

	conf, ok := num(m, "confidence", "overall_confidence")
	if !ok {
		conf = DefaultRecordConfidence
	}
	rec.Confidence = medication.RoundConfidence(conf)

	fc := normalizeKeysAny(m["field_confidence"])
	for _, f := range []medication.Field{
		medication.FieldDrugName, medication.FieldStrength, medication.FieldFrequency,
		medication.FieldDuration, medication.FieldFoodInstruction, medication.FieldForm,
	} {
		value := rec.FieldValue(f)
		if value == "" {
			continue
		}
		c := rec.Confidence
		if v, ok := num(fc, string(f)); ok {
			c = medication.RoundConfidence(v)
		}
		rec.FieldConfidence[f] = c
		rec.Evidence[f] = medication.FieldEvidence{Value: value, Confidence: c, RuleID: RuleLLM}
	}
	return rec
}

func timingFromPattern(p string) medication.TimingBuckets {
	var tb medication.TimingBuckets
	parts := strings.Split(p, "-")
	for i, part := range parts {
		if i >= len(medication.AllSlots) {
			break
		}
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		tb.Set(medication.AllSlots[i], n)
	}
	return tb
}

// decodeTiming accepts {"morning":1,...}, a dose pattern string, or a list of
// slot names.
func decodeTiming(raw json.RawMessage) (medication.TimingBuckets, bool) {
	var tb medication.TimingBuckets
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return tb, false
	}
	switch raw[0] {
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return tb, false
		}
		obj = normalizeKeys(obj)
		found := false
		for _, s := range medication.AllSlots {
			keys := []string{string(s)}
			if s == medication.SlotNight {
				keys = append(keys, "bedtime")
			}
			if v, ok := num(obj, keys...); ok {
				tb.Set(s, int(v))
				found = true
			}
		}
		return tb, found
	case '"':
		s := asString(raw)
		if strings.Contains(s, "-") {
			tb = timingFromPattern(s)
			return tb, !tb.IsEmpty()
		}
		return tb, false
	case '[':
		var names []string
		if err := json.Unmarshal(raw, &names); err != nil {
			return tb, false
		}
		for _, n := range names {
			n = strings.ToLower(strings.TrimSpace(n))
			if n == "bedtime" {
				n = string(medication.SlotNight)
			}
			slot := medication.TimeSlot(n)
			tb.Set(slot, tb.Count(slot)+1)
		}
		return tb, !tb.IsEmpty()
	}
	return tb, false
}

// ---------------------------------------------------------------------------
// Questions
// ---------------------------------------------------------------------------

func decodeQuestion(m map[string]json.RawMessage, medCount int) (medication.ClarificationQuestion, bool) {
	q := medication.ClarificationQuestion{
		Field:           medication.Field(strings.ToLower(str(m, "field"))),
		Question:        str(m, "question"),
		DetectedValue:   str(m, "detected_value", "value"),
		MedicationIndex: -1,
	}
	if q.Question == "" {
		return q, false
	}
	if q.Field == "" {
		q.Field = medication.FieldDrugName
	}
	if c, ok := num(m, "confidence"); ok {
		q.Confidence = medication.RoundConfidence(c)
	}
	if idx, ok := num(m, "medication_index"); ok && int(idx) >= 0 && int(idx) < medCount {
		q.MedicationIndex = int(idx)
	}
	var sugg []string
	if raw, ok := m["suggestions"]; ok {
		_ = json.Unmarshal(raw, &sugg)
	}
	for _, s := range sugg {
		if s = strings.TrimSpace(s); s != "" {
			q.Suggestions = append(q.Suggestions, s)
		}
	}
	if len(q.Suggestions) == 0 && q.DetectedValue != "" {
		q.Suggestions = []string{q.DetectedValue}
	}
	if len(q.Suggestions) > maxSuggestions {
		q.Suggestions = q.Suggestions[:maxSuggestions]
	}
	if q.Suggestions == nil {
		q.Suggestions = []string{}
	}
	return q, true
}

// ---------------------------------------------------------------------------
// Loose scalar access
// ---------------------------------------------------------------------------

func normalizeKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	k = strings.ReplaceAll(k, "-", "_")
	return strings.ReplaceAll(k, " ", "_")
}

func normalizeKeys(m map[string]json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(m))
	for k, v := range m {
		out[normalizeKey(k)] = v
	}
	return out
}

func normalizeKeysAny(raw json.RawMessage) map[string]json.RawMessage {
	var m map[string]json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &m) != nil {
		return nil
	}
	return normalizeKeys(m)
}

func str(m map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(asString(m[k])); v != "" {
			return v
		}
	}
	return ""
}

func num(m map[string]json.RawMessage, keys ...string) (float64, bool) {
	for _, k := range keys {
		if f, ok := asFloat(m[k]); ok {
			return f, true
		}
	}
	return 0, false
}

// asString renders strings, numbers and booleans as text; anything else is "".
func asString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b)
	}
	return ""
}

func asFloat(raw json.RawMessage) (float64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSuffix(strings.TrimSpace(s), "%")
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			if v > 1 && v <= 100 {
				v /= 100
			}
			return v, true
		}
	}
	return 0, false
}
