package llm_parser

import (
	"fmt"
	"strings"
	"text/template"
	"unicode/utf8"
)

// Template names.
const (
	TemplateParsePrescription = "parse_prescription"
	TemplateAskMedicine       = "ask_medicine"
)

// PlanSystemPrompt constrains the oracle to the medication-plan schema.
const PlanSystemPrompt = `You convert prescriptions into structured JSON.
Respond with ONE JSON object and nothing else, using exactly this shape:
{
  "medications": [
    {
      "name": "string",
      "strength": "string, e.g. 5mg",
      "form": "tablet|capsule|syrup|injection|...",
      "frequency_code": "OD|BD|TDS|QDS|QID|PRN|HS|SOS|Q4H|Q6H|Q8H|Q12H|STAT or empty",
      "dose_pattern": "e.g. 1-0-1 or empty",
      "normalized_frequency": "plain words, e.g. twice daily",
      "timing": {"morning": 0, "afternoon": 0, "evening": 0, "night": 0},
      "duration": "e.g. 5 days",
      "food_instruction": "e.g. after food",
      "notes": "string",
      "confidence": 0.0,
      "field_confidence": {"drug_name": 0.0, "strength": 0.0, "frequency": 0.0}
    }
  ],
  "extracted_language": "ISO 639-1 code",
  "needs_confirmation": false,
  "clarification_questions": [
    {"field": "string", "question": "string", "detected_value": "string", "confidence": 0.0, "suggestions": ["string"], "medication_index": 0}
  ]
}
Never invent medicines, strengths or instructions that are not in the text.
If a value is unreadable, leave it empty and lower its confidence.`

// AskSystemPrompt frames the "ask about a medicine" chat path.
const AskSystemPrompt = `You are a careful medication information assistant.
Answer in plain language in at most five sentences.
Only give general information; never change a dose or tell someone to stop a medicine.
Always suggest confirming with a doctor or pharmacist.
If you are unsure, say so.`

var builtinTemplates = map[string]string{
	TemplateParsePrescription: `Extract every medication from this prescription.
Language hint: {{default "auto" .LanguageHint}}

Prescription text:
"""
{{truncate .MaxChars .Text}}
"""`,

	TemplateAskMedicine: `Question: {{.Question}}
{{- if .Medications}}
Current medicines: {{join .Medications ", "}}
{{- end}}
{{- if .Context}}
Context: {{.Context}}
{{- end}}`,
}

// ParsePromptData feeds TemplateParsePrescription.
type ParsePromptData struct {
	Text         string
	LanguageHint string
	MaxChars     int
}

// AskPromptData feeds TemplateAskMedicine.
type AskPromptData struct {
	Question    string
	Medications []string
	Context     string
}

// PromptBuilder renders the built-in prompt templates.
type PromptBuilder struct {
	templates map[string]*template.Template
}

// NewPromptBuilder parses the built-in templates.
func NewPromptBuilder() (*PromptBuilder, error) {
	pb := &PromptBuilder{templates: make(map[string]*template.Template, len(builtinTemplates))}
	for name, raw := range builtinTemplates {
		t, err := template.New(name).Funcs(funcMap()).Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		pb.templates[name] = t
	}
	return pb, nil
}

// Render executes a named template.
func (pb *PromptBuilder) Render(name string, data interface{}) (string, error) {
	t, ok := pb.templates[name]
	if !ok {
		return "", fmt.Errorf("template %q not registered", name)
	}
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render template %s: %w", name, err)
	}
	return sb.String(), nil
}

func funcMap() template.FuncMap {
	return template.FuncMap{
		"join":     strings.Join,
		"default":  templateDefault,
		"truncate": templateTruncate,
	}
}

func templateDefault(defaultVal, actual string) string {
	if strings.TrimSpace(actual) == "" {
		return defaultVal
	}
	return actual
}

func templateTruncate(maxLen int, s string) string {
	if maxLen <= 0 || utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen]) + "..."
}
