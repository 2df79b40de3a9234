// Package interaction defines contraindication table types and the results
// produced by checking a medication list against them.
package interaction

import "strings"

// Severity grades an interaction.
type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
	SeverityUnknown  Severity = "unknown"
)

// Rank orders severities for sorting and display; unknown ranks lowest.
func (s Severity) Rank() int {
	switch s {
	case SeveritySevere:
		return 3
	case SeverityModerate:
		return 2
	case SeverityMinor:
		return 1
	}
	return 0
}

// Kind distinguishes the three checks.
type Kind string

const (
	KindDrugDrug      Kind = "drug_drug"
	KindDrugCondition Kind = "drug_condition"
	KindDrugAllergy   Kind = "drug_allergy"
)

// Result is one detected interaction. DrugA is always a plan medication;
// DrugB is the second medication, the condition, or the allergy.
type Result struct {
	DrugA          string   `json:"drug_a"`
	DrugB          string   `json:"drug_b"`
	Kind           Kind     `json:"kind"`
	Severity       Severity `json:"severity"`
	Description    string   `json:"description"`
	Recommendation string   `json:"recommendation"`
	Source         string   `json:"source"`
}

// Report aggregates the three checks for one request.
type Report struct {
	DrugDrug        []Result `json:"drug_drug"`
	DrugCondition   []Result `json:"drug_condition"`
	DrugAllergy     []Result `json:"drug_allergy"`
	HasInteractions bool     `json:"has_interactions"`
}

// All returns every result in check order.
func (r *Report) All() []Result {
	out := make([]Result, 0, len(r.DrugDrug)+len(r.DrugCondition)+len(r.DrugAllergy))
	out = append(out, r.DrugDrug...)
	out = append(out, r.DrugCondition...)
	out = append(out, r.DrugAllergy...)
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// Contraindication table
// ─────────────────────────────────────────────────────────────────────────────

// DrugEntry lists the drugs known to interact with Drug.
type DrugEntry struct {
	Drug         string   `json:"drug" yaml:"drug"`
	Interactions []string `json:"interactions" yaml:"interactions"`
}

// ConditionEntry groups drugs by how risky they are for a condition.
type ConditionEntry struct {
	HighRisk []string `json:"high_risk" yaml:"high_risk"`
	Caution  []string `json:"caution" yaml:"caution"`
	Avoid    []string `json:"avoid" yaml:"avoid"`
	Monitor  []string `json:"monitor" yaml:"monitor"`
}

// AllergyEntry lists drugs to avoid for an allergy.
type AllergyEntry struct {
	AvoidDrugs []string `json:"avoid_drugs" yaml:"avoid_drugs"`
}

// Table is the static contraindication data. It is loaded once and shared
// read-only.
type Table struct {
	Source     string                    `json:"source" yaml:"source"`
	Drugs      []DrugEntry               `json:"drugs" yaml:"drugs"`
	Conditions map[string]ConditionEntry `json:"conditions" yaml:"conditions"`
	Allergies  map[string]AllergyEntry   `json:"allergies" yaml:"allergies"`
}

// LooseMatch reports whether a and b match case-insensitively by substring
// containment in either direction. Empty strings never match.
//
// This tolerates OCR and LLM name variants at the cost of false positives
// such as short names matching inside longer ones.
func LooseMatch(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// MatchAny reports whether name loosely matches any entry of list.
func MatchAny(name string, list []string) bool {
	for _, item := range list {
		if LooseMatch(name, item) {
			return true
		}
	}
	return false
}
