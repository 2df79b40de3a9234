// Package interaction_checker looks a medication list up against a static
// contraindication table. Checks are pure: no I/O and no mutation of the
// inputs or the table.
package interaction_checker

import (
	"fmt"
	"sort"
	"strings"

	"github.com/turtacn/MedPlan-Intelligence/internal/domain/interaction"
	"github.com/turtacn/MedPlan-Intelligence/internal/infrastructure/monitoring/logging"
)

// Checker runs the three interaction checks.
type Checker interface {
	// CheckDrugInteractions returns one result per interacting unordered pair.
	CheckDrugInteractions(drugs []string) []interaction.Result
	// CheckConditions returns at most one result per drug and condition.
	CheckConditions(drugs, conditions []string) []interaction.Result
	// CheckAllergies returns at most one result per drug and allergy.
	CheckAllergies(drugs, allergies []string) []interaction.Result
	// Check runs all three and aggregates them.
	Check(drugs, conditions, allergies []string) *interaction.Report
}

type checkerImpl struct {
	table  *interaction.Table
	logger logging.Logger

	conditionKeys []string
	allergyKeys   []string
}

// NewChecker builds a Checker over table. A nil table uses DefaultTable.
func NewChecker(table *interaction.Table, logger logging.Logger) Checker {
	if table == nil {
		table = DefaultTable()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &checkerImpl{
		table:         table,
		logger:        logger.Named("interaction_checker"),
		conditionKeys: sortedKeys(table.Conditions),
		allergyKeys:   sortedKeys(table.Allergies),
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// keyLabel turns a table key such as "kidney_disease" into matchable text.
func keyLabel(k string) string {
	return strings.ReplaceAll(k, "_", " ")
}

// ---------------------------------------------------------------------------
// Drug-drug
// ---------------------------------------------------------------------------

const drugDrugRecommendation = "Consult your doctor or pharmacist before taking these medicines together."

func (c *checkerImpl) CheckDrugInteractions(drugs []string) []interaction.Result {
	out := []interaction.Result{}
	for i := 0; i < len(drugs); i++ {
		for j := i + 1; j < len(drugs); j++ {
			a, b := strings.TrimSpace(drugs[i]), strings.TrimSpace(drugs[j])
			if a == "" || b == "" || strings.EqualFold(a, b) {
				continue
			}
			if c.pairInteracts(a, b) || c.pairInteracts(b, a) {
				out = append(out, interaction.Result{
					DrugA:          a,
					DrugB:          b,
					Kind:           interaction.KindDrugDrug,
					Severity:       interaction.SeverityModerate,
					Description:    fmt.Sprintf("%s may interact with %s.", a, b),
					Recommendation: drugDrugRecommendation,
					Source:         c.table.Source,
				})
			}
		}
	}
	return out
}

// pairInteracts reports whether a has a table entry listing b.
func (c *checkerImpl) pairInteracts(a, b string) bool {
	for _, e := range c.table.Drugs {
		if interaction.LooseMatch(a, e.Drug) && interaction.MatchAny(b, e.Interactions) {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Drug-condition
// ---------------------------------------------------------------------------

type conditionCategory struct {
	name           string
	severity       interaction.Severity
	list           func(interaction.ConditionEntry) []string
	description    string
	recommendation string
}

// conditionCategories is ordered by priority; the first matching list wins.
var conditionCategories = []conditionCategory{
	{
		name:           "avoid",
		severity:       interaction.SeveritySevere,
		list:           func(e interaction.ConditionEntry) []string { return e.Avoid },
		description:    "%s is usually avoided in people with %s.",
		recommendation: "Do not start %s without talking to your doctor.",
	},
	{
		name:           "high_risk",
		severity:       interaction.SeveritySevere,
		list:           func(e interaction.ConditionEntry) []string { return e.HighRisk },
		description:    "%s carries a high risk for people with %s.",
		recommendation: "Check with your doctor that %s is right for you.",
	},
	{
		name:           "monitor",
		severity:       interaction.SeverityModerate,
		list:           func(e interaction.ConditionEntry) []string { return e.Monitor },
		description:    "%s needs extra monitoring in people with %s.",
		recommendation: "Keep your follow-up appointments while taking %s.",
	},
	{
		name:           "caution",
		severity:       interaction.SeverityMinor,
		list:           func(e interaction.ConditionEntry) []string { return e.Caution },
		description:    "Use %s with caution if you have %s.",
		recommendation: "Mention %s to your pharmacist.",
	},
}

func (c *checkerImpl) CheckConditions(drugs, conditions []string) []interaction.Result {
	out := []interaction.Result{}
	for _, drug := range drugs {
		drug = strings.TrimSpace(drug)
		if drug == "" {
			continue
		}
		for _, cond := range conditions {
			cond = strings.TrimSpace(cond)
			if cond == "" {
				continue
			}
			if r, ok := c.conditionResult(drug, cond); ok {
				out = append(out, r)
			}
		}
	}
	return out
}

func (c *checkerImpl) conditionResult(drug, cond string) (interaction.Result, bool) {
	best := -1
	for _, key := range c.conditionKeys {
		if !interaction.LooseMatch(cond, keyLabel(key)) {
			continue
		}
		entry := c.table.Conditions[key]
		for i, cat := range conditionCategories {
			if best != -1 && i >= best {
				break
			}
			if interaction.MatchAny(drug, cat.list(entry)) {
				best = i
				break
			}
		}
	}
	if best == -1 {
		return interaction.Result{}, false
	}
	cat := conditionCategories[best]
	return interaction.Result{
		DrugA:          drug,
		DrugB:          cond,
		Kind:           interaction.KindDrugCondition,
		Severity:       cat.severity,
		Description:    fmt.Sprintf(cat.description, drug, cond),
		Recommendation: fmt.Sprintf(cat.recommendation, drug),
		Source:         c.table.Source,
	}, true
}

// ---------------------------------------------------------------------------
// Drug-allergy
// ---------------------------------------------------------------------------

func (c *checkerImpl) CheckAllergies(drugs, allergies []string) []interaction.Result {
	out := []interaction.Result{}
	for _, drug := range drugs {
		drug = strings.TrimSpace(drug)
		if drug == "" {
			continue
		}
		for _, allergy := range allergies {
			allergy = strings.TrimSpace(allergy)
			if allergy == "" || !c.allergyMatches(drug, allergy) {
				continue
			}
			out = append(out, interaction.Result{
				DrugA:          drug,
				DrugB:          allergy,
				Kind:           interaction.KindDrugAllergy,
				Severity:       interaction.SeverityUnknown,
				Description:    fmt.Sprintf("Warning: %s may not be safe with a %s allergy.", drug, allergy),
				Recommendation: fmt.Sprintf("Confirm with your doctor or pharmacist before taking %s.", drug),
				Source:         c.table.Source,
			})
		}
	}
	return out
}

func (c *checkerImpl) allergyMatches(drug, allergy string) bool {
	for _, key := range c.allergyKeys {
		if interaction.LooseMatch(allergy, keyLabel(key)) &&
			interaction.MatchAny(drug, c.table.Allergies[key].AvoidDrugs) {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Aggregate
// ---------------------------------------------------------------------------

func (c *checkerImpl) Check(drugs, conditions, allergies []string) *interaction.Report {
	r := &interaction.Report{
		DrugDrug:      c.CheckDrugInteractions(drugs),
		DrugCondition: c.CheckConditions(drugs, conditions),
		DrugAllergy:   c.CheckAllergies(drugs, allergies),
	}
	r.HasInteractions = len(r.DrugDrug) > 0 || len(r.DrugCondition) > 0 || len(r.DrugAllergy) > 0
	if r.HasInteractions {
		c.logger.Debug("interactions found",
			logging.Int("drug_drug", len(r.DrugDrug)),
			logging.Int("drug_condition", len(r.DrugCondition)),
			logging.Int("drug_allergy", len(r.DrugAllergy)))
	}
	return r
}
