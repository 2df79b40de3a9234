package medication

import (
	"context"
	"strings"
)

// DrugInfo is reference information about a medicine used by the
// explainability composer. Absence is represented by a lookup miss, never by
// fabricated content.
type DrugInfo struct {
	Name        string   `json:"name" yaml:"name"`
	GenericName string   `json:"generic_name,omitempty" yaml:"generic_name"`
	Indications []string `json:"indications,omitempty" yaml:"indications"`
	Mechanism   string   `json:"mechanism,omitempty" yaml:"mechanism"`
	SideEffects []string `json:"side_effects,omitempty" yaml:"side_effects"`
	Precautions []string `json:"precautions,omitempty" yaml:"precautions"`
	Source      string   `json:"source,omitempty" yaml:"source"`
}

// DrugInfoRepository is the drug reference lookup contract.
type DrugInfoRepository interface {
	// FindByName resolves name case-insensitively. A miss returns an
	// AppError with ErrCodeDrugInfoNotFound.
	FindByName(ctx context.Context, name string) (*DrugInfo, error)

	// Save inserts or replaces the entry keyed by its normalised name.
	Save(ctx context.Context, info *DrugInfo) error

	// List returns every entry ordered by name.
	List(ctx context.Context) ([]DrugInfo, error)
}

// NormalizeDrugName lower-cases and collapses whitespace for lookups.
func NormalizeDrugName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
