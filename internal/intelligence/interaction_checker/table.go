package interaction_checker

import (
	_ "embed"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/turtacn/MedPlan-Intelligence/internal/domain/interaction"
	"github.com/turtacn/MedPlan-Intelligence/pkg/errors"
)

//go:embed default_table.yaml
var defaultTableYAML []byte

var (
	defaultTableOnce sync.Once
	defaultTable     *interaction.Table
)

// DefaultTable returns the built-in contraindication table. The embedded data
// is validated by tests, so a decode failure here is a programming error.
func DefaultTable() *interaction.Table {
	defaultTableOnce.Do(func() {
		t, err := DecodeTable(defaultTableYAML)
		if err != nil {
			panic(err)
		}
		defaultTable = t
	})
	return defaultTable
}

// DecodeTable parses a YAML contraindication table.
func DecodeTable(data []byte) (*interaction.Table, error) {
	var t interaction.Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeTableInvalid, "decode contraindication table")
	}
	if len(t.Drugs) == 0 && len(t.Conditions) == 0 && len(t.Allergies) == 0 {
		return nil, errors.New(errors.ErrCodeTableInvalid, "contraindication table is empty")
	}
	for i, d := range t.Drugs {
		if d.Drug == "" {
			return nil, errors.Newf(errors.ErrCodeTableInvalid, "drug entry %d has no name", i)
		}
	}
	if t.Source == "" {
		t.Source = "contraindication table"
	}
	return &t, nil
}

// LoadTableFile reads a table from path. An empty path returns DefaultTable.
func LoadTableFile(path string) (*interaction.Table, error) {
	if path == "" {
		return DefaultTable(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrCodeTableInvalid, "read contraindication table %s", path)
	}
	return DecodeTable(data)
}
