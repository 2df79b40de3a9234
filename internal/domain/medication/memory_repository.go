package medication

import (
	"context"
	_ "embed"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/turtacn/MedPlan-Intelligence/pkg/errors"
)

//go:embed drug_info_seed.yaml
var defaultDrugInfoSeed []byte

// minLooseMatchLen keeps very short OCR fragments from matching by containment.
const minLooseMatchLen = 4

type drugInfoFile struct {
	Drugs []DrugInfo `yaml:"drugs"`
}

// DecodeDrugInfo parses a YAML document of the form {drugs: [...]}.
func DecodeDrugInfo(r io.Reader) ([]DrugInfo, error) {
	var f drugInfoFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeTableInvalid, "failed to decode drug info seed")
	}
	for i, d := range f.Drugs {
		if strings.TrimSpace(d.Name) == "" {
			return nil, errors.New(errors.ErrCodeTableInvalid, fmt.Sprintf("drug info entry %d has no name", i))
		}
	}
	return f.Drugs, nil
}

// DefaultDrugInfo returns the embedded reference set.
func DefaultDrugInfo() []DrugInfo {
	drugs, err := DecodeDrugInfo(strings.NewReader(string(defaultDrugInfoSeed)))
	if err != nil {
		panic(fmt.Sprintf("medication: embedded drug info seed is invalid: %v", err))
	}
	return drugs
}

// MemoryDrugInfoRepository is an in-process DrugInfoRepository. Lookups try
// an exact normalised match first, then loose containment in either direction
// so OCR variants such as "Amlodipine Besylate" still resolve.
type MemoryDrugInfoRepository struct {
	mu    sync.RWMutex
	items map[string]DrugInfo
}

// NewMemoryDrugInfoRepository builds a repository seeded with drugs.
func NewMemoryDrugInfoRepository(drugs []DrugInfo) *MemoryDrugInfoRepository {
	r := &MemoryDrugInfoRepository{items: make(map[string]DrugInfo, len(drugs))}
	for _, d := range drugs {
		r.items[NormalizeDrugName(d.Name)] = d
	}
	return r
}

// FindByName implements DrugInfoRepository.
func (r *MemoryDrugInfoRepository) FindByName(ctx context.Context, name string) (*DrugInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := NormalizeDrugName(name)
	if key == "" {
		return nil, errors.New(errors.ErrCodeDrugInfoNotFound, "drug name is empty")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if d, ok := r.items[key]; ok {
		out := d
		return &out, nil
	}

	if len(key) < minLooseMatchLen {
		return nil, errors.New(errors.ErrCodeDrugInfoNotFound, fmt.Sprintf("no drug information for %q", name))
	}

	keys := make([]string, 0, len(r.items))
	for k := range r.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if strings.Contains(key, k) || strings.Contains(k, key) {
			out := r.items[k]
			return &out, nil
		}
		if g := NormalizeDrugName(r.items[k].GenericName); g != "" && (strings.Contains(key, g) || strings.Contains(g, key)) {
			out := r.items[k]
			return &out, nil
		}
	}

	return nil, errors.New(errors.ErrCodeDrugInfoNotFound, fmt.Sprintf("no drug information for %q", name))
}

// Save implements DrugInfoRepository.
func (r *MemoryDrugInfoRepository) Save(ctx context.Context, info *DrugInfo) error {
	if info == nil || strings.TrimSpace(info.Name) == "" {
		return errors.InvalidParam("drug info name is required")
	}
	r.mu.Lock()
	r.items[NormalizeDrugName(info.Name)] = *info
	r.mu.Unlock()
	return nil
}

// List implements DrugInfoRepository.
func (r *MemoryDrugInfoRepository) List(ctx context.Context) ([]DrugInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]DrugInfo, 0, len(r.items))
	for _, d := range r.items {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		return NormalizeDrugName(out[i].Name) < NormalizeDrugName(out[j].Name)
	})
	return out, nil
}

var _ DrugInfoRepository = (*MemoryDrugInfoRepository)(nil)
