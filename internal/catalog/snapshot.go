// Package catalog provides immutable snapshots of the operator, dataset and
// field catalog, and the providers that load them.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/quantforge/alphagate/internal/domain"
)

// Provider supplies catalog snapshots. Each call may return a newer snapshot;
// a snapshot already handed out is never modified.
type Provider interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// Subcategory aggregates the datasets sharing a subcategory id.
type Subcategory struct {
	ID           string
	Name         string
	Category     string
	DatasetCount int
}

// Snapshot is a read-only view of the catalog. It is safe for concurrent use.
type Snapshot struct {
	operators map[string]domain.Operator
	fields    map[string]domain.Field
	datasets  map[string]domain.Dataset

	operatorNames []string
	fieldIDs      []string
	datasetIDs    []string
	subcategories []Subcategory
}

// NewSnapshot builds a snapshot and checks that it is internally consistent:
// names are unique, field types are known, and every field's dataset exists.
func NewSnapshot(operators []domain.Operator, fields []domain.Field, datasets []domain.Dataset) (*Snapshot, error) {
	s := &Snapshot{
		operators: make(map[string]domain.Operator, len(operators)),
		fields:    make(map[string]domain.Field, len(fields)),
		datasets:  make(map[string]domain.Dataset, len(datasets)),
	}
	var problems []string

	for _, op := range operators {
		name := strings.TrimSpace(op.Name)
		if name == "" {
			problems = append(problems, "operator with empty name")
			continue
		}
		if _, dup := s.operators[name]; dup {
			problems = append(problems, fmt.Sprintf("duplicate operator %q", name))
			continue
		}
		op.Name = name
		op.Scopes = normalizeScopes(op.Scopes)
		op.Params = append([]domain.Param(nil), op.Params...)
		s.operators[name] = op
		s.operatorNames = append(s.operatorNames, name)
	}

	for _, ds := range datasets {
		if ds.ID == "" {
			problems = append(problems, "dataset with empty id")
			continue
		}
		if _, dup := s.datasets[ds.ID]; dup {
			problems = append(problems, fmt.Sprintf("duplicate dataset %q", ds.ID))
			continue
		}
		s.datasets[ds.ID] = ds
		s.datasetIDs = append(s.datasetIDs, ds.ID)
	}

	for _, f := range fields {
		if f.ID == "" {
			problems = append(problems, "field with empty id")
			continue
		}
		if _, dup := s.fields[f.ID]; dup {
			problems = append(problems, fmt.Sprintf("duplicate field %q", f.ID))
			continue
		}
		f.Type = domain.ValueType(strings.ToUpper(string(f.Type)))
		if f.Type != "" && !knownType(f.Type) {
			problems = append(problems, fmt.Sprintf("field %q has unknown type %q", f.ID, f.Type))
			continue
		}
		if f.DatasetID != "" {
			if _, ok := s.datasets[f.DatasetID]; !ok {
				problems = append(problems, fmt.Sprintf("field %q references missing dataset %q", f.ID, f.DatasetID))
				continue
			}
		}
		s.fields[f.ID] = f
		s.fieldIDs = append(s.fieldIDs, f.ID)
	}

	if len(problems) > 0 {
		return nil, domain.NewEngineError(
			domain.ErrCatalogInconsistent.Code,
			fmt.Sprintf("%s: %s", domain.ErrCatalogInconsistent.Message, strings.Join(problems, "; ")),
		)
	}

	sort.Strings(s.operatorNames)
	sort.Strings(s.fieldIDs)
	sort.Strings(s.datasetIDs)
	s.subcategories = buildSubcategories(s.datasetIDs, s.datasets)
	return s, nil
}

// Operator looks up an operator by name.
func (s *Snapshot) Operator(name string) (domain.Operator, bool) {
	op, ok := s.operators[name]
	return op, ok
}

// Field looks up a field by id.
func (s *Snapshot) Field(id string) (domain.Field, bool) {
	f, ok := s.fields[id]
	return f, ok
}

// Dataset looks up a dataset by id.
func (s *Snapshot) Dataset(id string) (domain.Dataset, bool) {
	d, ok := s.datasets[id]
	return d, ok
}

// Operators returns all operators sorted by name.
func (s *Snapshot) Operators() []domain.Operator {
	out := make([]domain.Operator, 0, len(s.operatorNames))
	for _, n := range s.operatorNames {
		out = append(out, s.operators[n])
	}
	return out
}

// Fields returns all fields sorted by id.
func (s *Snapshot) Fields() []domain.Field {
	out := make([]domain.Field, 0, len(s.fieldIDs))
	for _, id := range s.fieldIDs {
		out = append(out, s.fields[id])
	}
	return out
}

// Datasets returns all datasets sorted by id.
func (s *Snapshot) Datasets() []domain.Dataset {
	out := make([]domain.Dataset, 0, len(s.datasetIDs))
	for _, id := range s.datasetIDs {
		out = append(out, s.datasets[id])
	}
	return out
}

// Subcategories returns the distinct dataset subcategories sorted by id.
func (s *Snapshot) Subcategories() []Subcategory {
	return append([]Subcategory(nil), s.subcategories...)
}

// Stats returns operator, dataset and field counts.
func (s *Snapshot) Stats() (operators, datasets, fields int) {
	return len(s.operators), len(s.datasets), len(s.fields)
}

func buildSubcategories(ids []string, datasets map[string]domain.Dataset) []Subcategory {
	index := make(map[string]int)
	var out []Subcategory
	for _, id := range ids {
		ds := datasets[id]
		key := ds.SubcategoryID
		if key == "" {
			continue
		}
		if i, ok := index[key]; ok {
			out[i].DatasetCount++
			continue
		}
		index[key] = len(out)
		out = append(out, Subcategory{
			ID:           key,
			Name:         ds.SubcategoryName,
			Category:     ds.Category,
			DatasetCount: 1,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func normalizeScopes(scopes []domain.Scope) []domain.Scope {
	if len(scopes) == 0 {
		return nil
	}
	out := make([]domain.Scope, 0, len(scopes))
	seen := make(map[domain.Scope]bool)
	for _, sc := range scopes {
		up := domain.Scope(strings.ToUpper(strings.TrimSpace(string(sc))))
		if up == "" || seen[up] {
			continue
		}
		seen[up] = true
		out = append(out, up)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func knownType(t domain.ValueType) bool {
	switch t {
	case domain.TypeMatrix, domain.TypeVector, domain.TypeGroup, domain.TypeUniverse, domain.TypeSymbol:
		return true
	}
	return false
}
