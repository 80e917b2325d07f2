package catalog

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/quantforge/alphagate/internal/domain"
)

// FileProvider loads a catalog from a YAML or JSON document.
type FileProvider struct {
	Path string
}

// Snapshot reads and parses the catalog file.
func (p *FileProvider) Snapshot(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrCatalogLoad.Code, "read catalog file", err)
	}
	return Parse(data)
}

// Parse decodes a catalog document. JSON documents are accepted as YAML.
func Parse(data []byte) (*Snapshot, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, domain.WrapEngineError(domain.ErrCatalogLoad.Code, "parse catalog", err)
	}
	if len(doc.Operators) == 0 && len(doc.Fields) == 0 {
		return nil, domain.ErrCatalogEmpty
	}

	ops := make([]domain.Operator, 0, len(doc.Operators))
	for _, r := range doc.Operators {
		ops = append(ops, r.toDomain())
	}
	datasets := make([]domain.Dataset, 0, len(doc.Datasets))
	for _, r := range doc.Datasets {
		datasets = append(datasets, r.toDomain())
	}
	fields := make([]domain.Field, 0, len(doc.Fields))
	for _, r := range doc.Fields {
		fields = append(fields, r.toDomain())
	}
	return NewSnapshot(ops, fields, datasets)
}

type document struct {
	Operators []operatorRecord `yaml:"operators"`
	Datasets  []datasetRecord  `yaml:"datasets"`
	Fields    []fieldRecord    `yaml:"fields"`
}

type operatorRecord struct {
	Name        string        `yaml:"name"`
	Category    string        `yaml:"category"`
	Scope       scopeList     `yaml:"scope"`
	Arity       *arityValue   `yaml:"arity"`
	NArgs       *arityValue   `yaml:"nArgs"`
	Params      []paramRecord `yaml:"params"`
	Definition  string        `yaml:"definition"`
	Description string        `yaml:"description"`
}

type paramRecord struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`
	Type string `yaml:"type"`
}

func (r operatorRecord) toDomain() domain.Operator {
	op := domain.Operator{
		Name:        r.Name,
		Category:    r.Category,
		Scopes:      []domain.Scope(r.Scope),
		Definition:  r.Definition,
		Description: r.Description,
	}
	switch {
	case r.Arity != nil:
		n := int(*r.Arity)
		op.ArityHint = &n
	case r.NArgs != nil:
		n := int(*r.NArgs)
		op.ArityHint = &n
	}
	for _, p := range r.Params {
		kind := domain.ParamPositional
		if strings.EqualFold(p.Kind, string(domain.ParamNamed)) {
			kind = domain.ParamNamed
		}
		op.Params = append(op.Params, domain.Param{
			Name:     p.Name,
			Kind:     kind,
			TypeHint: domain.ValueType(strings.ToUpper(p.Type)),
		})
	}
	return op
}

type datasetRecord struct {
	ID              string  `yaml:"id"`
	Name            string  `yaml:"name"`
	Description     string  `yaml:"description"`
	Category        string  `yaml:"category"`
	SubcategoryID   string  `yaml:"subcategory_id"`
	SubcategoryName string  `yaml:"subcategory_name"`
	FieldCount      int     `yaml:"field_count"`
	Coverage        float64 `yaml:"coverage"`
	ValueScore      float64 `yaml:"value_score"`
}

func (r datasetRecord) toDomain() domain.Dataset {
	return domain.Dataset(r)
}

type fieldRecord struct {
	ID          string  `yaml:"id"`
	DatasetID   string  `yaml:"dataset_id"`
	Type        string  `yaml:"type"`
	Description string  `yaml:"description"`
	Coverage    float64 `yaml:"coverage"`
	AlphaCount  int     `yaml:"alpha_count"`
}

func (r fieldRecord) toDomain() domain.Field {
	return domain.Field{
		ID:          r.ID,
		DatasetID:   r.DatasetID,
		Type:        domain.ValueType(strings.ToUpper(r.Type)),
		Description: r.Description,
		Coverage:    r.Coverage,
		AlphaCount:  r.AlphaCount,
	}
}

// scopeList accepts either a list of scopes or a comma-separated string.
type scopeList []domain.Scope

func (s *scopeList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			*s = nil
			return nil
		}
		var out scopeList
		for _, chunk := range strings.Split(node.Value, ",") {
			if c := strings.TrimSpace(chunk); c != "" {
				out = append(out, domain.Scope(strings.ToUpper(c)))
			}
		}
		*s = out
		return nil
	case yaml.SequenceNode:
		var raw []string
		if err := node.Decode(&raw); err != nil {
			return err
		}
		out := make(scopeList, 0, len(raw))
		for _, r := range raw {
			out = append(out, domain.Scope(strings.ToUpper(strings.TrimSpace(r))))
		}
		*s = out
		return nil
	default:
		return fmt.Errorf("scope: unsupported node kind %d at line %d", node.Kind, node.Line)
	}
}

// arityValue accepts an integer or a digit string.
type arityValue int

func (a *arityValue) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("arity: expected scalar at line %d", node.Line)
	}
	n, err := strconv.Atoi(strings.TrimSpace(node.Value))
	if err != nil {
		return fmt.Errorf("arity: %q is not an integer at line %d", node.Value, node.Line)
	}
	*a = arityValue(n)
	return nil
}
