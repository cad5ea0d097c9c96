package mapping

import (
	"os"
	"strings"

	"github.com/jmespath/go-jmespath"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// LinkTable is the edge table. A type whose table resolves to it is stored as
// edges instead of attribute rows.
const LinkTable = "anno_link"

type ColumnOverride struct {
	Column    string `yaml:"column"`
	Field     string `yaml:"field,omitempty"`
	Path      string `yaml:"path,omitempty"`
	Converter string `yaml:"converter,omitempty"`
}

type EndpointOverride struct {
	Field string `yaml:"field,omitempty"`
	Path  string `yaml:"path,omitempty"`
}

type LinkOverride struct {
	Parent EndpointOverride `yaml:"parent"`
	Child  EndpointOverride `yaml:"child"`
	Label  string           `yaml:"label,omitempty"`
}

// Override pins parts of a type's mapping that name matching cannot find.
type Override struct {
	Type    string           `yaml:"type"`
	Table   string           `yaml:"table,omitempty"`
	Columns []ColumnOverride `yaml:"columns,omitempty"`
	Link    *LinkOverride    `yaml:"link,omitempty"`
}

type overridesFile struct {
	Mappings []Override `yaml:"mappings"`
}

// Overrides are keyed by fully qualified type name.
type Overrides map[string]Override

// LoadOverrides reads a YAML file:
//
//	mappings:
//	  - type: org.example.NamedEntity
//	    columns:
//	      - {column: concept_code, field: concepts, path: "[0].code"}
//	  - type: org.example.LocationOfTextRelation
//	    table: anno_link
//	    link:
//	      parent: {field: arg1, path: argument}
//	      child: {field: arg2, path: argument}
func LoadOverrides(path string) (Overrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read mapping file %s", path)
	}
	return ParseOverrides(data)
}

// ParseOverrides validates paths and converters up front so a bad file fails
// at startup rather than on the first document.
func ParseOverrides(data []byte) (Overrides, error) {
	var file overridesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(err, "invalid mapping file")
	}

	out := make(Overrides, len(file.Mappings))
	for i, o := range file.Mappings {
		if o.Type == "" {
			return nil, errors.Errorf("mapping %d has no type", i)
		}
		if _, dup := out[o.Type]; dup {
			return nil, errors.Errorf("type %s is mapped twice", o.Type)
		}
		for _, c := range o.Columns {
			if c.Column == "" {
				return nil, errors.Errorf("%s: column override without a column", o.Type)
			}
			if c.Field == "" && c.Path == "" {
				return nil, errors.Errorf("%s.%s: column override needs a field or a path", o.Type, c.Column)
			}
			if _, err := compilePath(c.Path); err != nil {
				return nil, errors.Wrapf(err, "%s.%s", o.Type, c.Column)
			}
			if _, err := LookupConverter(c.Converter); err != nil {
				return nil, errors.Wrapf(err, "%s.%s", o.Type, c.Column)
			}
		}
		if o.Link != nil {
			if o.Table == "" {
				o.Table = LinkTable
			}
			for _, ep := range []EndpointOverride{o.Link.Parent, o.Link.Child} {
				if ep.Field == "" && ep.Path == "" {
					return nil, errors.Errorf("%s: link endpoint needs a field or a path", o.Type)
				}
				if _, err := compilePath(ep.Path); err != nil {
					return nil, errors.Wrapf(err, "%s link", o.Type)
				}
			}
		}
		if strings.EqualFold(o.Table, LinkTable) && o.Link == nil {
			return nil, errors.Errorf("%s: table %s needs a link mapping", o.Type, LinkTable)
		}
		out[o.Type] = o
	}
	return out, nil
}

func compilePath(expr string) (*jmespath.JMESPath, error) {
	if expr == "" {
		return nil, nil
	}
	return jmespath.Compile(expr)
}
