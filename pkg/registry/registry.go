// Package registry maps record type names onto the numeric type ids and
// optional table names the relational schema knows them by.
package registry

import (
	"context"
	"os"
	"sort"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type TypeInfo struct {
	ID        int    `db:"type_id" json:"type_id" yaml:"id"`
	Name      string `db:"type_name" json:"type_name" yaml:"name"`
	TableName string `db:"table_name" json:"table_name,omitempty" yaml:"table,omitempty"`
}

// Source loads type infos, e.g. from the ref_type table.
type Source interface {
	ListTypes(ctx context.Context) ([]TypeInfo, error)
}

// Registry is read-only after construction.
type Registry struct {
	byName map[string]TypeInfo
	types  []TypeInfo
}

// New builds a registry. Later duplicates of a name are ignored.
func New(infos []TypeInfo) *Registry {
	r := &Registry{byName: make(map[string]TypeInfo, len(infos))}
	for _, info := range infos {
		if _, dup := r.byName[info.Name]; dup {
			continue
		}
		r.byName[info.Name] = info
		r.types = append(r.types, info)
	}
	sort.Slice(r.types, func(i, j int) bool { return r.types[i].Name < r.types[j].Name })
	return r
}

// Load builds a registry from a source.
func Load(ctx context.Context, source Source) (*Registry, error) {
	infos, err := source.ListTypes(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load type registry")
	}
	return New(infos), nil
}

func (r *Registry) Lookup(name string) (TypeInfo, bool) {
	info, ok := r.byName[name]
	return info, ok
}

func (r *Registry) Contains(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// Types returns all entries sorted by name.
func (r *Registry) Types() []TypeInfo {
	out := make([]TypeInfo, len(r.types))
	copy(out, r.types)
	return out
}

func (r *Registry) Len() int {
	return len(r.types)
}

type registryFile struct {
	Types []TypeInfo `yaml:"types"`
}

// FileSource reads type infos from a YAML file:
//
//	types:
//	  - {id: 1, name: org.example.Token, table: anno_token}
type FileSource struct {
	Path string
}

func (s FileSource) ListTypes(ctx context.Context) ([]TypeInfo, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read registry file %s", s.Path)
	}
	return ParseFile(data)
}

func ParseFile(data []byte) ([]TypeInfo, error) {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(err, "invalid registry file")
	}
	for i, info := range file.Types {
		if info.Name == "" {
			return nil, errors.Errorf("registry entry %d has no name", i)
		}
	}
	return file.Types, nil
}
