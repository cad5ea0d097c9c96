package graph

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type typesFile struct {
	Types []WireType `yaml:"types"`
}

// LoadTypes registers the type declarations of a YAML file:
//
//	types:
//	  - name: org.example.Token
//	    span: true
//	    fields:
//	      - {name: partOfSpeech, kind: primitive, range: string}
func LoadTypes(ts *TypeSystem, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read type file %s", path)
	}
	return ParseTypes(ts, data)
}

func ParseTypes(ts *TypeSystem, data []byte) (int, error) {
	var file typesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, errors.Wrap(err, "invalid type file")
	}
	for _, wt := range file.Types {
		if wt.Name == "" {
			return 0, errors.New("type declaration without a name")
		}
		ts.Register(wt.Descriptor())
	}
	return len(file.Types), nil
}
