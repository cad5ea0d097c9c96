package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const registryYAML = `
types:
  - {id: 3, name: org.example.Token}
`

const document = `{
  "document": {
    "text": "chest pain",
    "types": [{"name": "org.example.Token", "span": true, "fields": [{"name": "normalizedForm", "kind": "primitive", "range": "string"}]}],
    "records": [{"type": "org.example.Token", "begin": 0, "end": 5, "fields": {"normalizedForm": "chest"}}]
  }
}`

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCLI_BootstrapIngestMapping(t *testing.T) {
	dir := t.TempDir()
	registry := filepath.Join(dir, "registry.yaml")
	require.NoError(t, os.WriteFile(registry, []byte(registryYAML), 0o600))
	doc := filepath.Join(dir, "doc.json")
	require.NoError(t, os.WriteFile(doc, []byte(document), 0o600))

	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_PATH", filepath.Join(dir, "fern.db"))
	t.Setenv("TYPE_REGISTRY_PATH", registry)
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("STARTUP_MAX_ATTEMPTS", "1")

	_, err := run(t, "schema", "bootstrap")
	require.NoError(t, err)

	out, err := run(t, "ingest", "--batch", "cli-batch", doc)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, doc+"\t1\t1 records"), out)

	// the type is only declared by the ingested document, so a fresh process
	// cannot resolve it
	out, err = run(t, "mapping", "org.example.Token")
	require.NoError(t, err)
	assert.Contains(t, out, "is not mapped")

	_, err = run(t, "ingest", filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestCLI_Commands(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "ingest", "mapping", "schema"})
}
