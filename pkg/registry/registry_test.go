package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_FirstEntryWinsAndSorts(t *testing.T) {
	r := New([]TypeInfo{
		{ID: 2, Name: "org.example.Token", TableName: "anno_token"},
		{ID: 1, Name: "org.example.Sentence"},
		{ID: 9, Name: "org.example.Token", TableName: "ignored"},
	})

	assert.Equal(t, 2, r.Len())
	info, ok := r.Lookup("org.example.Token")
	require.True(t, ok)
	assert.Equal(t, 2, info.ID)
	assert.Equal(t, "anno_token", info.TableName)

	types := r.Types()
	assert.Equal(t, "org.example.Sentence", types[0].Name)
	assert.False(t, r.Contains("org.example.Missing"))
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
types:
  - {id: 10, name: org.example.Token, table: anno_token}
  - {id: 11, name: org.example.Concept}
`), 0o600))

	r, err := Load(context.Background(), FileSource{Path: path})
	require.NoError(t, err)

	concept, ok := r.Lookup("org.example.Concept")
	require.True(t, ok)
	assert.Equal(t, 11, concept.ID)
	assert.Empty(t, concept.TableName)
}

func TestParseFile_RequiresNames(t *testing.T) {
	_, err := ParseFile([]byte("types:\n  - {id: 3}\n"))
	assert.Error(t, err)
}
