package ingest_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/ingest"
)

func TestReadFile(t *testing.T) {
	dir := t.TempDir()

	plain := filepath.Join(dir, "doc.json")
	require.NoError(t, os.WriteFile(plain, []byte(body), 0o600))
	data, err := ingest.ReadFile(plain)
	require.NoError(t, err)
	assert.Equal(t, body, string(data))

	compressed := filepath.Join(dir, "doc.json.gz")
	f, err := os.Create(compressed)
	require.NoError(t, err)
	zw := gzip.NewWriter(f)
	_, err = zw.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	data, err = ingest.ReadFile(compressed)
	require.NoError(t, err)
	req, err := ingest.Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "b1", req.AnalysisBatch)

	_, err = ingest.ReadFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
