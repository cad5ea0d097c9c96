package graph

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// Snapshot serializes the document as gzip-compressed wire JSON.
func Snapshot(ts *TypeSystem, doc *Document) ([]byte, error) {
	wd, err := Encode(ts, doc)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
	if err != nil {
		return nil, err
	}
	if err := json.NewEncoder(zw).Encode(wd); err != nil {
		_ = zw.Close()
		return nil, errors.Wrap(err, "failed to encode snapshot")
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "failed to compress snapshot")
	}
	return buf.Bytes(), nil
}

// RestoreSnapshot decodes a Snapshot back into a document.
func RestoreSnapshot(ts *TypeSystem, data []byte) (*Document, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "invalid snapshot")
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decompress snapshot")
	}
	return DecodeJSON(ts, raw)
}
