// Package schema discovers the live column layout of tables.
package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/Gobusters/ectolinq"

	"github.com/Ramsey-B/fern/pkg/database"
)

type ColumnKind int

const (
	KindOther ColumnKind = iota
	KindText
	KindNumeric
	KindBoolean
	KindTemporal
	KindBinary
)

func (k ColumnKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindNumeric:
		return "numeric"
	case KindBoolean:
		return "boolean"
	case KindTemporal:
		return "temporal"
	case KindBinary:
		return "binary"
	}
	return "other"
}

// ParseColumnKind accepts the names produced by ColumnKind.String.
func ParseColumnKind(s string) (ColumnKind, error) {
	switch strings.ToLower(s) {
	case "text":
		return KindText, nil
	case "numeric":
		return KindNumeric, nil
	case "boolean":
		return KindBoolean, nil
	case "temporal":
		return KindTemporal, nil
	case "binary":
		return KindBinary, nil
	case "other", "":
		return KindOther, nil
	}
	return KindOther, fmt.Errorf("unknown column kind %q", s)
}

func (k ColumnKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *ColumnKind) UnmarshalText(b []byte) error {
	parsed, err := ParseColumnKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

type Column struct {
	Name     string     `json:"name"`
	DataType string     `json:"data_type"`
	Kind     ColumnKind `json:"kind"`
	// Size is the declared character length, 0 when unbounded or not textual.
	Size    int `json:"size,omitempty"`
	Ordinal int `json:"ordinal"`
}

func (c Column) IsNumeric() bool {
	return c.Kind == KindNumeric
}

func (c Column) IsText() bool {
	return c.Kind == KindText
}

// Inspector lists a table's columns in ordinal order. A table that does not
// exist has no columns; only query failures are errors.
type Inspector interface {
	Columns(ctx context.Context, q database.Querier, table string) ([]Column, error)
}

// NewInspector picks the inspector for the driver.
func NewInspector(driverName string) Inspector {
	if database.IsSQLite(driverName) {
		return SQLiteInspector{}
	}
	return PostgresInspector{}
}

// Find returns the column with the given name ignoring case.
func Find(columns []Column, name string) (Column, bool) {
	i := ectolinq.FindIndexWhere(columns, func(c Column) bool { return strings.EqualFold(c.Name, name) })
	if i < 0 {
		return Column{}, false
	}
	return columns[i], true
}

var integerTypes = []string{
	"int", "integer", "int2", "int4", "int8", "smallint", "bigint", "tinyint", "mediumint",
}

// isIntegerType matches whole words of the type name, so "point" and
// "interval" are not integers.
func isIntegerType(t string) bool {
	words := strings.FieldsFunc(t, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	return ectolinq.Any(words, func(w string) bool { return ectolinq.Contains(integerTypes, w) })
}

// ClassifyType maps a SQL type name onto a ColumnKind. It follows SQLite's
// affinity order and also covers the PostgreSQL names.
func ClassifyType(dataType string) ColumnKind {
	t := strings.ToLower(strings.TrimSpace(dataType))
	switch {
	case t == "":
		return KindOther
	case strings.Contains(t, "bool") || t == "bit":
		return KindBoolean
	case strings.Contains(t, "timestamp") || strings.Contains(t, "date") || strings.HasPrefix(t, "time") || strings.Contains(t, "interval"):
		return KindTemporal
	case isIntegerType(t):
		return KindNumeric
	case strings.Contains(t, "char") || strings.Contains(t, "clob") || strings.Contains(t, "text") || t == "uuid" || strings.HasPrefix(t, "json"):
		return KindText
	case strings.Contains(t, "blob") || strings.Contains(t, "bytea") || strings.Contains(t, "binary"):
		return KindBinary
	case strings.Contains(t, "real") || strings.Contains(t, "floa") || strings.Contains(t, "doub") ||
		strings.Contains(t, "numeric") || strings.Contains(t, "decimal") || strings.Contains(t, "serial"):
		return KindNumeric
	}
	return KindOther
}
