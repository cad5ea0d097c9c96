package database

import (
	"strings"

	"github.com/huandu/go-sqlbuilder"
)

const (
	DriverPostgres = "postgres"
	DriverPgx      = "pgx"
	DriverSQLite   = "sqlite"
)

// FlavorFor maps a database/sql driver name onto the sqlbuilder flavor used
// to render statements for it. Unknown drivers fall back to PostgreSQL.
func FlavorFor(driverName string) sqlbuilder.Flavor {
	switch strings.ToLower(driverName) {
	case DriverSQLite, "sqlite3":
		return sqlbuilder.SQLite
	default:
		return sqlbuilder.PostgreSQL
	}
}

// IsSQLite reports whether the driver speaks the SQLite dialect.
func IsSQLite(driverName string) bool {
	return FlavorFor(driverName) == sqlbuilder.SQLite
}

type InsertBuilder struct {
	*sqlbuilder.InsertBuilder
}

func NewInsertBuilder(flavor sqlbuilder.Flavor) *InsertBuilder {
	return &InsertBuilder{flavor.NewInsertBuilder()}
}

// QuotedCols quotes every column with the builder's flavor before adding it.
func (ib *InsertBuilder) QuotedCols(cols ...string) *InsertBuilder {
	flavor := ib.Flavor()
	quoted := make([]string, len(cols))
	for i, col := range cols {
		quoted[i] = flavor.Quote(col)
	}
	ib.InsertBuilder.Cols(quoted...)
	return ib
}

func (ib *InsertBuilder) Returning(col ...string) *InsertBuilder {
	return &InsertBuilder{ib.InsertBuilder.Returning(col...)}
}

func (ib *InsertBuilder) OnConflictDoNothing() *InsertBuilder {
	ib.SQL("ON CONFLICT DO NOTHING")
	return ib
}

type UpdateBuilder struct {
	*sqlbuilder.UpdateBuilder
}

func NewUpdateBuilder(flavor sqlbuilder.Flavor) *UpdateBuilder {
	return &UpdateBuilder{flavor.NewUpdateBuilder()}
}

type SelectBuilder struct {
	*sqlbuilder.SelectBuilder
}

func NewSelectBuilder(flavor sqlbuilder.Flavor) *SelectBuilder {
	return &SelectBuilder{flavor.NewSelectBuilder()}
}
