package typeregistry

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/registry"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const tableName = "ref_type"

// Repository reads the type registry table. It is a registry.Source.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

type row struct {
	ID        int            `db:"type_id"`
	Name      string         `db:"type_name"`
	TableName sql.NullString `db:"table_name"`
}

// ListTypes returns every registered type ordered by name.
func (r *Repository) ListTypes(ctx context.Context) ([]registry.TypeInfo, error) {
	ctx, span := tracing.StartSpan(ctx, "TypeRegistryRepository.ListTypes")
	defer span.End()

	sb := database.NewSelectBuilder(r.db.Flavor())
	sb.Select("type_id", "type_name", "table_name")
	sb.From(tableName)
	sb.OrderBy("type_name")

	query, args := sb.Build()

	var rows []row
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list registered types")
		return nil, fmt.Errorf("failed to list registered types: %w", err)
	}

	infos := make([]registry.TypeInfo, len(rows))
	for i, rw := range rows {
		infos[i] = registry.TypeInfo{
			ID:        rw.ID,
			Name:      rw.Name,
			TableName: rw.TableName.String,
		}
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"count": len(infos),
	}).Debug("loaded type registry")

	return infos, nil
}

// Register inserts a type, used by the schema bootstrap and tests.
func (r *Repository) Register(ctx context.Context, info registry.TypeInfo) error {
	ctx, span := tracing.StartSpan(ctx, "TypeRegistryRepository.Register")
	defer span.End()

	ib := database.NewInsertBuilder(r.db.Flavor())
	ib.InsertInto(tableName)
	ib.Cols("type_id", "type_name", "table_name")
	var table any
	if info.TableName != "" {
		table = info.TableName
	}
	ib.Values(info.ID, info.Name, table)
	ib.OnConflictDoNothing()

	query, args := ib.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"type_id":   info.ID,
			"type_name": info.Name,
		}).Error("failed to register type")
		return fmt.Errorf("failed to register type %s: %w", info.Name, err)
	}
	return nil
}
