package inject_test

import (
	"context"
	"strings"
	"testing"

	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/internal/testutil"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/ingest"
	"github.com/Ramsey-B/fern/pkg/inject"
	"github.com/Ramsey-B/fern/pkg/mapping"
	"github.com/Ramsey-B/fern/pkg/persist"
	"github.com/Ramsey-B/fern/pkg/registry"
	"github.com/Ramsey-B/fern/pkg/schema"
)

type nopSaver struct{}

func (nopSaver) Save(context.Context, *graph.Document, persist.SaveOptions) (int64, error) {
	return 1, nil
}

func newServices(t *testing.T) inject.Services {
	t.Helper()
	logger := testutil.Logger(t)
	db := testutil.NewSQLite(t)
	ts := graph.NewTypeSystem()
	return inject.Services{
		DB:       db,
		Logger:   logger,
		Ingest:   ingest.NewService(ts, nopSaver{}, logger),
		Resolver: mapping.NewResolver(ts, registry.New(nil), schema.NewInspector(db.DriverName()), nil, db.Flavor(), logger),
	}
}

func TestNewContainer_ResolvesServices(t *testing.T) {
	services := newServices(t)
	container, err := inject.NewContainer(services)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(container.GetContainerID(), inject.ContainerPrefix))

	ctx, err := ectoinject.SetActiveContainer(context.Background(), container.GetContainerID())
	require.NoError(t, err)

	ctx, db, err := ectoinject.GetContext[database.DB](ctx)
	require.NoError(t, err)
	assert.Equal(t, services.DB, db)

	ctx, logger, err := ectoinject.GetContext[ectologger.Logger](ctx)
	require.NoError(t, err)
	assert.NotNil(t, logger)

	ctx, service, err := ectoinject.GetContext[*ingest.Service](ctx)
	require.NoError(t, err)
	assert.Same(t, services.Ingest, service)

	_, resolver, err := ectoinject.GetContext[*mapping.Resolver](ctx)
	require.NoError(t, err)
	assert.Same(t, services.Resolver, resolver)
}

func TestNewContainer_IDsAreUnique(t *testing.T) {
	services := newServices(t)
	first, err := inject.NewContainer(services)
	require.NoError(t, err)
	second, err := inject.NewContainer(services)
	require.NoError(t, err)
	assert.NotEqual(t, first.GetContainerID(), second.GetContainerID())

	other := newServices(t)
	third, err := inject.NewContainer(other)
	require.NoError(t, err)

	ctx, err := ectoinject.SetActiveContainer(context.Background(), third.GetContainerID())
	require.NoError(t, err)
	_, service, err := ectoinject.GetContext[*ingest.Service](ctx)
	require.NoError(t, err)
	assert.Same(t, other.Ingest, service)
}

func TestNewContainer_RequiresEveryService(t *testing.T) {
	tests := []struct {
		name  string
		clear func(*inject.Services)
	}{
		{name: "database", clear: func(s *inject.Services) { s.DB = nil }},
		{name: "logger", clear: func(s *inject.Services) { s.Logger = nil }},
		{name: "ingest", clear: func(s *inject.Services) { s.Ingest = nil }},
		{name: "resolver", clear: func(s *inject.Services) { s.Resolver = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			services := newServices(t)
			tt.clear(&services)
			_, err := inject.NewContainer(services)
			assert.Error(t, err)
		})
	}
}
