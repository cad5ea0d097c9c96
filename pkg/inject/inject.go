// Package inject builds the dependency container HTTP handlers resolve their
// services from.
package inject

import (
	"context"

	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectoinject/ectocontainer"
	"github.com/Gobusters/ectoinject/loglevel"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/ingest"
	"github.com/Ramsey-B/fern/pkg/mapping"
)

// ContainerPrefix starts every container id. Ids are unique per container so
// several services can live in one process.
const ContainerPrefix = "fern-"

// Services are the singletons registered in a container.
type Services struct {
	DB       database.DB
	Logger   ectologger.Logger
	Ingest   *ingest.Service
	Resolver *mapping.Resolver
}

// NewContainer registers services in a new container.
func NewContainer(s Services) (ectocontainer.DIContainer, error) {
	if s.DB == nil || s.Logger == nil || s.Ingest == nil || s.Resolver == nil {
		return nil, errors.New("container needs the database, logger, ingest service and resolver")
	}

	container, err := ectoinject.NewDIContainer(ectocontainer.DIContainerConfig{
		ID:                       ContainerPrefix + uuid.NewString(),
		AllowCaptiveDependencies: true,
		LoggerConfig: &ectocontainer.DIContainerLoggerConfig{
			Prefix:   "ectoinject",
			LogLevel: loglevel.WARN,
			Enabled:  true,
			LogFunc:  logFunc(s.Logger),
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create dependency container")
	}

	if err := ectoinject.RegisterInstance[database.DB](container, s.DB); err != nil {
		return nil, err
	}
	if err := ectoinject.RegisterInstance[ectologger.Logger](container, s.Logger); err != nil {
		return nil, err
	}
	if err := ectoinject.RegisterInstance[*ingest.Service](container, s.Ingest); err != nil {
		return nil, err
	}
	if err := ectoinject.RegisterInstance[*mapping.Resolver](container, s.Resolver); err != nil {
		return nil, err
	}
	return container, nil
}

func logFunc(logger ectologger.Logger) func(ctx context.Context, level, msg string) {
	return func(ctx context.Context, level, msg string) {
		log := logger.WithContext(ctx).WithField("component", "ectoinject")
		if level == loglevel.WARN {
			log.Warn(msg)
			return
		}
		log.Debug(msg)
	}
}
