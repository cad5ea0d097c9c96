// Package app wires configuration into a running service: database, type
// metadata, the graph writer and the transports in front of it.
package app

import (
	"context"
	"time"

	"github.com/Gobusters/ectoinject/ectocontainer"
	"github.com/Gobusters/ectologger"
	"github.com/pkg/errors"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/internal/repositories/typeregistry"
	"github.com/Ramsey-B/fern/pkg/batch"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/ingest"
	"github.com/Ramsey-B/fern/pkg/inject"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/mapping"
	"github.com/Ramsey-B/fern/pkg/persist"
	"github.com/Ramsey-B/fern/pkg/registry"
	"github.com/Ramsey-B/fern/pkg/routes/health"
	"github.com/Ramsey-B/fern/pkg/schema"
	"github.com/Ramsey-B/fern/pkg/server"
	"github.com/Ramsey-B/fern/pkg/startup"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Startup dependency names.
const (
	DepTracing  = "tracing"
	DepDatabase = "database"
	DepEngine   = "engine"
	DepProducer = "kafka-producer"
	DepConsumer = "kafka-consumer"
	DepServer   = "http-server"
)

type App struct {
	cfg     *config.Config
	logger  ectologger.Logger
	startup *startup.Startup

	DB       database.DB
	Types    *graph.TypeSystem
	Registry *registry.Registry
	Resolver *mapping.Resolver
	Writer   *persist.Writer
	Ingest   *ingest.Service

	container ectocontainer.DIContainer
	producer *kafka.Producer
	consumer *kafka.Consumer
	checker  *health.Checker
	server   *server.Server
}

// New registers the core dependencies: tracing, the database and the engine.
// Serve adds the transports.
func New(cfg *config.Config, logger ectologger.Logger) *App {
	a := &App{
		cfg:     cfg,
		logger:  logger,
		startup: startup.NewStartup(logger, cfg.StartupMaxAttempts),
	}

	var shutdownTracing func(context.Context) error
	a.startup.AddDependency(startup.Func{
		Name: DepTracing,
		OnStart: func(ctx context.Context) error {
			shutdown, err := tracing.Init(ctx, cfg.Tracing())
			if err != nil {
				return err
			}
			shutdownTracing = shutdown
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if shutdownTracing == nil {
				return nil
			}
			return shutdownTracing(ctx)
		},
	})

	a.startup.AddDependency(startup.Func{
		Name:     DepDatabase,
		Requires: []string{DepTracing},
		OnStart: func(ctx context.Context) error {
			db, err := database.Open(ctx, cfg.Database(), logger)
			if err != nil {
				return err
			}
			a.DB = db
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if a.DB == nil {
				return nil
			}
			return a.DB.Close()
		},
	})

	a.startup.AddDependency(startup.Func{
		Name:     DepEngine,
		Requires: []string{DepDatabase},
		OnStart:  a.initEngine,
	})
	return a
}

// Start brings up every registered dependency.
func (a *App) Start(ctx context.Context) error {
	return a.startup.Start(ctx)
}

// Stop tears dependencies down in reverse order.
func (a *App) Stop(ctx context.Context) error {
	return a.startup.Stop(ctx)
}

// initEngine loads the type metadata and builds the writer. Schema discovery
// failures abort startup.
func (a *App) initEngine(ctx context.Context) error {
	ts, err := a.loadTypes()
	if err != nil {
		return err
	}

	reg, err := a.loadRegistry(ctx)
	if err != nil {
		return err
	}

	var overrides mapping.Overrides
	if a.cfg.MappingOverridesPath != "" {
		if overrides, err = mapping.LoadOverrides(a.cfg.MappingOverridesPath); err != nil {
			return err
		}
	}

	resolver := mapping.NewResolver(ts, reg, schema.NewInspector(a.DB.DriverName()), overrides, a.DB.Flavor(), a.logger)
	if a.cfg.WarmMappings {
		mapped, err := resolver.Warm(ctx, a.DB)
		if err != nil {
			return errors.Wrap(err, "failed to resolve type mappings")
		}
		a.logger.WithContext(ctx).WithFields(map[string]any{
			"registered": reg.Len(),
			"mapped":     mapped,
		}).Info("Resolved type mappings")
	}

	executor := batch.NewExecutor(a.DB.Flavor(), a.cfg.BatchSize, a.logger)
	writer, err := persist.NewWriter(ctx, a.DB, resolver, reg, ts, executor, a.logger)
	if err != nil {
		return err
	}

	a.Types, a.Registry, a.Resolver, a.Writer = ts, reg, resolver, writer
	a.Ingest = ingest.NewService(ts, writer, a.logger)
	if a.producer != nil {
		a.Ingest.WithNotifier(&eventNotifier{producer: a.producer})
	}

	container, err := inject.NewContainer(inject.Services{
		DB:       a.DB,
		Logger:   a.logger,
		Ingest:   a.Ingest,
		Resolver: resolver,
	})
	if err != nil {
		return err
	}
	a.container = container
	return nil
}

func (a *App) loadTypes() (*graph.TypeSystem, error) {
	ts := graph.NewTypeSystem()
	if a.cfg.TypeSystemPath == "" {
		// documents declare their own types
		return ts, nil
	}
	n, err := graph.LoadTypes(ts, a.cfg.TypeSystemPath)
	if err != nil {
		return nil, err
	}
	a.logger.WithField("types", n).Infof("Loaded type system from %s", a.cfg.TypeSystemPath)
	return ts, nil
}

func (a *App) loadRegistry(ctx context.Context) (*registry.Registry, error) {
	var source registry.Source = typeregistry.NewRepository(a.DB, a.logger)
	if a.cfg.TypeRegistryPath != "" {
		source = registry.FileSource{Path: a.cfg.TypeRegistryPath}
	}
	reg, err := registry.Load(ctx, source)
	if err != nil {
		return nil, err
	}
	if reg.Len() == 0 {
		a.logger.WithContext(ctx).Warn("Type registry is empty, only document rows will be written")
	}
	return reg, nil
}

// Serve starts the transports on top of the engine and blocks until ctx is
// cancelled.
func (a *App) Serve(ctx context.Context) error {
	a.addTransports()

	if err := a.Start(ctx); err != nil {
		return err
	}
	a.checker.SetReady(true)
	a.logger.WithContext(ctx).WithField("port", a.cfg.Port).Info("fern is ready")

	<-ctx.Done()
	a.checker.SetReady(false)

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Duration(a.cfg.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()
	return a.Stop(stopCtx)
}

func (a *App) addTransports() {
	cfg := a.cfg
	engineDeps := []string{DepEngine}

	if cfg.KafkaProducerEnabled {
		a.startup.AddDependency(startup.Func{
			Name:     DepProducer,
			Requires: []string{DepTracing},
			OnStart: func(ctx context.Context) error {
				a.producer = kafka.NewProducer(cfg.Producer(), a.logger)
				if a.Ingest != nil {
					a.Ingest.WithNotifier(&eventNotifier{producer: a.producer})
				}
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return a.producer.Close()
			},
		})
		engineDeps = append(engineDeps, DepProducer)
	}

	var kafkaHealth func() bool
	if cfg.KafkaConsumerEnabled {
		a.startup.AddDependency(startup.Func{
			Name:     DepConsumer,
			Requires: engineDeps,
			OnStart: func(ctx context.Context) error {
				a.consumer = kafka.NewConsumer(cfg.Consumer(), a.logger, a.handleMessage)
				return a.consumer.Start(context.WithoutCancel(ctx))
			},
			OnStop: func(ctx context.Context) error {
				return a.consumer.Stop()
			},
		})
		kafkaHealth = func() bool { return a.consumer != nil && a.consumer.Health() }
	}

	a.checker = health.NewChecker(dbPinger{a}, kafkaHealth, cfg.Version)
	a.startup.AddDependency(startup.Func{
		Name:     DepServer,
		Requires: engineDeps,
		OnStart: func(ctx context.Context) error {
			a.server = server.New(serverConfig(cfg), server.Routes{
				Container: a.container,
				Health:    a.checker,
			}, a.logger)
			return a.server.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return a.server.Shutdown(ctx)
		},
	})
}

func serverConfig(cfg *config.Config) server.Config {
	seconds := func(n int) time.Duration { return time.Duration(n) * time.Second }
	return server.Config{
		AppName:           cfg.AppName,
		Port:              cfg.Port,
		ReadTimeout:       seconds(cfg.HttpServerReadTimeoutSeconds),
		WriteTimeout:      seconds(cfg.HttpServerWriteTimeoutSeconds),
		IdleTimeout:       seconds(cfg.HttpServerIdleTimeoutSeconds),
		ReadHeaderTimeout: seconds(cfg.ReadHeaderTimeoutSeconds),
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
		AllowOrigins:      cfg.AllowOrigins,
	}
}

// dbPinger defers to the database once it is open.
type dbPinger struct{ a *App }

func (p dbPinger) PingContext(ctx context.Context) error {
	if p.a.DB == nil {
		return errors.New("database is not connected")
	}
	return p.a.DB.PingContext(ctx)
}
