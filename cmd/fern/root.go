package main

import (
	"github.com/Gobusters/ectologger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/pkg/app"
)

// cli carries what PersistentPreRunE loaded to the subcommands.
type cli struct {
	configFile string
	cfg        *config.Config
	zap        *zap.Logger
	logger     ectologger.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "fern",
		Short:         "Persist annotated document graphs into a relational schema",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.zap != nil {
				_ = c.zap.Sync()
			}
		},
	}
	root.PersistentFlags().StringVarP(&c.configFile, "config", "c", "", "config file (default is ./config.yaml)")

	root.AddCommand(
		newServeCmd(c),
		newIngestCmd(c),
		newMappingCmd(c),
		newSchemaCmd(c),
	)
	return root
}

func (c *cli) init() error {
	// bootstrap logger until LOG_LEVEL is known
	boot, err := zap.NewProduction()
	if err != nil {
		return err
	}
	cfg, err := config.Load(boot, c.configFile)
	if err != nil {
		return err
	}

	zl, err := config.NewZapLogger(cfg.LogLevel, cfg.PrettyLogs)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.zap = zl.With(zap.String("app", cfg.AppName))
	c.logger = config.NewLogger(c.zap)
	return nil
}

func (c *cli) app() *app.App {
	return app.New(c.cfg, c.logger)
}
