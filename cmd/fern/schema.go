package main

import (
	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/pkg/database"
)

func newSchemaCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Manage the reference schema",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "bootstrap",
		Short: "Create the reference tables in an empty development database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := database.Open(cmd.Context(), c.cfg.Database(), c.logger)
			if err != nil {
				return err
			}
			defer db.Close()
			return database.NewMigrationService(c.logger, c.cfg.Migration()).Bootstrap(db)
		},
	})
	return cmd
}
