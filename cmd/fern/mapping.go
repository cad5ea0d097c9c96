package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newMappingCmd(c *cli) *cobra.Command {
	var showSQL bool
	cmd := &cobra.Command{
		Use:   "mapping <type>",
		Short: "Print how records of a type map onto the schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a := c.app()
			if err := a.Start(ctx); err != nil {
				return err
			}
			defer a.Stop(context.WithoutCancel(ctx))

			info, err := a.Resolver.Resolve(ctx, a.DB, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if info == nil {
				fmt.Fprintf(out, "%s is not mapped to a table\n", args[0])
				return nil
			}
			if showSQL {
				fmt.Fprintln(out, info.SQL)
				return nil
			}
			data, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(data))
			return nil
		},
	}
	cmd.Flags().BoolVar(&showSQL, "sql", false, "print only the insert statement")
	return cmd
}
