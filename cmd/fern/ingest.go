package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/ingest"
)

const sourceCLI = "cli"

func newIngestCmd(c *cli) *cobra.Command {
	var (
		batch           string
		continueOnError bool
	)
	cmd := &cobra.Command{
		Use:   "ingest <file...>",
		Short: "Save documents from JSON files (.json or .json.gz)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := appctx.SetSource(cmd.Context(), sourceCLI)
			a := c.app()
			if err := a.Start(ctx); err != nil {
				return err
			}
			defer a.Stop(context.WithoutCancel(ctx))

			failed := 0
			for _, path := range args {
				result, err := ingestFile(ctx, a.Ingest, path, batch)
				if err != nil {
					c.logger.WithContext(ctx).WithError(err).WithField("file", path).Error("Failed to ingest document")
					if !continueOnError {
						return errors.Wrapf(err, "ingest %s", path)
					}
					failed++
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\t%d records\n", path, result.DocumentID, result.Records)
			}
			if failed > 0 {
				return errors.Errorf("%d of %d documents failed", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&batch, "batch", "", "analysis batch for documents that name none")
	cmd.Flags().BoolVar(&continueOnError, "continue-on-error", false, "keep going after a failed document")
	return cmd
}

func ingestFile(ctx context.Context, svc *ingest.Service, path, batch string) (*ingest.Result, error) {
	data, err := ingest.ReadFile(path)
	if err != nil {
		return nil, err
	}
	req, err := ingest.Parse(data)
	if err != nil {
		return nil, err
	}
	if req.AnalysisBatch == "" {
		req.AnalysisBatch = batch
		if err := ingest.Validate(req); err != nil {
			return nil, err
		}
	}
	return svc.Ingest(ctx, req)
}
