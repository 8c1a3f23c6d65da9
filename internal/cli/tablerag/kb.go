package tablerag

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tablerag/tablerag/internal/app"
	"github.com/tablerag/tablerag/internal/catalog"
)

func (c *cli) buildCommand() *cobra.Command {
	var allowPartial bool
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Rebuild the knowledge base from the data store",
		Long: `Describe every table, column and text value of the data store, embed the
descriptions, and publish a new vector index together with the entity
catalogue. Tables that cannot be read are reported and skipped; the command
exits non-zero in that case unless --allow-partial is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			return c.rebuild(cmd.Context(), cmd, application, allowPartial)
		},
	}
	cmd.Flags().BoolVar(&allowPartial, "allow-partial", false, "succeed even when some tables could not be described")
	return cmd
}

func (c *cli) rebuild(ctx context.Context, cmd *cobra.Command, application *app.App, allowPartial bool) error {
	builder, err := application.Builder()
	if err != nil {
		return err
	}
	result, err := builder.Build(ctx)
	if err != nil {
		return err
	}
	for _, failure := range result.Failures {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "skipped table %s: %v\n", failure.Table, failure.Err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "built knowledge base %s: %d entities (%d tables, %d columns, %d fields)\n",
		result.Record.BuildID,
		result.Record.EntityCount,
		result.Counts[catalog.EntityTable],
		result.Counts[catalog.EntityColumn],
		result.Counts[catalog.EntityField],
	)
	if len(result.Failures) > 0 && !allowPartial {
		return errReported
	}
	return nil
}

func (c *cli) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report the knowledge base size, sync state and last build",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			application, err := c.open(ctx)
			if err != nil {
				return err
			}
			if _, err := application.LoadIndex(ctx); err != nil {
				return err
			}
			status, err := application.KBStatus(ctx)
			if err != nil {
				return err
			}
			formatted, err := json.MarshalIndent(status, "", "  ")
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(formatted))
			return nil
		},
	}
}
