package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tolliver/veil/internal/validate"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Transform string
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <analysis-query>",
		Short: "Check a query against the approved schema without executing it",
		Long: `Check a query against the approved schema without executing it.

No database is touched and no budget is charged. The exit code is 0 when
the query is admissible and 1 when it is rejected.

Example:
  veil validate 'SELECT COUNT(*) FROM puf.puf' --schema ./schema
  veil validate 'SELECT AVG(wages) FROM puf.puf_sub' --transform 'CREATE TABLE puf.puf_sub AS SELECT wages FROM puf.puf WHERE agi > 0' --schema ./schema`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateQuery(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Transform, "transform", "", "transformation query to validate alongside the analysis")

	return cmd
}

func validateQuery(opts *ValidateOptions, analysisText string, cmd *cobra.Command) error {
	sch, err := loadSchema(opts.RootOptions)
	if err != nil {
		return err
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	vq, err := validate.Validate(analysisText, opts.Transform, sch)
	if err != nil {
		reason := "invalid"
		var ve *validate.Error
		if errors.As(err, &ve) {
			reason = string(ve.Reason)
		}
		if werr := formatter.Error(reason, err.Error()); werr != nil {
			return werr
		}
		return NewExitError(ExitFailure, "query rejected")
	}

	if opts.Format == "json" {
		return formatter.Success(map[string]any{
			"table":           vq.Table.Name,
			"aggregate_cells": vq.NumCells(),
			"has_transform":   vq.Transform != nil,
		})
	}

	fmt.Fprintf(cmd.OutOrStdout(), "valid: table %s, %d aggregate cell(s)\n", vq.Table.Name, vq.NumCells())
	return nil
}
