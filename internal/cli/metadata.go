package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tolliver/veil/internal/dataset"
)

// MetadataOptions holds flags for the metadata command.
type MetadataOptions struct {
	*RootOptions
	DatasetDB string
}

// NewMetadataCommand creates the metadata command.
func NewMetadataCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MetadataOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "metadata <table>",
		Short: "Inspect the derived metadata for a dataset table",
		Long: `Inspect the derived metadata for a dataset table.

Shows the column types, value bounds and cardinalities the engine would
use for sensitivity calibration. Useful for checking what a
transformation produced.

Example:
  veil metadata puf.puf --dataset-db ./puf.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showMetadata(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DatasetDB, "dataset-db", "", "path to the dataset database (required)")
	_ = cmd.MarkFlagRequired("dataset-db")

	return cmd
}

func showMetadata(opts *MetadataOptions, table string, cmd *cobra.Command) error {
	ds, err := dataset.Open(opts.DatasetDB)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open dataset", err)
	}
	defer ds.Close()

	meta, err := ds.TableMetadata(cmd.Context(), table)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to derive metadata", err)
	}

	if opts.Format == "json" {
		formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
		type colOut struct {
			Name        string  `json:"name"`
			Type        string  `json:"type"`
			Lower       float64 `json:"lower,omitempty"`
			Upper       float64 `json:"upper,omitempty"`
			Cardinality int     `json:"cardinality,omitempty"`
		}
		var cols []colOut
		for _, name := range meta.ColumnNames() {
			c, _ := meta.Column(name)
			cols = append(cols, colOut{
				Name: c.Name, Type: string(c.Type),
				Lower: c.Lower, Upper: c.Upper, Cardinality: c.Cardinality,
			})
		}
		return formatter.Success(map[string]any{
			"table":   meta.Name,
			"rows":    meta.Rows,
			"columns": cols,
		})
	}

	fmt.Fprintf(cmd.OutOrStdout(), "table %s: %d rows\n", meta.Name, meta.Rows)
	for _, name := range meta.ColumnNames() {
		c, _ := meta.Column(name)
		line := fmt.Sprintf("  %s (%s)", c.Name, c.Type)
		if c.HasBounds {
			line += fmt.Sprintf(" bounds [%g, %g]", c.Lower, c.Upper)
		}
		if c.Cardinality > 0 {
			line += fmt.Sprintf(" cardinality %d", c.Cardinality)
		}
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}
	return nil
}
