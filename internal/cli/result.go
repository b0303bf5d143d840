package cli

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tolliver/veil/internal/store"
)

// ResultOptions holds flags for the result command group.
type ResultOptions struct {
	*RootOptions
	Database string
}

// NewResultCommand creates the result command group.
func NewResultCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResultOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "result",
		Short: "Inspect and clean up stored run results",
	}

	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to the engine store database (required)")
	_ = cmd.MarkPersistentFlagRequired("db")

	cmd.AddCommand(newResultGetCommand(opts))
	cmd.AddCommand(newResultDeleteCommand(opts))

	return cmd
}

func newResultGetCommand(opts *ResultOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <run-id>",
		Short: "Print the stored result for a run",
		Long: `Print the stored result for a run.

Example:
  veil result get 1042 --db ./veil.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := parseRunID(args[0])
			if err != nil {
				return err
			}

			st, err := store.Open(opts.Database)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open store", err)
			}
			defer st.Close()

			r, err := st.GetResult(cmd.Context(), runID)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read result", err)
			}
			if r == nil {
				return NewExitError(ExitFailure, fmt.Sprintf("no result stored for run %d", runID))
			}

			if opts.Format == "json" {
				formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
				return formatter.Success(map[string]any{
					"run_id":     r.RunID,
					"command_id": r.CommandID,
					"mechanism":  r.Mechanism,
					"created_at": r.CreatedAt,
					"payload":    json.RawMessage(r.Payload),
				})
			}

			fmt.Fprintf(cmd.OutOrStdout(), "run %d (command %d), mechanism %s, stored %s\n",
				r.RunID, r.CommandID, r.Mechanism, r.CreatedAt.Format("2006-01-02 15:04:05"))
			fmt.Fprintln(cmd.OutOrStdout(), r.Payload)
			return nil
		},
	}
}

func newResultDeleteCommand(opts *ResultOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete the stored result for a run",
		Long: `Delete the stored result for a run.

Deleting a result does not refund its budget: the data was revealed when
the run executed, and the ledger entry stays.

Example:
  veil result delete 1042 --db ./veil.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := parseRunID(args[0])
			if err != nil {
				return err
			}

			st, err := store.Open(opts.Database)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open store", err)
			}
			defer st.Close()

			deleted, err := st.DeleteResult(cmd.Context(), runID)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to delete result", err)
			}
			if !deleted {
				return NewExitError(ExitFailure, fmt.Sprintf("no result stored for run %d", runID))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted result for run %d\n", runID)
			return nil
		},
	}
}

func parseRunID(arg string) (int64, error) {
	runID, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || runID <= 0 {
		return 0, NewExitError(ExitCommandError, fmt.Sprintf("invalid run id %q", arg))
	}
	return runID, nil
}
