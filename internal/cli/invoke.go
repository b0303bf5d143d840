package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// InvokeOptions holds flags for the invoke command.
type InvokeOptions struct {
	*RootOptions
	Database    string
	DatasetDB   string
	DatasetName string
}

// NewInvokeCommand creates the invoke command.
func NewInvokeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InvokeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "invoke <request.json>",
		Short: "Process one analysis request end to end",
		Long: `Process one analysis request end to end.

Reads the request payload from the given file ("-" for stdin), runs it
through validation, budget reservation, execution and persistence, and
prints the response. The exit code is 0 when the request produced a
result and 1 when it was rejected.

Example:
  veil invoke request.json --schema ./schema --db ./veil.db --dataset-db ./puf.db
  cat request.json | veil invoke - --schema ./schema --db ./veil.db --dataset-db ./puf.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return invokeRequest(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the engine store database (required)")
	cmd.Flags().StringVar(&opts.DatasetDB, "dataset-db", "", "path to the dataset database (required)")
	cmd.Flags().StringVar(&opts.DatasetName, "dataset", "default", "dataset name used for budget scoping")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("dataset-db")

	return cmd
}

func invokeRequest(opts *InvokeOptions, path string, cmd *cobra.Command) error {
	payload, err := readPayload(path, cmd.InOrStdin())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read request payload", err)
	}

	env, err := openEnv(opts.RootOptions, opts.Database, opts.DatasetDB, opts.DatasetName)
	if err != nil {
		return err
	}
	defer env.Close()

	resp := env.Orch.Handle(cmd.Context(), payload)

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if !resp.OK() {
		if err := formatter.Error(resp.ErrorReason, resp.Message); err != nil {
			return err
		}
		return NewExitError(ExitFailure, "request rejected")
	}
	if opts.Format == "json" {
		return formatter.Success(resp)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "run %d: %s result, %d rows, budget used %g\n",
		resp.RunID, resp.MechanismUsed, len(resp.Result.Rows), resp.Result.EpsilonSpent)
	return nil
}

// readPayload reads the request body from a file, or from stdin when the
// path is "-".
func readPayload(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}
