package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tolliver/veil/internal/budget"
	"github.com/tolliver/veil/internal/store"
)

// BudgetOptions holds flags for the budget command.
type BudgetOptions struct {
	*RootOptions
	Database string
	Scope    string
}

// NewBudgetCommand creates the budget command.
func NewBudgetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BudgetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Show privacy budget totals per scope",
		Long: `Show privacy budget totals per scope.

Without --scope, all scopes with recorded activity are listed.

Example:
  veil budget --db ./veil.db
  veil budget --db ./veil.db --scope puf/researcher/42`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showBudget(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the engine store database (required)")
	cmd.Flags().StringVar(&opts.Scope, "scope", "", "show a single scope")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func showBudget(opts *BudgetOptions, cmd *cobra.Command) error {
	pol, err := loadPolicy(opts.RootOptions)
	if err != nil {
		return err
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer st.Close()

	accountant := budget.New(st, pol.MaxEpsilon)
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	if opts.Scope != "" {
		status, err := accountant.Status(cmd.Context(), opts.Scope)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read scope", err)
		}
		if status == nil {
			return NewExitError(ExitFailure, fmt.Sprintf("scope %q has no recorded activity", opts.Scope))
		}
		if opts.Format == "json" {
			return formatter.Success(status)
		}
		printStatus(cmd, *status)
		return nil
	}

	statuses, err := accountant.Statuses(cmd.Context())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list scopes", err)
	}
	if opts.Format == "json" {
		return formatter.Success(statuses)
	}
	if len(statuses) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no scopes with recorded activity")
		return nil
	}
	for _, s := range statuses {
		printStatus(cmd, s)
	}
	return nil
}

func printStatus(cmd *cobra.Command, s budget.ScopeStatus) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s: spent %g of %g (%g remaining)\n",
		s.ScopeKey, s.Spent, s.Max, s.Remaining)
}
