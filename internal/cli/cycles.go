package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/reconcilor/internal/store"
)

// CyclesOptions holds flags for the cycles command.
type CyclesOptions struct {
	*RootOptions
	Database   string
	Limit      int
	Operations bool
}

// CycleView is a journal cycle with its operations.
type CycleView struct {
	store.CycleRecord
	Operations []store.OperationRecord `json:"operations,omitempty"`
}

// CyclesResult holds the cycles command output.
type CyclesResult struct {
	Cycles   []CycleView             `json:"cycles"`
	Removals []store.OperationRecord `json:"removals,omitempty"`
	Stats    CycleStats              `json:"stats"`
}

// CycleStats summarizes the listed cycles.
type CycleStats struct {
	Total    int            `json:"total"`
	Outcomes map[string]int `json:"outcomes"`
	Failures int            `json:"failures"`
}

// NewCyclesCommand creates the cycles command.
func NewCyclesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CyclesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "cycles",
		Short: "Show the reconcile cycle journal",
		Long: `Show recent reconcile cycles from the journal, newest first.

Each cycle lists its trigger, outcome and plan size. With --ops the
boundary operations of every cycle are listed too, along with account
removals made outside any cycle.

Examples:
  reconcilor cycles --db ./reconcilor.db
  reconcilor cycles --db ./reconcilor.db --limit 5 --ops
  reconcilor cycles --db ./reconcilor.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCycles(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "number of cycles to show (0 for all)")
	cmd.Flags().BoolVar(&opts.Operations, "ops", false, "include operations")

	return cmd
}

func runCycles(opts *CyclesOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	// Open database
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	result, err := loadCycles(ctx, st, opts.Limit, opts.Operations)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read cycle journal", err)
	}

	if opts.Format == "json" {
		return outputCyclesJSON(cmd, result)
	}
	return outputCyclesText(cmd.OutOrStdout(), result, opts.Verbose)
}

func loadCycles(ctx context.Context, st *store.Store, limit int, withOps bool) (CyclesResult, error) {
	records, err := st.Cycles(ctx, limit)
	if err != nil {
		return CyclesResult{}, err
	}

	result := CyclesResult{
		Cycles: make([]CycleView, 0, len(records)),
		Stats:  CycleStats{Total: len(records), Outcomes: map[string]int{}},
	}
	for _, r := range records {
		view := CycleView{CycleRecord: r}
		if withOps {
			if view.Operations, err = st.Operations(ctx, r.Seq); err != nil {
				return CyclesResult{}, err
			}
		}
		result.Cycles = append(result.Cycles, view)

		outcome := r.Outcome
		if outcome == "" {
			outcome = "running"
		}
		result.Stats.Outcomes[outcome]++
		result.Stats.Failures += r.Failures
	}

	if withOps {
		if result.Removals, err = st.Operations(ctx, 0); err != nil {
			return CyclesResult{}, err
		}
	}
	return result, nil
}

func outputCyclesJSON(cmd *cobra.Command, result CyclesResult) error {
	return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: result})
}

func outputCyclesText(w io.Writer, result CyclesResult, verbose bool) error {
	if len(result.Cycles) == 0 && len(result.Removals) == 0 {
		fmt.Fprintln(w, "No cycles recorded.")
		return nil
	}

	fmt.Fprintln(w, "=== Cycles ===")
	for _, c := range result.Cycles {
		outcome := c.Outcome
		if outcome == "" {
			outcome = "running"
		}
		fmt.Fprintf(w, "  [%d] %-9s %-15s %s", c.Seq, outcome, c.Trigger, c.StartedAt.Format(time.RFC3339))
		if c.Rebuild {
			fmt.Fprint(w, " rebuild")
		}
		fmt.Fprintf(w, " creates=%d imports=%d", c.Creates, c.Imports)
		if c.Failures > 0 {
			fmt.Fprintf(w, " failures=%d", c.Failures)
		}
		fmt.Fprintln(w)

		if c.Reason != "" {
			fmt.Fprintf(w, "       Reason: %s\n", c.Reason)
		}
		if verbose {
			fmt.Fprintf(w, "       ID: %s\n", truncateID(c.ID))
			fmt.Fprintf(w, "       Accounts: %d valid, %d invalid\n", c.ValidAccounts, c.InvalidAccounts)
			if c.Error != "" {
				fmt.Fprintf(w, "       Error: %s\n", c.Error)
			}
		}
		for _, op := range c.Operations {
			formatOperation(w, op)
		}
	}
	fmt.Fprintln(w)

	if len(result.Removals) > 0 {
		fmt.Fprintln(w, "=== Removals ===")
		for _, op := range result.Removals {
			formatOperation(w, op)
		}
		fmt.Fprintln(w)
	}

	// Stats section
	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Cycles:   %d\n", result.Stats.Total)
	for _, outcome := range []string{"applied", "noop", "partial", "aborted", "skipped", "cancelled", "running"} {
		if n := result.Stats.Outcomes[outcome]; n > 0 {
			fmt.Fprintf(w, "  %-9s %d\n", outcome+":", n)
		}
	}
	fmt.Fprintf(w, "  Failures: %d\n", result.Stats.Failures)

	return nil
}

// formatOperation formats a single operation for text output.
func formatOperation(w io.Writer, op store.OperationRecord) {
	fmt.Fprintf(w, "       - %s", op.Kind)
	if op.Account != "" {
		fmt.Fprintf(w, " %s", op.Account)
	}
	if op.Index >= 0 && op.Kind == "import" {
		fmt.Fprintf(w, " @%d", op.Index)
	}
	if op.ErrorCode != "" {
		fmt.Fprintf(w, " [%s]", op.ErrorCode)
	}
	if op.Error != "" {
		fmt.Fprintf(w, " %s", op.Error)
	}
	fmt.Fprintln(w)
}

// truncateID truncates a long ID for display.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}
