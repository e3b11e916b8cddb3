package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/reconcilor/internal/account"
	"github.com/roach88/reconcilor/internal/store"
)

// AccountsOptions holds flags for the accounts commands.
type AccountsOptions struct {
	*RootOptions
	Database string
	Token    string
}

// NewAccountsCommand creates the accounts command and its subcommands.
func NewAccountsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AccountsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage the local credential store",
		Long: `List and change the accounts in the local credential store.

The primary account is the signed-in identity. "signin" makes an account
primary and "signout" clears the primary without removing any account.

Examples:
  reconcilor accounts list --db ./reconcilor.db
  reconcilor accounts add bob@example.com --token 1//refresh --db ./reconcilor.db
  reconcilor accounts signin alice@example.com --db ./reconcilor.db`,
	}

	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkPersistentFlagRequired("db")

	cmd.AddCommand(&cobra.Command{
		Use:           "list",
		Short:         "List accounts in registry order",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, cmd, listAccounts)
		},
	})

	add := &cobra.Command{
		Use:           "add <account>",
		Short:         "Add an account or replace its refresh token",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, cmd, func(ctx context.Context, st *store.Store, f *OutputFormatter) error {
				id, err := st.AddAccount(ctx, account.ID(args[0]), opts.Token)
				if err != nil {
					return accountError(f, err)
				}
				return accountDone(f, "added", id)
			})
		},
	}
	add.Flags().StringVar(&opts.Token, "token", "", "refresh token (required)")
	_ = add.MarkFlagRequired("token")
	cmd.AddCommand(add)

	cmd.AddCommand(&cobra.Command{
		Use:           "remove <account>",
		Short:         "Remove a secondary account",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, cmd, func(ctx context.Context, st *store.Store, f *OutputFormatter) error {
				id := account.Normalize(args[0])
				if err := st.RemoveAccount(ctx, id); err != nil {
					return accountError(f, err)
				}
				return accountDone(f, "removed", id)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:           "signin <account>",
		Short:         "Make an account the primary",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, cmd, func(ctx context.Context, st *store.Store, f *OutputFormatter) error {
				id := account.Normalize(args[0])
				if err := st.SetPrimary(ctx, id); err != nil {
					return accountError(f, err)
				}
				return accountDone(f, "signed in", id)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:           "signout",
		Short:         "Clear the primary account",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, cmd, func(ctx context.Context, st *store.Store, f *OutputFormatter) error {
				if err := st.ClearPrimary(ctx); err != nil {
					return accountError(f, err)
				}
				return accountDone(f, "signed out", "")
			})
		},
	})

	return cmd
}

// withStore opens the database for the duration of fn.
func withStore(opts *AccountsOptions, cmd *cobra.Command, fn func(context.Context, *store.Store, *OutputFormatter) error) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	st, err := store.Open(opts.Database)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	formatter.VerboseLog("Opened database %s", opts.Database)
	return fn(cmd.Context(), st, formatter)
}

func listAccounts(ctx context.Context, st *store.Store, f *OutputFormatter) error {
	records, err := st.Accounts(ctx)
	if err != nil {
		_ = f.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to list accounts", err)
	}

	if f.Format == "json" {
		return f.Success(records)
	}

	w := f.Writer
	if len(records) == 0 {
		fmt.Fprintln(w, "No accounts.")
		return nil
	}
	for _, r := range records {
		marker := " "
		if r.Primary {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %d %s", marker, r.Position, r.ID)
		if f.Verbose {
			fmt.Fprintf(w, " (%d cached token(s))", r.CachedTokens)
		}
		fmt.Fprintln(w)
	}
	return nil
}

// accountDone reports a successful change.
func accountDone(f *OutputFormatter, action string, id account.ID) error {
	if f.Format == "json" {
		data := map[string]string{"action": action}
		if id != "" {
			data["account"] = string(id)
		}
		return f.Success(data)
	}
	if id == "" {
		return f.Success(capitalize(action))
	}
	return f.Success(fmt.Sprintf("%s %s", capitalize(action), id))
}

// accountError reports a rejected change. Missing or protected accounts are
// failures; anything else is a command error.
func accountError(f *OutputFormatter, err error) error {
	_ = f.Error(ErrCodeAccount, err.Error(), nil)
	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrPrimaryAccount),
		errors.Is(err, store.ErrInvalidID):
		return WrapExitError(ExitFailure, "account change rejected", err)
	default:
		return WrapExitError(ExitCommandError, "account change failed", err)
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
