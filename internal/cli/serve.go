package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/reconcilor/internal/account"
	"github.com/roach88/reconcilor/internal/directory"
)

// ServeDirectoryOptions holds flags for the serve-directory command.
type ServeDirectoryOptions struct {
	*RootOptions
	Listen   string
	Accounts []string
	Sessions []string
}

// NewServeDirectoryCommand creates the serve-directory command.
func NewServeDirectoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeDirectoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve-directory",
		Short: "Serve an in-memory provider for development",
		Long: `Serve an in-memory identity provider over the provider API.

The provider knows every account named by --accounts or --sessions and
starts with one valid session per --sessions entry, in order. The refresh
token of each known account is printed at startup for use with
"reconcilor accounts add". Both HTTP/1.1 and cleartext HTTP/2 are accepted.

Example:
  reconcilor serve-directory --listen 127.0.0.1:8181 --sessions alice,bob --accounts carol`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServeDirectory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "127.0.0.1:8181", "listen address")
	cmd.Flags().StringSliceVar(&opts.Accounts, "accounts", nil, "accounts the provider knows")
	cmd.Flags().StringSliceVar(&opts.Sessions, "sessions", nil, "initial sessions, primary first")

	return cmd
}

// newSeededMemory builds the provider the command serves and returns it
// with every known account in flag order.
func newSeededMemory(accounts, sessions []string) (*directory.Memory, []account.ID) {
	var known []account.ID
	seen := account.NewSet()
	add := func(raw string) {
		id := account.Normalize(raw)
		if id == "" || seen.Has(id) {
			return
		}
		seen.Add(id)
		known = append(known, id)
	}
	for _, raw := range sessions {
		add(raw)
	}
	for _, raw := range accounts {
		add(raw)
	}

	m := directory.NewMemory(known...)
	list := make(account.RemoteSessionList, 0, len(sessions))
	for _, raw := range sessions {
		if id := account.Normalize(raw); id != "" {
			list = append(list, account.RemoteSession{ID: id, Valid: true})
		}
	}
	m.SetSessions(list)
	return m, known
}

func runServeDirectory(opts *ServeDirectoryOptions, cmd *cobra.Command) error {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	m, known := newSeededMemory(opts.Accounts, opts.Sessions)

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Directory listening on %s\n", opts.Listen)
	for _, id := range known {
		fmt.Fprintf(w, "  %s  refresh token %s\n", id, directory.RefreshTokenFor(id))
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := directory.NewServer(opts.Listen, m)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("directory shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitCommandError, "directory server error", err)
	}
	return nil
}
