package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/reconcilor/internal/config"
	"github.com/roach88/reconcilor/internal/directory"
	"github.com/roach88/reconcilor/internal/engine"
	"github.com/roach88/reconcilor/internal/probe"
	"github.com/roach88/reconcilor/internal/store"
	"github.com/roach88/reconcilor/internal/telemetry"
)

// shutdownTimeout bounds the metrics server shutdown.
const shutdownTimeout = 5 * time.Second

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Config string

	// CycleIDs overrides the cycle id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	CycleIDs engine.CycleIDGenerator
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the reconcile daemon",
		Long: `Start the reconcile daemon.

The daemon opens the credential store named in the config file, connects
to the provider's session directory and runs the reconcile engine until
interrupted. Account changes made through "reconcilor accounts" are picked
up by the engine of the same process only; a separate daemon sees them on
its next timer cycle.

Example:
  reconcilor run --config ./reconcilor.yaml
  reconcilor run --config /etc/reconcilor.yaml --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "path to config file (required)")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func runDaemon(opts *RunOptions, cmd *cobra.Command) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			return WrapExitError(ExitFailure, "invalid config", err)
		}
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	logger := newLogger(cmd.ErrOrStderr(), cfg.Log, opts.Verbose)
	slog.SetDefault(logger)

	// Open database (create if not exists)
	logger.Info("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	client, err := directory.NewHTTPClient(cfg.Directory.Endpoint,
		directory.WithTimeout(cfg.Directory.Timeout),
		directory.WithHTTP2(cfg.Directory.HTTP2),
		directory.WithRateLimit(cfg.Directory.RateLimit, cfg.Directory.Burst),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create directory client", err)
	}

	prober := probe.New(
		probe.NewCachedTokens(st, client),
		client,
		probe.WithScope(cfg.IdentityScope),
		probe.WithRetries(cfg.Probe.MaxRetries, cfg.Probe.RetryDelay),
		probe.WithLogger(logger),
	)

	// Resume cycle numbering after the journal's last cycle
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	lastSeq, err := st.LastCycleSeq(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read cycle journal", err)
	}

	registry := prometheus.NewRegistry()
	metrics := telemetry.New(registry)
	journal := store.NewJournal(st, store.WithJournalLogger(logger))

	cycleIDs := opts.CycleIDs
	if cycleIDs == nil {
		cycleIDs = engine.UUIDv7Generator{}
	}
	eng := engine.New(client, st, prober,
		engine.WithInterval(cfg.ReconcileInterval),
		engine.WithCycleIDs(cycleIDs),
		engine.WithCycleClock(engine.NewClockAt(lastSeq)),
		engine.WithObserver(engine.MultiObserver(journal, metrics)),
		engine.WithLogger(logger),
	)

	detach := st.Attach(eng)
	defer detach()

	primary, err := st.PrimaryAccount(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read primary account", err)
	}
	if primary != "" {
		eng.OnSignedIn()
	} else {
		logger.Info("no primary account, waiting for sign-in")
	}

	// Setup signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := eng.Run(gctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return err
	})

	if cfg.Metrics.Listen != "" {
		srv := newMetricsServer(cfg.Metrics.Listen, registry)
		g.Go(func() error {
			logger.Info("metrics listening", "addr", cfg.Metrics.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	logger.Info("daemon starting",
		"db", cfg.Database,
		"directory", cfg.Directory.Endpoint,
		"interval", cfg.ReconcileInterval,
		"last_cycle", lastSeq,
	)
	fmt.Fprintln(cmd.OutOrStdout(), "Reconcilor started. Press Ctrl-C to stop.")

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "daemon error", err)
	}

	logger.Info("daemon stopped gracefully")
	return nil
}

func newMetricsServer(addr string, g prometheus.Gatherer) *http.Server {
	r := chi.NewRouter()
	r.Handle("/metrics", telemetry.Handler(g))
	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// newLogger builds the daemon logger. --verbose forces debug level.
func newLogger(w io.Writer, cfg config.Log, verbose bool) *slog.Logger {
	level := cfg.SlogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}
