package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/reconcilor/internal/config"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool                `json:"valid"`
	Config *ConfigSummary      `json:"config,omitempty"`
	Errors []config.FieldError `json:"errors,omitempty"`
}

// ConfigSummary is the resolved configuration, defaults applied.
type ConfigSummary struct {
	Database          string  `json:"database"`
	ReconcileInterval string  `json:"reconcile_interval"`
	IdentityScope     string  `json:"identity_scope"`
	Endpoint          string  `json:"directory_endpoint"`
	Timeout           string  `json:"directory_timeout"`
	HTTP2             bool    `json:"directory_http2"`
	RateLimit         float64 `json:"directory_rate_limit"`
	Burst             int     `json:"directory_burst"`
	MaxRetries        int     `json:"probe_max_retries"`
	RetryDelay        string  `json:"probe_retry_delay"`
	LogLevel          string  `json:"log_level"`
	LogFormat         string  `json:"log_format"`
	MetricsListen     string  `json:"metrics_listen,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config>",
		Short: "Validate a config file",
		Long: `Validate a daemon config file against the config schema.

Reports every unknown key, missing required value and out-of-range value,
then prints the configuration with defaults applied.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	formatter.VerboseLog("Validating %s", path)

	cfg, err := config.Load(path)
	if err != nil {
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			return outputValidationErrors(formatter, verr.Errors)
		}
		return outputValidateError(formatter, ErrCodeConfig, err.Error(), nil)
	}

	return outputValidateSuccess(formatter, summarize(cfg))
}

func summarize(cfg *config.Config) *ConfigSummary {
	return &ConfigSummary{
		Database:          cfg.Database,
		ReconcileInterval: cfg.ReconcileInterval.String(),
		IdentityScope:     cfg.IdentityScope,
		Endpoint:          cfg.Directory.Endpoint,
		Timeout:           cfg.Directory.Timeout.String(),
		HTTP2:             cfg.Directory.HTTP2,
		RateLimit:         cfg.Directory.RateLimit,
		Burst:             cfg.Directory.Burst,
		MaxRetries:        cfg.Probe.MaxRetries,
		RetryDelay:        cfg.Probe.RetryDelay.String(),
		LogLevel:          cfg.Log.Level,
		LogFormat:         cfg.Log.Format,
		MetricsListen:     cfg.Metrics.Listen,
	}
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, summary *ConfigSummary) error {
	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Config: summary})
	}

	w := formatter.Writer
	fmt.Fprintln(w, "✓ Config valid")
	if formatter.Verbose {
		fmt.Fprintf(w, "  database:           %s\n", summary.Database)
		fmt.Fprintf(w, "  reconcile_interval: %s\n", summary.ReconcileInterval)
		fmt.Fprintf(w, "  directory:          %s (timeout %s, http2 %t)\n", summary.Endpoint, summary.Timeout, summary.HTTP2)
		fmt.Fprintf(w, "  probe:              %d retries, %s delay\n", summary.MaxRetries, summary.RetryDelay)
	}
	return nil
}

// outputValidateError outputs a single error that stopped validation.
func outputValidateError(formatter *OutputFormatter, code, message string, details interface{}) error {
	_ = formatter.Error(code, message, details)
	// Unreadable or unparsable files are command-level errors (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, errs []config.FieldError) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data: ValidationResult{
				Valid:  false,
				Errors: errs,
			},
			Error: &CLIError{
				Code:    ErrCodeConfig,
				Message: errs[0].Error(),
			},
		}

		if err := writeJSON(formatter.Writer, response); err != nil {
			return err
		}

		// Validation failures = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	// Text format
	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		fmt.Fprintf(formatter.Writer, "  %s\n", err.Error())
	}

	// Validation failures = exit code 1
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
