package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"

	"github.com/Iron-Ham/autoref/internal/config"
	"github.com/Iron-Ham/autoref/internal/event"
	"github.com/Iron-Ham/autoref/internal/logging"
	"github.com/Iron-Ham/autoref/internal/mailtm"
	"github.com/Iron-Ham/autoref/internal/remote"
	"github.com/Iron-Ham/autoref/internal/results"
	"github.com/Iron-Ham/autoref/internal/retry"
)

// startupDelay is the pause between the startup notice and the first
// remote call.
var startupDelay = retry.DefaultDelay

// processingNotice is printed under the banner by every long-running command.
const processingNotice = "proccesing run auto register (CTRL + C to exit)"

var bannerStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("#7D56F4")).
	Border(lipgloss.RoundedBorder()).
	BorderForeground(lipgloss.Color("#7D56F4")).
	Padding(0, 2)

// announce prints the banner and the processing notice, then waits
// startupDelay. It returns early with ctx's error if ctx is cancelled.
func announce(ctx context.Context, out io.Writer, logger *logging.Logger) error {
	fmt.Fprintln(out, bannerStyle.Render("autoref "+Version+"\nreferral account provisioning"))
	fmt.Fprintln(out, processingNotice)
	logger.Info("starting", "version", Version)
	return retry.Sleep(ctx, startupDelay)
}

// newLogger creates the process logger from config.
// Returns a stderr logger if the log file cannot be opened.
func newLogger(cfg *config.Config) *logging.Logger {
	logger, err := logging.NewLogger(logging.Options{
		Dir:   cfg.Logging.Dir,
		Level: cfg.Logging.Level,
		Rotation: logging.RotationConfig{
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			Compress:   cfg.Logging.Compress,
		},
	})
	if err != nil {
		// Log creation failure shouldn't prevent the application from starting
		fmt.Fprintf(os.Stderr, "Warning: failed to create logger: %v\n", err)
		logger, _ = logging.NewLogger(logging.Options{Level: cfg.Logging.Level})
	}
	return logger
}

// retryPolicy builds the policy for retried remote calls. Every failed
// attempt is published on bus.
func retryPolicy(cfg *config.Config, logger *logging.Logger, bus *event.Bus) retry.Policy {
	return retry.Policy{
		Delay:       cfg.Retry.Delay,
		MaxAttempts: cfg.Retry.MaxAttempts,
		Logger:      logger,
		OnFailure: func(op string, attempt int, err error) {
			if bus != nil {
				bus.Publish(event.NewRetryFailedEvent(op, attempt, err))
			}
		},
	}
}

func newServiceClient(cfg *config.Config) (*remote.Client, error) {
	return remote.NewClient(cfg.Service.BaseURL, remote.WithTimeout(cfg.Service.RequestTimeout))
}

func newMailboxClient(cfg *config.Config) *mailtm.Client {
	return mailtm.NewClient(
		mailtm.WithBaseURL(cfg.Mailbox.BaseURL),
		mailtm.WithTimeout(cfg.Service.RequestTimeout),
	)
}

// openStore opens the configured results backend. For the file backend,
// files maps each stream to a file name relative to dir.
func openStore(ctx context.Context, cfg *config.Config, dir string, files map[results.Stream]string) (results.Store, error) {
	switch cfg.Results.Backend {
	case config.BackendRedis:
		return results.DialRedis(ctx, cfg.Results.RedisURL, cfg.Results.KeyPrefix)
	default:
		return results.NewFileStore(dir, files)
	}
}

// resultFiles maps the result streams to their configured file names.
func resultFiles(cfg *config.Config) map[results.Stream]string {
	return map[results.Stream]string{
		results.StreamAccounts: cfg.Results.AccountsFile,
		results.StreamTokens:   cfg.Results.TokensFile,
		results.StreamCodes:    cfg.Results.CodesFile,
	}
}

// loadConfig loads and validates the configuration, then applies check
// (e.g. RequireRun) when given.
func loadConfig(check func(*config.Config) error) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if check != nil {
		if err := check(cfg); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}
	return cfg, nil
}
