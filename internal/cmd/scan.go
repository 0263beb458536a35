package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/autoref/internal/config"
	"github.com/Iron-Ham/autoref/internal/errors"
	"github.com/Iron-Ham/autoref/internal/event"
	"github.com/Iron-Ham/autoref/internal/harvest"
	"github.com/Iron-Ham/autoref/internal/logging"
	"github.com/Iron-Ham/autoref/internal/provision"
	"github.com/Iron-Ham/autoref/internal/results"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Collect active referral codes from existing accounts",
	Long: `Scan reads account tokens from scan.tokens_file (one per line) and asks the
service for each account's referral code. Every active code is printed and
appended to the codes results stream. The token list is swept scan.passes
times.`,
	RunE: runScan,
}

var harvestCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Spend active referral codes on freshly provisioned accounts",
	Long: `Harvest sweeps scan.tokens_file like scan, but instead of recording each
active code it provisions a new account and confirms the code on it,
retrying until the service returns a token. The new account is appended to
scan.accounts_file and its token to scan.tokens_file, so the next scan or
harvest picks it up. These are always plain files, whatever results.backend
is set to. A failure on one account is logged and the sweep continues.`,
	RunE: runHarvest,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(harvestCmd)
}

func runScan(cmd *cobra.Command, _ []string) error {
	return runSweep(cmd, func(ctx context.Context, cfg *config.Config, logger *logging.Logger, tokens []string, out io.Writer) error {
		store, err := openStore(ctx, cfg, cfg.Results.Dir, resultFiles(cfg))
		if err != nil {
			return errors.Wrap(err, "failed to open results store")
		}
		defer store.Close()

		service, err := newServiceClient(cfg)
		if err != nil {
			return err
		}

		h, err := harvest.New(harvest.Config{
			Lookup: service,
			Store:  store,
			Passes: cfg.Scan.Passes,
		}, harvest.WithLogger(logger), harvest.WithCodeHandler(printCode(out)))
		if err != nil {
			return err
		}

		found, err := h.Scan(ctx, tokens)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Found %d active referral codes\n", found)
		return nil
	})
}

func runHarvest(cmd *cobra.Command, _ []string) error {
	return runSweep(cmd, func(ctx context.Context, cfg *config.Config, logger *logging.Logger, tokens []string, out io.Writer) error {
		store, err := results.NewFileStore("", map[results.Stream]string{
			results.StreamAccounts: cfg.Scan.AccountsFile,
			results.StreamTokens:   cfg.Scan.TokensFile,
		})
		if err != nil {
			return errors.Wrap(err, "failed to open harvest files")
		}
		defer store.Close()

		service, err := newServiceClient(cfg)
		if err != nil {
			return err
		}

		bus := event.NewBus(event.WithLogger(logger))
		policy := retryPolicy(cfg, logger, bus)

		prov, err := provision.New(provision.Config{
			Mailbox:     newMailboxClient(cfg),
			Service:     service,
			Retry:       policy,
			Description: cfg.Profile.Description,
		}, provision.WithLogger(logger), provision.WithBus(bus))
		if err != nil {
			return err
		}

		h, err := harvest.New(harvest.Config{
			Lookup:      service,
			Store:       store,
			Passes:      cfg.Scan.Passes,
			Provisioner: prov,
			Confirmer:   service,
			Retry:       policy,
		}, harvest.WithLogger(logger), harvest.WithCodeHandler(printCode(out)))
		if err != nil {
			return err
		}

		stats, err := h.Harvest(ctx, tokens)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Found %d active referral codes: %d confirmed, %d failed\n",
			stats.Found, stats.Confirmed, stats.Failed)
		return nil
	})
}

type sweepFunc func(ctx context.Context, cfg *config.Config, logger *logging.Logger, tokens []string, out io.Writer) error

// runSweep holds what scan and harvest share: config, logging, the token
// list, the startup notice and interrupt handling.
func runSweep(cmd *cobra.Command, sweep sweepFunc) error {
	cfg, err := loadConfig((*config.Config).RequireService)
	if err != nil {
		return err
	}

	logger := newLogger(cfg)
	defer logger.Close()

	tokens, err := results.ReadLines(cfg.Scan.TokensFile)
	if err != nil {
		return fmt.Errorf("failed to read tokens: %w", err)
	}
	if len(tokens) == 0 {
		return fmt.Errorf("no tokens found in %s", cfg.Scan.TokensFile)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	err = announce(ctx, out, logger)
	if err == nil {
		err = sweep(ctx, cfg, logger, tokens, out)
	}
	if ctx.Err() != nil && cmd.Context().Err() == nil {
		logger.Info("interrupt received, exiting")
		fmt.Fprintln(out, "Interrupt received. Exiting...")
		return nil
	}
	if err != nil {
		logger.Error("fatal error", "error", err.Error())
	}
	return err
}

func printCode(out io.Writer) func(code string) {
	return func(code string) {
		fmt.Fprintf(out, "Referral code: %s\n", code)
	}
}
