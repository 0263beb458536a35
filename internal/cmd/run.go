package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Iron-Ham/autoref/internal/config"
	"github.com/Iron-Ham/autoref/internal/dispatch"
	"github.com/Iron-Ham/autoref/internal/errors"
	"github.com/Iron-Ham/autoref/internal/event"
	"github.com/Iron-Ham/autoref/internal/handoff"
	"github.com/Iron-Ham/autoref/internal/inbox"
	"github.com/Iron-Ham/autoref/internal/logging"
	"github.com/Iron-Ham/autoref/internal/metrics"
	"github.com/Iron-Ham/autoref/internal/notify"
	"github.com/Iron-Ham/autoref/internal/pipeline"
	"github.com/Iron-Ham/autoref/internal/provision"
	"github.com/Iron-Ham/autoref/internal/referral"
	"github.com/Iron-Ham/autoref/internal/telegram"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Provision accounts, waiting on Telegram for each referral code",
	Long: `Run connects the Telegram bot, then provisions accounts one at a time.

Each account is registered and given a profile, then the bot asks for a
referral code. Send the code to the bot from the configured chat. A rejected
code is reported and the bot asks again; an accepted one is saved and the
next account is started immediately.

If inbox.codes_file is set, lines appended to that file are treated exactly
like messages from the operator chat.`,
	RunE: runRun,
}

var (
	runMaxTasks   int
	runStartIndex int
)

// botOptions are extra options for telegram.Connect.
var botOptions []telegram.Option

// notifyContext is replaced in tests to simulate an interrupt.
var notifyContext = signal.NotifyContext

// errTaskLimit stops the listeners once the pipeline reaches --max-tasks.
var errTaskLimit = errors.New("task limit reached")

func init() {
	runCmd.Flags().IntVar(&runMaxTasks, "max-tasks", 0, "Stop after this many accepted referrals (0 = run until interrupted)")
	runCmd.Flags().IntVar(&runStartIndex, "start-index", 1, "Number of the first task")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig((*config.Config).RequireRun)
	if err != nil {
		return err
	}

	logger := newLogger(cfg)
	defer logger.Close()

	ctx, stop := notifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	done := make(chan error, 1)
	go func() {
		done <- guard(logger, "run", func() error {
			return runPipeline(ctx, cfg, logger, out)
		})
	}()

	// In-flight remote calls are not drained on interrupt.
	select {
	case err = <-done:
	case <-ctx.Done():
	}
	if ctx.Err() != nil && cmd.Context().Err() == nil {
		stop()
		logger.Info("interrupt received, exiting")
		fmt.Fprintln(out, "Interrupt received. Exiting...")
		return nil
	}
	if !errors.IsFatal(err) {
		return nil
	}
	logger.Error("fatal error", "error", err.Error())
	return err
}

// guard runs fn, turning a panic into an error after logging it with its
// stack.
func guard(logger *logging.Logger, name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("uncaught panic",
				"goroutine", name,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("uncaught panic in %s: %v", name, r)
		}
	}()
	return fn()
}

// runPipeline wires the components and runs the pipeline next to the
// inbound listeners until one of them fails or ctx is cancelled.
func runPipeline(ctx context.Context, cfg *config.Config, logger *logging.Logger, out io.Writer) error {
	if err := announce(ctx, out, logger); err != nil {
		return err
	}

	if err := telegram.InstallLogger(logger); err != nil {
		return errors.Wrap(err, "failed to install telegram logger")
	}

	bus := event.NewBus(event.WithLogger(logger))
	stats := metrics.New()
	stats.Attach(bus)
	defer stats.Detach()

	notifier := notify.New(logger, notify.NewConsole(out))

	bot, err := telegram.Connect(ctx, telegram.Config{
		Token:        cfg.Telegram.BotToken,
		ChatID:       cfg.Telegram.ChatID,
		Endpoint:     cfg.Telegram.APIEndpoint,
		InitAttempts: cfg.Telegram.InitAttempts,
		InitDelay:    cfg.Telegram.InitDelay,
		PollTimeout:  cfg.Telegram.PollTimeout,
	}, append([]telegram.Option{telegram.WithLogger(logger)}, botOptions...)...)
	if err != nil {
		return err
	}
	notifier.Add(bot)

	store, err := openStore(ctx, cfg, cfg.Results.Dir, resultFiles(cfg))
	if err != nil {
		return errors.Wrap(err, "failed to open results store")
	}
	defer store.Close()

	service, err := newServiceClient(cfg)
	if err != nil {
		return err
	}

	slot := handoff.NewSlot()

	prov, err := provision.New(provision.Config{
		Mailbox:     newMailboxClient(cfg),
		Service:     service,
		Retry:       retryPolicy(cfg, logger, bus),
		Description: cfg.Profile.Description,
	}, provision.WithLogger(logger), provision.WithBus(bus))
	if err != nil {
		return err
	}

	resolver, err := referral.New(referral.Config{
		Slot:      slot,
		Confirmer: service,
		Accounts:  prov,
		Store:     store,
		Notifier:  notifier,
	}, referral.WithLogger(logger), referral.WithBus(bus))
	if err != nil {
		return err
	}

	pipe, err := pipeline.NewPipeline(pipeline.PipelineConfig{
		Provisioner: prov,
		Resolver:    resolver,
	},
		pipeline.WithLogger(logger),
		pipeline.WithBus(bus),
		pipeline.WithStartIndex(runStartIndex),
		pipeline.WithMaxTasks(runMaxTasks),
	)
	if err != nil {
		return err
	}

	dispatcher, err := dispatch.New(dispatch.Config{
		ChatID:   bot.ChatID(),
		Slot:     slot,
		Tokens:   pipe,
		Notifier: notifier,
	}, dispatch.WithLogger(logger), dispatch.WithBus(bus))
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return guard(logger, "telegram listener", func() error {
			return bot.Listen(gctx, dispatcher.Handle)
		})
	})

	if cfg.Inbox.CodesFile != "" {
		src := inbox.NewFileSource(cfg.Inbox.CodesFile, bot.ChatID(), logger)
		g.Go(func() error {
			return guard(logger, "file inbox", func() error {
				return src.Listen(gctx, dispatcher.Handle)
			})
		})
	}

	if cfg.Metrics.Addr != "" {
		srv := metrics.NewServer(cfg.Metrics.Addr, stats,
			metrics.WithServerLogger(logger),
			metrics.WithArmed(slot.Armed),
			metrics.WithTask(pipe.Current),
		)
		g.Go(func() error {
			return guard(logger, "metrics server", func() error {
				return srv.Run(gctx)
			})
		})
	}

	g.Go(func() error {
		return guard(logger, "pipeline", func() error {
			if err := pipe.Run(gctx); err != nil {
				return err
			}
			return errTaskLimit
		})
	})

	err = g.Wait()
	if errors.Is(err, errTaskLimit) {
		logger.Info("task limit reached", "completed", runMaxTasks)
		return nil
	}
	return err
}
