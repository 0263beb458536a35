// Package telegram connects autoref to the operator's Telegram chat: it
// sends notifications there and long-polls it for referral codes.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Iron-Ham/autoref/internal/errors"
	"github.com/Iron-Ham/autoref/internal/inbox"
	"github.com/Iron-Ham/autoref/internal/logging"
	"github.com/Iron-Ham/autoref/internal/retry"
)

// MsgOnline is sent to the operator once the bot is connected.
const MsgOnline = "🚀 Bot is online and ready to receive referral codes"

// Defaults for Config fields left at zero.
const (
	DefaultInitAttempts = 3
	DefaultInitDelay    = 5 * time.Second
	DefaultPollTimeout  = 60
)

const opSendMessage = "send message"

// API is the subset of *tgbotapi.BotAPI used by Bot.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Dialer creates an authenticated API client. It should verify the token,
// as tgbotapi.NewBotAPI does with getMe, and return the bot's username.
type Dialer func(token, endpoint string) (API, string, error)

// Config configures Connect.
type Config struct {
	Token        string
	ChatID       string // Operator chat; must be a Telegram chat ID
	Endpoint     string // Bot API URL template; tgbotapi.APIEndpoint when empty
	InitAttempts int
	InitDelay    time.Duration
	PollTimeout  int // Long-poll timeout in seconds
}

// Bot is the connected Telegram client. It is a notify.Sink and an
// inbox.Source.
type Bot struct {
	api         API
	username    string
	chatID      int64
	pollTimeout int
	logger      *logging.Logger
}

type connectConfig struct {
	dial   Dialer
	sleep  retry.SleepFunc
	logger *logging.Logger
}

// Option configures Connect.
type Option func(*connectConfig)

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *connectConfig) { c.logger = logger }
}

// WithDialer replaces the real Bot API client, mainly in tests.
func WithDialer(d Dialer) Option {
	return func(c *connectConfig) { c.dial = d }
}

// WithSleep replaces the delay between connection attempts.
func WithSleep(fn retry.SleepFunc) Option {
	return func(c *connectConfig) { c.sleep = fn }
}

func dialBotAPI(token, endpoint string) (API, string, error) {
	api, err := tgbotapi.NewBotAPIWithAPIEndpoint(token, endpoint)
	if err != nil {
		return nil, "", err
	}
	return api, api.Self.UserName, nil
}

// Connect creates the bot, retrying a bounded number of times, and announces
// it in the operator chat. Exhausting the attempts returns an error wrapping
// errors.ErrBotUnavailable.
func Connect(ctx context.Context, cfg Config, opts ...Option) (*Bot, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram: bot token: %w", errors.ErrMissingConfig)
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(cfg.ChatID), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("telegram: invalid chat ID %q: %w", cfg.ChatID, err)
	}

	cc := connectConfig{dial: dialBotAPI}
	for _, opt := range opts {
		opt(&cc)
	}
	if cc.logger == nil {
		cc.logger = logging.NopLogger()
	}
	log := cc.logger.WithComponent("telegram")

	if cfg.Endpoint == "" {
		cfg.Endpoint = tgbotapi.APIEndpoint
	}
	if cfg.InitAttempts <= 0 {
		cfg.InitAttempts = DefaultInitAttempts
	}
	if cfg.InitDelay <= 0 {
		cfg.InitDelay = DefaultInitDelay
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}

	type dialed struct {
		api      API
		username string
	}
	policy := retry.Policy{
		Delay:       cfg.InitDelay,
		MaxAttempts: cfg.InitAttempts,
		Logger:      log,
		Sleep:       cc.sleep,
	}
	d, err := retry.Until(ctx, policy, "initialize bot", func(context.Context) (dialed, error) {
		api, username, err := cc.dial(cfg.Token, cfg.Endpoint)
		return dialed{api, username}, err
	}, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", errors.ErrBotUnavailable, err)
	}

	log.Info("bot connected successfully", "username", "@"+d.username)
	bot := &Bot{
		api:         d.api,
		username:    d.username,
		chatID:      chatID,
		pollTimeout: cfg.PollTimeout,
		logger:      log,
	}
	if err := bot.Send(ctx, MsgOnline); err != nil {
		log.Error("failed to send telegram message", "error", err.Error())
	}
	return bot, nil
}

// Username returns the bot's Telegram username.
func (b *Bot) Username() string {
	return b.username
}

// ChatID returns the operator chat ID in the form used by inbox messages.
func (b *Bot) ChatID() string {
	return strconv.FormatInt(b.chatID, 10)
}

// Send posts text to the operator chat. It returns when the API call
// finishes or ctx is done; a stalled call is abandoned, not aborted. A panic
// inside the API call is re-raised in the caller's goroutine.
func (b *Bot) Send(ctx context.Context, text string) error {
	type result struct {
		err       error
		panicked  bool
		recovered any
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{panicked: true, recovered: r}
			}
		}()
		_, err := b.api.Send(tgbotapi.NewMessage(b.chatID, text))
		done <- result{err: err}
	}()

	select {
	case res := <-done:
		if res.panicked {
			panic(res.recovered)
		}
		if res.err != nil {
			return errors.NewRemoteError(opSendMessage, 0, nil).WithCause(res.err)
		}
		return nil
	case <-ctx.Done():
		return errors.NewRemoteError(opSendMessage, 0, nil).WithCause(ctx.Err())
	}
}

// InstallLogger routes the client library's own log output, which is
// process-wide, through logger.
func InstallLogger(logger *logging.Logger) error {
	return tgbotapi.SetLogger(logging.BotLogger{Logger: logger.WithComponent("telegram")})
}

// Listen long-polls for updates and hands every text message to handle. It
// returns nil when ctx is cancelled or the update channel closes. Polling
// errors are retried by the client library and logged through
// logging.BotLogger.
func (b *Bot) Listen(ctx context.Context, handle inbox.Handler) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.pollTimeout
	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil

		case update, ok := <-updates:
			if !ok {
				return nil
			}
			msg := update.Message
			if msg == nil || msg.Chat == nil || msg.Text == "" {
				continue
			}
			b.logger.Debug("received message",
				"text", msg.Text,
				"chat_id", msg.Chat.ID,
			)
			handle(ctx, inbox.Message{
				ChatID: strconv.FormatInt(msg.Chat.ID, 10),
				Text:   msg.Text,
				Source: inbox.SourceTelegram,
			})
		}
	}
}
