// Package dispatch routes inbound operator messages to the task waiting for
// a referral code.
package dispatch

import (
	"context"
	"strings"

	"github.com/Iron-Ham/autoref/internal/errors"
	"github.com/Iron-Ham/autoref/internal/event"
	"github.com/Iron-Ham/autoref/internal/inbox"
	"github.com/Iron-Ham/autoref/internal/logging"
	"github.com/Iron-Ham/autoref/internal/util"
)

// Warnings sent back to the operator when a message cannot be delivered.
const (
	MsgNotWaiting    = "⚠️ Not waiting for referral code yet. Please wait for the prompt."
	MsgTokenNotReady = "⚠️ Account token not ready. Please wait..."
)

// Slot is the hand-off point a task waits on.
type Slot interface {
	Armed() bool
	Deliver(v string) bool
}

// TokenSource exposes the token of the task currently in flight.
type TokenSource interface {
	CurrentToken() string
}

// Notifier sends a message to the operator.
type Notifier interface {
	Notify(ctx context.Context, text string)
}

// Config holds required dependencies for creating a Dispatcher.
type Config struct {
	ChatID   string // Operator chat; messages from any other chat are ignored
	Slot     Slot
	Tokens   TokenSource
	Notifier Notifier
}

// Dispatcher applies the delivery rules to each inbound message.
type Dispatcher struct {
	chatID   string
	slot     Slot
	tokens   TokenSource
	notifier Notifier
	bus      *event.Bus
	logger   *logging.Logger
}

// Option configures optional Dispatcher settings.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithBus sets the bus that receives code events.
func WithBus(bus *event.Bus) Option {
	return func(d *Dispatcher) { d.bus = bus }
}

// New creates a Dispatcher.
func New(cfg Config, opts ...Option) (*Dispatcher, error) {
	if cfg.ChatID == "" {
		return nil, errors.New("dispatch: chat ID is required")
	}
	if cfg.Slot == nil {
		return nil, errors.New("dispatch: slot is required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("dispatch: token source is required")
	}
	if cfg.Notifier == nil {
		return nil, errors.New("dispatch: notifier is required")
	}

	d := &Dispatcher{
		chatID:   cfg.ChatID,
		slot:     cfg.Slot,
		tokens:   cfg.Tokens,
		notifier: cfg.Notifier,
		logger:   logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.WithComponent("dispatch")
	return d, nil
}

// Handle routes one message. It has the inbox.Handler signature.
//
// Messages from other chats are ignored without reply. Otherwise the text is
// delivered to the waiting task, or the operator is told why it was dropped:
// nothing is waiting, or the current account has no token yet.
func (d *Dispatcher) Handle(ctx context.Context, msg inbox.Message) {
	armed := d.slot.Armed()
	tokenReady := d.tokens.CurrentToken() != ""

	d.logger.Debug("received message",
		"text", util.TruncateString(msg.Text, 64),
		"chat_id", msg.ChatID,
		"source", msg.Source,
		"armed", armed,
		"token_ready", tokenReady,
	)

	if msg.ChatID != d.chatID {
		d.publish(event.NewCodeDroppedEvent(msg.Text, msg.Source, event.DropForeignChat))
		return
	}

	if !armed {
		d.drop(ctx, msg, event.DropNotWaiting, errors.ErrNoPendingWait, MsgNotWaiting)
		return
	}
	if !tokenReady {
		d.drop(ctx, msg, event.DropTokenNotReady, errors.ErrTokenNotReady, MsgTokenNotReady)
		return
	}

	code := strings.TrimSpace(msg.Text)
	if !d.slot.Deliver(code) {
		// The wait ended between the check and the delivery.
		d.drop(ctx, msg, event.DropNotWaiting, errors.ErrNoPendingWait, MsgNotWaiting)
		return
	}

	d.logger.Info("delivered referral code", "code", code, "source", msg.Source)
	d.publish(event.NewCodeReceivedEvent(code, msg.Source))
}

func (d *Dispatcher) drop(ctx context.Context, msg inbox.Message, reason string, cause error, reply string) {
	d.logger.Warn("dropped message", "reason", reason, "error", cause.Error(), "source", msg.Source)
	d.publish(event.NewCodeDroppedEvent(msg.Text, msg.Source, reason))
	d.notifier.Notify(ctx, reply)
}

func (d *Dispatcher) publish(e event.Event) {
	if d.bus != nil {
		d.bus.Publish(e)
	}
}
