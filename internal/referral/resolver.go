// Package referral waits for operator-supplied referral codes and applies
// them to the task in flight until one is accepted.
package referral

import (
	"context"
	"fmt"

	"github.com/Iron-Ham/autoref/internal/errors"
	"github.com/Iron-Ham/autoref/internal/event"
	"github.com/Iron-Ham/autoref/internal/handoff"
	"github.com/Iron-Ham/autoref/internal/logging"
	"github.com/Iron-Ham/autoref/internal/results"
	"github.com/Iron-Ham/autoref/internal/task"
)

// Operator-facing messages.
const (
	MsgReady          = "🤖 Ready to receive referral code. Please send it now..."
	msgAttemptingFmt  = "🔄 Attempting to use referral code: %s"
	msgSuccessFmt     = "✅ Successfully used referral code!\nEmail: %s\nPassword: %s\nMessage: %s"
	msgNextAccountFmt = "🔄 Created new account for next task: %s"
	msgFailedFmt      = "❌ Failed to use referral code: %s\n🔄 Please send another code..."
)

// Slot is the hand-off point the resolver arms while waiting.
type Slot interface {
	Arm() *handoff.Waiter
	Disarm() bool
}

// AccountSource creates the mailbox for the next task.
type AccountSource interface {
	NewAccount(ctx context.Context) (*task.Account, error)
}

// Notifier sends a message to the operator.
type Notifier interface {
	Notify(ctx context.Context, text string)
}

// Config holds required dependencies for creating a Resolver.
type Config struct {
	Slot      Slot
	Confirmer Confirmer
	Accounts  AccountSource
	Store     results.Store
	Notifier  Notifier
}

// Result is returned once a code has been accepted.
type Result struct {
	Outcome     Outcome
	NextAccount *task.Account
}

// Resolver runs the AWAITING_CODE / CONFIRMING loop for one task at a time.
type Resolver struct {
	slot      Slot
	confirmer Confirmer
	accounts  AccountSource
	store     results.Store
	notifier  Notifier
	bus       *event.Bus
	logger    *logging.Logger
}

// Option configures optional Resolver settings.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(r *Resolver) { r.logger = logger }
}

// WithBus sets the bus that receives task and code events.
func WithBus(bus *event.Bus) Option {
	return func(r *Resolver) { r.bus = bus }
}

// New creates a Resolver.
func New(cfg Config, opts ...Option) (*Resolver, error) {
	if cfg.Slot == nil {
		return nil, errors.New("referral: slot is required")
	}
	if cfg.Confirmer == nil {
		return nil, errors.New("referral: confirmer is required")
	}
	if cfg.Accounts == nil {
		return nil, errors.New("referral: account source is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("referral: store is required")
	}
	if cfg.Notifier == nil {
		return nil, errors.New("referral: notifier is required")
	}

	r := &Resolver{
		slot:      cfg.Slot,
		confirmer: cfg.Confirmer,
		accounts:  cfg.Accounts,
		store:     cfg.Store,
		notifier:  cfg.Notifier,
		logger:    logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithComponent("referral")
	return r, nil
}

// ResolveOne waits for codes and tries each one against t until one is
// accepted. A rejected code never abandons the task; only ctx ends the loop
// early. On success the account and its new token are persisted and a fresh
// mailbox for the next task is created.
func (r *Resolver) ResolveOne(ctx context.Context, t *task.Task) (*Result, error) {
	log := r.logger.WithTask(t.Index)

	for {
		if err := r.advance(t, task.StateAwaitingCode); err != nil {
			return nil, err
		}

		log.Info("waiting for referral code")
		waiter := r.slot.Arm()
		r.notifier.Notify(ctx, MsgReady)

		code, err := waiter.Wait(ctx)
		if err != nil {
			r.slot.Disarm()
			return nil, err
		}

		if err := r.advance(t, task.StateConfirming); err != nil {
			return nil, err
		}
		r.notifier.Notify(ctx, fmt.Sprintf(msgAttemptingFmt, code))

		outcome := Confirm(ctx, r.confirmer, t.Token, code)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if !outcome.Success {
			log.Warn("referral code rejected", "code", code, "error", outcome.Error)
			if err := r.advance(t, task.StateRetryCode); err != nil {
				return nil, err
			}
			r.publish(event.NewCodeRejectedEvent(t.Index, code, outcome.Error))
			r.notifier.Notify(ctx, fmt.Sprintf(msgFailedFmt, outcome.Error))
			continue
		}

		log.Info("referral code accepted", "code", code, "user_id", outcome.UserID)
		if err := r.advance(t, task.StateAdvance); err != nil {
			return nil, err
		}
		r.persist(ctx, log, t, outcome)
		r.notifier.Notify(ctx, fmt.Sprintf(msgSuccessFmt, t.Email, t.Password, outcome.Message))
		r.publish(event.NewTaskCompletedEvent(t.Index, t.Email, outcome.UserID))

		next, err := r.accounts.NewAccount(ctx)
		if err != nil {
			return nil, err
		}
		log.Info("created new account for next task", "email", next.Address)
		r.notifier.Notify(ctx, fmt.Sprintf(msgNextAccountFmt, next.String()))

		return &Result{Outcome: outcome, NextAccount: next}, nil
	}
}

// persist writes the account and its confirmed token. A failed write is
// logged and does not undo the accepted referral.
func (r *Resolver) persist(ctx context.Context, log *logging.Logger, t *task.Task, outcome Outcome) {
	if err := r.store.Append(ctx, results.StreamAccounts, t.Account().String()); err != nil {
		log.Error("failed to save account", "error", err.Error())
	}
	if err := r.store.Append(ctx, results.StreamTokens, outcome.ConfirmedToken); err != nil {
		log.Error("failed to save token", "error", err.Error())
	}
}

func (r *Resolver) advance(t *task.Task, to task.State) error {
	from, err := t.Transition(to)
	if err != nil {
		return err
	}
	r.publish(event.NewTaskStateChangedEvent(t.Index, t.Email, from.String(), to.String()))
	return nil
}

func (r *Resolver) publish(e event.Event) {
	if r.bus != nil {
		r.bus.Publish(e)
	}
}
