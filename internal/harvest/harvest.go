// Package harvest collects active referral codes from existing accounts and,
// optionally, spends each one on a freshly provisioned account without
// operator involvement.
package harvest

import (
	"context"
	"fmt"

	"github.com/Iron-Ham/autoref/internal/errors"
	"github.com/Iron-Ham/autoref/internal/logging"
	"github.com/Iron-Ham/autoref/internal/referral"
	"github.com/Iron-Ham/autoref/internal/remote"
	"github.com/Iron-Ham/autoref/internal/results"
	"github.com/Iron-Ham/autoref/internal/retry"
	"github.com/Iron-Ham/autoref/internal/task"
)

// DefaultPasses is the number of sweeps over the token list.
const DefaultPasses = 5

// ReferralLookup fetches the referral code owned by an account.
type ReferralLookup interface {
	ReferralInfo(ctx context.Context, token string) (*remote.ReferralInfoResponse, error)
}

// Provisioner produces a registered, profile-complete task.
type Provisioner interface {
	Provision(ctx context.Context, index int, seed *task.Account) (*task.Task, error)
}

// Config holds required dependencies for creating a Harvester.
type Config struct {
	Lookup ReferralLookup
	Store  results.Store
	Passes int // DefaultPasses when zero

	// Provisioner, Confirmer and Retry are needed only by Harvest.
	Provisioner Provisioner
	Confirmer   referral.Confirmer
	Retry       retry.Policy
}

// Harvester sweeps a list of account tokens for active referral codes.
type Harvester struct {
	lookup      ReferralLookup
	store       results.Store
	passes      int
	provisioner Provisioner
	confirmer   referral.Confirmer
	policy      retry.Policy
	onCode      func(code string)
	logger      *logging.Logger
}

// Option configures optional Harvester settings.
type Option func(*Harvester)

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(h *Harvester) { h.logger = logger }
}

// WithCodeHandler registers a callback invoked for every active code found.
func WithCodeHandler(fn func(code string)) Option {
	return func(h *Harvester) { h.onCode = fn }
}

// New creates a Harvester.
func New(cfg Config, opts ...Option) (*Harvester, error) {
	if cfg.Lookup == nil {
		return nil, errors.New("harvest: referral lookup is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("harvest: store is required")
	}

	h := &Harvester{
		lookup:      cfg.Lookup,
		store:       cfg.Store,
		passes:      cfg.Passes,
		provisioner: cfg.Provisioner,
		confirmer:   cfg.Confirmer,
		policy:      cfg.Retry,
		logger:      logging.NopLogger(),
	}
	if h.passes <= 0 {
		h.passes = DefaultPasses
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.WithComponent("harvest")
	if h.policy.Logger == nil {
		h.policy.Logger = h.logger
	}
	return h, nil
}

// Scan sweeps tokens the configured number of times and appends every active
// code to the codes stream. The same code may be found on several passes; it
// is recorded each time. Lookup failures are logged and skipped.
func (h *Harvester) Scan(ctx context.Context, tokens []string) (int, error) {
	found := 0
	err := h.sweep(ctx, tokens, func(code string) error {
		found++
		return h.store.Append(ctx, results.StreamCodes, code)
	})
	return found, err
}

// Stats summarizes a Harvest run.
type Stats struct {
	Found     int
	Confirmed int
	Failed    int
}

// Harvest sweeps like Scan but, instead of recording codes, applies each
// one to a new account, retrying the confirmation until a token comes
// back. The account and token are appended to the accounts and tokens
// streams. A failure on one account is logged and the sweep continues.
func (h *Harvester) Harvest(ctx context.Context, tokens []string) (Stats, error) {
	if h.provisioner == nil || h.confirmer == nil {
		return Stats{}, errors.New("harvest: provisioner and confirmer are required")
	}

	var stats Stats
	err := h.sweep(ctx, tokens, func(code string) error {
		stats.Found++
		if err := h.spend(ctx, stats.Found, code); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			stats.Failed++
			h.logger.Error("error creating account", "code", code, "error", err.Error())
			return nil
		}
		stats.Confirmed++
		return nil
	})
	return stats, err
}

func (h *Harvester) spend(ctx context.Context, index int, code string) error {
	t, err := h.provisioner.Provision(ctx, index, nil)
	if err != nil {
		return err
	}

	// Any response carrying a token counts, whatever its code.
	resp, err := retry.Until(ctx, h.policy, remote.OpConfirmReferral,
		func(ctx context.Context) (*remote.ConfirmResponse, error) {
			resp, err := h.confirmer.ConfirmReferral(ctx, t.Token, code)
			if err != nil {
				return nil, err
			}
			if resp == nil || resp.Data.Token == "" {
				return resp, fmt.Errorf("confirmation rejected: %s", referral.Classify(resp).Error)
			}
			return resp, nil
		},
		func(resp *remote.ConfirmResponse) bool { return resp != nil && resp.Data.Token != "" },
	)
	if err != nil {
		return err
	}

	h.logger.Info("referral confirmed", "email", t.Email, "code", code)
	if err := h.store.Append(ctx, results.StreamAccounts, t.Account().String()); err != nil {
		return err
	}
	return h.store.Append(ctx, results.StreamTokens, resp.Data.Token)
}

func (h *Harvester) sweep(ctx context.Context, tokens []string, found func(code string) error) error {
	for pass := 1; pass <= h.passes; pass++ {
		h.logger.Debug("starting pass", "pass", pass, "tokens", len(tokens))
		for _, token := range tokens {
			if err := ctx.Err(); err != nil {
				return err
			}

			info, err := h.lookup.ReferralInfo(ctx, token)
			if err != nil {
				h.logger.Warn("referral lookup failed", "error", err.Error())
				continue
			}
			if info == nil || !info.Data.IsReferralActive || info.Data.ReferralCode == "" {
				continue
			}

			code := info.Data.ReferralCode
			h.logger.Info("found active referral code", "code", code, "pass", pass)
			if h.onCode != nil {
				h.onCode(code)
			}
			if err := found(code); err != nil {
				return err
			}
		}
	}
	return nil
}
