// Package provision creates a registered, profile-complete service account
// ready to receive a referral code.
package provision

import (
	"context"
	"fmt"

	"github.com/Iron-Ham/autoref/internal/errors"
	"github.com/Iron-Ham/autoref/internal/event"
	"github.com/Iron-Ham/autoref/internal/logging"
	"github.com/Iron-Ham/autoref/internal/remote"
	"github.com/Iron-Ham/autoref/internal/retry"
	"github.com/Iron-Ham/autoref/internal/task"
)

// DefaultDescription is the profile description used when none is configured.
const DefaultDescription = "AI Startup"

// opCreateMailbox names mailbox creation in retry logs and events.
const opCreateMailbox = "create mailbox"

// Mailbox creates disposable mailboxes.
type Mailbox interface {
	Create(ctx context.Context) (*task.Account, error)
}

// Service is the subset of the registration service used to provision an account.
type Service interface {
	Register(ctx context.Context, email, password, referrer string) (*remote.RegisterResponse, error)
	CreateProfile(ctx context.Context, token string, step remote.ProfileStep) (*remote.ProfileResponse, error)
}

// Config holds required dependencies for creating a Provisioner.
type Config struct {
	Mailbox     Mailbox
	Service     Service
	Retry       retry.Policy
	Description string // Profile description; DefaultDescription when empty
}

// Provisioner drives a task through CREATING, REGISTERING and PROFILE_SETUP.
type Provisioner struct {
	mailbox     Mailbox
	service     Service
	policy      retry.Policy
	description string
	bus         *event.Bus
	logger      *logging.Logger
}

// Option configures optional Provisioner settings.
type Option func(*Provisioner)

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(p *Provisioner) { p.logger = logger }
}

// WithBus sets the bus that receives state change events.
func WithBus(bus *event.Bus) Option {
	return func(p *Provisioner) { p.bus = bus }
}

// New creates a Provisioner.
func New(cfg Config, opts ...Option) (*Provisioner, error) {
	if cfg.Mailbox == nil {
		return nil, errors.New("provision: mailbox is required")
	}
	if cfg.Service == nil {
		return nil, errors.New("provision: service is required")
	}

	p := &Provisioner{
		mailbox:     cfg.Mailbox,
		service:     cfg.Service,
		policy:      cfg.Retry,
		description: cfg.Description,
		logger:      logging.NopLogger(),
	}
	if p.description == "" {
		p.description = DefaultDescription
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.WithComponent("provision")
	if p.policy.Logger == nil {
		p.policy.Logger = p.logger
	}
	return p, nil
}

// NewAccount creates a mailbox, retrying until the provider returns an address.
func (p *Provisioner) NewAccount(ctx context.Context) (*task.Account, error) {
	return retry.Until(ctx, p.policy, opCreateMailbox, p.mailbox.Create, func(a *task.Account) bool {
		return a != nil && a.Address != ""
	})
}

// Provision runs the account-creation half of task index. When seed is nil a
// fresh mailbox is created first; otherwise the seed's credentials are used.
//
// Mailbox creation and registration are retried until they succeed. The
// profile steps are not retried: a failure there returns an error wrapping
// errors.ErrProfileSetup, and the returned task is nil.
func (p *Provisioner) Provision(ctx context.Context, index int, seed *task.Account) (*task.Task, error) {
	t := task.New(index, seed)
	log := p.logger.WithTask(index)

	if seed == nil {
		acct, err := p.NewAccount(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "task %d", index)
		}
		t.Email, t.Password = acct.Address, acct.Password
		if err := p.advance(t, task.StateRegistering); err != nil {
			return nil, err
		}
	}

	log.Info("processing task", "email", t.Email)
	reg, err := retry.Until(ctx, p.policy, remote.OpRegister,
		func(ctx context.Context) (*remote.RegisterResponse, error) {
			return p.service.Register(ctx, t.Email, t.Password, "")
		},
		func(r *remote.RegisterResponse) bool { return r != nil && r.Data.Token != "" },
	)
	if err != nil {
		return nil, errors.Wrapf(err, "task %d", index)
	}
	t.Token = reg.Data.Token
	if err := p.advance(t, task.StateProfileSetup); err != nil {
		return nil, err
	}

	log.Info("creating profile", "email", t.Email)
	steps := []remote.ProfileStep{
		{Step: remote.StepUsername, Username: t.Email},
		{Step: remote.StepDescription, Description: p.description},
	}
	for _, step := range steps {
		resp, err := p.service.CreateProfile(ctx, t.Token, step)
		if err != nil {
			log.Error("profile step failed", "step", step.Step, "error", err.Error())
			return nil, fmt.Errorf("task %d: %w: %s: %w", index, errors.ErrProfileSetup, step.Step, err)
		}
		log.Debug("profile step done", "step", step.Step, "code", resp.Code, "message", resp.Message)
	}

	return t, nil
}

func (p *Provisioner) advance(t *task.Task, to task.State) error {
	from, err := t.Transition(to)
	if err != nil {
		return err
	}
	if p.bus != nil {
		p.bus.Publish(event.NewTaskStateChangedEvent(t.Index, t.Email, from.String(), to.String()))
	}
	return nil
}
