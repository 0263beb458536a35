package pipeline

import (
	"context"

	"github.com/Iron-Ham/autoref/internal/referral"
	"github.com/Iron-Ham/autoref/internal/task"
)

// Provisioner produces a registered, profile-complete task.
type Provisioner interface {
	Provision(ctx context.Context, index int, seed *task.Account) (*task.Task, error)
}

// Resolver holds a task at the referral-code step until a code is accepted.
type Resolver interface {
	ResolveOne(ctx context.Context, t *task.Task) (*referral.Result, error)
}

// PipelineConfig holds required dependencies for creating a Pipeline.
type PipelineConfig struct {
	Provisioner Provisioner
	Resolver    Resolver
}
