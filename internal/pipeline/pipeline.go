package pipeline

import (
	"context"
	"sync/atomic"

	"github.com/Iron-Ham/autoref/internal/errors"
	"github.com/Iron-Ham/autoref/internal/event"
	"github.com/Iron-Ham/autoref/internal/logging"
	"github.com/Iron-Ham/autoref/internal/task"
)

// Pipeline drives tasks through provisioning and referral resolution, one at
// a time.
type Pipeline struct {
	cfg  PipelineConfig
	pcfg pipelineConfig

	started atomic.Bool
	token   atomic.Value // string; token of the task awaiting a code
	index   atomic.Int64
	current atomic.Pointer[task.Task]
}

// NewPipeline creates a Pipeline with the given configuration and options.
func NewPipeline(cfg PipelineConfig, opts ...PipelineOption) (*Pipeline, error) {
	if cfg.Provisioner == nil {
		return nil, errors.New("pipeline: Provisioner is required")
	}
	if cfg.Resolver == nil {
		return nil, errors.New("pipeline: Resolver is required")
	}

	pc := pipelineConfig{startIndex: 1}
	for _, opt := range opts {
		opt(&pc)
	}
	if pc.logger == nil {
		pc.logger = logging.NopLogger()
	}
	pc.logger = pc.logger.WithComponent("pipeline")

	p := &Pipeline{cfg: cfg, pcfg: pc}
	p.token.Store("")
	return p, nil
}

// CurrentToken returns the session token of the task in flight, or "" while
// no registered task is waiting for a code.
func (p *Pipeline) CurrentToken() string {
	return p.token.Load().(string)
}

// Index returns the index of the task in flight, or 0 before the first task.
func (p *Pipeline) Index() int {
	return int(p.index.Load())
}

// Current returns a snapshot of the task in flight. It reports false before
// the first task has been provisioned.
func (p *Pipeline) Current() (task.Snapshot, bool) {
	t := p.current.Load()
	if t == nil {
		return task.Snapshot{}, false
	}
	return t.Snapshot(), true
}

// Run processes tasks until ctx is cancelled, a fatal error occurs, or the
// configured task limit is reached. It returns ctx.Err() on cancellation.
//
// A provisioning error is fatal. A rejected referral code is not: the
// resolver keeps waiting for another one.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return errors.New("pipeline: already started")
	}
	defer p.token.Store("")

	var (
		index     = p.pcfg.startIndex
		seed      *task.Account
		completed int
	)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		log := p.pcfg.logger.WithTask(index)
		p.index.Store(int64(index))
		p.publish(event.NewTaskStartedEvent(index, seed != nil))

		t, err := p.cfg.Provisioner.Provision(ctx, index, seed)
		if err != nil {
			if ctx.Err() == nil {
				log.Error("provisioning failed", "error", err.Error())
			}
			return err
		}

		p.current.Store(t)
		p.token.Store(t.Token)
		res, err := p.cfg.Resolver.ResolveOne(ctx, t)
		p.token.Store("")
		if err != nil {
			return err
		}

		completed++
		log.Info("task completed", "email", t.Email, "user_id", res.Outcome.UserID)
		if p.pcfg.maxTasks > 0 && completed >= p.pcfg.maxTasks {
			return nil
		}

		index++
		seed = res.NextAccount
	}
}

func (p *Pipeline) publish(e event.Event) {
	if p.pcfg.bus != nil {
		p.pcfg.bus.Publish(e)
	}
}
