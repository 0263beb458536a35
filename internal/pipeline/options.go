package pipeline

import (
	"github.com/Iron-Ham/autoref/internal/event"
	"github.com/Iron-Ham/autoref/internal/logging"
)

// pipelineConfig holds optional settings for the Pipeline.
type pipelineConfig struct {
	logger     *logging.Logger
	bus        *event.Bus
	startIndex int
	maxTasks   int
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*pipelineConfig)

// WithLogger sets the logger for the pipeline.
func WithLogger(l *logging.Logger) PipelineOption {
	return func(c *pipelineConfig) {
		c.logger = l
	}
}

// WithBus sets the bus that receives task lifecycle events.
func WithBus(b *event.Bus) PipelineOption {
	return func(c *pipelineConfig) {
		c.bus = b
	}
}

// WithStartIndex numbers the first task. Values below 1 are ignored.
func WithStartIndex(n int) PipelineOption {
	return func(c *pipelineConfig) {
		if n >= 1 {
			c.startIndex = n
		}
	}
}

// WithMaxTasks makes Run return nil after n accepted referrals. Zero runs
// until the context is cancelled.
func WithMaxTasks(n int) PipelineOption {
	return func(c *pipelineConfig) {
		c.maxTasks = n
	}
}
