// Package notify fans operator-facing messages out to one or more sinks.
//
// Notifications are best effort: a failing sink is logged and never stops
// the pipeline.
package notify

import (
	"context"
	"sync"

	"github.com/Iron-Ham/autoref/internal/logging"
	"github.com/Iron-Ham/autoref/internal/util"
)

// Sink delivers a text message to the operator.
type Sink interface {
	Send(ctx context.Context, text string) error
}

// Notifier sends every message to all of its sinks, in order.
type Notifier struct {
	mu     sync.RWMutex
	sinks  []Sink
	logger *logging.Logger
}

// New creates a Notifier over sinks. A nil logger discards failures.
func New(logger *logging.Logger, sinks ...Sink) *Notifier {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Notifier{
		sinks:  sinks,
		logger: logger.WithComponent("notify"),
	}
}

// Add appends a sink.
func (n *Notifier) Add(s Sink) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sinks = append(n.sinks, s)
}

// Notify sends text to every sink. Failures are logged, not returned.
func (n *Notifier) Notify(ctx context.Context, text string) {
	n.mu.RLock()
	sinks := append([]Sink(nil), n.sinks...)
	n.mu.RUnlock()

	for _, s := range sinks {
		if err := s.Send(ctx, text); err != nil {
			n.logger.Error("failed to send notification",
				"error", err.Error(),
				"text", util.TruncateString(text, 80),
			)
		}
	}
}

// Recorder is a Sink that keeps every message. It is intended for tests and
// dry runs.
type Recorder struct {
	mu   sync.Mutex
	msgs []string
}

// Send implements Sink.
func (r *Recorder) Send(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, text)
	return nil
}

// Messages returns a copy of everything sent so far.
func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}
