// Package metrics turns pipeline events into Prometheus metrics and a status
// snapshot, and serves both over HTTP.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Iron-Ham/autoref/internal/event"
	"github.com/Iron-Ham/autoref/internal/task"
)

// Status is the pipeline state reported by /status.
type Status struct {
	Index     int    `json:"index"`
	State     string `json:"state"`
	Email     string `json:"email"`
	Armed     bool   `json:"armed"`
	Completed int    `json:"completed"`

	// Task is the task in flight, when the server knows it.
	Task *task.Snapshot `json:"task,omitempty"`
}

// Metrics holds the Prometheus collectors for one pipeline. Each instance owns
// its registry so tests and multiple runs never collide on registration.
type Metrics struct {
	reg *prometheus.Registry

	TasksCompleted   prometheus.Counter
	CodesReceived    prometheus.Counter
	CodesRejected    prometheus.Counter
	CodesDropped     *prometheus.CounterVec
	RetryFailures    *prometheus.CounterVec
	CurrentTaskIndex prometheus.Gauge

	mu     sync.RWMutex
	status Status
	bus    *event.Bus
	subID  string
}

// New creates and registers all collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		reg: reg,
		TasksCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "autoref_tasks_completed_total",
			Help: "Total number of tasks whose referral code was accepted",
		}),
		CodesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "autoref_codes_received_total",
			Help: "Total number of referral codes handed to a waiting task",
		}),
		CodesRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "autoref_codes_rejected_total",
			Help: "Total number of referral codes refused by the service",
		}),
		CodesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "autoref_codes_dropped_total",
			Help: "Total number of inbound messages discarded, by reason",
		}, []string{"reason"}),
		RetryFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "autoref_retry_failures_total",
			Help: "Total number of failed attempts of retried remote calls, by operation",
		}, []string{"op"}),
		CurrentTaskIndex: factory.NewGauge(prometheus.GaugeOpts{
			Name: "autoref_current_task_index",
			Help: "Index of the task currently in flight",
		}),
	}
}

// Registry returns the registry holding this instance's collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Attach subscribes to every event on bus. Calling Attach again moves the
// subscription to the new bus.
func (m *Metrics) Attach(bus *event.Bus) {
	m.Detach()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.bus = bus
	m.subID = bus.SubscribeAll(m.Observe)
}

// Detach removes the bus subscription, if any.
func (m *Metrics) Detach() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bus != nil {
		m.bus.Unsubscribe(m.subID)
		m.bus = nil
		m.subID = ""
	}
}

// Observe records one event.
func (m *Metrics) Observe(e event.Event) {
	switch ev := e.(type) {
	case event.TaskStartedEvent:
		m.CurrentTaskIndex.Set(float64(ev.Index))
		m.update(func(s *Status) {
			s.Index = ev.Index
			s.State = ""
			s.Email = ""
			s.Armed = false
		})

	case event.TaskStateChangedEvent:
		m.update(func(s *Status) {
			s.Index = ev.Index
			s.State = ev.To
			s.Email = ev.Email
			s.Armed = ev.To == task.StateAwaitingCode.String()
		})

	case event.TaskCompletedEvent:
		m.TasksCompleted.Inc()
		m.update(func(s *Status) { s.Completed++ })

	case event.CodeReceivedEvent:
		m.CodesReceived.Inc()
		m.update(func(s *Status) { s.Armed = false })

	case event.CodeRejectedEvent:
		m.CodesRejected.Inc()

	case event.CodeDroppedEvent:
		m.CodesDropped.WithLabelValues(ev.Reason).Inc()

	case event.RetryFailedEvent:
		m.RetryFailures.WithLabelValues(ev.Op).Inc()
	}
}

func (m *Metrics) update(fn func(*Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.status)
}

// Status returns the latest observed pipeline state.
func (m *Metrics) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}
