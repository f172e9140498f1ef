// Package events carries authorization outcomes to the audit trail. The
// dispatcher hands each event to a background goroutine that inherits the
// caller's tracing span, so the request is never blocked and the audit
// record still correlates with the originating trace. Sink failures are
// logged, never surfaced.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

// AuthorizationSucceededEvent records an allowed decision.
type AuthorizationSucceededEvent struct {
	Actor      string            `json:"actor"`
	EntityKind string            `json:"entity-kind"`
	EntityID   string            `json:"entity-id,omitempty"`
	Action     string            `json:"action"`
	Context    map[string]string `json:"context,omitempty"`
	At         time.Time         `json:"at"`
}

// AuthorizationFailedEvent records a denied or hidden decision together
// with the uniform error the caller saw.
type AuthorizationFailedEvent struct {
	Actor      string            `json:"actor"`
	EntityKind string            `json:"entity-kind"`
	EntityID   string            `json:"entity-id,omitempty"`
	Action     string            `json:"action"`
	Context    map[string]string `json:"context,omitempty"`
	Error      string            `json:"error"`
	At         time.Time         `json:"at"`
}

// Sink is the transport an event lands on. Implementations must be safe
// for concurrent use.
type Sink interface {
	AuthorizationSucceeded(ctx context.Context, ev AuthorizationSucceededEvent) error
	AuthorizationFailed(ctx context.Context, ev AuthorizationFailedEvent) error
}

// Dispatcher fans events out to its sink in the background.
type Dispatcher struct {
	sink   Sink
	logger *logrus.Logger

	// wg lets tests wait for in-flight dispatches; production callers
	// never need to.
	wg sync.WaitGroup
}

// NewDispatcher builds a dispatcher. A nil sink falls back to the logging
// sink; a nil logger falls back to the standard logrus logger.
func NewDispatcher(sink Sink, logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if sink == nil {
		sink = &LogSink{Logger: logger}
	}
	return &Dispatcher{sink: sink, logger: logger}
}

// DispatchAuthorizationSucceeded hands the event off without blocking.
func (d *Dispatcher) DispatchAuthorizationSucceeded(ctx context.Context, ev AuthorizationSucceededEvent) {
	bg := detachedContext(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.sink.AuthorizationSucceeded(bg, ev); err != nil {
			d.logger.WithError(err).Warn("failed to emit authorization succeeded event")
		}
	}()
}

// DispatchAuthorizationFailed hands the event off without blocking.
func (d *Dispatcher) DispatchAuthorizationFailed(ctx context.Context, ev AuthorizationFailedEvent) {
	bg := detachedContext(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.sink.AuthorizationFailed(bg, ev); err != nil {
			d.logger.WithError(err).Warn("failed to emit authorization failed event")
		}
	}()
}

// Wait blocks until every dispatched event has been handed to the sink.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// detachedContext survives request cancellation while still carrying the
// caller's span, so the emission shows up under the originating trace.
func detachedContext(ctx context.Context) context.Context {
	sc := trace.SpanContextFromContext(ctx)
	return trace.ContextWithSpanContext(context.Background(), sc)
}

// LogSink writes events as structured log lines, the default transport for
// single-process deployments.
type LogSink struct {
	Logger *logrus.Logger
}

func (s *LogSink) AuthorizationSucceeded(ctx context.Context, ev AuthorizationSucceededEvent) error {
	s.Logger.WithFields(logrus.Fields{
		"actor":       ev.Actor,
		"entity_kind": ev.EntityKind,
		"entity_id":   ev.EntityID,
		"action":      ev.Action,
	}).Info("authorization succeeded")
	return nil
}

func (s *LogSink) AuthorizationFailed(ctx context.Context, ev AuthorizationFailedEvent) error {
	s.Logger.WithFields(logrus.Fields{
		"actor":       ev.Actor,
		"entity_kind": ev.EntityKind,
		"entity_id":   ev.EntityID,
		"action":      ev.Action,
		"error":       ev.Error,
	}).Info("authorization failed")
	return nil
}
