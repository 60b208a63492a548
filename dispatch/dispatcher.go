package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-ingest/core"
)

type routeKey struct {
	source    string
	eventType string
}

// Dispatcher routes events to the consumer registered for their
// (source, eventType) pair. A missing route is a configuration error
// and classifies as fatal; everything a consumer reports is classified
// through ClassifyError unless the consumer returned an explicit kind.
type Dispatcher struct {
	Timeout time.Duration
	Logger  core.Logger
	Metrics core.MetricsRecorder

	mu        sync.RWMutex
	consumers map[routeKey]core.Consumer
}

func NewDispatcher(timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		Timeout:   timeout,
		Logger:    glog.Nop(),
		consumers: map[routeKey]core.Consumer{},
	}
}

func (d *Dispatcher) Register(source, eventType string, consumer core.Consumer) error {
	if d == nil {
		return fmt.Errorf("dispatch: dispatcher is nil")
	}
	if consumer == nil {
		return fmt.Errorf("dispatch: consumer is nil")
	}
	key, err := newRouteKey(source, eventType)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.consumers == nil {
		d.consumers = map[routeKey]core.Consumer{}
	}
	if _, exists := d.consumers[key]; exists {
		return fmt.Errorf("dispatch: consumer already registered for %s/%s", key.source, key.eventType)
	}
	d.consumers[key] = consumer
	return nil
}

// RegisterFunc registers a plain function as the consumer for the route.
func (d *Dispatcher) RegisterFunc(
	source, eventType string,
	fn func(ctx context.Context, invocation core.ConsumerInvocation) (core.Outcome, error),
) error {
	return d.Register(source, eventType, core.ConsumerFunc(fn))
}

func (d *Dispatcher) resolve(source, eventType string) (core.Consumer, bool) {
	key, err := newRouteKey(source, eventType)
	if err != nil {
		return nil, false
	}
	d.mu.RLock()
	consumer, ok := d.consumers[key]
	d.mu.RUnlock()
	return consumer, ok
}

// Dispatch runs one delivery attempt. Outcomes are always returned, never
// errors: the caller owns the retry bookkeeping and only needs the
// classification.
func (d *Dispatcher) Dispatch(ctx context.Context, event core.Event) core.Outcome {
	consumer, ok := d.resolve(event.Source, event.EventType)
	if !ok {
		d.logAttempt(event, core.OutcomeFatalFailure, "no consumer registered")
		return core.Outcome{
			Kind:   core.OutcomeFatalFailure,
			Detail: fmt.Sprintf("no consumer registered for %s/%s", event.Source, event.EventType),
		}
	}

	attemptCtx := ctx
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	outcome, err := d.invoke(attemptCtx, consumer, core.ConsumerInvocation{
		EventID:   event.ID,
		Source:    event.Source,
		EventType: event.EventType,
		Payload:   event.RawPayload,
		TenantID:  event.TenantID,
	})
	outcome = normalizeOutcome(outcome, err)
	d.logAttempt(event, outcome.Kind, outcome.Detail)
	d.countAttempt(ctx, event.Source, outcome.Kind)
	return outcome
}

func (d *Dispatcher) invoke(
	ctx context.Context,
	consumer core.Consumer,
	invocation core.ConsumerInvocation,
) (outcome core.Outcome, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			outcome = core.Outcome{}
			err = fmt.Errorf("dispatch: consumer panic: %v", recovered)
		}
	}()
	return consumer.Consume(ctx, invocation)
}

// normalizeOutcome prefers the consumer's explicit classification and
// falls back to classifying the error. An outcome with an unknown kind
// is treated as unclassified.
func normalizeOutcome(outcome core.Outcome, err error) core.Outcome {
	switch outcome.Kind {
	case core.OutcomeSuccess, core.OutcomeRetryableFailure, core.OutcomeFatalFailure:
		if outcome.Detail == "" && err != nil {
			outcome.Detail = err.Error()
		}
		return outcome
	}
	return ClassifyError(err)
}

func (d *Dispatcher) logAttempt(event core.Event, kind core.OutcomeKind, detail string) {
	if d.Logger == nil {
		return
	}
	if kind == core.OutcomeSuccess {
		d.Logger.Debug("dispatch attempt succeeded",
			"event_id", event.ID,
			"source", event.Source,
			"event_type", event.EventType,
		)
		return
	}
	d.Logger.Warn("dispatch attempt failed",
		"event_id", event.ID,
		"source", event.Source,
		"event_type", event.EventType,
		"kind", string(kind),
		"detail", detail,
	)
}

func (d *Dispatcher) countAttempt(ctx context.Context, source string, kind core.OutcomeKind) {
	if d.Metrics == nil {
		return
	}
	d.Metrics.IncCounter(ctx, "dispatch.attempt", 1, map[string]string{
		"source": source,
		"kind":   string(kind),
	})
}

// newRouteKey lowercases the source so route lookups agree with the
// case-insensitive source registry.
func newRouteKey(source, eventType string) (routeKey, error) {
	source = strings.ToLower(strings.TrimSpace(source))
	eventType = strings.TrimSpace(eventType)
	if source == "" {
		return routeKey{}, fmt.Errorf("dispatch: source is required")
	}
	if eventType == "" {
		return routeKey{}, fmt.Errorf("dispatch: event type is required")
	}
	return routeKey{source: source, eventType: eventType}, nil
}

var _ core.Dispatcher = (*Dispatcher)(nil)
