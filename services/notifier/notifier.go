// Package notifier consumes session lifecycle events from the bus and fans
// them out to registered webhook receivers.
package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"vcoded/pkg/bus"
	"vcoded/services/vcode"
)

var metricDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "notifier_deliveries_total",
	Help: "Webhook deliveries attempted, labelled by outcome.",
}, []string{"result"})

// Event is the envelope published by the vcode service for every lifecycle
// transition.
type Event struct {
	UserID  string         `json:"user_id,omitempty"`
	Origin  string         `json:"origin"`
	Payload map[string]any `json:"payload"`
}

// Sender delivers a single event to a receiver.
type Sender interface {
	Send(ctx context.Context, subject string, event Event) error
}

// Fanout subscribes to the session lifecycle subjects and forwards each event
// to every configured sender. Delivery failures are logged and counted, never
// retried: receivers are expected to reconcile via the API.
type Fanout struct {
	bus     *bus.Bus
	senders []Sender
	logger  zerolog.Logger

	subsMu sync.Mutex
	subs   []io.Closer
}

// NewFanout creates a fanout bound to the provided bus and senders.
func NewFanout(b *bus.Bus, senders []Sender, logger zerolog.Logger) (*Fanout, error) {
	if b == nil {
		return nil, errors.New("bus is required")
	}
	if len(senders) == 0 {
		return nil, errors.New("at least one sender is required")
	}

	return &Fanout{bus: b, senders: senders, logger: logger}, nil
}

// Start registers durable subscriptions for every lifecycle subject.
func (f *Fanout) Start(ctx context.Context) error {
	if f == nil {
		return errors.New("nil fanout")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	subjects := []struct {
		subject string
		durable string
	}{
		{vcode.SubjectSessionScheduled, "notifier-scheduled"},
		{vcode.SubjectSessionStarted, "notifier-started"},
		{vcode.SubjectSessionEnded, "notifier-ended"},
		{vcode.SubjectSessionCancelled, "notifier-cancelled"},
	}

	for _, s := range subjects {
		subject := s.subject
		closer, err := f.bus.Subscribe(ctx, subject, s.durable, func(ctx context.Context, data []byte) error {
			return f.handleEvent(ctx, subject, data)
		})
		if err != nil {
			f.Close()
			return err
		}
		f.subsMu.Lock()
		f.subs = append(f.subs, closer)
		f.subsMu.Unlock()
	}

	return nil
}

// Close tears down active subscriptions.
func (f *Fanout) Close() error {
	if f == nil {
		return nil
	}

	f.subsMu.Lock()
	defer f.subsMu.Unlock()

	var firstErr error
	for _, sub := range f.subs {
		if sub == nil {
			continue
		}
		if err := sub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	f.subs = nil
	return firstErr
}

func (f *Fanout) handleEvent(ctx context.Context, subject string, data []byte) error {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		// Malformed events are acked and dropped; redelivery cannot fix them.
		f.logger.Error().Err(err).Str("subject", subject).Msg("drop malformed event")
		metricDeliveries.WithLabelValues("malformed").Inc()
		return nil
	}

	for _, sender := range f.senders {
		if err := sender.Send(ctx, subject, event); err != nil {
			f.logger.Error().Err(err).Str("subject", subject).Msg("webhook delivery failed")
			metricDeliveries.WithLabelValues("error").Inc()
			continue
		}
		metricDeliveries.WithLabelValues("ok").Inc()
	}

	return nil
}
