package vcode

import (
	"context"
	"time"

	"vcoded/pkg/bus"
)

// Lifecycle event subjects published to the bus. The notifier service
// consumes these and fans them out to webhook receivers.
const (
	SubjectSessionScheduled = "vcode.sessions.scheduled"
	SubjectSessionStarted   = "vcode.sessions.started"
	SubjectSessionEnded     = "vcode.sessions.ended"
	SubjectSessionCancelled = "vcode.sessions.cancelled"
)

// Notifier receives lifecycle notifications. Implementations are
// fire-and-forget: a failed delivery must never roll back or block the
// lifecycle operation that triggered it.
type Notifier interface {
	Notify(userID string, origin string, payload map[string]any)
}

// NopNotifier drops all notifications.
type NopNotifier struct{}

func (NopNotifier) Notify(string, string, map[string]any) {}

// BusNotifier publishes notifications to NATS. Publish errors are swallowed:
// the bus is a one-way sink from the core's point of view.
type BusNotifier struct {
	bus     *bus.Bus
	timeout time.Duration
}

// NewBusNotifier wraps a bus connection. A nil bus yields a notifier that
// silently drops everything, matching the optional wiring in the service main.
func NewBusNotifier(b *bus.Bus) *BusNotifier {
	return &BusNotifier{bus: b, timeout: 5 * time.Second}
}

func (n *BusNotifier) Notify(userID string, origin string, payload map[string]any) {
	if n == nil || n.bus == nil {
		return
	}

	subject := subjectForPayload(payload)
	event := map[string]any{
		"origin":  origin,
		"payload": payload,
	}
	if userID != "" {
		event["user_id"] = userID
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	_ = n.bus.Publish(ctx, subject, event)
}

func subjectForPayload(payload map[string]any) string {
	action, _ := payload["action"].(string)
	switch action {
	case "vcode-session-scheduled":
		return SubjectSessionScheduled
	case "vcode-session-started":
		return SubjectSessionStarted
	case "vcode-session-ended":
		return SubjectSessionEnded
	case "vcode-session-cancelled":
		return SubjectSessionCancelled
	default:
		return "vcode.sessions.event"
	}
}
