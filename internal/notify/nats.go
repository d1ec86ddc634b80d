package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSNotifier publishes engine events to JetStream subjects
// engine.events.<kind>.<symbol> so downstream consumers (chat bridges,
// dashboards) can subscribe without touching the engine.
type NATSNotifier struct {
	js     nats.JetStreamContext
	logger *zap.Logger
}

// NewNATSNotifier wraps a JetStream context.
func NewNATSNotifier(js nats.JetStreamContext, logger *zap.Logger) *NATSNotifier {
	return &NATSNotifier{js: js, logger: logger}
}

// Send publishes the event. Failures are logged and swallowed.
func (n *NATSNotifier) Send(_ context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	subject := fmt.Sprintf("engine.events.%s.%s", ev.Kind, ev.Symbol)

	data, err := json.Marshal(ev)
	if err != nil {
		n.logger.Error("failed to marshal event", zap.Error(err))
		return
	}
	if _, err := n.js.Publish(subject, data); err != nil {
		n.logger.Warn("failed to publish event",
			zap.String("subject", subject),
			zap.Error(err))
	}
}
