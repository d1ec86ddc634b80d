package signal

import (
	"encoding/json"
	"strings"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/newbee0315/btc-quant-tool-sub000/internal/model"
)

// Subscribe attaches the store to the engine.signals.<symbol> feed. Strategy
// services publish there; the engine only ever consumes.
func Subscribe(js nats.JetStreamContext, store *Store, logger *zap.Logger) (*nats.Subscription, error) {
	return js.Subscribe("engine.signals.*", func(m *nats.Msg) {
		defer m.Ack()

		parts := strings.Split(m.Subject, ".")
		symbol := strings.ToUpper(parts[len(parts)-1])

		var sig model.Signal
		if err := json.Unmarshal(m.Data, &sig); err != nil {
			logger.Error("failed to unmarshal signal",
				zap.String("subject", m.Subject),
				zap.Error(err))
			return
		}
		store.Set(symbol, sig)
		logger.Debug("signal received",
			zap.String("symbol", symbol),
			zap.String("direction", string(sig.Direction)),
			zap.Float64("confidence", sig.Confidence))
	}, nats.Durable("engine_signals"), nats.ManualAck())
}
