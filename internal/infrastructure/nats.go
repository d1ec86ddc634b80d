package infrastructure

import (
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// InitNATS connects to NATS and ensures the engine event stream exists.
func InitNATS(url string, logger *zap.Logger) (*nats.Conn, nats.JetStreamContext, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, nil, err
	}

	js, err := nc.JetStream()
	if err != nil {
		return nil, nil, err
	}

	// Outbound engine events plus the inbound signal feed.
	streamCfg := &nats.StreamConfig{
		Name:     "ENGINE",
		Subjects: []string{"engine.events.*.*", "engine.signals.*"},
	}

	// Create stream if it doesn't exist
	_, err = js.AddStream(streamCfg)
	if err != nil {
		// If stream exists, we might need to update it
		_, err = js.UpdateStream(streamCfg)
		if err != nil {
			logger.Warn("failed to create or update stream", zap.Error(err))
		}
	}

	return nc, js, nil
}
