package infrastructure

import (
	"go.uber.org/zap"
)

// NewLogger builds the production logger shared by all engine components.
// It is constructed once and passed by reference; packages never reach for a
// global.
func NewLogger() (*zap.Logger, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	logger.Info("infrastructure initialized")
	return logger, nil
}
