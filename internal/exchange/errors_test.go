package exchange

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"invalid timestamp code", &APIError{HTTPStatus: 400, Code: -1021, Message: "timestamp outside recvWindow"}, KindTimestamp},
		{"too many requests code", &APIError{HTTPStatus: 400, Code: -1003, Message: "too many requests"}, KindRateLimit},
		{"http 429", &APIError{HTTPStatus: 429, Code: 0}, KindRateLimit},
		{"http 418 ban", &APIError{HTTPStatus: 418, Code: 0}, KindRateLimit},
		{"server error", &APIError{HTTPStatus: 502, Code: 0}, KindTransient},
		{"bad symbol", &APIError{HTTPStatus: 400, Code: -1121, Message: "invalid symbol"}, KindFatal},
		{"deadline exceeded", context.DeadlineExceeded, KindTransient},
		{"wrapped deadline", fmt.Errorf("fetch: %w", context.DeadlineExceeded), KindTransient},
		{"plain error", errors.New("boom"), KindFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestIsAmbiguous(t *testing.T) {
	inner := context.DeadlineExceeded
	amb := &AmbiguousError{Op: "place order", Err: inner}

	assert.True(t, IsAmbiguous(amb))
	assert.True(t, IsAmbiguous(fmt.Errorf("wrap: %w", amb)))
	assert.False(t, IsAmbiguous(inner))
	assert.True(t, errors.Is(amb, context.DeadlineExceeded))
}
