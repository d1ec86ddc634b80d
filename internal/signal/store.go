// Package signal receives per-symbol trading decisions from external
// strategy services. How signals are produced is out of this engine's hands;
// they arrive as opaque direction/confidence pairs.
package signal

import (
	"context"
	"sync"
	"time"

	"github.com/newbee0315/btc-quant-tool-sub000/internal/model"
)

// Store holds the latest signal per symbol. A symbol with no signal yet, or
// whose signal has aged past maxAge, reads as flat so the trader holds
// rather than acting on dead advice.
type Store struct {
	mu     sync.RWMutex
	maxAge time.Duration
	latest map[string]entry
}

type entry struct {
	sig model.Signal
	at  time.Time
}

// NewStore builds a store. maxAge <= 0 disables staleness expiry.
func NewStore(maxAge time.Duration) *Store {
	return &Store{maxAge: maxAge, latest: make(map[string]entry)}
}

// Set records the newest signal for symbol.
func (s *Store) Set(symbol string, sig model.Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest[symbol] = entry{sig: sig, at: time.Now()}
}

// GetSignal returns the latest live signal for symbol, flat when none.
func (s *Store) GetSignal(_ context.Context, symbol string) (model.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.latest[symbol]
	if !ok {
		return model.Signal{Direction: model.DirectionFlat}, nil
	}
	if s.maxAge > 0 && time.Since(e.at) > s.maxAge {
		return model.Signal{Direction: model.DirectionFlat}, nil
	}
	return e.sig, nil
}
