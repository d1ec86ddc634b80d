// Package notify carries engine events to operators. Delivery is strictly
// best-effort: a failed send is logged and never blocks trading logic.
package notify

import (
	"context"
	"time"
)

// Event kinds. Every rejected admission, protective-order repair, and
// liquidation emits a distinct event; silent failure of SL/TP placement is
// disallowed.
const (
	KindRiskRejected     = "risk_rejected"
	KindFill             = "fill"
	KindClose            = "close"
	KindLiquidation      = "liquidation"
	KindProtectionFailed = "protection_failed"
	KindProtectionRepair = "protection_repair"
	KindStaleOrder       = "stale_order"
)

// Event is one loggable engine occurrence.
type Event struct {
	Kind    string            `json:"kind"`
	Symbol  string            `json:"symbol"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	At      time.Time         `json:"at"`
}

// Notifier delivers events. Implementations must not block the caller on
// delivery problems.
type Notifier interface {
	Send(ctx context.Context, ev Event)
}

// Nop drops every event. Used in tests and when no transport is configured.
type Nop struct{}

func (Nop) Send(context.Context, Event) {}
