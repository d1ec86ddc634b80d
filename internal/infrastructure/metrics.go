package infrastructure

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_orders_placed_total",
		Help: "Orders submitted to the exchange",
	}, []string{"symbol", "type"})

	OrdersCanceled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_orders_canceled_total",
		Help: "Orders canceled on the exchange",
	}, []string{"symbol"})

	GatewayRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_gateway_retries_total",
		Help: "Gateway calls retried after transient errors",
	}, []string{"kind"})

	RiskRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_risk_rejections_total",
		Help: "Admissions rejected by the portfolio risk manager",
	}, []string{"symbol", "reason"})

	ReconcileRepairs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_reconcile_repairs_total",
		Help: "Stale-order cancels and protective-order repairs during reconciliation",
	}, []string{"symbol", "action"})

	Liquidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_liquidations_total",
		Help: "Positions force-closed at the liquidation bound",
	}, []string{"symbol"})

	StreamConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "engine_stream_connections",
		Help: "Active user-data stream connections",
	})
)
