package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CartsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carts_created_total",
		Help: "Total number of carts created",
	})

	CartsMergedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carts_merged_total",
		Help: "Total number of add-to-cart calls merged into an existing active cart",
	})

	CartsAbandonedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carts_abandoned_total",
		Help: "Total number of carts abandoned",
	}, []string{"reason"})

	CartsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carts_rejected_total",
		Help: "Total number of rejected cart mutations",
	}, []string{"reason"})

	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	})

	OrderTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_total",
		Help: "Total number of order state transitions",
	}, []string{"to"})

	OrderTransitionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_rejected_total",
		Help: "Total number of rejected order state transitions",
	}, []string{"reason"})

	LedgerAdjustmentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_adjustments_total",
		Help: "Total number of book stock adjustment requests",
	})

	LedgerCASConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_cas_conflicts_total",
		Help: "Total number of version conflicts during ledger mutations",
	})

	LedgerCallLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_call_latency_seconds",
		Help:    "Latency of ledger HTTP calls from the orders service",
		Buckets: prometheus.DefBuckets,
	})

	SagaCompensationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_compensations_total",
		Help: "Total number of saga compensation runs",
	}, []string{"outcome"})

	StockCacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_cache_hits_total",
		Help: "Availability cache lookups by result",
	}, []string{"result"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
