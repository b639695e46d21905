package metrics

import "github.com/prometheus/client_golang/prometheus"

// Ledger Prometheus metrics.
var (
	ReservationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "credex",
			Name:      "ledger_reservations_total",
			Help:      "Total number of admission decisions",
		},
		[]string{"agent", "outcome"}, // "approved" / "denied"
	)

	SettlementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "credex",
			Name:      "ledger_settlements_total",
			Help:      "Total number of settlements by kind",
		},
		[]string{"agent", "kind"}, // "SETTLE" / "REFUND"
	)

	ResetsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "credex",
			Name:      "ledger_resets_total",
			Help:      "Total number of daily allowance resets",
		},
		[]string{"agent"},
	)

	BalanceUnits = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "credex",
			Name:      "ledger_balance_units",
			Help:      "Last observed available balance per agent",
		},
		[]string{"agent"},
	)

	UsageRatio = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "credex",
			Name:      "ledger_usage_ratio",
			Help:      "Fraction of the daily allowance consumed",
		},
		[]string{"agent"},
	)

	OverageUnitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "credex",
			Name:      "ledger_overage_units_total",
			Help:      "Units spent beyond their reservation estimate",
		},
		[]string{"agent"},
	)

	SweptReservationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "credex",
			Name:      "ledger_swept_reservations_total",
			Help:      "Expired reservations auto-settled by the sweeper",
		},
		[]string{"agent"},
	)

	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "credex",
			Name:      "channel_messages_total",
			Help:      "Total messages sent on the coordination channel",
		},
		[]string{"from", "kind"},
	)
)

var ledgerMetricsRegistered bool

// RegisterLedgerMetrics registers Prometheus ledger metrics. Must be called once from main.
func RegisterLedgerMetrics() {
	if ledgerMetricsRegistered {
		return
	}
	prometheus.MustRegister(ReservationsTotal)
	prometheus.MustRegister(SettlementsTotal)
	prometheus.MustRegister(ResetsTotal)
	prometheus.MustRegister(BalanceUnits)
	prometheus.MustRegister(UsageRatio)
	prometheus.MustRegister(OverageUnitsTotal)
	prometheus.MustRegister(SweptReservationsTotal)
	prometheus.MustRegister(MessagesTotal)
	ledgerMetricsRegistered = true
}
