package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for MarginLedger.
type Metrics struct {
	// --- Engine ---
	OrdersPlaced      *prometheus.CounterVec
	OrdersSettled     *prometheus.CounterVec
	OperationsFailed  *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	MarginLocked      prometheus.Counter
	SettledVolume     *prometheus.CounterVec
	CollateralMoved   *prometheus.CounterVec

	// --- Events ---
	EventsDropped   prometheus.Counter
	EventsPublished *prometheus.CounterVec
	PublishErrors   *prometheus.CounterVec

	// --- Channels ---
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec

	// --- Ingest commands ---
	CommandsProcessed *prometheus.CounterVec
	CommandDuplicates *prometheus.CounterVec
	DedupLRUSize      prometheus.Gauge

	// --- Query API ---
	RequestDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer to expose them on /metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.0025, 0.005, 0.01, 0.05, 0.25,
	}

	return &Metrics{
		OrdersPlaced: f.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_orders_placed_total",
			Help: "Orders accepted by the placement engine",
		}, []string{"position", "order_type"}),

		OrdersSettled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_orders_settled_total",
			Help: "Orders settled, by outcome",
		}, []string{"outcome"}),

		OperationsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_operations_failed_total",
			Help: "Engine operations that returned an error",
		}, []string{"operation", "reason"}),

		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "margin_operation_duration_seconds",
			Help:    "Time to run one engine operation end to end",
			Buckets: latencyBuckets,
		}, []string{"operation"}),

		MarginLocked: f.NewCounter(prometheus.CounterOpts{
			Name: "margin_locked_units_total",
			Help: "Collateral units reserved by placed orders",
		}),

		SettledVolume: f.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_settled_units_total",
			Help: "Units moved by settlement transfers",
		}, []string{"outcome"}),

		CollateralMoved: f.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_collateral_units_total",
			Help: "Units deposited or withdrawn",
		}, []string{"direction", "denomination"}),

		EventsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "margin_events_dropped_total",
			Help: "Outbound events dropped because the publish channel was full",
		}),

		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_events_published_total",
			Help: "Outbound events published",
		}, []string{"sink", "event_type"}),

		PublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_event_publish_errors_total",
			Help: "Outbound publish failures",
		}, []string{"sink"}),

		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "margin_channel_size",
			Help: "Current buffered items in a channel",
		}, []string{"channel"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "margin_channel_capacity",
			Help: "Capacity of a channel",
		}, []string{"channel"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "margin_channel_utilization_ratio",
			Help: "size / capacity of a channel",
		}, []string{"channel"}),

		CommandsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_commands_processed_total",
			Help: "Ingested commands by kind and result",
		}, []string{"kind", "result"}),

		CommandDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_command_duplicates_total",
			Help: "Ingested commands skipped as duplicates, by dedup tier",
		}, []string{"kind", "tier"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "margin_dedup_lru_size",
			Help: "Entries in the command dedup LRU",
		}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "margin_request_duration_seconds",
			Help:    "RPC latency by method and status code",
			Buckets: latencyBuckets,
		}, []string{"method", "code"}),
	}
}

// SetChannelMetrics updates channel gauges.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
