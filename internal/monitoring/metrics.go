package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Order execution metrics
	ordersSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "execution_orders_submitted_total",
			Help: "Total number of strategy orders submitted",
		},
		[]string{"strategy"},
	)

	ordersCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "execution_orders_completed_total",
			Help: "Strategy orders by terminal status",
		},
		[]string{"strategy", "status"},
	)

	childOrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "execution_child_orders_total",
			Help: "Child orders placed at venues",
		},
		[]string{"strategy", "venue"},
	)

	// Venue metrics
	venueCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "execution_venue_call_duration_seconds",
			Help:    "Latency of venue adapter calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"venue", "operation"},
	)

	// Market data metrics
	currentPrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "execution_current_price",
			Help: "Current price of trading symbol",
		},
		[]string{"symbol"},
	)

	arbOpportunities = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "execution_arbitrage_opportunities_total",
			Help: "Cross-venue arbitrage opportunities detected",
		},
		[]string{"symbol"},
	)

	// Risk metrics
	riskRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "execution_risk_rejections_total",
			Help: "Orders blocked by the pre-trade risk gate",
		},
		[]string{"portfolio"},
	)

	// Error metrics
	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "execution_errors_total",
			Help: "Total number of errors",
		},
		[]string{"type"},
	)
)

func init() {
	// Register metrics
	prometheus.MustRegister(ordersSubmitted)
	prometheus.MustRegister(ordersCompleted)
	prometheus.MustRegister(childOrdersTotal)
	prometheus.MustRegister(venueCallDuration)
	prometheus.MustRegister(currentPrice)
	prometheus.MustRegister(arbOpportunities)
	prometheus.MustRegister(riskRejections)
	prometheus.MustRegister(errorsTotal)
}

// MetricsHandler handles Prometheus metrics endpoint
type MetricsHandler struct{}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{}
}

// ServeHTTP serves the Prometheus metrics endpoint
func (m *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// RecordOrderSubmitted records a strategy order submission
func RecordOrderSubmitted(strategy string) {
	ordersSubmitted.WithLabelValues(strategy).Inc()
}

// RecordOrderCompleted records a strategy order reaching a terminal status
func RecordOrderCompleted(strategy, status string) {
	ordersCompleted.WithLabelValues(strategy, status).Inc()
}

// RecordChildOrder records a child order placed at a venue
func RecordChildOrder(strategy, venue string) {
	childOrdersTotal.WithLabelValues(strategy, venue).Inc()
}

// ObserveVenueCall records the latency of one venue adapter call
func ObserveVenueCall(venue, operation string, elapsed time.Duration) {
	venueCallDuration.WithLabelValues(venue, operation).Observe(elapsed.Seconds())
}

// UpdatePrice updates the current price metric
func UpdatePrice(symbol string, price float64) {
	currentPrice.WithLabelValues(symbol).Set(price)
}

// RecordArbitrageOpportunity records a detected cross-venue opportunity
func RecordArbitrageOpportunity(symbol string) {
	arbOpportunities.WithLabelValues(symbol).Inc()
}

// RecordRiskRejection records an order blocked by the risk gate
func RecordRiskRejection(portfolio string) {
	riskRejections.WithLabelValues(portfolio).Inc()
}

// RecordError records an error metric
func RecordError(errorType string) {
	errorsTotal.WithLabelValues(errorType).Inc()
}
