// Package telemetry provides observability with Prometheus metrics for
// the simulator, grounded on the teacher's own promauto-factory
// registration pattern but re-scoped from LLM-gateway request/token/
// cost metrics to the simulator's queueing and fan-out domain.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus metric the simulator exports.
type Metrics struct {
	QueueDepth     *prometheus.GaugeVec   // by queue_id, class
	QueueAvgWait   *prometheus.GaugeVec   // by queue_id, class
	DispatchTotal  *prometheus.CounterVec // by queue_id, class
	ProcessorState *prometheus.GaugeVec   // by processor_id (0=idle,1=busy,2=down)

	ScalingEventsTotal *prometheus.CounterVec // by class, direction

	ClientRequestsSent       *prometheus.CounterVec // by client_id
	ClientRequestsSuccessful *prometheus.CounterVec // by client_id
	ClientRequestsFailed     *prometheus.CounterVec // by client_id
	ClientRequestsRetried    *prometheus.CounterVec // by client_id
	RequestLatency           *prometheus.HistogramVec // by client_id

	DistributedTotal prometheus.Counter
}

// NewMetrics builds and registers every metric against registry. A nil
// registry registers against prometheus.DefaultRegisterer, matching
// the teacher's NewMetrics convention.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		QueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "reqsim_queue_depth",
				Help: "Current number of requests waiting in a queue, by class",
			},
			[]string{"queue_id", "class"},
		),
		QueueAvgWait: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "reqsim_queue_avg_wait_seconds",
				Help: "Windowed average wait time in a queue, by class",
			},
			[]string{"queue_id", "class"},
		),
		DispatchTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reqsim_dispatch_total",
				Help: "Total requests dispatched from a queue to a processor, by class",
			},
			[]string{"queue_id", "class"},
		),
		ProcessorState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "reqsim_processor_state",
				Help: "Processor state (0=idle, 1=busy, 2=down)",
			},
			[]string{"processor_id"},
		),
		ScalingEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reqsim_scaling_events_total",
				Help: "Total autoscaling events, by class and direction",
			},
			[]string{"class", "direction"},
		),
		ClientRequestsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reqsim_client_requests_sent_total",
				Help: "Total requests generated by a client",
			},
			[]string{"client_id"},
		),
		ClientRequestsSuccessful: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reqsim_client_requests_successful_total",
				Help: "Total requests that reached quorum successfully",
			},
			[]string{"client_id"},
		),
		ClientRequestsFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reqsim_client_requests_failed_total",
				Help: "Total requests that failed permanently after exhausting retries",
			},
			[]string{"client_id"},
		),
		ClientRequestsRetried: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reqsim_client_requests_retried_total",
				Help: "Total request retries, by client",
			},
			[]string{"client_id"},
		),
		RequestLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reqsim_request_latency_seconds",
				Help:    "End-to-end latency from request generation to quorum completion",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"client_id"},
		),
		DistributedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "reqsim_distributed_total",
				Help: "Total requests fanned out by the distributor",
			},
		),
	}
}

// Handler returns an HTTP handler serving the registered metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordQueue updates a queue's gauges for one class.
func (m *Metrics) RecordQueue(queueID, class string, depth int, avgWait float64) {
	m.QueueDepth.WithLabelValues(queueID, class).Set(float64(depth))
	m.QueueAvgWait.WithLabelValues(queueID, class).Set(avgWait)
}

// RecordDispatch increments the dispatch counter for one class.
func (m *Metrics) RecordDispatch(queueID, class string) {
	m.DispatchTotal.WithLabelValues(queueID, class).Inc()
}

// RecordProcessorState sets a processor's numeric state gauge.
func (m *Metrics) RecordProcessorState(processorID string, state float64) {
	m.ProcessorState.WithLabelValues(processorID).Set(state)
}

// RecordScalingEvent increments the scaling-event counter.
func (m *Metrics) RecordScalingEvent(class, direction string) {
	m.ScalingEventsTotal.WithLabelValues(class, direction).Inc()
}

// RecordRequestSent increments a client's sent counter.
func (m *Metrics) RecordRequestSent(clientID string) {
	m.ClientRequestsSent.WithLabelValues(clientID).Inc()
}

// RecordRequestRetried increments a client's retry counter.
func (m *Metrics) RecordRequestRetried(clientID string) {
	m.ClientRequestsRetried.WithLabelValues(clientID).Inc()
}

// RecordRequestCompleted increments the success or failure counter for
// clientID and observes the request's end-to-end latency.
func (m *Metrics) RecordRequestCompleted(clientID string, success bool, latency time.Duration) {
	if success {
		m.ClientRequestsSuccessful.WithLabelValues(clientID).Inc()
	} else {
		m.ClientRequestsFailed.WithLabelValues(clientID).Inc()
	}
	m.RequestLatency.WithLabelValues(clientID).Observe(latency.Seconds())
}

// RecordDistributed increments the distributor's fan-out counter.
func (m *Metrics) RecordDistributed() {
	m.DistributedTotal.Inc()
}
