// Package metrics implements the in-process result aggregator of
// spec.md §4.6, grounded on original_source/core/metrics.py: per
// client counters plus a run-wide summary used for the end-of-run
// result artifact. Live telemetry is exported separately through
// internal/telemetry's prometheus registry; this package is the
// source of truth for the JSON artifact spec.md §7 describes.
package metrics

import (
	"sync"
	"time"
)

// perClient mirrors RequestMetrics: accumulators for one client id.
type perClient struct {
	totalSent     int
	totalReceived int
	successful    int
	failed        int
	retried       int
	totalLatency  float64
}

// Collector aggregates request outcomes across every client node
// during one run.
type Collector struct {
	mu        sync.Mutex
	clients   map[string]*perClient
	startedAt time.Time
	now       func() time.Time
}

// New builds a Collector whose run clock starts now.
func New() *Collector {
	return NewWithClock(time.Now)
}

// NewWithClock builds a Collector using now for its run-duration clock,
// so tests can control elapsed time deterministically.
func NewWithClock(now func() time.Time) *Collector {
	return &Collector{
		clients:   make(map[string]*perClient),
		startedAt: now(),
		now:       now,
	}
}

func (c *Collector) clientFor(id string) *perClient {
	m, ok := c.clients[id]
	if !ok {
		m = &perClient{}
		c.clients[id] = m
	}
	return m
}

// RecordSent records that clientID dispatched one new request.
func (c *Collector) RecordSent(clientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clientFor(clientID).totalSent++
}

// RecordRetry records that clientID resent a request after a failure or timeout.
func (c *Collector) RecordRetry(clientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clientFor(clientID).retried++
}

// RecordCompleted records a request's terminal outcome for clientID.
func (c *Collector) RecordCompleted(clientID string, success bool, latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.clientFor(clientID)
	m.totalReceived++
	if success {
		m.successful++
	} else {
		m.failed++
	}
	m.totalLatency += latency.Seconds()
}

// Summary is the aggregate, run-wide view used for the result artifact.
type Summary struct {
	TotalSent             int     `json:"total_requests_sent"`
	TotalSuccessful       int     `json:"total_successful"`
	TotalFailedPermanent  int     `json:"total_failed_permanently"`
	TotalRetried          int     `json:"total_retried"`
	TotalPending          int     `json:"total_pending"`
	TotalCompleted        int     `json:"total_completed"`
	SuccessRateCompleted  float64 `json:"success_rate_of_completed"`
	SuccessRateOverall    float64 `json:"success_rate_overall"`
	CompletionRate        float64 `json:"completion_rate"`
	RetryRate             float64 `json:"retry_rate"`
	AverageLatencySeconds float64 `json:"average_latency"`
	SimulationDuration    float64 `json:"simulation_duration"`
	Throughput            float64 `json:"throughput"`
}

// Summarize computes the run-wide Summary. pendingByClient supplies
// each client's currently in-flight request count, since the
// Collector itself does not track pending state — clients own that.
func (c *Collector) Summarize(pendingByClient map[string]int) Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	var totalSent, totalSuccessful, totalFailed, totalRetried, totalReceived int
	var totalLatency float64
	for _, m := range c.clients {
		totalSent += m.totalSent
		totalSuccessful += m.successful
		totalFailed += m.failed
		totalRetried += m.retried
		totalReceived += m.totalReceived
		totalLatency += m.totalLatency
	}

	totalPending := 0
	for _, n := range pendingByClient {
		totalPending += n
	}
	totalCompleted := totalSuccessful + totalFailed

	avgLatency := ratio(totalLatency, float64(totalReceived))
	duration := c.now().Sub(c.startedAt).Seconds()

	return Summary{
		TotalSent:             totalSent,
		TotalSuccessful:       totalSuccessful,
		TotalFailedPermanent:  totalFailed,
		TotalRetried:          totalRetried,
		TotalPending:          totalPending,
		TotalCompleted:        totalCompleted,
		SuccessRateCompleted:  ratio(float64(totalSuccessful), float64(totalCompleted)),
		SuccessRateOverall:    ratio(float64(totalSuccessful), float64(totalSent)),
		CompletionRate:        ratio(float64(totalCompleted), float64(totalSent)),
		RetryRate:             ratio(float64(totalRetried), float64(totalSent)),
		AverageLatencySeconds: avgLatency,
		SimulationDuration:    duration,
		Throughput:            ratio(float64(totalSuccessful), duration),
	}
}

// ratio returns numerator/denominator, or 0 when denominator is non-positive.
func ratio(numerator, denominator float64) float64 {
	if denominator <= 0 {
		return 0
	}
	return numerator / denominator
}
