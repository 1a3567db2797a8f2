// Package client implements the request-generating, quorum-waiting
// node of spec.md §4.6, grounded on original_source/nodes/client.py:
// a generator loop that fires new requests at a fixed rate, a response
// handler that tracks each request's set of received lane
// acknowledgements against its expected set, and a timeout sweep that
// retries or permanently fails anything that has waited too long.
package client

import (
	"log/slog"
	"math/rand"
	"net"
	"strconv"
	"sync"
	"time"

	"reqsim/internal/metrics"
	"reqsim/internal/node"
	"reqsim/internal/protocol"
	"reqsim/internal/transport"
)

// timeoutSweepInterval matches original_source/nodes/client.py's
// _check_timeouts poll of 1.0s.
const timeoutSweepInterval = 1 * time.Second

// pending tracks one in-flight request's quorum state.
type pending struct {
	request    *protocol.Request
	expected   map[string]struct{}
	received   map[string]struct{}
	sentAt     time.Time
	retryCount int
}

func (p *pending) hasQuorum() bool {
	if len(p.received) != len(p.expected) {
		return false
	}
	for id := range p.expected {
		if _, ok := p.received[id]; !ok {
			return false
		}
	}
	return true
}

// Config configures one ClientNode.
type Config struct {
	ID   string
	Addr string

	QueueAddr string

	AllowedClasses []protocol.Class

	// ExpectedSet names the processor ids every request must collect a
	// SUCCESS response from before it counts as complete — answering
	// spec.md §9's open question by making the quorum set an explicit
	// construction argument rather than a hard-wired literal, so a
	// scaled topology's lane ids plug in directly.
	ExpectedSet []string

	RequestRate    float64 // requests/sec
	RequestTimeout time.Duration
	MaxRetries     int

	Seed int64
}

// ClientNode generates requests against a queue, waits for quorum
// across the expected processor set, and retries or fails them.
type ClientNode struct {
	*node.Core

	addr           string
	queueAddr      string
	allowedClasses []protocol.Class
	expected       map[string]struct{}
	requestRate    float64
	requestTimeout time.Duration
	maxRetries     int
	rng            *rand.Rand

	metrics *metrics.Collector

	mu      sync.Mutex
	pending map[string]*pending

	successful int
	failed     int
	retried    int

	listener  *transport.Listener
	queueConn *transport.Client

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a ClientNode from cfg, recording outcomes into collector.
func New(cfg Config, collector *metrics.Collector, logger *slog.Logger) *ClientNode {
	expected := make(map[string]struct{}, len(cfg.ExpectedSet))
	for _, id := range cfg.ExpectedSet {
		expected[id] = struct{}{}
	}
	return &ClientNode{
		Core:           node.NewCore(cfg.ID, logger),
		addr:           cfg.Addr,
		queueAddr:      cfg.QueueAddr,
		allowedClasses: cfg.AllowedClasses,
		expected:       expected,
		requestRate:    cfg.RequestRate,
		requestTimeout: cfg.RequestTimeout,
		maxRetries:     cfg.MaxRetries,
		rng:            rand.New(rand.NewSource(cfg.Seed)),
		metrics:        collector,
		pending:        make(map[string]*pending),
		stopCh:         make(chan struct{}),
	}
}

// Addr returns the bound listening address, valid after Start.
func (cn *ClientNode) Addr() string {
	return cn.listener.Addr()
}

// Start connects to the dispatch queue, begins generating requests,
// and launches the timeout sweep. If the queue is unreachable the
// node goes DOWN immediately, matching the original's fail-fast behavior.
func (cn *ClientNode) Start() error {
	cn.SetRunning(true)
	cn.SetStatus(node.StatusRunning)

	// A retried Start keeps the listener bound by an earlier attempt
	// and only redials the queue.
	if cn.listener == nil {
		ln := transport.NewListener(cn.addr, cn.handle, cn.Logger)
		if err := ln.Start(); err != nil {
			return err
		}
		cn.listener = ln
	}

	cn.queueConn = transport.NewClient(cn.queueAddr)
	if err := cn.queueConn.Dial(); err != nil {
		cn.SetRunning(false)
		cn.SetStatus(node.StatusDown)
		cn.Logger.Error("failed to reach dispatch queue", "error", err)
		return err
	}

	cn.wg.Add(2)
	go cn.generateLoop()
	go cn.timeoutLoop()

	cn.Logger.Info("client started", "addr", cn.Addr(), "queue", cn.queueAddr)
	return nil
}

func (cn *ClientNode) generateLoop() {
	defer cn.wg.Done()
	interval := time.Duration(float64(time.Second) / cn.requestRate)
	host, portStr, _ := net.SplitHostPort(cn.addr)
	port, _ := strconv.Atoi(portStr)

	for {
		select {
		case <-cn.stopCh:
			return
		default:
		}

		class := cn.allowedClasses[cn.rng.Intn(len(cn.allowedClasses))]
		req := protocol.NewRequest(class, cn.ID, protocol.Data{
			ClientHost: host,
			ClientPort: port,
			Timestamp:  float64(time.Now().UnixNano()) / 1e9,
		})

		p := &pending{
			request:  req,
			expected: cloneSet(cn.expected),
			received: make(map[string]struct{}),
			sentAt:   time.Now(),
		}
		cn.mu.Lock()
		cn.pending[req.RequestID] = p
		cn.mu.Unlock()

		if err := cn.queueConn.Send(req); err != nil {
			cn.Logger.Warn("failed to send generated request", "error", err)
		} else if cn.metrics != nil {
			cn.metrics.RecordSent(cn.ID)
		}

		select {
		case <-cn.stopCh:
			return
		case <-time.After(interval):
		}
	}
}

func (cn *ClientNode) handle(msg interface{}, sender string) *protocol.Response {
	resp, ok := msg.(*protocol.Response)
	if !ok {
		return nil
	}
	cn.handleResponse(resp)
	return nil
}

func (cn *ClientNode) handleResponse(resp *protocol.Response) {
	cn.mu.Lock()
	defer cn.mu.Unlock()

	p, ok := cn.pending[resp.RequestID]
	if !ok {
		return
	}

	if resp.Status == protocol.StatusSuccess {
		p.received[resp.ProcessorID] = struct{}{}
		if p.hasQuorum() {
			latency := time.Since(p.sentAt)
			cn.successful++
			delete(cn.pending, resp.RequestID)
			if cn.metrics != nil {
				cn.metrics.RecordCompleted(cn.ID, true, latency)
			}
			cn.Logger.Debug("request completed", "request_id", resp.RequestID, "latency_seconds", latency.Seconds())
		}
		return
	}

	cn.retryOrFail(resp.RequestID, p, time.Now())
}

// retryOrFail must be called with cn.mu held.
func (cn *ClientNode) retryOrFail(requestID string, p *pending, now time.Time) {
	if p.retryCount < cn.maxRetries {
		p.retryCount++
		p.received = make(map[string]struct{})
		p.sentAt = now
		if err := cn.queueConn.Send(p.request); err != nil {
			cn.Logger.Warn("retry send failed", "request_id", requestID, "error", err)
		}
		cn.retried++
		if cn.metrics != nil {
			cn.metrics.RecordRetry(cn.ID)
		}
		cn.Logger.Debug("request retrying", "request_id", requestID, "attempt", p.retryCount)
		return
	}

	latency := now.Sub(p.sentAt)
	cn.failed++
	delete(cn.pending, requestID)
	if cn.metrics != nil {
		cn.metrics.RecordCompleted(cn.ID, false, latency)
	}
	cn.Logger.Debug("request failed permanently", "request_id", requestID, "retries", p.retryCount)
}

func (cn *ClientNode) timeoutLoop() {
	defer cn.wg.Done()
	t := time.NewTicker(timeoutSweepInterval)
	defer t.Stop()
	for {
		select {
		case <-cn.stopCh:
			return
		case <-t.C:
			cn.sweepTimeouts()
		}
	}
}

func (cn *ClientNode) sweepTimeouts() {
	now := time.Now()
	cn.mu.Lock()
	defer cn.mu.Unlock()

	for id, p := range cn.pending {
		if now.Sub(p.sentAt) > cn.requestTimeout {
			cn.retryOrFail(id, p, now)
		}
	}
}

func cloneSet(s map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

// Stop halts generation and timeout sweeping and closes all connections.
func (cn *ClientNode) Stop() {
	cn.SetRunning(false)
	close(cn.stopCh)
	cn.wg.Wait()
	if cn.listener != nil {
		cn.listener.Stop()
	}
	if cn.queueConn != nil {
		cn.queueConn.Close()
	}
	cn.SetStatus(node.StatusStopped)
	cn.Logger.Info("client stopped", "successful", cn.successful, "failed", cn.failed, "retried", cn.retried)
}

// Stats returns a snapshot for result-artifact reporting.
func (cn *ClientNode) Stats() map[string]interface{} {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	return map[string]interface{}{
		"node_id":    cn.ID,
		"successful": cn.successful,
		"failed":     cn.failed,
		"retried":    cn.retried,
		"pending":    len(cn.pending),
	}
}

// Pending returns the count of currently in-flight requests, used by
// the engine to build the metrics.Summarize pending-by-client map.
func (cn *ClientNode) Pending() int {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	return len(cn.pending)
}
