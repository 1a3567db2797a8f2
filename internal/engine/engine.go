// Package engine assembles and runs the full simulation topology,
// grounded on original_source/simulation/simulation_engine.py: it
// wires the two-tier queue/worker/distributor pipeline, the dispatch
// queue's autoscaling monitor, and the traffic-generating clients,
// then drives a fixed-duration run and produces the JSON result
// artifact spec.md §6 describes.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"reqsim/internal/client"
	"reqsim/internal/config"
	"reqsim/internal/distribution"
	"reqsim/internal/distributor"
	"reqsim/internal/metrics"
	"reqsim/internal/protocol"
	"reqsim/internal/queuenode"
	"reqsim/internal/resilience"
	"reqsim/internal/scaling"
	"reqsim/internal/telemetry"
	"reqsim/internal/worker"
)

// statusLogInterval matches original_source/simulation/simulation_engine.py's
// _log_status cadence.
const statusLogInterval = 10 * time.Second

// stageDelay separates each startup stage, matching the original's
// time.sleep(0.1) between dependency-ordered component starts.
const stageDelay = 100 * time.Millisecond

// dialRetry bounds the extra dial attempts the engine makes when a
// component fails to bind or connect during startup; the original
// logs a warning and moves on with no retry at all, which on Go's
// faster goroutine scheduling is more likely to race a listener that
// hasn't bound yet, so this redesign adds a small bounded retry
// (documented in DESIGN.md) instead of reproducing the flakiness.
var dialRetry = resilience.RetryConfig{MaxRetries: 3, BackoffBase: 20 * time.Millisecond, BackoffMax: 200 * time.Millisecond}

// scaledWorker tracks one stage-one processor the scaling monitor
// added at runtime, so a later scale-down can find and tear down the
// most recently added instance.
type scaledWorker struct {
	queueNodeID string
	worker      *worker.Worker
}

// Engine owns every node in the topology plus the scaling monitor and
// the metrics collector, and coordinates their lifecycle.
type Engine struct {
	cfg       *config.Config
	logger    *slog.Logger
	collector *metrics.Collector
	telemetry *telemetry.Metrics

	nextPort int
	host     string
	distAddr string

	stageTwoWorkers [3]*worker.Worker
	stageTwoQueues  [3]*queuenode.QueueNode
	dist            *distributor.Distributor
	stageOneWorkers map[protocol.Class]*worker.Worker
	dispatchQueue   *queuenode.QueueNode
	clients         []*client.ClientNode
	monitor         *scaling.Monitor

	mu            sync.Mutex
	scaledWorkers map[protocol.Class][]*scaledWorker
	scaleSeed     int64

	stopRecover chan struct{}
	wg          sync.WaitGroup
}

// New builds an Engine from cfg. collector records traffic outcomes;
// telemetryMetrics (may be nil) exports live Prometheus gauges.
func New(cfg *config.Config, collector *metrics.Collector, telemetryMetrics *telemetry.Metrics, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:             cfg,
		logger:          logger,
		collector:       collector,
		telemetry:       telemetryMetrics,
		nextPort:        cfg.Network.TCPPortBase,
		host:            cfg.Network.BindHost,
		stageOneWorkers: make(map[protocol.Class]*worker.Worker),
		scaledWorkers:   make(map[protocol.Class][]*scaledWorker),
		scaleSeed:       cfg.Simulation.RandomSeed,
		stopRecover:     make(chan struct{}),
	}
}

// allocAddr hands out the next sequential host:port pair, mirroring
// the original's _allocate_port() counter.
func (e *Engine) allocAddr() string {
	port := e.nextPort
	e.nextPort++
	return net.JoinHostPort(e.host, strconv.Itoa(port))
}

// Setup allocates every node's address up front and constructs the
// full topology fully wired — every ForwardTo/ProcessorConfigs/
// ExpectedSet reference is resolved here, since this engine assigns
// addresses deterministically rather than letting the OS pick ports,
// unlike the original which starts listeners before some addresses
// are known. Nothing is started yet.
func (e *Engine) Setup() {
	p2Addr := [3]string{e.allocAddr(), e.allocAddr(), e.allocAddr()}
	q2Addr := [3]string{e.allocAddr(), e.allocAddr(), e.allocAddr()}
	e.distAddr = e.allocAddr()
	p1Addr := map[protocol.Class]string{
		protocol.ClassZ1: e.allocAddr(),
		protocol.ClassZ2: e.allocAddr(),
		protocol.ClassZ3: e.allocAddr(),
	}
	q1Addr := e.allocAddr()
	clientAddr := []string{e.allocAddr(), e.allocAddr()}

	p2ClassNums := [3]int{1, 2, 3}
	for i := range e.stageTwoWorkers {
		gen := distribution.New(e.cfg.Service.ToParams(), e.scaleSeed+int64(i)+1)
		e.stageTwoWorkers[i] = worker.New(worker.Config{
			ID:                 fmt.Sprintf("P2%d", p2ClassNums[i]),
			Addr:               p2Addr[i],
			CanFail:            true,
			FailureProbability: e.cfg.Fault.FailureProbability,
			IdleTimeout:        e.cfg.Fault.IdleTimeout,
			ServiceTime:        gen,
			Seed:               e.scaleSeed + int64(i) + 100,
		}, e.logger)
	}

	for i := range e.stageTwoQueues {
		e.stageTwoQueues[i] = queuenode.New(queuenode.Config{
			ID:   fmt.Sprintf("Q2%d", p2ClassNums[i]),
			Addr: q2Addr[i],
			ProcessorConfigs: map[protocol.Class][]string{
				protocol.ClassZ1: {p2Addr[i]},
				protocol.ClassZ2: {p2Addr[i]},
				protocol.ClassZ3: {p2Addr[i]},
			},
			UseRoundRobin: false,
		}, e.logger)
	}

	e.dist = distributor.New("D", e.distAddr, q2Addr[:], e.logger)

	for i, class := range []protocol.Class{protocol.ClassZ1, protocol.ClassZ2, protocol.ClassZ3} {
		e.stageOneWorkers[class] = worker.New(worker.Config{
			ID:        fmt.Sprintf("P1%d", i+1),
			Addr:      p1Addr[class],
			ForwardTo: []string{e.distAddr},
			CanFail:   false,
		}, e.logger)
	}

	e.dispatchQueue = queuenode.New(queuenode.Config{
		ID:   "Q1",
		Addr: q1Addr,
		ProcessorConfigs: map[protocol.Class][]string{
			protocol.ClassZ1: {p1Addr[protocol.ClassZ1]},
			protocol.ClassZ2: {p1Addr[protocol.ClassZ2]},
			protocol.ClassZ3: {p1Addr[protocol.ClassZ3]},
		},
		UseRoundRobin: true,
	}, e.logger)

	expected := make([]string, len(e.stageTwoWorkers))
	for i, w := range e.stageTwoWorkers {
		expected[i] = w.ID
	}

	e.clients = []*client.ClientNode{
		client.New(client.Config{
			ID:             "K1",
			Addr:           clientAddr[0],
			QueueAddr:      q1Addr,
			AllowedClasses: []protocol.Class{protocol.ClassZ1, protocol.ClassZ2},
			ExpectedSet:    expected,
			RequestRate:    e.cfg.Simulation.RequestGenerationRate,
			RequestTimeout: e.cfg.Fault.ClientRequestTimeout,
			MaxRetries:     e.cfg.Fault.MaxRetries,
			Seed:           e.scaleSeed + 201,
		}, e.collector, e.logger),
		client.New(client.Config{
			ID:             "K2",
			Addr:           clientAddr[1],
			QueueAddr:      q1Addr,
			AllowedClasses: []protocol.Class{protocol.ClassZ2, protocol.ClassZ3},
			ExpectedSet:    expected,
			RequestRate:    e.cfg.Simulation.RequestGenerationRate,
			RequestTimeout: e.cfg.Fault.ClientRequestTimeout,
			MaxRetries:     e.cfg.Fault.MaxRetries,
			Seed:           e.scaleSeed + 202,
		}, e.collector, e.logger),
	}

	e.logger.Info("topology assembled",
		"stage_two_workers", len(e.stageTwoWorkers),
		"stage_two_queues", len(e.stageTwoQueues),
		"stage_one_workers", len(e.stageOneWorkers),
		"clients", len(e.clients),
	)
}

// dialWithRetry wraps fn (a listener-binding or dial-performing Start
// call) with the engine's bounded retry, per SPEC_FULL.md §12's
// documented redesign of the original's no-retry startup.
func (e *Engine) dialWithRetry(ctx context.Context, name string, fn func() error) error {
	err := resilience.Retry(ctx, dialRetry, fn)
	if err != nil {
		e.logger.Error("component failed to start", "component", name, "error", err)
	}
	return err
}

// Start brings the topology up in dependency order, each stage
// separated by a short delay so downstream listeners are bound before
// upstream clients dial them, then wires and starts the scaling monitor.
func (e *Engine) Start(ctx context.Context) error {
	for _, w := range e.stageTwoWorkers {
		if err := e.dialWithRetry(ctx, w.ID, w.Start); err != nil {
			return err
		}
	}
	time.Sleep(stageDelay)

	for _, q := range e.stageTwoQueues {
		if err := e.dialWithRetry(ctx, q.ID, q.Start); err != nil {
			return err
		}
	}
	time.Sleep(stageDelay)

	if err := e.dialWithRetry(ctx, e.dist.ID, e.dist.Start); err != nil {
		return err
	}
	time.Sleep(stageDelay)

	for _, class := range []protocol.Class{protocol.ClassZ1, protocol.ClassZ2, protocol.ClassZ3} {
		w := e.stageOneWorkers[class]
		if err := e.dialWithRetry(ctx, w.ID, w.Start); err != nil {
			return err
		}
	}
	time.Sleep(stageDelay)

	if err := e.dialWithRetry(ctx, e.dispatchQueue.ID, e.dispatchQueue.Start); err != nil {
		return err
	}
	time.Sleep(stageDelay)

	for _, c := range e.clients {
		if err := e.dialWithRetry(ctx, c.ID, c.Start); err != nil {
			return err
		}
		time.Sleep(stageDelay)
	}

	initialCounts := map[protocol.Class]int{
		protocol.ClassZ1: 1,
		protocol.ClassZ2: 1,
		protocol.ClassZ3: 1,
	}
	e.monitor = scaling.New(
		e.dispatchAvgWait,
		e.scaleUp,
		e.scaleDown,
		scaling.Thresholds{
			ScaleUpAvgWait:   e.cfg.Scaling.AvgWaitThreshold,
			ScaleDownAvgWait: e.cfg.Scaling.ScaleDownThreshold,
			Cooldown:         e.cfg.Scaling.Cooldown,
			MinPerClass:      e.cfg.Scaling.MinPerClass,
			MaxPerClass:      e.cfg.Scaling.MaxPerClass,
		},
		initialCounts,
		e.logger,
	)
	e.monitor.Start()

	if e.cfg.Fault.AutoRecoverEnabled {
		e.wg.Add(1)
		go e.autoRecoverLoop()
	}

	e.logger.Info("simulation started")
	return nil
}

func (e *Engine) dispatchAvgWait(class protocol.Class) float64 {
	m := e.dispatchQueue.Metrics()
	switch class {
	case protocol.ClassZ1:
		return m.Z1AvgWait
	case protocol.ClassZ2:
		return m.Z2AvgWait
	default:
		return m.Z3AvgWait
	}
}

// scaleUp adds one new stage-one worker for class, forwarding to the
// distributor exactly like the statically configured P1x workers,
// mirroring _scale_up_processor.
func (e *Engine) scaleUp(class protocol.Class) {
	e.mu.Lock()
	idx := len(e.scaledWorkers[class])
	e.mu.Unlock()

	id := fmt.Sprintf("P1%d_%d", classNum(class), idx)
	w := worker.New(worker.Config{
		ID:        id,
		Addr:      e.allocAddr(),
		ForwardTo: []string{e.distAddr},
		CanFail:   false,
	}, e.logger)
	if err := w.Start(); err != nil {
		e.logger.Error("failed to start scaled worker", "worker", id, "error", err)
		return
	}
	qnID := e.dispatchQueue.AddProcessor(class, w.Addr())
	if e.telemetry != nil {
		e.telemetry.RecordScalingEvent(class.String(), "up")
	}

	e.mu.Lock()
	e.scaledWorkers[class] = append(e.scaledWorkers[class], &scaledWorker{queueNodeID: qnID, worker: w})
	e.mu.Unlock()
}

// scaleDown tears down the most recently scaled-up worker for class,
// mirroring _scale_down_processor. Statically configured workers
// (P11/P12/P13) are never removed; the monitor's MinPerClass bound
// keeps it from calling this once only the static worker remains.
func (e *Engine) scaleDown(class protocol.Class) {
	e.mu.Lock()
	pool := e.scaledWorkers[class]
	if len(pool) == 0 {
		e.mu.Unlock()
		return
	}
	last := pool[len(pool)-1]
	e.scaledWorkers[class] = pool[:len(pool)-1]
	e.mu.Unlock()

	e.dispatchQueue.RemoveProcessor(last.queueNodeID)
	last.worker.Stop()
	if e.telemetry != nil {
		e.telemetry.RecordScalingEvent(class.String(), "down")
	}
}

func classNum(class protocol.Class) int {
	switch class {
	case protocol.ClassZ1:
		return 1
	case protocol.ClassZ2:
		return 2
	default:
		return 3
	}
}

// autoRecoverLoop periodically brings DOWN stage-two workers back to
// IDLE, the opt-in capability SPEC_FULL.md §12 describes for Open
// Question #2.
func (e *Engine) autoRecoverLoop() {
	defer e.wg.Done()
	t := time.NewTicker(e.cfg.Fault.AutoRecoverInterval)
	defer t.Stop()
	for {
		select {
		case <-e.stopRecover:
			return
		case <-t.C:
			for _, w := range e.stageTwoWorkers {
				w.Recover()
			}
		}
	}
}

// Run blocks until ctx is done, logging a periodic status line at
// statusLogInterval, mirroring _log_status.
func (e *Engine) Run(ctx context.Context) {
	t := time.NewTicker(statusLogInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			e.logStatus()
		}
	}
}

func (e *Engine) logStatus() {
	pending := make(map[string]int, len(e.clients))
	for _, c := range e.clients {
		pending[c.ID] = c.Pending()
	}
	summary := e.collector.Summarize(pending)
	e.logger.Info("simulation status",
		"sent", summary.TotalSent,
		"successful", summary.TotalSuccessful,
		"failed", summary.TotalFailedPermanent,
		"pending", summary.TotalPending,
	)
}

// Stop shuts the topology down in the reverse-of-dependency order the
// original uses: clients, scaling monitor, dispatch queue, stage-one
// workers (including every scaled instance), distributor, stage-two
// queues, stage-two workers.
func (e *Engine) Stop() {
	for _, c := range e.clients {
		c.Stop()
	}
	if e.monitor != nil {
		e.monitor.Stop()
	}
	if e.cfg.Fault.AutoRecoverEnabled {
		close(e.stopRecover)
		e.wg.Wait()
	}
	e.dispatchQueue.Stop()

	for _, w := range e.stageOneWorkers {
		w.Stop()
	}
	e.mu.Lock()
	scaled := e.scaledWorkers
	e.scaledWorkers = nil
	e.mu.Unlock()
	for _, pool := range scaled {
		for _, sw := range pool {
			sw.worker.Stop()
		}
	}

	e.dist.Stop()
	for _, q := range e.stageTwoQueues {
		q.Stop()
	}
	for _, w := range e.stageTwoWorkers {
		w.Stop()
	}

	e.logger.Info("simulation stopped")
}

// Results is the end-of-run JSON artifact: metrics summary, per-client
// stats, per-processor stats, per-queue stats, and the scaling
// monitor's final per-class processor counts.
type Results struct {
	MetricsSummary metrics.Summary          `json:"metrics_summary"`
	ClientStats    []map[string]interface{} `json:"client_stats"`
	ProcessorStats []map[string]interface{} `json:"processor_stats"`
	QueueStats     map[string]interface{}   `json:"queue_stats"`
	ScalingStatus  map[string]int           `json:"scaling_status"`
}

// Results computes the final result artifact.
func (e *Engine) Results() Results {
	pending := make(map[string]int, len(e.clients))
	clientStats := make([]map[string]interface{}, 0, len(e.clients))
	for _, c := range e.clients {
		pending[c.ID] = c.Pending()
		clientStats = append(clientStats, c.Stats())
	}

	processorStats := make([]map[string]interface{}, 0)
	for _, w := range e.stageOneWorkers {
		processorStats = append(processorStats, w.Stats())
	}
	for _, w := range e.stageTwoWorkers {
		processorStats = append(processorStats, w.Stats())
	}
	e.mu.Lock()
	for _, pool := range e.scaledWorkers {
		for _, sw := range pool {
			processorStats = append(processorStats, sw.worker.Stats())
		}
	}
	e.mu.Unlock()

	queueStats := map[string]interface{}{
		e.dispatchQueue.ID: e.dispatchQueue.Metrics(),
	}
	for _, q := range e.stageTwoQueues {
		queueStats[q.ID] = q.Metrics()
	}

	scalingStatus := make(map[string]int)
	if e.monitor != nil {
		for class, n := range e.monitor.Status() {
			scalingStatus[class.String()] = n
		}
	}

	return Results{
		MetricsSummary: e.collector.Summarize(pending),
		ClientStats:    clientStats,
		ProcessorStats: processorStats,
		QueueStats:     queueStats,
		ScalingStatus:  scalingStatus,
	}
}
