// Package queuenode implements the priority-queueing tier shared by
// both the dispatch stage (spec.md §4.2) and each stage-two lane
// (spec.md §4.5), grounded on original_source/nodes/queue_node.py. A
// QueueNode owns one PriorityQueue, a dispatch loop, and one
// round-robin balancer per request class over its downstream
// processor pool.
package queuenode

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"reqsim/internal/node"
	"reqsim/internal/protocol"
	"reqsim/internal/queue"
	"reqsim/internal/roundrobin"
	"reqsim/internal/transport"
)

// Dispatch-loop backoffs, matching original_source/nodes/queue_node.py's
// _dispatch_loop exactly: a short poll when the queue is empty, a
// longer one when a dequeued request has nowhere to go yet.
const (
	emptyPollInterval     = 10 * time.Millisecond
	noProcessorPollInterval = 100 * time.Millisecond
)

// Config configures one QueueNode.
type Config struct {
	ID   string
	Addr string

	// ProcessorConfigs lists, per class, the initial downstream
	// processor addresses to connect to and balance across.
	ProcessorConfigs map[protocol.Class][]string

	UseRoundRobin bool
}

// QueueNode buffers inbound requests in a PriorityQueue and a
// background loop drains them to a round-robin-selected downstream
// processor, one per class.
type QueueNode struct {
	*node.Core

	addr          string
	useRoundRobin bool

	q *queue.PriorityQueue

	mu         sync.Mutex
	balancers  map[protocol.Class]*roundrobin.RoundRobin
	clients    map[string]*transport.Client
	idClass    map[string]protocol.Class
	classCount map[protocol.Class]int

	initialConfig map[protocol.Class][]string

	listener *transport.Listener
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New builds a QueueNode from cfg.
func New(cfg Config, logger *slog.Logger) *QueueNode {
	return &QueueNode{
		Core:          node.NewCore(cfg.ID, logger),
		addr:          cfg.Addr,
		useRoundRobin: cfg.UseRoundRobin,
		q:             queue.New(),
		balancers:     make(map[protocol.Class]*roundrobin.RoundRobin),
		clients:       make(map[string]*transport.Client),
		idClass:       make(map[string]protocol.Class),
		classCount:    make(map[protocol.Class]int),
		stopCh:        make(chan struct{}),
		initialConfig: cfg.ProcessorConfigs,
	}
}

// Addr returns the bound listening address, valid after Start.
func (qn *QueueNode) Addr() string {
	return qn.listener.Addr()
}

// Start connects the initial processor pool, binds the listener, and
// launches the dispatch loop.
func (qn *QueueNode) Start() error {
	qn.SetRunning(true)
	qn.SetStatus(node.StatusRunning)

	for class, addrs := range qn.initialConfig {
		for _, addr := range addrs {
			qn.AddProcessor(class, addr)
		}
	}

	qn.listener = transport.NewListener(qn.addr, qn.handle, qn.Logger)
	if err := qn.listener.Start(); err != nil {
		return err
	}

	qn.wg.Add(1)
	go qn.dispatchLoop()

	qn.Logger.Info("queue node started", "addr", qn.Addr())
	return nil
}

func (qn *QueueNode) handle(msg interface{}, sender string) *protocol.Response {
	req, ok := msg.(*protocol.Request)
	if !ok {
		return nil
	}
	qn.q.Enqueue(req)
	qn.Logger.Debug("enqueued request", "request_id", req.RequestID, "class", req.Class.String())
	return nil
}

func (qn *QueueNode) dispatchLoop() {
	defer qn.wg.Done()
	for {
		select {
		case <-qn.stopCh:
			return
		default:
		}

		if qn.q.IsEmpty() {
			time.Sleep(emptyPollInterval)
			continue
		}
		req := qn.q.Dequeue()
		if req == nil {
			continue
		}

		procID := qn.selectProcessor(req.Class)
		if procID == "" {
			qn.q.Enqueue(req)
			time.Sleep(noProcessorPollInterval)
			continue
		}

		qn.mu.Lock()
		client, ok := qn.clients[procID]
		qn.mu.Unlock()
		if !ok {
			qn.q.Enqueue(req)
			qn.markUnavailable(req.Class, procID)
			continue
		}

		if err := client.Send(req); err != nil {
			qn.Logger.Warn("dispatch failed, requeueing", "processor", procID, "error", err)
			qn.q.Enqueue(req)
			qn.markUnavailable(req.Class, procID)
			continue
		}
		qn.Logger.Debug("dispatched request", "request_id", req.RequestID, "processor", procID)
	}
}

func (qn *QueueNode) selectProcessor(class protocol.Class) string {
	qn.mu.Lock()
	b, ok := qn.balancers[class]
	qn.mu.Unlock()
	if !ok {
		return ""
	}
	if qn.useRoundRobin {
		return b.Next()
	}
	return b.First()
}

func (qn *QueueNode) markUnavailable(class protocol.Class, procID string) {
	qn.mu.Lock()
	b, ok := qn.balancers[class]
	qn.mu.Unlock()
	if ok {
		b.MarkUnavailable(procID)
	}
}

// AddProcessor connects a new downstream processor for class and
// registers it with that class's balancer, returning its generated id.
func (qn *QueueNode) AddProcessor(class protocol.Class, addr string) string {
	qn.mu.Lock()
	idx := qn.classCount[class]
	qn.classCount[class] = idx + 1
	id := fmt.Sprintf("%s_%d", class.String(), idx)

	client := transport.NewClient(addr)
	qn.clients[id] = client
	qn.idClass[id] = class

	b, ok := qn.balancers[class]
	if !ok {
		b = roundrobin.New(nil)
		qn.balancers[class] = b
	}
	qn.mu.Unlock()

	b.Add(id)
	qn.Logger.Info("added processor", "processor", id, "addr", addr)
	return id
}

// RemoveProcessor disconnects and deregisters the processor with id.
// Matching by id rather than by listening port avoids the ambiguity a
// port-based lookup would have if two processors ever shared one (the
// original implementation matched on port).
func (qn *QueueNode) RemoveProcessor(id string) {
	qn.mu.Lock()
	client, ok := qn.clients[id]
	class := qn.idClass[id]
	if ok {
		delete(qn.clients, id)
		delete(qn.idClass, id)
	}
	b := qn.balancers[class]
	qn.mu.Unlock()

	if !ok {
		return
	}
	client.Close()
	if b != nil {
		b.Remove(id)
	}
	qn.Logger.Info("removed processor", "processor", id)
}

// QueueMetrics reports the depth and windowed average wait time of
// each priority class, mirroring get_queue_metrics.
type QueueMetrics struct {
	TotalSize int
	Z1Size    int
	Z2Size    int
	Z3Size    int
	Z1AvgWait float64
	Z2AvgWait float64
	Z3AvgWait float64
}

// Metrics returns a snapshot of the queue's current state.
func (qn *QueueNode) Metrics() QueueMetrics {
	return QueueMetrics{
		TotalSize: qn.q.Size(),
		Z1Size:    qn.q.SizeOf(protocol.ClassZ1),
		Z2Size:    qn.q.SizeOf(protocol.ClassZ2),
		Z3Size:    qn.q.SizeOf(protocol.ClassZ3),
		Z1AvgWait: qn.q.AvgWait(protocol.ClassZ1),
		Z2AvgWait: qn.q.AvgWait(protocol.ClassZ2),
		Z3AvgWait: qn.q.AvgWait(protocol.ClassZ3),
	}
}

// AvailableCount reports how many processors are currently available
// for class. The scaling monitor does not read it; it keeps its own
// per-class processor count.
func (qn *QueueNode) AvailableCount(class protocol.Class) int {
	qn.mu.Lock()
	b, ok := qn.balancers[class]
	qn.mu.Unlock()
	if !ok {
		return 0
	}
	return b.AvailableCount()
}

// ProcessorIDs returns a snapshot of every registered processor id for class.
func (qn *QueueNode) ProcessorIDs(class protocol.Class) []string {
	qn.mu.Lock()
	b, ok := qn.balancers[class]
	qn.mu.Unlock()
	if !ok {
		return nil
	}
	return b.All()
}

// Stop halts the dispatch loop, the listener, and every processor connection.
func (qn *QueueNode) Stop() {
	qn.SetRunning(false)
	close(qn.stopCh)
	if qn.listener != nil {
		qn.listener.Stop()
	}
	qn.wg.Wait()

	qn.mu.Lock()
	clients := make([]*transport.Client, 0, len(qn.clients))
	for _, c := range qn.clients {
		clients = append(clients, c)
	}
	qn.mu.Unlock()
	for _, c := range clients {
		c.Close()
	}

	qn.SetStatus(node.StatusStopped)
	qn.Logger.Info("queue node stopped")
}
