// Package worker implements the processing node of spec.md §4.3 and
// §4.5 — both the stage-one forwarders and the stage-two terminal
// processors are the same node shape, grounded on
// original_source/nodes/processor.py, differing only in whether
// ForwardTo is configured.
package worker

import (
	"log/slog"
	"math/rand"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"reqsim/internal/distribution"
	"reqsim/internal/node"
	"reqsim/internal/protocol"
	"reqsim/internal/transport"
)

// idleCheckInterval matches original_source/nodes/processor.py's
// _check_idle_timeout poll of 1.0s.
const idleCheckInterval = 1 * time.Second

// Config configures one Worker instance.
type Config struct {
	ID   string
	Addr string

	// ForwardTo holds addresses of fan-out destinations. Non-empty
	// makes this a stage-one worker (spec.md §4.3); empty makes it a
	// terminal stage-two processor (spec.md §4.5).
	ForwardTo []string

	CanFail            bool
	FailureProbability float64
	IdleTimeout        time.Duration

	ServiceTime *distribution.Generator

	Seed int64
}

// Worker processes Request frames: stage-one instances forward the
// request unchanged to every configured destination and reply with
// nothing; stage-two instances simulate service time and reply
// directly to the originating client.
type Worker struct {
	*node.Core

	addr         string
	forwardAddrs []string
	forward      []*transport.Client
	canFail      bool
	failureProb  float64
	idleTimeout  time.Duration
	serviceTime  *distribution.Generator
	rng          *rand.Rand

	listener *transport.Listener

	serveMu sync.Mutex // held while a request is in service

	mu        sync.Mutex
	idleSince time.Time

	processed atomic.Int64
	failed    atomic.Int64

	stopIdle chan struct{}
	wg       sync.WaitGroup
}

// New builds a Worker from cfg.
func New(cfg Config, logger *slog.Logger) *Worker {
	w := &Worker{
		Core:         node.NewCore(cfg.ID, logger),
		addr:         cfg.Addr,
		forwardAddrs: cfg.ForwardTo,
		canFail:      cfg.CanFail,
		failureProb:  cfg.FailureProbability,
		idleTimeout:  cfg.IdleTimeout,
		serviceTime:  cfg.ServiceTime,
		rng:          rand.New(rand.NewSource(cfg.Seed)),
		stopIdle:     make(chan struct{}),
	}
	return w
}

// Addr returns the bound listening address, valid after Start.
func (w *Worker) Addr() string {
	return w.listener.Addr()
}

// Start connects forward clients (if any), binds the listener, and —
// for nodes that can fail — launches the idle-timeout watchdog.
func (w *Worker) Start() error {
	w.SetRunning(true)
	w.SetStatus(node.StatusIdle)
	w.mu.Lock()
	w.idleSince = time.Now()
	w.mu.Unlock()

	for _, addr := range w.forwardAddrs {
		w.forward = append(w.forward, transport.NewClient(addr))
	}

	w.listener = transport.NewListener(w.addr, w.handle, w.Logger)
	if err := w.listener.Start(); err != nil {
		return err
	}

	if w.canFail {
		w.wg.Add(1)
		go w.watchIdle()
	}

	w.Logger.Info("worker started", "addr", w.Addr(), "forwarding", len(w.forwardAddrs) > 0)
	return nil
}

func (w *Worker) handle(msg interface{}, sender string) *protocol.Response {
	req, ok := msg.(*protocol.Request)
	if !ok {
		return nil
	}

	if w.Status() == node.StatusDown {
		return protocol.NewResponse(req.RequestID, protocol.StatusDown, w.ID)
	}

	// One request at a time, even when several connections deliver.
	w.serveMu.Lock()
	defer w.serveMu.Unlock()

	w.mu.Lock()
	w.idleSince = time.Now()
	w.mu.Unlock()
	w.SetStatus(node.StatusBusy)

	if w.canFail && w.rng.Float64() < w.failureProb {
		w.SetStatus(node.StatusDown)
		w.failed.Add(1)
		w.Logger.Warn("worker failed while processing", "request_id", req.RequestID)
		return protocol.NewResponse(req.RequestID, protocol.StatusDown, w.ID)
	}

	serviceTime := 0.0
	if w.serviceTime != nil {
		serviceTime = w.serviceTime.Next()
		time.Sleep(time.Duration(serviceTime * float64(time.Second)))
	}

	w.processed.Add(1)
	w.SetStatus(node.StatusIdle)
	w.mu.Lock()
	w.idleSince = time.Now()
	w.mu.Unlock()

	if len(w.forward) > 0 {
		for _, c := range w.forward {
			if err := c.Send(req); err != nil {
				w.Logger.Debug("forward failed", "error", err)
			}
		}
		w.Logger.Debug("forwarded request", "request_id", req.RequestID, "destinations", len(w.forward))
		return nil
	}

	resp := protocol.NewResponse(req.RequestID, protocol.StatusSuccess, w.ID)
	resp.Result = map[string]interface{}{"processed_by": w.ID}
	resp.ProcessingTime = serviceTime

	if req.Data.ClientHost != "" && req.Data.ClientPort != 0 {
		client := transport.NewClient(net.JoinHostPort(req.Data.ClientHost, strconv.Itoa(req.Data.ClientPort)))
		if err := client.Send(resp); err != nil {
			w.Logger.Debug("reply to client failed", "request_id", req.RequestID, "error", err)
		}
		client.Close()
	}
	return nil
}

func (w *Worker) watchIdle() {
	defer w.wg.Done()
	t := time.NewTicker(idleCheckInterval)
	defer t.Stop()
	for {
		select {
		case <-w.stopIdle:
			return
		case <-t.C:
			if w.Status() != node.StatusIdle {
				continue
			}
			w.mu.Lock()
			idleFor := time.Since(w.idleSince)
			w.mu.Unlock()
			if idleFor > w.idleTimeout {
				w.SetStatus(node.StatusDown)
				w.Logger.Warn("worker went down on idle timeout", "idle_seconds", idleFor.Seconds())
			}
		}
	}
}

// Recover brings a DOWN worker back to IDLE and clears its failure
// count, mirroring original_source/nodes/processor.py's recover().
func (w *Worker) Recover() {
	if w.Status() != node.StatusDown {
		return
	}
	w.SetStatus(node.StatusIdle)
	w.mu.Lock()
	w.idleSince = time.Now()
	w.mu.Unlock()
	w.failed.Store(0)
	w.Logger.Info("worker recovered")
}

// Stop closes the listener and forward clients and halts the
// watchdog, if running.
func (w *Worker) Stop() {
	w.SetRunning(false)
	if w.canFail {
		close(w.stopIdle)
	}
	if w.listener != nil {
		w.listener.Stop()
	}
	for _, c := range w.forward {
		c.Close()
	}
	w.wg.Wait()
	w.SetStatus(node.StatusStopped)
	w.Logger.Info("worker stopped", "processed", w.processed.Load(), "failed", w.failed.Load())
}

// Stats returns a snapshot for result-artifact reporting.
func (w *Worker) Stats() map[string]interface{} {
	return map[string]interface{}{
		"node_id":   w.ID,
		"status":    w.Status().String(),
		"processed": w.processed.Load(),
		"failed":    w.failed.Load(),
	}
}
