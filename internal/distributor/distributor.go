// Package distributor implements the fan-out node of spec.md §4.4,
// grounded on original_source/nodes/distributor.py: every request it
// receives is forwarded unchanged to all three stage-two queue lanes,
// with no reply sent back to the sender.
package distributor

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"reqsim/internal/node"
	"reqsim/internal/protocol"
	"reqsim/internal/transport"
)

// Distributor receives a Request once and replicates it to every
// configured stage-two lane.
type Distributor struct {
	*node.Core

	addr     string
	laneAddrs []string

	mu       sync.Mutex
	lanes    []*transport.Client
	listener *transport.Listener

	distributed atomic.Int64
}

// New builds a Distributor bound to addr, forwarding to laneAddrs.
func New(id, addr string, laneAddrs []string, logger *slog.Logger) *Distributor {
	return &Distributor{
		Core:      node.NewCore(id, logger),
		addr:      addr,
		laneAddrs: laneAddrs,
	}
}

// Addr returns the bound listening address, valid after Start.
func (d *Distributor) Addr() string {
	return d.listener.Addr()
}

// Start connects a client to every lane and begins accepting requests.
func (d *Distributor) Start() error {
	d.SetRunning(true)
	d.SetStatus(node.StatusRunning)

	d.mu.Lock()
	for _, addr := range d.laneAddrs {
		d.lanes = append(d.lanes, transport.NewClient(addr))
	}
	d.mu.Unlock()

	d.listener = transport.NewListener(d.addr, d.handle, d.Logger)
	if err := d.listener.Start(); err != nil {
		return err
	}
	d.Logger.Info("distributor started", "addr", d.Addr(), "lanes", len(d.laneAddrs))
	return nil
}

func (d *Distributor) handle(msg interface{}, sender string) *protocol.Response {
	req, ok := msg.(*protocol.Request)
	if !ok {
		return nil
	}

	d.mu.Lock()
	lanes := make([]*transport.Client, len(d.lanes))
	copy(lanes, d.lanes)
	d.mu.Unlock()

	sent := 0
	for _, lane := range lanes {
		if err := lane.Send(req); err != nil {
			d.Logger.Warn("failed to reach lane", "error", err)
			continue
		}
		sent++
	}
	if sent > 0 {
		d.distributed.Add(1)
		d.Logger.Debug("distributed request", "request_id", req.RequestID, "lanes_reached", sent)
	}
	return nil
}

// Stop closes the listener and every lane client.
func (d *Distributor) Stop() {
	d.SetRunning(false)
	if d.listener != nil {
		d.listener.Stop()
	}
	d.mu.Lock()
	for _, lane := range d.lanes {
		lane.Close()
	}
	d.mu.Unlock()
	d.SetStatus(node.StatusStopped)
	d.Logger.Info("distributor stopped", "distributed", d.distributed.Load())
}

// Stats returns a snapshot for result-artifact reporting.
func (d *Distributor) Stats() map[string]interface{} {
	return map[string]interface{}{
		"node_id":     d.ID,
		"distributed": d.distributed.Load(),
	}
}
