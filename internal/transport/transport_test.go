package transport

import (
	"testing"
	"time"

	"reqsim/internal/protocol"
)

func TestSendAndReceiveRoundTrip(t *testing.T) {
	handler := func(msg interface{}, sender string) *protocol.Response {
		req, ok := msg.(*protocol.Request)
		if !ok {
			t.Fatalf("handler got %T, want *protocol.Request", msg)
		}
		return protocol.NewResponse(req.RequestID, protocol.StatusSuccess, "W1")
	}

	ln := NewListener("127.0.0.1:0", handler, nil)
	if err := ln.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer ln.Stop()

	c := NewClient(ln.Addr())
	defer c.Close()

	req := protocol.NewRequest(protocol.ClassZ1, "K1", protocol.Data{})
	resp, err := c.SendAndReceive(req, time.Second)
	if err != nil {
		t.Fatalf("SendAndReceive() error: %v", err)
	}
	if resp.RequestID != req.RequestID {
		t.Fatalf("resp.RequestID = %s, want %s", resp.RequestID, req.RequestID)
	}
	if resp.Status != protocol.StatusSuccess {
		t.Fatalf("resp.Status = %v, want Success", resp.Status)
	}
}

func TestSendFireAndForget(t *testing.T) {
	received := make(chan struct{}, 1)
	handler := func(msg interface{}, sender string) *protocol.Response {
		received <- struct{}{}
		return nil
	}

	ln := NewListener("127.0.0.1:0", handler, nil)
	if err := ln.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer ln.Stop()

	c := NewClient(ln.Addr())
	defer c.Close()

	req := protocol.NewRequest(protocol.ClassZ2, "K1", protocol.Data{})
	if err := c.Send(req); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked in time")
	}
}

func TestSendAndReceiveTimesOutWhenNoReply(t *testing.T) {
	handler := func(msg interface{}, sender string) *protocol.Response { return nil }

	ln := NewListener("127.0.0.1:0", handler, nil)
	if err := ln.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer ln.Stop()

	c := NewClient(ln.Addr())
	defer c.Close()

	req := protocol.NewRequest(protocol.ClassZ3, "K1", protocol.Data{})
	_, err := c.SendAndReceive(req, 100*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error, got nil")
	}
}

func TestSendFailsAfterListenerStops(t *testing.T) {
	handler := func(msg interface{}, sender string) *protocol.Response {
		req := msg.(*protocol.Request)
		return protocol.NewResponse(req.RequestID, protocol.StatusSuccess, "W1")
	}

	ln := NewListener("127.0.0.1:0", handler, nil)
	if err := ln.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	c := NewClient(ln.Addr())
	defer c.Close()

	req := protocol.NewRequest(protocol.ClassZ1, "K1", protocol.Data{})
	if _, err := c.SendAndReceive(req, time.Second); err != nil {
		t.Fatalf("first SendAndReceive() error: %v", err)
	}

	ln.Stop()
	c.Close() // force the next Send to redial rather than reuse a half-closed socket

	if err := c.Send(protocol.NewRequest(protocol.ClassZ1, "K1", protocol.Data{})); err == nil {
		t.Fatal("expected error sending to a stopped listener")
	}
}
