package worker

import (
	"net"
	"strconv"
	"testing"
	"time"

	"reqsim/internal/distribution"
	"reqsim/internal/node"
	"reqsim/internal/protocol"
	"reqsim/internal/transport"
)

func fixedGen(t *testing.T) *distribution.Generator {
	t.Helper()
	return distribution.New(distribution.Params{Kind: distribution.Fixed, Fixed: 0.01}, 1)
}

func TestTerminalWorkerRepliesDirectlyToClient(t *testing.T) {
	received := make(chan *protocol.Response, 1)
	clientHandler := func(msg interface{}, sender string) *protocol.Response {
		if r, ok := msg.(*protocol.Response); ok {
			received <- r
		}
		return nil
	}
	clientLn := transport.NewListener("127.0.0.1:0", clientHandler, nil)
	if err := clientLn.Start(); err != nil {
		t.Fatalf("client listener Start() error: %v", err)
	}
	defer clientLn.Stop()

	host, portStr, err := net.SplitHostPort(clientLn.Addr())
	if err != nil {
		t.Fatalf("SplitHostPort() error: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("Atoi() error: %v", err)
	}

	w := New(Config{
		ID:          "P2.1",
		Addr:        "127.0.0.1:0",
		ServiceTime: fixedGen(t),
	}, nil)
	if err := w.Start(); err != nil {
		t.Fatalf("worker Start() error: %v", err)
	}
	defer w.Stop()

	wc := transport.NewClient(w.Addr())
	defer wc.Close()

	req := protocol.NewRequest(protocol.ClassZ1, "K1", protocol.Data{ClientHost: host, ClientPort: port})
	if err := wc.Send(req); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	select {
	case resp := <-received:
		if resp.RequestID != req.RequestID {
			t.Fatalf("resp.RequestID = %s, want %s", resp.RequestID, req.RequestID)
		}
		if resp.Status != protocol.StatusSuccess {
			t.Fatalf("resp.Status = %v, want Success", resp.Status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client never received a response")
	}
}

func TestStageOneWorkerForwardsWithoutReplying(t *testing.T) {
	forwarded := make(chan *protocol.Request, 1)
	downstreamHandler := func(msg interface{}, sender string) *protocol.Response {
		if r, ok := msg.(*protocol.Request); ok {
			forwarded <- r
		}
		return nil
	}
	downstream := transport.NewListener("127.0.0.1:0", downstreamHandler, nil)
	if err := downstream.Start(); err != nil {
		t.Fatalf("downstream Start() error: %v", err)
	}
	defer downstream.Stop()

	w := New(Config{
		ID:          "P1.1",
		Addr:        "127.0.0.1:0",
		ForwardTo:   []string{downstream.Addr()},
		ServiceTime: fixedGen(t),
	}, nil)
	if err := w.Start(); err != nil {
		t.Fatalf("worker Start() error: %v", err)
	}
	defer w.Stop()

	wc := transport.NewClient(w.Addr())
	defer wc.Close()

	req := protocol.NewRequest(protocol.ClassZ2, "K1", protocol.Data{})
	if err := wc.Send(req); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	select {
	case got := <-forwarded:
		if got.RequestID != req.RequestID {
			t.Fatalf("forwarded RequestID = %s, want %s", got.RequestID, req.RequestID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("downstream never received the forwarded request")
	}
}

func TestWorkerReportsNodeDownWhenStatusDown(t *testing.T) {
	w := New(Config{
		ID:          "P2.1",
		Addr:        "127.0.0.1:0",
		ServiceTime: fixedGen(t),
	}, nil)
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer w.Stop()
	w.SetStatus(node.StatusDown)

	wc := transport.NewClient(w.Addr())
	defer wc.Close()

	req := protocol.NewRequest(protocol.ClassZ1, "K1", protocol.Data{})
	resp, err := wc.SendAndReceive(req, time.Second)
	if err != nil {
		t.Fatalf("SendAndReceive() error: %v", err)
	}
	if resp.Status != protocol.StatusDown {
		t.Fatalf("resp.Status = %v, want Down", resp.Status)
	}
}

func TestRecoverBringsWorkerBackToIdle(t *testing.T) {
	w := New(Config{ID: "P2.1", Addr: "127.0.0.1:0", ServiceTime: fixedGen(t)}, nil)
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer w.Stop()

	w.SetStatus(node.StatusDown)
	w.Recover()
	if w.Status() != node.StatusIdle {
		t.Fatalf("Status() after Recover = %v, want Idle", w.Status())
	}
}
