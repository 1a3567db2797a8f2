package distributor

import (
	"sync"
	"testing"
	"time"

	"reqsim/internal/protocol"
	"reqsim/internal/transport"
)

func TestDistributeReachesAllLanes(t *testing.T) {
	const laneCount = 3
	var mu sync.Mutex
	received := make([]int, laneCount)
	var lnAddrs []string

	for i := 0; i < laneCount; i++ {
		idx := i
		ln := transport.NewListener("127.0.0.1:0", func(msg interface{}, sender string) *protocol.Response {
			if _, ok := msg.(*protocol.Request); ok {
				mu.Lock()
				received[idx]++
				mu.Unlock()
			}
			return nil
		}, nil)
		if err := ln.Start(); err != nil {
			t.Fatalf("lane %d Start() error: %v", i, err)
		}
		defer ln.Stop()
		lnAddrs = append(lnAddrs, ln.Addr())
	}

	d := New("DIST", "127.0.0.1:0", lnAddrs, nil)
	if err := d.Start(); err != nil {
		t.Fatalf("distributor Start() error: %v", err)
	}
	defer d.Stop()

	c := transport.NewClient(d.Addr())
	defer c.Close()

	req := protocol.NewRequest(protocol.ClassZ1, "K1", protocol.Data{})
	if err := c.Send(req); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		all := true
		for _, n := range received {
			if n == 0 {
				all = false
			}
		}
		mu.Unlock()
		if all {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("not all lanes received the request: %v", received)
}
