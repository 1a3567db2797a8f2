// Package transport implements the length-prefixed point-to-point TCP
// framing of spec.md §6, grounded on
// original_source/network/tcp_server.py and tcp_client.py: an accept
// loop that Stop unblocks by closing the listening socket, one reader
// goroutine per inbound connection polling with a short read deadline
// so shutdown stays responsive, and a write path serialized
// per outbound connection so frames are never interleaved.
package transport

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"reqsim/internal/protocol"
)

// pollTimeout bounds how long a connection's Read blocks between checks
// of the shutdown flag, matching the original's socket.settimeout(1.0).
// Accept has no deadline; Stop unblocks it by closing the socket.
const pollTimeout = 1 * time.Second

// Handler processes one inbound message and optionally returns a
// Response to send back on the same connection. sender is the remote
// address string. A nil return means no reply is sent — exactly the
// semantics spec.md §4.3 requires of dispatch ("never reply
// synchronously").
type Handler func(msg interface{}, sender string) *protocol.Response

// Listener accepts inbound connections on one address and dispatches
// decoded frames to a Handler, one goroutine per connection.
type Listener struct {
	addr    string
	handler Handler
	logger  *slog.Logger

	ln net.Listener

	mu      sync.Mutex
	conns   map[net.Conn]struct{}
	closing bool
	wg      sync.WaitGroup
}

// NewListener builds a Listener bound to addr (host:port) with handler
// invoked for every decoded inbound message.
func NewListener(addr string, handler Handler, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		addr:    addr,
		handler: handler,
		logger:  logger,
		conns:   make(map[net.Conn]struct{}),
	}
}

// Start binds the listening socket and begins accepting connections in
// the background. It returns once the socket is bound, so a caller can
// rely on the address being reachable as soon as Start returns — the
// one fatal condition this spec allows (§7: failure to bind during setup).
func (l *Listener) Start() error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return err
	}
	l.ln = ln
	l.logger.Info("listener started", "addr", l.Addr())

	l.wg.Add(1)
	go l.acceptLoop()
	return nil
}

// Addr returns the actual bound address (useful when addr used port 0).
func (l *Listener) Addr() string {
	if l.ln == nil {
		return l.addr
	}
	return l.ln.Addr().String()
}

func (l *Listener) acceptLoop() {
	defer l.wg.Done()
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if l.isClosing() {
				return
			}
			l.logger.Error("accept error", "error", err)
			continue
		}

		l.mu.Lock()
		l.conns[conn] = struct{}{}
		l.mu.Unlock()

		l.wg.Add(1)
		go l.handleConn(conn)
	}
}

func (l *Listener) isClosing() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closing
}

func (l *Listener) handleConn(conn net.Conn) {
	defer l.wg.Done()
	defer func() {
		l.mu.Lock()
		delete(l.conns, conn)
		l.mu.Unlock()
		conn.Close()
	}()

	addr := conn.RemoteAddr().String()
	for {
		if l.isClosing() {
			return
		}
		// The poll-timeout deadline only covers waiting for the next
		// frame's header to start arriving, so a timeout here is safe
		// to treat as "nothing to do yet" and loop back to check the
		// shutdown flag. Once a header has arrived, a fresh deadline
		// covers reading its payload; a timeout at that point means
		// the stream is stuck mid-frame and the connection is dropped
		// rather than resuming ReadFrame at a boundary it no longer
		// sits on.
		conn.SetReadDeadline(time.Now().Add(pollTimeout))
		typ, length, err := protocol.ReadHeader(conn)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return // connection closed or broken; drop it, per spec.md §7
		}

		conn.SetReadDeadline(time.Now().Add(pollTimeout))
		payload, err := protocol.ReadPayload(conn, length)
		if err != nil {
			return // partial frame on a stalled connection; drop it
		}

		msg, err := protocol.Decode(typ, payload)
		if err != nil {
			l.logger.Debug("dropping undecodable frame", "error", err)
			continue
		}
		if msg == nil {
			continue // reserved control message, no payload to act on
		}

		if l.handler == nil {
			continue
		}
		if resp := l.handler(msg, addr); resp != nil {
			frame, err := protocol.EncodeResponse(resp)
			if err != nil {
				l.logger.Error("encode response", "error", err)
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(pollTimeout))
			if _, err := conn.Write(frame); err != nil {
				return
			}
		}
	}
}

// Stop closes the listening socket and every open connection, then
// waits for all goroutines to exit. Draining is best-effort.
func (l *Listener) Stop() {
	l.mu.Lock()
	if l.closing {
		l.mu.Unlock()
		return
	}
	l.closing = true
	conns := make([]net.Conn, 0, len(l.conns))
	for c := range l.conns {
		conns = append(conns, c)
	}
	l.mu.Unlock()

	if l.ln != nil {
		l.ln.Close()
	}
	for _, c := range conns {
		c.Close()
	}
	l.wg.Wait()
	l.logger.Info("listener stopped")
}
