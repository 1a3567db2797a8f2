package transport

import (
	"fmt"
	"net"
	"sync"
	"time"

	"reqsim/internal/protocol"
)

// dialTimeout bounds a single connection attempt.
const dialTimeout = 2 * time.Second

// Client is a lazily-connected, reconnect-on-failure sender to one peer
// address, grounded on original_source/network/tcp_client.py's
// connect-send-close pattern but keeping the socket warm across calls
// the way the teacher's outbound HTTP clients keep connections pooled.
type Client struct {
	addr string

	mu   sync.Mutex
	conn net.Conn
}

// NewClient builds a Client targeting addr. No connection is made
// until the first Send.
func NewClient(addr string) *Client {
	return &Client{addr: addr}
}

// Send encodes msg (a *protocol.Request or *protocol.Response) and
// writes it to the peer, dialing or redialing as needed. It does not
// wait for a reply; use SendAndReceive when one is expected.
func (c *Client) Send(msg interface{}) error {
	frame, err := encodeAny(msg)
	if err != nil {
		return err
	}
	return c.withConn(func(conn net.Conn) error {
		conn.SetWriteDeadline(time.Now().Add(dialTimeout))
		_, err := conn.Write(frame)
		return err
	})
}

// SendAndReceive writes msg and blocks for one reply frame, up to
// timeout. The simulator's nodes all use Send; SendAndReceive is for
// callers that expect the peer to answer on the same connection.
func (c *Client) SendAndReceive(msg interface{}, timeout time.Duration) (*protocol.Response, error) {
	frame, err := encodeAny(msg)
	if err != nil {
		return nil, err
	}

	var resp *protocol.Response
	err = c.withConn(func(conn net.Conn) error {
		conn.SetWriteDeadline(time.Now().Add(dialTimeout))
		if _, err := conn.Write(frame); err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(timeout))
		typ, payload, err := protocol.ReadFrame(conn)
		if err != nil {
			return err
		}
		decoded, err := protocol.Decode(typ, payload)
		if err != nil {
			return err
		}
		r, ok := decoded.(*protocol.Response)
		if !ok {
			return fmt.Errorf("transport: expected response frame, got type %d", typ)
		}
		resp = r
		return nil
	})
	return resp, err
}

func encodeAny(msg interface{}) ([]byte, error) {
	switch v := msg.(type) {
	case *protocol.Request:
		return protocol.EncodeRequest(v)
	case *protocol.Response:
		return protocol.EncodeResponse(v)
	default:
		return nil, fmt.Errorf("transport: unsupported message type %T", msg)
	}
}

// withConn runs fn against the current connection, dialing first if
// necessary. On any error the connection is dropped so the next call
// redials, matching the original client's reconnect-per-failure behavior.
func (c *Client) withConn(fn func(net.Conn) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		conn, err := net.DialTimeout("tcp", c.addr, dialTimeout)
		if err != nil {
			return fmt.Errorf("transport: dial %s: %w", c.addr, err)
		}
		c.conn = conn
	}

	if err := fn(c.conn); err != nil {
		c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

// Dial establishes the underlying connection immediately rather than
// lazily on first Send, so a caller can surface an unreachable peer
// before doing any real work.
func (c *Client) Dial() error {
	return c.withConn(func(net.Conn) error { return nil })
}

// Close drops the underlying connection, if any.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}
