// Package n2n talks to the management port of a running n2n edge.
//
// Each request is one datagram "<r|w> <tag>[:1:<key>] <command>". The edge
// answers with JSON datagrams carrying the same _tag and a _type of begin,
// row or event, and a final end or error.
package n2n

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

const (
	DefaultTimeout = 3 * time.Second
	maxTag         = 1000
)

var ErrTimeout = errors.New("management port did not answer")

// RemoteError is an error row reported by the edge.
type RemoteError struct {
	Command string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("edge %s: %s", e.Command, e.Message)
}

// Row is one data row of a reply.
type Row map[string]any

// String returns the field as a string; missing or non-string fields are "".
func (r Row) String(key string) string {
	s, _ := r[key].(string)
	return s
}

// Client is a management port client. Calls are serialized.
type Client struct {
	addr    *net.UDPAddr
	key     string
	timeout time.Duration

	mu   sync.Mutex
	conn *net.UDPConn
	tag  int
}

// Option configures a Client.
type Option func(*Client)

// WithKey sets the management password.
func WithKey(key string) Option {
	return func(c *Client) { c.key = key }
}

// WithTimeout sets the per-datagram read timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// Dial opens a client for the management port on 127.0.0.1.
func Dial(port int, opts ...Option) (*Client, error) {
	return DialAddr(net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), opts...)
}

// DialAddr opens a client for the management port at addr.
func DialAddr(addr string, opts ...Option) (*Client, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, err
	}
	c := &Client{addr: udpAddr, timeout: DefaultTimeout, conn: conn}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close releases the socket.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Read issues a read command.
func (c *Client) Read(ctx context.Context, cmd string) ([]Row, error) {
	return c.call(ctx, "r", cmd)
}

// Write issues a write command.
func (c *Client) Write(ctx context.Context, cmd string) ([]Row, error) {
	return c.call(ctx, "w", cmd)
}

type reply struct {
	Tag  string `json:"_tag"`
	Type string `json:"_type"`
}

func (c *Client) call(ctx context.Context, kind, cmd string) ([]Row, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tag := strconv.Itoa(c.tag)
	c.tag = (c.tag + 1) % maxTag

	opts := tag
	if c.key != "" {
		opts += ":1:" + c.key
	}
	line := kind + " " + opts + " " + cmd
	if _, err := c.conn.WriteToUDP([]byte(line), c.addr); err != nil {
		return nil, err
	}

	buf := make([]byte, 4096)
	var rows []Row
	for {
		deadline := time.Now().Add(c.timeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			return nil, err
		}
		n, _, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				return nil, fmt.Errorf("%s: %w", cmd, ErrTimeout)
			}
			return nil, err
		}

		var hdr reply
		if err := json.Unmarshal(buf[:n], &hdr); err != nil {
			return nil, fmt.Errorf("%s: decode reply: %w", cmd, err)
		}
		if hdr.Tag != tag {
			continue
		}

		switch hdr.Type {
		case "begin", "subscribed", "unsubscribed":
		case "row", "event":
			var row Row
			if err := json.Unmarshal(buf[:n], &row); err != nil {
				return nil, fmt.Errorf("%s: decode row: %w", cmd, err)
			}
			delete(row, "_tag")
			delete(row, "_type")
			rows = append(rows, row)
		case "end":
			return rows, nil
		case "error":
			var e struct {
				Error string `json:"error"`
			}
			_ = json.Unmarshal(buf[:n], &e)
			return nil, &RemoteError{Command: cmd, Message: e.Error}
		default:
			return nil, fmt.Errorf("%s: unknown reply type %q", cmd, hdr.Type)
		}
	}
}
