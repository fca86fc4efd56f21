package n2n

import (
	"context"
	"time"
)

// UnknownIP is returned by Info when the edge has no virtual address yet.
const UnknownIP = "0.0.0.0"

// Edge is a peer known to the local edge.
type Edge struct {
	Address string
	Desc    string
	Mode    string
}

// Ping reports whether the edge answers at all.
func (c *Client) Ping(ctx context.Context) bool {
	_, err := c.Read(ctx, "help")
	return err == nil
}

// Alive pings up to tries times, delay apart.
func (c *Client) Alive(ctx context.Context, tries int, delay time.Duration) bool {
	for i := 0; i < tries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(delay):
			}
		}
		if c.Ping(ctx) {
			return true
		}
	}
	return false
}

// Info returns the virtual IPv4 address of this edge.
func (c *Client) Info(ctx context.Context) (string, error) {
	rows, err := c.Read(ctx, "info")
	if err != nil {
		return "", err
	}
	for _, row := range rows {
		if ip := row.String("ip4addr"); ip != "" {
			return ip, nil
		}
	}
	return UnknownIP, nil
}

// Edges lists the peers the edge currently knows about.
func (c *Client) Edges(ctx context.Context) ([]Edge, error) {
	rows, err := c.Read(ctx, "edges")
	if err != nil {
		return nil, err
	}
	out := make([]Edge, 0, len(rows))
	for _, row := range rows {
		e := Edge{
			Address: row.String("ip4addr"),
			Desc:    row.String("desc"),
			Mode:    row.String("mode"),
		}
		if e.Mode == "" {
			e.Mode = "Unknown"
		}
		out = append(out, e)
	}
	return out, nil
}

// Stop asks the edge to exit.
func (c *Client) Stop(ctx context.Context) error {
	_, err := c.Write(ctx, "stop")
	return err
}
