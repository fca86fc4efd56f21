package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"n2nctl/internal/model"
)

// Client is a thin HTTP client for the invoke server. It implements
// Gateway.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the given base URL (e.g. http://host:port).
func NewClient(baseURL string) *Client {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			// Ping averages several echoes a second apart.
			Timeout: 30 * time.Second,
		},
	}
}

// Members fetches the member snapshot.
func (c *Client) Members(ctx context.Context) ([]model.PeerInfo, error) {
	var out []model.PeerInfo
	err := c.Invoke(ctx, CmdMembers, nil, &out)
	return out, err
}

// Ping measures latency to host in milliseconds.
func (c *Client) Ping(ctx context.Context, host string) (int, error) {
	var ms int
	err := c.Invoke(ctx, CmdPing, PingRequest{Host: host}, &ms)
	return ms, err
}

// Status reports whether the tunnel is up.
func (c *Client) Status(ctx context.Context) (bool, error) {
	return c.invokeBool(ctx, CmdStatus, nil)
}

// Start starts the tunnel.
func (c *Client) Start(ctx context.Context) (bool, error) {
	return c.invokeBool(ctx, CmdStart, nil)
}

// Stop stops the tunnel.
func (c *Client) Stop(ctx context.Context) (bool, error) {
	return c.invokeBool(ctx, CmdStop, nil)
}

// SelfIP returns this node's virtual address.
func (c *Client) SelfIP(ctx context.Context) (string, error) {
	var ip string
	err := c.Invoke(ctx, CmdSelfIP, nil, &ip)
	return ip, err
}

// NATDetect returns the NAT class name of this host.
func (c *Client) NATDetect(ctx context.Context) (string, error) {
	var class string
	err := c.Invoke(ctx, CmdNATDetect, nil, &class)
	return class, err
}

// CheckAdapter reports whether the virtual adapter is installed.
func (c *Client) CheckAdapter(ctx context.Context) (bool, error) {
	return c.invokeBool(ctx, CmdCheckAdapter, nil)
}

// FirewallCheck runs one of the *_firewall_check commands.
func (c *Client) FirewallCheck(ctx context.Context, cmd string) (bool, error) {
	return c.invokeBool(ctx, cmd, nil)
}

// FirewallAdd runs one of the *_firewall_add commands.
func (c *Client) FirewallAdd(ctx context.Context, cmd string) error {
	return c.Invoke(ctx, cmd, nil, nil)
}

// ShareStart serves dir over HTTP.
func (c *Client) ShareStart(ctx context.Context, dir string) error {
	return c.Invoke(ctx, CmdShareStart, ShareRequest{Path: dir}, nil)
}

// ShareStop stops the file-share server.
func (c *Client) ShareStop(ctx context.Context) (bool, error) {
	return c.invokeBool(ctx, CmdShareStop, nil)
}

// BroadcastStart starts the broadcast relay.
func (c *Client) BroadcastStart(ctx context.Context) (bool, error) {
	return c.invokeBool(ctx, CmdBroadcastStart, nil)
}

// BroadcastStop stops the broadcast relay.
func (c *Client) BroadcastStop(ctx context.Context) (bool, error) {
	return c.invokeBool(ctx, CmdBroadcastStop, nil)
}

// BroadcastStatus reports whether the broadcast relay runs.
func (c *Client) BroadcastStatus(ctx context.Context) (bool, error) {
	return c.invokeBool(ctx, CmdBroadcastStatus, nil)
}

// Notifications drains the faults recorded by the server.
func (c *Client) Notifications(ctx context.Context) ([]Notification, error) {
	var out []Notification
	if err := c.getJSON(ctx, "/notifications", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) invokeBool(ctx context.Context, cmd string, args any) (bool, error) {
	var ok bool
	err := c.Invoke(ctx, cmd, args, &ok)
	return ok, err
}

// Invoke calls cmd with args and decodes the result into out. A failure
// reported by the backend is returned as *Fault.
func (c *Client) Invoke(ctx context.Context, cmd string, args any, out any) error {
	var env Envelope
	if err := c.postJSON(ctx, "/invoke/"+cmd, args, &env); err != nil {
		return err
	}
	if !env.OK {
		return &Fault{Command: cmd, Message: env.Error}
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", cmd, err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, body any, out any) error {
	if body == nil {
		body = struct{}{}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if err := checkStatus(res); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if err := checkStatus(res); err != nil {
		return err
	}
	return json.NewDecoder(res.Body).Decode(out)
}

func checkStatus(res *http.Response) error {
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(res.Body)
	msg := strings.TrimSpace(string(body))
	if msg != "" {
		return fmt.Errorf("request failed: %s: %s", res.Status, msg)
	}
	return fmt.Errorf("request failed: %s", res.Status)
}
