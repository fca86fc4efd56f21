package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"n2nctl/internal/model"
)

// Command names accepted by POST /invoke/<command>.
const (
	CmdMembers            = "n2n_members"
	CmdPing               = "ping_method"
	CmdStatus             = "n2n_status"
	CmdStart              = "n2n_client_start"
	CmdStop               = "n2n_client_stop"
	CmdSelfIP             = "n2n_self_ip"
	CmdNATDetect          = "nat_detect"
	CmdCheckAdapter       = "n2n_check_adapter"
	CmdFirewallCheck      = "n2n_firewall_check"
	CmdFirewallAdd        = "n2n_firewall_add"
	CmdPingFirewallCheck  = "ping_firewall_rule_check"
	CmdPingFirewallAdd    = "ping_firewall_rule_add"
	CmdShareStart         = "miniserve_start"
	CmdShareStop          = "miniserve_stop"
	CmdShareFirewallCheck = "miniserve_firewall_check"
	CmdShareFirewallAdd   = "miniserve_firewall_add"
	CmdBroadcastStart     = "win_ip_broadcast_start"
	CmdBroadcastStop      = "win_ip_broadcast_stop"
	CmdBroadcastStatus    = "win_ip_broadcast_status"
)

// Gateway is the slice of the backend the roster core depends on.
type Gateway interface {
	Members(ctx context.Context) ([]model.PeerInfo, error)
	Ping(ctx context.Context, host string) (int, error)
	Status(ctx context.Context) (bool, error)
	Start(ctx context.Context) (bool, error)
	Stop(ctx context.Context) (bool, error)
	SelfIP(ctx context.Context) (string, error)
}

// Envelope wraps every invoke response.
type Envelope struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// PingRequest is the argument of ping_method.
type PingRequest struct {
	Host string `json:"host"`
}

// ShareRequest is the argument of miniserve_start.
type ShareRequest struct {
	Path string `json:"path"`
}

// Notification is a backend fault recorded by the server.
type Notification struct {
	Time    time.Time `json:"time"`
	Command string    `json:"command"`
	Message string    `json:"message"`
}

// Fault is a failure reported by the backend for a command.
type Fault struct {
	Command string
	Message string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s: %s", f.Command, f.Message)
}
