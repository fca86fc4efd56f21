// Package controller serves the backend over HTTP as named commands.
package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"n2nctl/internal/api"
)

// MaxNotifications bounds the fault ring returned by /notifications.
const MaxNotifications = 64

// Backend is everything the server can invoke.
type Backend interface {
	api.Gateway
	NATDetect(ctx context.Context) (string, error)
	CheckAdapter() bool
	EdgeFirewallCheck() (bool, error)
	EdgeFirewallAdd() error
	PingFirewallCheck() (bool, error)
	PingFirewallAdd() error
	ShareFirewallCheck() (bool, error)
	ShareFirewallAdd() error
	ShareStart(dir string) error
	ShareStop() (bool, error)
	BroadcastStart() (bool, error)
	BroadcastStop() (bool, error)
	BroadcastStatus() bool
}

// Options configures a Server.
type Options struct {
	Listen string
	Logger *log.Logger
}

type command func(ctx context.Context, args json.RawMessage) (any, error)

// errBadRequest marks argument errors so they map to 400.
var errBadRequest = errors.New("bad request")

// Server provides the invoke API.
type Server struct {
	backend  Backend
	opts     Options
	logger   *log.Logger
	commands map[string]command

	mu    sync.Mutex
	notes []api.Notification
}

// NewServer constructs a server for b.
func NewServer(b Backend, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{backend: b, opts: opts, logger: logger}
	s.commands = s.commandTable()
	return s
}

func (s *Server) commandTable() map[string]command {
	b := s.backend
	return map[string]command{
		api.CmdMembers: func(ctx context.Context, _ json.RawMessage) (any, error) {
			return b.Members(ctx)
		},
		api.CmdPing: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var req api.PingRequest
			if err := decodeArgs(raw, &req); err != nil {
				return nil, err
			}
			if req.Host == "" {
				return nil, fmt.Errorf("%w: host is required", errBadRequest)
			}
			return b.Ping(ctx, req.Host)
		},
		api.CmdStatus: func(ctx context.Context, _ json.RawMessage) (any, error) {
			return b.Status(ctx)
		},
		api.CmdStart: func(ctx context.Context, _ json.RawMessage) (any, error) {
			return b.Start(ctx)
		},
		api.CmdStop: func(ctx context.Context, _ json.RawMessage) (any, error) {
			return b.Stop(ctx)
		},
		api.CmdSelfIP: func(ctx context.Context, _ json.RawMessage) (any, error) {
			return b.SelfIP(ctx)
		},
		api.CmdNATDetect: func(ctx context.Context, _ json.RawMessage) (any, error) {
			return b.NATDetect(ctx)
		},
		api.CmdCheckAdapter: func(context.Context, json.RawMessage) (any, error) {
			return b.CheckAdapter(), nil
		},
		api.CmdFirewallCheck: func(context.Context, json.RawMessage) (any, error) {
			return b.EdgeFirewallCheck()
		},
		api.CmdFirewallAdd: func(context.Context, json.RawMessage) (any, error) {
			return nil, b.EdgeFirewallAdd()
		},
		api.CmdPingFirewallCheck: func(context.Context, json.RawMessage) (any, error) {
			return b.PingFirewallCheck()
		},
		api.CmdPingFirewallAdd: func(context.Context, json.RawMessage) (any, error) {
			return nil, b.PingFirewallAdd()
		},
		api.CmdShareFirewallCheck: func(context.Context, json.RawMessage) (any, error) {
			return b.ShareFirewallCheck()
		},
		api.CmdShareFirewallAdd: func(context.Context, json.RawMessage) (any, error) {
			return nil, b.ShareFirewallAdd()
		},
		api.CmdShareStart: func(_ context.Context, raw json.RawMessage) (any, error) {
			var req api.ShareRequest
			if err := decodeArgs(raw, &req); err != nil {
				return nil, err
			}
			return nil, b.ShareStart(req.Path)
		},
		api.CmdShareStop: func(context.Context, json.RawMessage) (any, error) {
			return b.ShareStop()
		},
		api.CmdBroadcastStart: func(context.Context, json.RawMessage) (any, error) {
			return b.BroadcastStart()
		},
		api.CmdBroadcastStop: func(context.Context, json.RawMessage) (any, error) {
			return b.BroadcastStop()
		},
		api.CmdBroadcastStatus: func(context.Context, json.RawMessage) (any, error) {
			return b.BroadcastStatus(), nil
		},
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/invoke/", s.handleInvoke)
	mux.HandleFunc("/notifications", s.handleNotifications)
	return mux
}

// ListenAndServe runs the HTTP server until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.opts.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("controller listening on %s", s.opts.Listen)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/invoke/")
	cmd, ok := s.commands[name]
	if !ok {
		writeJSONError(w, http.StatusNotFound, "unknown command: "+name)
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := cmd(r.Context(), raw)
	if errors.Is(err, errBadRequest) {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.record(name, err)
		writeJSON(w, http.StatusOK, api.Envelope{OK: false, Error: err.Error()})
		return
	}

	var payload json.RawMessage
	if result != nil {
		payload, err = json.Marshal(result)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, api.Envelope{OK: true, Result: payload})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.Drain())
}

func (s *Server) record(name string, err error) {
	s.logger.Printf("%s failed: %v", name, err)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes = append(s.notes, api.Notification{Time: time.Now().UTC(), Command: name, Message: err.Error()})
	if len(s.notes) > MaxNotifications {
		s.notes = append([]api.Notification(nil), s.notes[len(s.notes)-MaxNotifications:]...)
	}
}

// Drain returns and clears the recorded faults, oldest first.
func (s *Server) Drain() []api.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.notes
	s.notes = nil
	if out == nil {
		out = []api.Notification{}
	}
	return out
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, api.Envelope{OK: false, Error: message})
}
