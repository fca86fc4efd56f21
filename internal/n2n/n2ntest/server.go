// Package n2ntest runs a fake edge management port for tests.
package n2ntest

import (
	"encoding/json"
	"net"
	"strings"
	"sync"
)

// Handler answers one command with data rows or an error message. A
// non-empty error produces an error reply.
type Handler func(kind string) (rows []map[string]any, errMsg string)

// Server is a fake management port on 127.0.0.1.
type Server struct {
	conn *net.UDPConn

	mu       sync.Mutex
	handlers map[string]Handler
	requests []string
	silent   bool
}

// NewServer starts a fake management port with no commands registered;
// unknown commands get an error reply.
func NewServer() (*Server, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		return nil, err
	}
	s := &Server{conn: conn, handlers: map[string]Handler{}}
	s.Handle("help", func(string) ([]map[string]any, string) { return nil, "" })
	go s.serve()
	return s, nil
}

// Addr returns host:port of the fake.
func (s *Server) Addr() string { return s.conn.LocalAddr().String() }

// Port returns the UDP port of the fake.
func (s *Server) Port() int { return s.conn.LocalAddr().(*net.UDPAddr).Port }

// Close stops the fake.
func (s *Server) Close() error { return s.conn.Close() }

// Handle registers h for cmd.
func (s *Server) Handle(cmd string, h Handler) {
	s.mu.Lock()
	s.handlers[cmd] = h
	s.mu.Unlock()
}

// Rows registers a fixed reply for cmd.
func (s *Server) Rows(cmd string, rows ...map[string]any) {
	s.Handle(cmd, func(string) ([]map[string]any, string) { return rows, "" })
}

// SetSilent makes the fake drop every request.
func (s *Server) SetSilent(silent bool) {
	s.mu.Lock()
	s.silent = silent
	s.mu.Unlock()
}

// Requests returns the request lines received so far.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

func (s *Server) serve() {
	buf := make([]byte, 2048)
	for {
		n, src, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		line := string(buf[:n])
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		kind, opts, cmd := fields[0], fields[1], fields[2]
		tag, _, _ := strings.Cut(opts, ":")

		s.mu.Lock()
		s.requests = append(s.requests, line)
		h, ok := s.handlers[cmd]
		silent := s.silent
		s.mu.Unlock()
		if silent {
			continue
		}

		// A stale datagram with a different tag arrives first.
		s.send(src, map[string]any{"_tag": "stale-" + tag, "_type": "row"})

		if !ok {
			s.send(src, map[string]any{"_tag": tag, "_type": "error", "error": "unknowncmd"})
			continue
		}
		rows, errMsg := h(kind)
		if errMsg != "" {
			s.send(src, map[string]any{"_tag": tag, "_type": "error", "error": errMsg})
			continue
		}
		s.send(src, map[string]any{"_tag": tag, "_type": "begin", "cmd": cmd})
		for _, row := range rows {
			msg := map[string]any{"_tag": tag, "_type": "row"}
			for k, v := range row {
				msg[k] = v
			}
			s.send(src, msg)
		}
		s.send(src, map[string]any{"_tag": tag, "_type": "end", "cmd": cmd})
	}
}

func (s *Server) send(dst *net.UDPAddr, msg map[string]any) {
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	_, _ = s.conn.WriteToUDP(b, dst)
}
