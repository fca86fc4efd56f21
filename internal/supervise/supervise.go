// Package supervise owns the helper processes started by the backend:
// the edge, the file-share server and the broadcast relay.
package supervise

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"n2nctl/internal/execx"
)

var (
	ErrAlreadyRunning = errors.New("process already running")
	ErrNotFound       = errors.New("process not found")
)

// Supervisor is a registry of named child processes. At most one child
// runs per name.
type Supervisor struct {
	launcher execx.Launcher
	logger   *log.Logger

	mu       sync.Mutex
	children map[string]*child
}

type child struct {
	proc execx.Process
	done chan struct{}
	err  error
}

func (c *child) running() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// New returns a supervisor using launcher. Child output is written to
// logger one line at a time; a nil logger uses the standard logger.
func New(launcher execx.Launcher, logger *log.Logger) *Supervisor {
	if logger == nil {
		logger = log.Default()
	}
	return &Supervisor{launcher: launcher, logger: logger, children: map[string]*child{}}
}

// Start launches path under name. It fails with ErrAlreadyRunning while a
// previous child with the same name is alive.
func (s *Supervisor) Start(name, path string, args ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.children[name]; ok && c.running() {
		return fmt.Errorf("%s: %w", name, ErrAlreadyRunning)
	}

	pr, pw := io.Pipe()
	proc, err := s.launcher.Launch(path, args, pw)
	if err != nil {
		_ = pw.Close()
		_ = pr.Close()
		return fmt.Errorf("start %s: %w", name, err)
	}
	s.logger.Printf("%s: started pid=%d %s %v", name, proc.Pid(), path, args)

	c := &child{proc: proc, done: make(chan struct{})}
	s.children[name] = c

	go s.forward(name, pr)
	go func() {
		c.err = proc.Wait()
		_ = pw.Close()
		close(c.done)
		if c.err != nil {
			s.logger.Printf("%s: exited: %v", name, c.err)
		}
	}()
	return nil
}

func (s *Supervisor) forward(name string, r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		s.logger.Printf("%s: %s", name, execx.Decode(sc.Bytes()))
	}
}

// Running reports whether the child registered under name is alive.
func (s *Supervisor) Running(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.children[name]
	return ok && c.running()
}

// Stop kills the child registered under name and waits for it to exit.
// Stopping an unknown or exited child is not an error.
func (s *Supervisor) Stop(name string) error {
	s.mu.Lock()
	c, ok := s.children[name]
	delete(s.children, name)
	s.mu.Unlock()

	if !ok || !c.running() {
		return nil
	}
	if err := c.proc.Kill(); err != nil && c.running() {
		return fmt.Errorf("stop %s: %w", name, err)
	}
	<-c.done
	s.logger.Printf("%s: stopped", name)
	return nil
}

// StopAll stops every child.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	names := make([]string, 0, len(s.children))
	for name := range s.children {
		names = append(names, name)
	}
	s.mu.Unlock()

	for _, name := range names {
		if err := s.Stop(name); err != nil {
			s.logger.Printf("%v", err)
		}
	}
}
