package execx

import (
	"io"
	"os/exec"
)

// Process is a started child process.
type Process interface {
	Wait() error
	Kill() error
	Pid() int
}

// Launcher starts long-running child processes. Output receives the
// child's stdout and stderr.
type Launcher interface {
	Launch(path string, args []string, output io.Writer) (Process, error)
}

// OSLauncher starts processes via os/exec.
type OSLauncher struct {
	Dir string
}

func (l OSLauncher) Launch(path string, args []string, output io.Writer) (Process, error) {
	cmd := exec.Command(path, args...)
	hideWindow(cmd)
	cmd.Dir = l.Dir
	cmd.Stdout = output
	cmd.Stderr = output
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &osProcess{cmd: cmd}, nil
}

type osProcess struct {
	cmd *exec.Cmd
}

func (p *osProcess) Wait() error { return p.cmd.Wait() }

func (p *osProcess) Kill() error { return p.cmd.Process.Kill() }

func (p *osProcess) Pid() int { return p.cmd.Process.Pid }
