// Package pty starts the interpreter attached to a pseudo-terminal (or, in
// pipe mode, to plain pipes) and exposes it as a byte stream.
package pty

import (
	"errors"
	"io"
	"os/exec"
	"sync"
)

// PTY is the master side of a pseudo-terminal.
type PTY interface {
	io.ReadWriteCloser

	// Resize changes the window size seen by the child.
	Resize(cols, rows uint16) error
}

// StartOptions contains options for starting a process.
type StartOptions struct {
	// Command is the executable path.
	Command string

	// Args are the arguments passed to the command.
	Args []string

	// Env is the child environment. If nil, the current environment is used.
	Env []string

	// Dir is the working directory. If empty, the current directory is used.
	Dir string

	// Cols and Rows are the initial window size. Zero means 80x24.
	Cols uint16
	Rows uint16
}

func (o *StartOptions) applyDefaults() {
	if o.Cols == 0 {
		o.Cols = 80
	}
	if o.Rows == 0 {
		o.Rows = 24
	}
}

// Starter starts a process for a session. It is satisfied by Start and StartPipe.
type Starter func(opts StartOptions) (*Process, error)

// Process is a running child attached to a PTY.
type Process struct {
	PTY PTY

	pid  int
	wait func() (int, error)
	kill func() error

	waitOnce sync.Once
	code     int
	waitErr  error
}

// PID returns the process ID.
func (p *Process) PID() int {
	return p.pid
}

// Wait blocks until the process exits and returns its exit code. A process
// terminated by a signal reports -1. Wait may be called more than once.
func (p *Process) Wait() (int, error) {
	p.waitOnce.Do(func() {
		p.code, p.waitErr = p.wait()
	})
	return p.code, p.waitErr
}

// Kill terminates the process and everything in its process group.
func (p *Process) Kill() error {
	if p.kill == nil {
		return nil
	}
	return p.kill()
}

// Close releases the PTY.
func (p *Process) Close() error {
	return p.PTY.Close()
}

// exitCode converts the error of exec.Cmd.Wait into an exit code.
func exitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}
