//go:build !windows

package pty

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// unixPTY wraps the PTY master file.
type unixPTY struct {
	master *os.File
}

func (p *unixPTY) Read(b []byte) (int, error)  { return p.master.Read(b) }
func (p *unixPTY) Write(b []byte) (int, error) { return p.master.Write(b) }
func (p *unixPTY) Close() error                { return p.master.Close() }

func (p *unixPTY) Resize(cols, rows uint16) error {
	return pty.Setsize(p.master, &pty.Winsize{Cols: cols, Rows: rows})
}

// Start runs the command on a new PTY. The child leads its own session, so
// Kill reaches every process it started.
func Start(opts StartOptions) (*Process, error) {
	opts.applyDefaults()

	cmd := exec.Command(opts.Command, opts.Args...)
	cmd.Env = opts.Env
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	cmd.Dir = opts.Dir

	// StartWithSize makes the child a session leader with the PTY as its
	// controlling terminal.
	master, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: opts.Cols, Rows: opts.Rows})
	if err != nil {
		return nil, fmt.Errorf("failed to start %s on pty: %w", opts.Command, err)
	}

	return newCmdProcess(&unixPTY{master: master}, cmd), nil
}

func newCmdProcess(p PTY, cmd *exec.Cmd) *Process {
	pid := cmd.Process.Pid
	return &Process{
		PTY: p,
		pid: pid,
		wait: func() (int, error) {
			return exitCode(cmd.Wait())
		},
		kill: func() error {
			err := unix.Kill(-pid, unix.SIGKILL)
			if errors.Is(err, unix.ESRCH) {
				return nil
			}
			if err != nil {
				// Not a group leader (pipe mode without Setsid); fall back to the pid.
				if perr := cmd.Process.Kill(); perr != nil && !errors.Is(perr, os.ErrProcessDone) {
					return perr
				}
			}
			return nil
		},
	}
}

// detach puts a pipe-mode child in its own session so Kill can signal the group.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
