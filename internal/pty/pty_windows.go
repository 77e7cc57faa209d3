//go:build windows

package pty

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/UserExistsError/conpty"
)

// windowsPTY wraps a ConPTY pseudo-console.
type windowsPTY struct {
	cpty *conpty.ConPty
}

func (p *windowsPTY) Read(b []byte) (int, error)  { return p.cpty.Read(b) }
func (p *windowsPTY) Write(b []byte) (int, error) { return p.cpty.Write(b) }
func (p *windowsPTY) Close() error                { return p.cpty.Close() }

func (p *windowsPTY) Resize(cols, rows uint16) error {
	return p.cpty.Resize(int(cols), int(rows))
}

// Start runs the command on a ConPTY pseudo-console.
func Start(opts StartOptions) (*Process, error) {
	opts.applyDefaults()

	args := append([]string{opts.Command}, opts.Args...)
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = syscall.EscapeArg(a)
	}

	options := []conpty.ConPtyOption{conpty.ConPtyDimensions(int(opts.Cols), int(opts.Rows))}
	if opts.Dir != "" {
		options = append(options, conpty.ConPtyWorkDir(opts.Dir))
	}
	if opts.Env != nil {
		options = append(options, conpty.ConPtyEnv(opts.Env))
	}

	cpty, err := conpty.Start(strings.Join(quoted, " "), options...)
	if err != nil {
		return nil, fmt.Errorf("failed to start %s on conpty: %w", opts.Command, err)
	}

	pid := int(cpty.Pid())
	proc, err := os.FindProcess(pid)
	if err != nil {
		cpty.Close()
		return nil, fmt.Errorf("failed to find conpty process %d: %w", pid, err)
	}

	return &Process{
		PTY: &windowsPTY{cpty: cpty},
		pid: pid,
		wait: func() (int, error) {
			code, err := cpty.Wait(context.Background())
			if err != nil {
				return -1, err
			}
			return int(code), nil
		},
		kill: proc.Kill,
	}, nil
}

func newCmdProcess(p PTY, cmd *exec.Cmd) *Process {
	return &Process{
		PTY: p,
		pid: cmd.Process.Pid,
		wait: func() (int, error) {
			return exitCode(cmd.Wait())
		},
		kill: cmd.Process.Kill,
	}
}

func detach(cmd *exec.Cmd) {}
