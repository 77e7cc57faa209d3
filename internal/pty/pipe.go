package pty

import (
	"fmt"
	"io"
	"os"
	"os/exec"
)

// pipePTY joins the child's stdin pipe and its merged stdout/stderr pipe.
// There is no terminal, so Resize does nothing.
type pipePTY struct {
	out *os.File
	in  io.WriteCloser
}

func (p *pipePTY) Read(b []byte) (int, error)  { return p.out.Read(b) }
func (p *pipePTY) Write(b []byte) (int, error) { return p.in.Write(b) }
func (p *pipePTY) Resize(cols, rows uint16) error {
	return nil
}

func (p *pipePTY) Close() error {
	inErr := p.in.Close()
	if err := p.out.Close(); err != nil {
		return err
	}
	return inErr
}

// StartPipe runs the command with plain pipes instead of a terminal. Programs
// that check isatty will see a non-interactive stream.
func StartPipe(opts StartOptions) (*Process, error) {
	opts.applyDefaults()

	cmd := exec.Command(opts.Command, opts.Args...)
	cmd.Env = opts.Env
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	cmd.Dir = opts.Dir
	detach(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	outR, outW, err := os.Pipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("failed to create output pipe: %w", err)
	}
	cmd.Stdout = outW
	cmd.Stderr = outW

	if err := cmd.Start(); err != nil {
		stdin.Close()
		outR.Close()
		outW.Close()
		return nil, fmt.Errorf("failed to start %s: %w", opts.Command, err)
	}
	// The child holds its own copy; reads see EOF once it exits.
	outW.Close()

	return newCmdProcess(&pipePTY{out: outR, in: stdin}, cmd), nil
}
