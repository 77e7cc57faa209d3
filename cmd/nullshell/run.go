package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nullshell/nullshell/internal/locator"
	"github.com/nullshell/nullshell/internal/model"
	"github.com/nullshell/nullshell/internal/runner"
	"github.com/nullshell/nullshell/internal/session"
	"github.com/nullshell/nullshell/internal/surface"
)

var runCmd = &cobra.Command{
	Use:   "run [script]",
	Short: "Run a NuShell script in this terminal",
	Long: `Run a NuShell script attached to this terminal.

Without an argument the workspace is searched: a single script runs directly,
several scripts are offered as a numbered list, and when none is found you are
asked for a path. The command exits with the script's exit code.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer setupTracing(cfg, cmd.ErrOrStderr())()

	host := session.NewHost(session.Config{
		Starter: starterFor(cfg),
		Surfaces: func(title string) (surface.Surface, error) {
			return surface.NewConsole(cmd.InOrStdin(), cmd.OutOrStdout(), title)
		},
		TranscriptDir: cfg.Storage.TranscriptDir,
	})
	defer host.Close()

	r := runner.New(runner.Config{
		Host:       host,
		Locator:    newLocator(cfg),
		Resolver:   newResolver(cfg),
		Workspace:  cfg.Workspace,
		PathPrefix: cfg.Interpreter.PathPrefix,
	})

	var req model.RunRequest
	if len(args) == 1 {
		req.Script = args[0]
	}

	s, err := r.Run(context.Background(), req, locator.NewReadlinePrompter(nil, cmd.OutOrStdout()))
	if err != nil {
		return err
	}

	code := waitForExit(s, host)
	host.Close()

	status, _ := s.ExitStatus()
	if status.Err != nil {
		return status.Err
	}
	if code != 0 {
		// Returned rather than exiting here so deferred spans are flushed.
		return &exitError{code: code}
	}
	return nil
}

// exitError carries the script's exit code out of a command. Execute exits
// with it without printing anything.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("script exited with code %d", e.code)
}

// waitForExit blocks until the session ends or the console is closed.
func waitForExit(s *session.Session, host *session.Host) int {
	var consoleDone <-chan struct{}
	if surf := host.Surface(); surf != nil {
		consoleDone = surf.Done()
	}

	select {
	case <-s.Done():
	case <-consoleDone:
		<-s.Done()
	}

	status, _ := s.ExitStatus()
	if status.Code < 0 {
		return 1
	}
	return status.Code
}
