// Package runner implements the "run script" command: locate the script,
// resolve the interpreter, and hand both to the session host.
package runner

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"github.com/nullshell/nullshell/internal/locator"
	"github.com/nullshell/nullshell/internal/model"
	"github.com/nullshell/nullshell/internal/resolver"
	"github.com/nullshell/nullshell/internal/session"
	"github.com/nullshell/nullshell/internal/tracing"
)

// Config holds the runner's collaborators.
type Config struct {
	Host     *session.Host
	Locator  *locator.Locator
	Resolver *resolver.Resolver

	// Workspace is the root searched for scripts.
	Workspace string
	// PathPrefix is prepended to the interpreter's PATH.
	PathPrefix []string
	// Env is the base environment. Nil means the current process environment.
	Env []string
}

// Runner runs scripts. It holds no state besides its collaborators.
type Runner struct {
	host       *session.Host
	locator    *locator.Locator
	resolver   *resolver.Resolver
	workspace  string
	pathPrefix []string
	env        []string
}

// New creates a Runner.
func New(config Config) *Runner {
	return &Runner{
		host:       config.Host,
		locator:    config.Locator,
		resolver:   config.Resolver,
		workspace:  config.Workspace,
		pathPrefix: config.PathPrefix,
		env:        config.Env,
	}
}

// Host returns the session host.
func (r *Runner) Host() *session.Host {
	return r.host
}

// Workspace returns the configured workspace root.
func (r *Runner) Workspace() string {
	return r.workspace
}

// Scripts lists the scripts in the workspace.
func (r *Runner) Scripts(ctx context.Context) ([]locator.Script, error) {
	return r.locator.Find(ctx, r.workspace)
}

// Run picks the script, resolves the interpreter and starts a session. When
// req.Script is set it is used as is; otherwise the workspace is searched and
// prompter decides between candidates.
//
// Nothing is started when the interpreter cannot be found.
func (r *Runner) Run(ctx context.Context, req model.RunRequest, prompter locator.Prompter) (s *session.Session, err error) {
	ctx, span := tracing.StartSpan(ctx, "nullshell.run")
	defer func() { tracing.EndSpan(span, err) }()

	script, err := r.locate(ctx, req, prompter)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(map[string]string{"script": script})

	interpreter, err := r.resolve(ctx)
	if err != nil {
		return nil, err
	}

	s, err = r.start(ctx, session.StartOptions{
		Interpreter: interpreter,
		Script:      script,
		Workdir:     filepath.Dir(script),
		Env:         resolver.Environ(r.env, r.pathPrefix),
	})
	if err != nil {
		return nil, err
	}

	if status, done := s.ExitStatus(); done && status.Err != nil {
		log.Printf("Runner: %s failed to start: %v", script, status.Err)
	}
	return s, nil
}

func (r *Runner) locate(ctx context.Context, req model.RunRequest, prompter locator.Prompter) (path string, err error) {
	ctx, span := tracing.StartSpan(ctx, "nullshell.locate")
	defer func() { tracing.EndSpan(span, err) }()

	if req.Script != "" {
		return r.locator.Lookup(ctx, r.workspace, req.Script)
	}

	scripts, err := r.locator.Find(ctx, r.workspace)
	if err != nil {
		return "", err
	}
	span.SetAttributes(map[string]string{"candidates": fmt.Sprint(len(scripts))})

	selected, err := locator.Select(ctx, scripts, prompter)
	if err != nil {
		return "", err
	}
	return r.locator.Lookup(ctx, r.workspace, selected)
}

func (r *Runner) resolve(ctx context.Context) (path string, err error) {
	ctx, span := tracing.StartSpan(ctx, "nullshell.resolve")
	defer func() { tracing.EndSpan(span, err) }()

	path, err = r.resolver.Resolve(ctx)
	if err == nil {
		span.SetAttributes(map[string]string{"interpreter": path})
	}
	return path, err
}

func (r *Runner) start(ctx context.Context, opts session.StartOptions) (s *session.Session, err error) {
	ctx, span := tracing.StartSpan(ctx, "nullshell.start")
	defer func() { tracing.EndSpan(span, err) }()

	s, err = r.host.Start(ctx, opts)
	if err == nil {
		span.SetAttributes(map[string]string{"session.id": s.ID()})
	}
	return s, err
}
