// Package resolver locates the interpreter binary and builds the environment
// it runs with.
package resolver

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/viant/afs"

	"github.com/nullshell/nullshell/internal/model"
)

// DefaultCandidates are probed in order before falling back to PATH.
var DefaultCandidates = []string{
	"/opt/homebrew/bin/nu",
	"/usr/local/bin/nu",
	"/usr/bin/nu",
}

// DefaultPathPrefix is prepended to the child's PATH.
var DefaultPathPrefix = []string{"/opt/homebrew/bin", "/usr/local/bin", "/usr/bin"}

// Resolver finds the interpreter executable.
type Resolver struct {
	fs         afs.Service
	name       string
	candidates []string
	lookPath   func(string) (string, error)
}

// New creates a resolver for the named interpreter. Nil candidates use
// DefaultCandidates.
func New(name string, candidates []string) *Resolver {
	if candidates == nil {
		candidates = DefaultCandidates
	}
	return &Resolver{
		fs:         afs.New(),
		name:       name,
		candidates: candidates,
		lookPath:   exec.LookPath,
	}
}

// Resolve returns the absolute, symlink-free path of the first candidate that
// exists, or the interpreter found on PATH. It returns
// model.ErrInterpreterNotFound when neither exists.
func (r *Resolver) Resolve(ctx context.Context) (string, error) {
	for _, candidate := range r.candidates {
		exists, err := r.fs.Exists(ctx, candidate)
		if err != nil || !exists {
			continue
		}
		if resolved, err := filepath.EvalSymlinks(candidate); err == nil {
			return resolved, nil
		}
		return candidate, nil
	}

	path, err := r.lookPath(r.name)
	if err != nil {
		return "", fmt.Errorf("%w: %s", model.ErrInterpreterNotFound, r.name)
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}
	return path, nil
}

// Environ returns base with prefix prepended to PATH. A nil base uses the
// current process environment.
func Environ(base []string, prefix []string) []string {
	if base == nil {
		base = os.Environ()
	}

	env := make([]string, 0, len(base)+1)
	current := ""
	for _, kv := range base {
		if strings.HasPrefix(kv, "PATH=") {
			current = strings.TrimPrefix(kv, "PATH=")
			continue
		}
		env = append(env, kv)
	}

	parts := append([]string{}, prefix...)
	if current != "" {
		parts = append(parts, current)
	}
	if len(parts) == 0 {
		return env
	}
	return append(env, "PATH="+strings.Join(parts, string(os.PathListSeparator)))
}
