// Package locator finds interpreter scripts in a workspace and picks the one
// to run.
package locator

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/viant/afs"

	"github.com/nullshell/nullshell/internal/model"
)

// Script is a candidate script in the workspace.
type Script struct {
	Path string `json:"path"`
	Name string `json:"name"`
	// Rel is the path relative to the workspace root.
	Rel string `json:"rel"`
}

// Options configures a Locator.
type Options struct {
	// Extension matched by Find, including the dot. Defaults to ".nu".
	Extension string
	// Exclude lists directory names that are never descended into.
	Exclude []string
}

// Locator discovers scripts below a workspace root.
type Locator struct {
	fs        afs.Service
	extension string
	exclude   map[string]struct{}
}

// New creates a Locator.
func New(opts Options) *Locator {
	if opts.Extension == "" {
		opts.Extension = ".nu"
	}
	exclude := make(map[string]struct{}, len(opts.Exclude))
	for _, name := range opts.Exclude {
		exclude[name] = struct{}{}
	}
	return &Locator{
		fs:        afs.New(),
		extension: opts.Extension,
		exclude:   exclude,
	}
}

// Extension returns the script extension the locator matches.
func (l *Locator) Extension() string {
	return l.extension
}

// Find returns every script below workspace, sorted by relative path.
func (l *Locator) Find(ctx context.Context, workspace string) ([]Script, error) {
	root, err := l.Workspace(ctx, workspace)
	if err != nil {
		return nil, err
	}

	scripts := []Script{}
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable directories are skipped, not fatal.
			if d != nil && d.IsDir() && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if d.IsDir() {
			if _, skip := l.exclude[d.Name()]; skip && path != root {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() && d.Type()&fs.ModeSymlink == 0 {
			return nil
		}
		if !strings.EqualFold(filepath.Ext(d.Name()), l.extension) {
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}
		scripts = append(scripts, Script{Path: path, Name: d.Name(), Rel: filepath.ToSlash(rel)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan workspace: %w", err)
	}

	sort.Slice(scripts, func(i, j int) bool { return scripts[i].Rel < scripts[j].Rel })
	return scripts, nil
}

// Workspace returns the absolute workspace root, or model.ErrNoWorkspace when
// it is unset or missing.
func (l *Locator) Workspace(ctx context.Context, workspace string) (string, error) {
	if workspace == "" {
		return "", model.ErrNoWorkspace
	}
	root, err := filepath.Abs(workspace)
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrNoWorkspace, err)
	}

	ok, err := l.isDir(ctx, root)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", model.ErrNoWorkspace, root)
	}
	return root, nil
}

// Lookup validates an explicitly requested script. Relative paths are taken
// from the workspace root.
func (l *Locator) Lookup(ctx context.Context, workspace, path string) (string, error) {
	if !filepath.IsAbs(path) && workspace != "" {
		path = filepath.Join(workspace, path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrScriptNotFound, err)
	}

	exists, err := l.fs.Exists(ctx, abs)
	if err != nil {
		return "", fmt.Errorf("failed to check script: %w", err)
	}
	if !exists {
		return "", fmt.Errorf("%w: %s", model.ErrScriptNotFound, abs)
	}
	if dir, _ := l.isDir(ctx, abs); dir {
		return "", fmt.Errorf("%w: %s is a directory", model.ErrScriptNotFound, abs)
	}
	return abs, nil
}

func (l *Locator) isDir(ctx context.Context, path string) (bool, error) {
	exists, err := l.fs.Exists(ctx, path)
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", path, err)
	}
	if !exists {
		return false, nil
	}
	object, err := l.fs.Object(ctx, path)
	if err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return object.IsDir(), nil
}

// Select applies the selection rule: no candidates asks the prompter for a
// file, exactly one is used without prompting, several are offered as a pick
// list. A dismissed prompt yields model.ErrNoScriptSelected.
func Select(ctx context.Context, scripts []Script, prompter Prompter) (string, error) {
	var (
		path string
		err  error
	)

	switch len(scripts) {
	case 0:
		path, err = prompter.OpenFile(ctx)
	case 1:
		return scripts[0].Path, nil
	default:
		path, err = prompter.Pick(ctx, scripts)
	}

	if err != nil {
		return "", err
	}
	if path == "" {
		return "", model.ErrNoScriptSelected
	}
	return path, nil
}
