package locator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/nullshell/nullshell/internal/model"
)

// Prompter asks the user to choose a script. Implementations return
// model.ErrNoScriptSelected, or an empty path, when the user cancels.
type Prompter interface {
	// Pick offers the candidates and returns the chosen path.
	Pick(ctx context.Context, scripts []Script) (string, error)
	// OpenFile asks for an arbitrary script path.
	OpenFile(ctx context.Context) (string, error)
}

// Prompt kinds reported by ChoiceRequiredError.
const (
	PromptPick = "pick"
	PromptOpen = "open"
)

// ChoiceRequiredError is returned by DeferPrompter. The caller is expected to
// show the prompt itself and retry with an explicit script.
type ChoiceRequiredError struct {
	Prompt     string   `json:"prompt"`
	Candidates []Script `json:"candidates"`
}

func (e *ChoiceRequiredError) Error() string {
	if e.Prompt == PromptOpen {
		return "no scripts found, a script path is required"
	}
	return fmt.Sprintf("%d scripts found, a selection is required", len(e.Candidates))
}

// DeferPrompter never prompts. It hands the decision back to the caller as a
// *ChoiceRequiredError, which is how the HTTP API surfaces the prompt.
type DeferPrompter struct{}

// Pick implements Prompter.
func (DeferPrompter) Pick(_ context.Context, scripts []Script) (string, error) {
	return "", &ChoiceRequiredError{Prompt: PromptPick, Candidates: scripts}
}

// OpenFile implements Prompter.
func (DeferPrompter) OpenFile(context.Context) (string, error) {
	return "", &ChoiceRequiredError{Prompt: PromptOpen, Candidates: []Script{}}
}

// ReadlinePrompter prompts on a terminal.
type ReadlinePrompter struct {
	config readline.Config
}

// NewReadlinePrompter creates a prompter reading from in and writing to out.
// Nil values use the process's stdin and stdout.
func NewReadlinePrompter(in io.ReadCloser, out io.Writer) *ReadlinePrompter {
	return &ReadlinePrompter{config: readline.Config{
		Stdin:           in,
		Stdout:          out,
		InterruptPrompt: "^C",
		EOFPrompt:       "",
	}}
}

// Pick lists the candidates and reads a number, or the name or relative path
// of a candidate. Empty lines and invalid choices ask again.
func (p *ReadlinePrompter) Pick(ctx context.Context, scripts []Script) (string, error) {
	rl, err := p.open("Select a NuShell script to run [1-" + strconv.Itoa(len(scripts)) + "]: ")
	if err != nil {
		return "", err
	}
	defer rl.Close()

	for i, s := range scripts {
		fmt.Fprintf(rl.Stdout(), "  %2d) %-24s %s\n", i+1, s.Name, s.Rel)
	}

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		line, err := p.readLine(rl)
		if err != nil {
			return "", err
		}
		if line == "" {
			continue
		}
		if n, convErr := strconv.Atoi(line); convErr == nil && n >= 1 && n <= len(scripts) {
			return scripts[n-1].Path, nil
		}
		for _, s := range scripts {
			if line == s.Rel || line == s.Name {
				return s.Path, nil
			}
		}
		fmt.Fprintf(rl.Stdout(), "invalid choice %q\n", line)
	}
}

// OpenFile reads a path. An empty line cancels.
func (p *ReadlinePrompter) OpenFile(ctx context.Context) (string, error) {
	rl, err := p.open("No scripts found. Path to a NuShell script: ")
	if err != nil {
		return "", err
	}
	defer rl.Close()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	line, err := p.readLine(rl)
	if err != nil {
		return "", err
	}
	if line == "" {
		return "", model.ErrNoScriptSelected
	}
	return line, nil
}

func (p *ReadlinePrompter) open(prompt string) (*readline.Instance, error) {
	config := p.config
	config.Prompt = prompt
	rl, err := readline.NewEx(&config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize readline: %w", err)
	}
	return rl, nil
}

// readLine maps Ctrl-C and Ctrl-D to a cancelled selection.
func (p *ReadlinePrompter) readLine(rl *readline.Instance) (string, error) {
	line, err := rl.Readline()
	if err != nil {
		if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
			return "", model.ErrNoScriptSelected
		}
		return "", fmt.Errorf("error reading input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
