package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/nullshell/nullshell/internal/config"
	"github.com/nullshell/nullshell/internal/locator"
	"github.com/nullshell/nullshell/internal/pty"
	"github.com/nullshell/nullshell/internal/resolver"
	"github.com/nullshell/nullshell/internal/tracing"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "nullshell",
	Short: "Run NuShell scripts in an interactive terminal",
	Long: `nullshell - find a NuShell script in your workspace, run it under the nu
interpreter on a pseudo-terminal, and interact with it from a browser panel
(serve) or from this terminal (run).

Configuration is read from an optional YAML file (--config), then from
NULLSHELL_* environment variables, then from flags.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	var exit *exitError
	if errors.As(err, &exit) {
		os.Exit(exit.code)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringP("workspace", "w", "", "Workspace root searched for scripts")
	rootCmd.PersistentFlags().String("spawn-mode", "", "How the interpreter is attached: pty or pipe")
	rootCmd.PersistentFlags().Bool("trace", false, "Print OpenTelemetry spans to stderr")
}

// loadConfig reads the config file and applies persistent flags on top.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("workspace") {
		cfg.Workspace, _ = cmd.Flags().GetString("workspace")
	}
	if cmd.Flags().Changed("spawn-mode") {
		cfg.Terminal.SpawnMode, _ = cmd.Flags().GetString("spawn-mode")
	}
	if trace, _ := cmd.Flags().GetBool("trace"); trace {
		cfg.Tracing.Enabled = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLocator(cfg *config.Config) *locator.Locator {
	return locator.New(locator.Options{
		Extension: cfg.Scripts.Extension,
		Exclude:   cfg.Scripts.Exclude,
	})
}

func newResolver(cfg *config.Config) *resolver.Resolver {
	return resolver.New(cfg.Interpreter.Name, cfg.Interpreter.Candidates)
}

func starterFor(cfg *config.Config) pty.Starter {
	if cfg.Terminal.SpawnMode == config.SpawnModePipe {
		return pty.StartPipe
	}
	return pty.Start
}

// setupTracing installs the stdout exporter when tracing is enabled. The
// returned function is always safe to call.
func setupTracing(cfg *config.Config, w io.Writer) func() {
	if !cfg.Tracing.Enabled {
		return func() {}
	}
	shutdown, err := tracing.Init(cfg.Tracing.ServiceName, version, w)
	if err != nil {
		log.Printf("Tracing disabled: %v", err)
		return func() {}
	}
	return func() {
		if err := shutdown(context.Background()); err != nil {
			log.Printf("Failed to flush traces: %v", err)
		}
	}
}
