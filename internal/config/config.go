// Package config loads nullshell settings from an optional YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Spawn modes.
const (
	SpawnModePTY  = "pty"
	SpawnModePipe = "pipe"
)

// Config is the complete nullshell configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Workspace   string            `yaml:"workspace"`
	Scripts     ScriptsConfig     `yaml:"scripts"`
	Interpreter InterpreterConfig `yaml:"interpreter"`
	Terminal    TerminalConfig    `yaml:"terminal"`
	Storage     StorageConfig     `yaml:"storage"`
	Tracing     TracingConfig     `yaml:"tracing"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// AllowedOrigins lists extra origins allowed to attach over WebSocket.
	// "*" allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ScriptsConfig configures script discovery.
type ScriptsConfig struct {
	Extension string   `yaml:"extension"`
	Exclude   []string `yaml:"exclude"`
}

// InterpreterConfig configures interpreter resolution.
type InterpreterConfig struct {
	Name       string   `yaml:"name"`
	Candidates []string `yaml:"candidates"`
	PathPrefix []string `yaml:"path_prefix"`
}

// TerminalConfig configures the session host and the panel.
type TerminalConfig struct {
	SpawnMode   string        `yaml:"spawn_mode"`
	Scrollback  int           `yaml:"scrollback"`
	DetachGrace time.Duration `yaml:"detach_grace"`
}

// StorageConfig configures run history and transcripts. Empty paths disable
// the corresponding feature.
type StorageConfig struct {
	DBPath        string `yaml:"db_path"`
	TranscriptDir string `yaml:"transcript_dir"`
}

// TracingConfig enables span export to stdout.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: "127.0.0.1:8080",
		},
		Workspace: ".",
		Scripts: ScriptsConfig{
			Extension: ".nu",
			Exclude:   []string{"node_modules"},
		},
		Interpreter: InterpreterConfig{
			Name: "nu",
			Candidates: []string{
				"/opt/homebrew/bin/nu",
				"/usr/local/bin/nu",
				"/usr/bin/nu",
			},
			PathPrefix: []string{"/opt/homebrew/bin", "/usr/local/bin", "/usr/bin"},
		},
		Terminal: TerminalConfig{
			SpawnMode:   SpawnModePTY,
			Scrollback:  256 * 1024,
			DetachGrace: 30 * time.Second,
		},
		Storage: StorageConfig{
			DBPath:        "data/nullshell.db",
			TranscriptDir: "data/transcripts",
		},
		Tracing: TracingConfig{
			ServiceName: "nullshell",
		},
	}
}

// Load reads path over the defaults, then applies environment overrides. A
// missing file is not an error when path is empty.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Addr = getEnv("NULLSHELL_ADDR", c.Server.Addr)
	c.Workspace = getEnv("NULLSHELL_WORKSPACE", c.Workspace)
	c.Storage.DBPath = getEnv("NULLSHELL_DB_PATH", c.Storage.DBPath)
	c.Storage.TranscriptDir = getEnv("NULLSHELL_LOG_DIR", c.Storage.TranscriptDir)
	c.Terminal.SpawnMode = getEnv("NULLSHELL_SPAWN_MODE", c.Terminal.SpawnMode)
	if getEnv("NULLSHELL_TRACING", "") == "1" {
		c.Tracing.Enabled = true
	}
}

// Validate checks values that have no safe fallback.
func (c *Config) Validate() error {
	switch c.Terminal.SpawnMode {
	case SpawnModePTY, SpawnModePipe:
	default:
		return fmt.Errorf("invalid terminal.spawn_mode %q: want %q or %q", c.Terminal.SpawnMode, SpawnModePTY, SpawnModePipe)
	}
	if c.Interpreter.Name == "" {
		return errors.New("interpreter.name must not be empty")
	}
	if !strings.HasPrefix(c.Scripts.Extension, ".") {
		return fmt.Errorf("scripts.extension %q must start with a dot", c.Scripts.Extension)
	}
	return nil
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
