package main

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/nullshell/nullshell/internal/config"
	"github.com/nullshell/nullshell/internal/model"
	"github.com/nullshell/nullshell/internal/runner"
	"github.com/nullshell/nullshell/internal/session"
	"github.com/nullshell/nullshell/internal/ws"
)

func executeCommand(root *cobra.Command, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestCLIHelp(t *testing.T) {
	output, err := executeCommand(rootCmd, "--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, phrase := range []string{"nullshell", "serve", "run", "scripts", "--workspace", "--config"} {
		if !strings.Contains(output, phrase) {
			t.Errorf("help output should contain %q", phrase)
		}
	}
}

func TestScriptsCommand(t *testing.T) {
	dir := t.TempDir()
	for _, rel := range []string{"a.nu", "tools/b.nu", "node_modules/c.nu"} {
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	output, err := executeCommand(rootCmd, "scripts", "--workspace", dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(output, "a.nu") || !strings.Contains(output, "tools/b.nu") {
		t.Errorf("missing scripts in output:\n%s", output)
	}
	if strings.Contains(output, "c.nu") {
		t.Errorf("node_modules should be excluded:\n%s", output)
	}
}

func TestRunCommandWithoutWorkspace(t *testing.T) {
	_, err := executeCommand(rootCmd, "run", "--workspace", filepath.Join(t.TempDir(), "missing"))
	if !errors.Is(err, model.ErrNoWorkspace) {
		t.Errorf("expected ErrNoWorkspace, got %v", err)
	}
}

func TestInvalidSpawnMode(t *testing.T) {
	_, err := executeCommand(rootCmd, "scripts", "--workspace", t.TempDir(), "--spawn-mode", "telnet")
	if err == nil || !strings.Contains(err.Error(), "spawn_mode") {
		t.Errorf("expected spawn mode error, got %v", err)
	}
	rootCmd.PersistentFlags().Set("spawn-mode", config.SpawnModePTY)
}

func TestRouterServesPageAndHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := config.Default()
	cfg.Workspace = t.TempDir()

	host := session.NewHost(session.Config{Surfaces: ws.NewPanelFactory(ws.PanelOptions{})})
	defer host.Close()
	r := runner.New(runner.Config{
		Host:      host,
		Locator:   newLocator(cfg),
		Resolver:  newResolver(cfg),
		Workspace: cfg.Workspace,
	})
	router := newRouter(cfg, r, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Errorf("health: %d %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "xterm") {
		t.Errorf("index: %d", w.Code)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("runs without history: %d %s", w.Code, w.Body.String())
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"http://editor.local"})

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://example.com", true},
		{"http://editor.local", true},
		{"http://evil.test", false},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "http://example.com/api/panel/attach", nil)
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		if got := check(req); got != tt.want {
			t.Errorf("origin %q: got %v, want %v", tt.origin, got, tt.want)
		}
	}

	if !originChecker([]string{"*"})(func() *http.Request {
		req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
		req.Header.Set("Origin", "http://anything")
		return req
	}()) {
		t.Error("wildcard should allow any origin")
	}
}

func TestRouterRejectsCrossOriginRun(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs /bin/sh")
	}
	gin.SetMode(gin.TestMode)
	cfg := config.Default()
	cfg.Workspace = t.TempDir()
	cfg.Interpreter.Candidates = []string{"/bin/sh"}

	marker := filepath.Join(cfg.Workspace, "ran")
	script := "touch " + marker + "\nsleep 30\n"
	if err := os.WriteFile(filepath.Join(cfg.Workspace, "main.nu"), []byte(script), 0o644); err != nil {
		t.Fatal(err)
	}

	host := session.NewHost(session.Config{Surfaces: ws.NewPanelFactory(ws.PanelOptions{DetachGrace: -1})})
	defer host.Close()
	r := runner.New(runner.Config{
		Host:      host,
		Locator:   newLocator(cfg),
		Resolver:  newResolver(cfg),
		Workspace: cfg.Workspace,
	})
	router := newRouter(cfg, r, nil)

	post := func(origin, contentType string) int {
		req := httptest.NewRequest(http.MethodPost, "http://127.0.0.1:8080/api/run", strings.NewReader("{}"))
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		req.Header.Set("Content-Type", contentType)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	if code := post("http://evil.test", "text/plain"); code != http.StatusForbidden {
		t.Errorf("cross-origin text/plain: got %d, want 403", code)
	}
	if code := post("http://evil.test", "application/json"); code != http.StatusForbidden {
		t.Errorf("cross-origin json: got %d, want 403", code)
	}
	if code := post("http://127.0.0.1:8080", "text/plain"); code != http.StatusUnsupportedMediaType {
		t.Errorf("same-origin text/plain: got %d, want 415", code)
	}

	time.Sleep(200 * time.Millisecond)
	if host.Current() != nil {
		t.Fatal("rejected request started a session")
	}
	if _, err := os.Stat(marker); err == nil {
		t.Fatal("rejected request ran the script")
	}

	if code := post("http://127.0.0.1:8080", "application/json"); code != http.StatusCreated {
		t.Errorf("same-origin json: got %d, want 201", code)
	}
}

func TestRunCommandReturnsScriptExitCode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs /bin/sh")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "fail.nu")
	if err := os.WriteFile(script, []byte("exit 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfgPath := filepath.Join(dir, "nullshell.yaml")
	cfgBody := "interpreter:\n  candidates: [/bin/sh]\nstorage:\n  transcript_dir: \"\"\n"
	if err := os.WriteFile(cfgPath, []byte(cfgBody), 0o644); err != nil {
		t.Fatal(err)
	}

	stdin, keepOpen := io.Pipe()
	defer keepOpen.Close()
	rootCmd.SetIn(stdin)
	defer rootCmd.SetIn(nil)
	defer rootCmd.PersistentFlags().Set("trace", "false")
	defer rootCmd.PersistentFlags().Set("config", "")

	output, err := executeCommand(rootCmd, "run", script, "--workspace", dir, "--config", cfgPath, "--trace")

	var exit *exitError
	if !errors.As(err, &exit) || exit.code != 3 {
		t.Fatalf("expected exit code 3, got %v", err)
	}
	if !strings.Contains(output, "nullshell.run") {
		t.Errorf("spans not flushed before exit:\n%s", output)
	}
}
