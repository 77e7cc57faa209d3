package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/nullshell/nullshell/api/handlers"
	"github.com/nullshell/nullshell/internal/config"
	"github.com/nullshell/nullshell/internal/db"
	"github.com/nullshell/nullshell/internal/repository"
	"github.com/nullshell/nullshell/internal/runner"
	"github.com/nullshell/nullshell/internal/session"
	"github.com/nullshell/nullshell/internal/ws"
	"github.com/nullshell/nullshell/web"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the terminal panel and the run API",
	Long: `Start an HTTP server hosting the terminal panel.

Endpoints:
  GET    /                          Terminal page
  POST   /api/run                   Run a script, body {"script":"<optional path>"}
  GET    /api/scripts               List scripts in the workspace
  GET    /api/session               Current session
  DELETE /api/session               Kill the current session
  GET    /api/panel/attach          Attach to the panel (WebSocket)
  DELETE /api/panel                 Close the panel
  GET    /api/runs                  Run history
  GET    /api/runs/{id}/transcript  Asciicast recording of a run
  GET    /health                    Health check`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (default 127.0.0.1:8080)")
	serveCmd.Flags().String("db", "", "SQLite database for run history; empty string disables it")
	serveCmd.Flags().String("transcripts", "", "Directory for asciicast transcripts; empty string disables them")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("addr") {
		cfg.Server.Addr, _ = cmd.Flags().GetString("addr")
	}
	if cmd.Flags().Changed("db") {
		cfg.Storage.DBPath, _ = cmd.Flags().GetString("db")
	}
	if cmd.Flags().Changed("transcripts") {
		cfg.Storage.TranscriptDir, _ = cmd.Flags().GetString("transcripts")
	}

	defer setupTracing(cfg, cmd.ErrOrStderr())()

	var runs *repository.RunRepository
	if cfg.Storage.DBPath != "" {
		database, err := openDatabase(cfg.Storage.DBPath)
		if err != nil {
			return err
		}
		defer db.CloseDB()

		runs = repository.NewRunRepository(database)
		if n, err := runs.MarkInterrupted(context.Background()); err != nil {
			log.Printf("Failed to mark interrupted runs: %v", err)
		} else if n > 0 {
			log.Printf("Marked %d interrupted runs as failed", n)
		}
	}

	hostConfig := session.Config{
		Starter: starterFor(cfg),
		Surfaces: ws.NewPanelFactory(ws.PanelOptions{
			Scrollback:  cfg.Terminal.Scrollback,
			DetachGrace: cfg.Terminal.DetachGrace,
		}),
		TranscriptDir: cfg.Storage.TranscriptDir,
	}
	var history handlers.RunHistory
	if runs != nil {
		hostConfig.Runs = runs
		history = runs
	}
	host := session.NewHost(hostConfig)
	defer host.Close()

	r := runner.New(runner.Config{
		Host:       host,
		Locator:    newLocator(cfg),
		Resolver:   newResolver(cfg),
		Workspace:  cfg.Workspace,
		PathPrefix: cfg.Interpreter.PathPrefix,
	})

	router := newRouter(cfg, r, history)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Serving workspace %s on http://%s", cfg.Workspace, cfg.Server.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Println("Shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	host.Close()
	return srv.Shutdown(shutdownCtx)
}

func openDatabase(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return db.InitDB(path)
}

// newRouter wires the API, the WebSocket endpoint and the embedded page.
func newRouter(cfg *config.Config, r *runner.Runner, history handlers.RunHistory) *gin.Engine {
	router := gin.Default()
	router.Use(corsMiddleware(cfg.Server.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"version":   version,
			"workspace": cfg.Workspace,
		})
	})

	api := router.Group("/api")
	api.Use(handlers.RequireOrigin(originChecker(cfg.Server.AllowedOrigins)))
	{
		handlers.NewRunHandler(r, history).RegisterRoutes(api)
		handlers.NewPanelHandler(r.Host(), ws.NewHandler(originChecker(cfg.Server.AllowedOrigins))).RegisterRoutes(api)
	}

	page := http.FS(web.FS())
	router.GET("/", func(c *gin.Context) {
		c.FileFromFS("/", page)
	})

	return router
}

// originChecker accepts same-origin requests and the configured origins.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err == nil && u.Host == r.Host {
			return true
		}
		return originAllowed(allowed, origin)
	}
}

func originAllowed(allowed []string, origin string) bool {
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

// corsMiddleware allows the configured origins to call the API.
func corsMiddleware(allowed []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && originAllowed(allowed, origin) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Origin, Cache-Control, X-Requested-With")
			c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
