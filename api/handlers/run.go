package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/nullshell/nullshell/internal/locator"
	"github.com/nullshell/nullshell/internal/model"
	"github.com/nullshell/nullshell/internal/runner"
	"github.com/nullshell/nullshell/internal/session"
)

// RunHistory is the read side of the run store.
type RunHistory interface {
	List(ctx context.Context, limit int) ([]*model.Session, error)
	GetByID(ctx context.Context, id string) (*model.Session, error)
}

// RunHandler handles the run command, the live session and the run history.
type RunHandler struct {
	runner  *runner.Runner
	history RunHistory
}

// NewRunHandler creates a RunHandler. history may be nil when run history is
// disabled.
func NewRunHandler(r *runner.Runner, history RunHistory) *RunHandler {
	return &RunHandler{runner: r, history: history}
}

// Run handles POST /api/run - runs a script in the panel.
//
// Without a script in the body the workspace is searched. When the choice is
// ambiguous the response is 409 with the prompt kind and the candidates; the
// client asks the user and repeats the request with the chosen script.
func (h *RunHandler) Run(c *gin.Context) {
	if c.ContentType() != binding.MIMEJSON {
		sendError(c, http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE", "Content-Type must be application/json")
		return
	}

	var req model.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	s, err := h.runner.Run(c.Request.Context(), req, locator.DeferPrompter{})
	if err != nil {
		sendRunError(c, err)
		return
	}

	c.JSON(http.StatusCreated, sessionResponse(s))
}

// Scripts handles GET /api/scripts - lists scripts in the workspace.
func (h *RunHandler) Scripts(c *gin.Context) {
	scripts, err := h.runner.Scripts(c.Request.Context())
	if err != nil {
		sendRunError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"workspace": h.runner.Workspace(),
		"scripts":   scripts,
	})
}

// Session handles GET /api/session - returns the live session.
func (h *RunHandler) Session(c *gin.Context) {
	s := h.runner.Host().Current()
	if s == nil {
		sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "No session is running")
		return
	}
	c.JSON(http.StatusOK, sessionResponse(s))
}

// Terminate handles DELETE /api/session - kills the live session and keeps
// the panel open.
func (h *RunHandler) Terminate(c *gin.Context) {
	if err := h.runner.Host().Terminate(); err != nil {
		if errors.Is(err, model.ErrSessionNotFound) {
			sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "No session is running")
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to terminate session: "+err.Error())
		return
	}
	c.Status(http.StatusNoContent)
}

// Runs handles GET /api/runs - lists past runs, newest first.
func (h *RunHandler) Runs(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusOK, []*SessionResponse{})
		return
	}

	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	runs, err := h.history.List(c.Request.Context(), limit)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list runs: "+err.Error())
		return
	}

	response := make([]*SessionResponse, len(runs))
	for i, run := range runs {
		response[i] = toSessionResponse(run)
	}
	c.JSON(http.StatusOK, response)
}

// Transcript handles GET /api/runs/:id/transcript - downloads the asciicast
// recording of a run.
func (h *RunHandler) Transcript(c *gin.Context) {
	id := c.Param("id")
	if h.history == nil {
		sendError(c, http.StatusNotFound, "RUN_NOT_FOUND", "Run history is disabled")
		return
	}

	run, err := h.history.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, model.ErrRunNotFound) {
			sendError(c, http.StatusNotFound, "RUN_NOT_FOUND", "Run "+id+" not found")
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get run: "+err.Error())
		return
	}

	if run.TranscriptPath == "" {
		sendError(c, http.StatusNotFound, "TRANSCRIPT_NOT_FOUND", "No transcript recorded for run "+id)
		return
	}

	c.Header("Content-Type", "application/x-asciicast")
	c.Header("Content-Disposition", "attachment; filename="+id+".cast")
	c.File(run.TranscriptPath)
}

// RegisterRoutes registers the run handler routes on a Gin router group.
func (h *RunHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/run", h.Run)
	rg.GET("/scripts", h.Scripts)
	rg.GET("/session", h.Session)
	rg.DELETE("/session", h.Terminate)
	rg.GET("/runs", h.Runs)
	rg.GET("/runs/:id/transcript", h.Transcript)
}

func sessionResponse(s *session.Session) *SessionResponse {
	info := s.Info()
	resp := toSessionResponse(&info)
	if status, done := s.ExitStatus(); done && status.Err != nil {
		resp.Error = status.Err.Error()
	}
	return resp
}

// sendRunError maps run failures onto the error envelope.
func sendRunError(c *gin.Context, err error) {
	var choice *locator.ChoiceRequiredError
	switch {
	case errors.As(err, &choice):
		sendErrorDetails(c, http.StatusConflict, "SELECTION_REQUIRED", choice.Error(), map[string]interface{}{
			"prompt":     choice.Prompt,
			"candidates": choice.Candidates,
		})
	case errors.Is(err, model.ErrNoWorkspace):
		sendError(c, http.StatusBadRequest, "NO_WORKSPACE", err.Error())
	case errors.Is(err, model.ErrNoScriptSelected):
		sendError(c, http.StatusBadRequest, "NO_SCRIPT_SELECTED", err.Error())
	case errors.Is(err, model.ErrScriptNotFound):
		sendError(c, http.StatusNotFound, "SCRIPT_NOT_FOUND", err.Error())
	case errors.Is(err, model.ErrInterpreterNotFound):
		sendError(c, http.StatusNotFound, "INTERPRETER_NOT_FOUND", err.Error())
	case errors.Is(err, model.ErrSessionClosed):
		sendError(c, http.StatusServiceUnavailable, "HOST_CLOSED", err.Error())
	case errors.Is(err, context.Canceled):
		sendError(c, http.StatusRequestTimeout, "CANCELED", err.Error())
	default:
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to run script: "+err.Error())
	}
}
