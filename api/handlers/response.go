// Package handlers provides HTTP API request handlers.
package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nullshell/nullshell/internal/model"
)

// SessionResponse represents a session or a run record in API responses.
type SessionResponse struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	ScriptPath     string `json:"scriptPath"`
	Interpreter    string `json:"interpreter"`
	Workdir        string `json:"workdir"`
	Cols           uint16 `json:"cols"`
	Rows           uint16 `json:"rows"`
	Status         string `json:"status"`
	ExitCode       *int   `json:"exitCode,omitempty"`
	PID            *int   `json:"pid,omitempty"`
	Error          string `json:"error,omitempty"`
	TranscriptPath string `json:"transcriptPath,omitempty"`
	Duration       string `json:"duration"`
	CreatedAt      string `json:"createdAt"`
	UpdatedAt      string `json:"updatedAt"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// toSessionResponse converts a model.Session to SessionResponse.
func toSessionResponse(s *model.Session) *SessionResponse {
	return &SessionResponse{
		ID:             s.ID,
		Title:          s.Title(),
		ScriptPath:     s.ScriptPath,
		Interpreter:    s.Interpreter,
		Workdir:        s.Workdir,
		Cols:           s.Cols,
		Rows:           s.Rows,
		Status:         string(s.Status),
		ExitCode:       s.ExitCode,
		PID:            s.PID,
		TranscriptPath: s.TranscriptPath,
		Duration:       formatDuration(s.Duration()),
		CreatedAt:      s.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      s.UpdatedAt.Format(time.RFC3339),
	}
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return d.Round(time.Second).String()
}

// sendError sends an error response with the appropriate status code.
func sendError(c *gin.Context, statusCode int, code, message string) {
	sendErrorDetails(c, statusCode, code, message, nil)
}

func sendErrorDetails(c *gin.Context, statusCode int, code, message string, details map[string]interface{}) {
	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}
