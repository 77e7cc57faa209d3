// Package model holds the data types shared by the session host, the
// transports and the run history.
package model

import (
	"path/filepath"
	"time"
)

// SessionStatus represents the status of a script session.
type SessionStatus string

const (
	SessionStatusRunning SessionStatus = "running"
	SessionStatusExited  SessionStatus = "exited"
	SessionStatusFailed  SessionStatus = "failed"
)

// Terminal reports whether the status can no longer change.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusExited || s == SessionStatusFailed
}

// Session describes one run of the interpreter against a script.
type Session struct {
	ID             string        `json:"id"`
	ScriptPath     string        `json:"scriptPath"`
	Interpreter    string        `json:"interpreter"`
	Workdir        string        `json:"workdir"`
	Cols           uint16        `json:"cols"`
	Rows           uint16        `json:"rows"`
	Status         SessionStatus `json:"status"`
	ExitCode       *int          `json:"exitCode,omitempty"`
	PID            *int          `json:"pid,omitempty"`
	TranscriptPath string        `json:"transcriptPath,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// Title returns the display surface title for the session's script.
func (s *Session) Title() string {
	return SurfaceTitle(s.ScriptPath)
}

// Duration returns how long the session has been (or was) running.
func (s *Session) Duration() time.Duration {
	if s.Status.Terminal() {
		return s.UpdatedAt.Sub(s.CreatedAt)
	}
	return time.Since(s.CreatedAt)
}

// SurfaceTitle derives the display surface title from a script path.
func SurfaceTitle(scriptPath string) string {
	return "NuShell: " + filepath.Base(scriptPath)
}

// RunRequest is the input of the "run script" command.
type RunRequest struct {
	// Script is an explicit script path. When empty the workspace is searched.
	Script string `json:"script"`
}
