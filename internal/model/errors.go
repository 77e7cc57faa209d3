package model

import "errors"

var (
	// ErrNoWorkspace is returned when no workspace folder is configured or the
	// configured folder does not exist.
	ErrNoWorkspace = errors.New("no workspace folder open")

	// ErrNoScriptSelected is returned when the user dismisses the script picker.
	ErrNoScriptSelected = errors.New("no script selected")

	// ErrScriptNotFound is returned when an explicitly requested script does not exist.
	ErrScriptNotFound = errors.New("script not found")

	// ErrInterpreterNotFound is returned when the nu binary cannot be located.
	ErrInterpreterNotFound = errors.New("interpreter not found")

	// ErrProcessSpawn marks a failure to start the interpreter process.
	// It is delivered through the session exit status, never returned by Start.
	ErrProcessSpawn = errors.New("failed to spawn process")

	// ErrSessionNotFound is returned when no session is live.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionClosed is returned when writing to or resizing a session that has exited.
	ErrSessionClosed = errors.New("session is closed")

	// ErrSurfaceDisposed is returned when sending to a display surface that was closed.
	ErrSurfaceDisposed = errors.New("display surface disposed")

	// ErrRunNotFound is returned when a run record does not exist.
	ErrRunNotFound = errors.New("run not found")
)
