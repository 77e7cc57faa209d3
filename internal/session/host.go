// Package session owns the single interpreter session and the single display
// surface, and relays bytes and control messages between them.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nullshell/nullshell/internal/model"
	"github.com/nullshell/nullshell/internal/pty"
	"github.com/nullshell/nullshell/internal/surface"
	"github.com/nullshell/nullshell/internal/transcript"
)

// RunStore persists one record per run. It is optional.
type RunStore interface {
	Create(ctx context.Context, run *model.Session) error
	UpdateStatus(ctx context.Context, id string, status model.SessionStatus, exitCode *int) error
}

// Config holds configuration for the session host.
type Config struct {
	// Starter spawns the interpreter. Defaults to pty.Start.
	Starter pty.Starter

	// Surfaces creates the display surface on first run.
	Surfaces surface.Factory

	// Runs records run history when set.
	Runs RunStore

	// TranscriptDir enables asciicast transcripts when non-empty.
	TranscriptDir string
}

// StartOptions describes one run.
type StartOptions struct {
	Interpreter string
	Script      string
	Workdir     string
	Env         []string

	// Cols and Rows override the surface size when non-zero.
	Cols uint16
	Rows uint16
}

// Host holds at most one Session and one Surface. Start and Dispose are
// serialized; the relay goroutines only touch the current pointers under
// stateMu.
type Host struct {
	starter       pty.Starter
	surfaces      surface.Factory
	runs          RunStore
	transcriptDir string

	runMu  sync.Mutex
	closed bool

	stateMu   sync.RWMutex
	current   *Session
	relayDone chan struct{}
	surf      surface.Surface
}

// NewHost creates a host. The surface factory is required.
func NewHost(config Config) *Host {
	if config.Starter == nil {
		config.Starter = pty.Start
	}
	return &Host{
		starter:       config.Starter,
		surfaces:      config.Surfaces,
		runs:          config.Runs,
		transcriptDir: config.TranscriptDir,
	}
}

// Start terminates the current session, if any, and runs the interpreter
// against opts.Script in the surface, creating the surface when none is open.
//
// A spawn failure is not returned as an error: the returned session is in
// the failed state and its exit status wraps model.ErrProcessSpawn.
func (h *Host) Start(ctx context.Context, opts StartOptions) (*Session, error) {
	h.runMu.Lock()
	defer h.runMu.Unlock()

	if h.closed {
		return nil, model.ErrSessionClosed
	}
	if opts.Interpreter == "" {
		return nil, model.ErrInterpreterNotFound
	}

	h.terminateCurrent()

	title := model.SurfaceTitle(opts.Script)
	surf, err := h.ensureSurface(title)
	if err != nil {
		return nil, err
	}
	surf.Reveal()
	if err := surf.Send(surface.Clear()); err != nil {
		log.Printf("Host: failed to clear surface: %v", err)
	}

	cols, rows := opts.Cols, opts.Rows
	if cols == 0 || rows == 0 {
		cols, rows = surf.Size()
	}
	if cols == 0 || rows == 0 {
		cols, rows = 80, 24
	}

	now := time.Now()
	info := model.Session{
		ID:          uuid.New().String(),
		ScriptPath:  opts.Script,
		Interpreter: opts.Interpreter,
		Workdir:     opts.Workdir,
		Cols:        cols,
		Rows:        rows,
		Status:      model.SessionStatusRunning,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	proc, err := h.starter(pty.StartOptions{
		Command: opts.Interpreter,
		Args:    []string{opts.Script},
		Env:     opts.Env,
		Dir:     opts.Workdir,
		Cols:    cols,
		Rows:    rows,
	})
	if err != nil {
		spawnErr := fmt.Errorf("%w: %v", model.ErrProcessSpawn, err)
		s := failedSession(info, spawnErr)
		log.Printf("Host: %v", spawnErr)
		if err := surf.Send(surface.Error(spawnErr.Error())); err != nil {
			log.Printf("Host: failed to report spawn error: %v", err)
		}
		h.recordRun(ctx, s)
		return s, nil
	}

	recorder := h.openTranscript(&info)
	s := newSession(info, proc, recorder)
	h.recordRun(ctx, s)

	done := make(chan struct{})
	h.stateMu.Lock()
	h.current = s
	h.relayDone = done
	h.stateMu.Unlock()

	go h.relay(s, surf, done)

	// The surface may have been closed while the process was spawning, after
	// the disposal handler already looked for a session to kill.
	if isDone(surf.Done()) {
		log.Printf("Host: surface closed during start, killing session %s", s.ID())
		s.Kill()
	}

	log.Printf("Host: started session %s (%s, pid %d)", s.ID(), opts.Script, proc.PID())
	return s, nil
}

// Write forwards input to the current session.
func (h *Host) Write(data []byte) error {
	s := h.Current()
	if s == nil {
		return model.ErrSessionNotFound
	}
	return s.Write(data)
}

// Resize propagates a new surface size to the current session.
func (h *Host) Resize(cols, rows uint16) error {
	s := h.Current()
	if s == nil {
		return model.ErrSessionNotFound
	}
	return s.Resize(cols, rows)
}

// Current returns the live session, or nil.
func (h *Host) Current() *Session {
	h.stateMu.RLock()
	defer h.stateMu.RUnlock()
	return h.current
}

// Surface returns the open surface, or nil.
func (h *Host) Surface() surface.Surface {
	h.stateMu.RLock()
	defer h.stateMu.RUnlock()
	return h.surf
}

// Terminate kills the current session and leaves the surface open.
func (h *Host) Terminate() error {
	h.runMu.Lock()
	defer h.runMu.Unlock()

	if h.Current() == nil {
		return model.ErrSessionNotFound
	}
	h.terminateCurrent()
	return nil
}

// Dispose closes the surface and kills the session. It returns once the
// process has exited.
func (h *Host) Dispose() {
	h.runMu.Lock()
	defer h.runMu.Unlock()
	h.disposeLocked()
}

// Close disposes everything and refuses further runs.
func (h *Host) Close() {
	h.runMu.Lock()
	defer h.runMu.Unlock()
	h.closed = true
	h.disposeLocked()
}

func (h *Host) disposeLocked() {
	h.stateMu.Lock()
	surf := h.surf
	h.surf = nil
	h.stateMu.Unlock()

	if surf != nil {
		surf.Dispose()
	}
	h.terminateCurrent()
}

// terminateCurrent kills the current session and waits for its relay to
// deliver the exit notice. Callers hold runMu.
func (h *Host) terminateCurrent() {
	h.stateMu.RLock()
	s, done := h.current, h.relayDone
	h.stateMu.RUnlock()

	if s == nil {
		return
	}
	s.Kill()
	<-done
}

func (h *Host) ensureSurface(title string) (surface.Surface, error) {
	h.stateMu.RLock()
	surf := h.surf
	h.stateMu.RUnlock()

	if surf != nil && !isDone(surf.Done()) {
		surf.SetTitle(title)
		return surf, nil
	}

	if h.surfaces == nil {
		return nil, errors.New("no display surface available")
	}
	surf, err := h.surfaces(title)
	if err != nil {
		return nil, fmt.Errorf("failed to create surface: %w", err)
	}

	h.stateMu.Lock()
	h.surf = surf
	h.stateMu.Unlock()

	go h.watch(surf)
	go h.pump(surf)
	return surf, nil
}

// watch kills the current session once the surface goes away. It runs apart
// from pump, which may be blocked handing input to a process that does not
// read it.
func (h *Host) watch(surf surface.Surface) {
	<-surf.Done()
	h.surfaceDisposed(surf)
}

// pump forwards surface input and resize messages to whichever session is
// current until the surface is disposed.
func (h *Host) pump(surf surface.Surface) {
	for {
		select {
		case msg := <-surf.Inbound():
			switch msg.Type {
			case surface.MessageInput:
				if err := h.Write([]byte(msg.Text)); err != nil && !errors.Is(err, model.ErrSessionNotFound) {
					log.Printf("Host: input dropped: %v", err)
				}
			case surface.MessageResize:
				if err := h.Resize(msg.Cols, msg.Rows); err != nil && !errors.Is(err, model.ErrSessionNotFound) {
					log.Printf("Host: resize failed: %v", err)
				}
			}
		case <-surf.Done():
			return
		}
	}
}

func (h *Host) surfaceDisposed(surf surface.Surface) {
	h.stateMu.Lock()
	if h.surf != surf {
		h.stateMu.Unlock()
		return
	}
	h.surf = nil
	s := h.current
	h.stateMu.Unlock()

	if s != nil {
		log.Printf("Host: surface closed, killing session %s", s.ID())
		s.Kill()
	}
}

// relay copies session output to the surface, then reports the exit and
// clears the session reference.
func (h *Host) relay(s *Session, surf surface.Surface, done chan<- struct{}) {
	defer close(done)

	var sendErr error
	for chunk := range s.Output() {
		// Once the surface is gone keep draining so the read loop can finish.
		if err := surf.Send(surface.Output(chunk)); err != nil && sendErr == nil {
			sendErr = err
			if !errors.Is(err, model.ErrSurfaceDisposed) {
				log.Printf("Host: output for session %s dropped: %v", s.ID(), err)
			}
		}
	}
	<-s.Done()

	status, _ := s.ExitStatus()
	if !isDone(surf.Done()) {
		notice := fmt.Sprintf("\r\n[process exited with code %d]\r\n", status.Code)
		if err := surf.Send(surface.Output([]byte(notice))); err != nil {
			log.Printf("Host: failed to send exit notice for session %s: %v", s.ID(), err)
		} else if err := surf.Send(surface.Exit(status.Code)); err != nil {
			log.Printf("Host: failed to send exit for session %s: %v", s.ID(), err)
		}
	}

	h.stateMu.Lock()
	if h.current == s {
		h.current = nil
	}
	h.stateMu.Unlock()

	info := s.Info()
	if h.runs != nil {
		if err := h.runs.UpdateStatus(context.Background(), info.ID, info.Status, info.ExitCode); err != nil {
			log.Printf("Host: failed to update run %s: %v", info.ID, err)
		}
	}
	log.Printf("Host: session %s exited with code %d", info.ID, status.Code)
}

func (h *Host) openTranscript(info *model.Session) *transcript.Recorder {
	if h.transcriptDir == "" {
		return nil
	}
	if err := os.MkdirAll(h.transcriptDir, 0o755); err != nil {
		log.Printf("Host: transcript directory: %v", err)
		return nil
	}
	path := filepath.Join(h.transcriptDir, info.ID+".cast")
	recorder, err := transcript.Create(path)
	if err != nil {
		log.Printf("Host: %v", err)
		return nil
	}
	info.TranscriptPath = path
	return recorder
}

func (h *Host) recordRun(ctx context.Context, s *Session) {
	if h.runs == nil {
		return
	}
	info := s.Info()
	if err := h.runs.Create(ctx, &info); err != nil {
		log.Printf("Host: failed to record run %s: %v", info.ID, err)
	}
}

func isDone(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
