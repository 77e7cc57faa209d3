package session

import (
	"log"
	"sync"
	"time"

	"github.com/nullshell/nullshell/internal/model"
	"github.com/nullshell/nullshell/internal/pty"
	"github.com/nullshell/nullshell/internal/transcript"
)

const (
	readBufferSize = 4096
	inputBuffer    = 64
	outputBuffer   = 64

	// drainTimeout bounds how long output is still read after the process
	// exited. A background child holding the terminal open would otherwise
	// keep the session alive.
	drainTimeout = 2 * time.Second
)

// ExitStatus is published once when a session ends.
type ExitStatus struct {
	Code int
	Err  error
}

// Session is one running interpreter. Output flows process -> host through
// Output(); input flows host -> process through Write. Each direction is a
// single channel, so byte order is preserved per direction.
type Session struct {
	mu   sync.RWMutex
	info model.Session

	proc     *pty.Process
	recorder *transcript.Recorder

	output chan []byte
	input  chan []byte

	killed   chan struct{}
	killOnce sync.Once
	done     chan struct{}
	exit     ExitStatus

	recordErrOnce sync.Once
}

func newSession(info model.Session, proc *pty.Process, recorder *transcript.Recorder) *Session {
	pid := proc.PID()
	info.PID = &pid
	info.Status = model.SessionStatusRunning

	s := &Session{
		info:     info,
		proc:     proc,
		recorder: recorder,
		output:   make(chan []byte, outputBuffer),
		input:    make(chan []byte, inputBuffer),
		killed:   make(chan struct{}),
		done:     make(chan struct{}),
	}

	if recorder != nil {
		if err := recorder.Start(int(info.Cols), int(info.Rows), info.Title()); err != nil {
			log.Printf("Session %s: transcript disabled: %v", info.ID, err)
			recorder.Close()
			s.recorder = nil
		}
	}

	readDone := make(chan struct{})
	go s.readLoop(readDone)
	go s.writeLoop()
	go s.waitLoop(readDone)

	return s
}

// failedSession returns a session that never started. Its output is closed
// and its exit status carries err.
func failedSession(info model.Session, err error) *Session {
	now := time.Now()
	code := -1
	info.Status = model.SessionStatusFailed
	info.ExitCode = &code
	info.UpdatedAt = now

	s := &Session{
		info:   info,
		output: make(chan []byte),
		input:  make(chan []byte),
		killed: make(chan struct{}),
		done:   make(chan struct{}),
		exit:   ExitStatus{Code: code, Err: err},
	}
	close(s.output)
	close(s.killed)
	close(s.done)
	return s
}

// ID returns the session ID.
func (s *Session) ID() string {
	return s.info.ID
}

// Info returns a snapshot of the session record.
func (s *Session) Info() model.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}

// Output returns the process output. It is closed once the PTY is drained.
func (s *Session) Output() <-chan []byte {
	return s.output
}

// Done is closed after the exit status is published.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// ExitStatus returns the exit status. ok is false while the session runs.
func (s *Session) ExitStatus() (status ExitStatus, ok bool) {
	select {
	case <-s.done:
		return s.exit, true
	default:
		return ExitStatus{}, false
	}
}

// Write queues data for the process. Calls from one goroutine reach the
// process in call order. Write blocks while the input queue is full and
// returns ErrSessionClosed once the session is killed or has exited.
func (s *Session) Write(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	chunk := make([]byte, len(data))
	copy(chunk, data)

	select {
	case <-s.done:
		return model.ErrSessionClosed
	case <-s.killed:
		return model.ErrSessionClosed
	default:
	}

	select {
	case s.input <- chunk:
		return nil
	case <-s.killed:
		return model.ErrSessionClosed
	case <-s.done:
		return model.ErrSessionClosed
	}
}

// Resize changes the PTY window size.
func (s *Session) Resize(cols, rows uint16) error {
	if cols == 0 || rows == 0 {
		return nil
	}

	select {
	case <-s.done:
		return model.ErrSessionClosed
	default:
	}

	if err := s.proc.PTY.Resize(cols, rows); err != nil {
		return err
	}

	s.mu.Lock()
	s.info.Cols, s.info.Rows = cols, rows
	s.info.UpdatedAt = time.Now()
	s.mu.Unlock()

	if s.recorder != nil {
		if err := s.recorder.Resize(cols, rows); err != nil {
			s.recordFailed(err)
		}
	}
	return nil
}

// Kill terminates the process group immediately.
func (s *Session) Kill() {
	s.killOnce.Do(func() {
		close(s.killed)
		if s.proc == nil {
			return
		}
		if err := s.proc.Kill(); err != nil {
			log.Printf("Session %s: kill failed: %v", s.info.ID, err)
		}
	})
}

func (s *Session) readLoop(readDone chan<- struct{}) {
	defer close(readDone)
	defer close(s.output)

	buf := make([]byte, readBufferSize)
	for {
		n, err := s.proc.PTY.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if s.recorder != nil {
				if err := s.recorder.Output(chunk); err != nil {
					s.recordFailed(err)
				}
			}
			select {
			case s.output <- chunk:
			case <-s.killed:
				return
			}
		}
		if err != nil {
			// EIO on Linux once the child side is closed.
			return
		}
	}
}

func (s *Session) writeLoop() {
	for {
		select {
		case data := <-s.input:
			if _, err := s.proc.PTY.Write(data); err != nil {
				if isDone(s.killed) {
					return
				}
				log.Printf("Session %s: write failed: %v", s.info.ID, err)
				continue
			}
			if s.recorder != nil {
				if err := s.recorder.Input(data); err != nil {
					s.recordFailed(err)
				}
			}
		case <-s.killed:
			return
		case <-s.done:
			return
		}
	}
}

// recordFailed logs the first transcript write error of the session.
func (s *Session) recordFailed(err error) {
	s.recordErrOnce.Do(func() {
		log.Printf("Session %s: transcript write failed: %v", s.info.ID, err)
	})
}

func (s *Session) waitLoop(readDone <-chan struct{}) {
	code, err := s.proc.Wait()

	select {
	case <-readDone:
	case <-time.After(drainTimeout):
	}
	s.proc.Close()
	<-readDone

	if s.recorder != nil {
		s.recorder.Close()
	}

	s.mu.Lock()
	s.info.Status = model.SessionStatusExited
	s.info.ExitCode = &code
	s.info.UpdatedAt = time.Now()
	s.mu.Unlock()

	s.exit = ExitStatus{Code: code, Err: err}
	close(s.done)

	if err != nil {
		log.Printf("Session %s: wait failed: %v", s.info.ID, err)
	}
}
