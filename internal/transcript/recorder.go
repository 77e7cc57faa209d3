// Package transcript records sessions as asciicast v2 files so a finished run
// can be replayed with any asciinema-compatible player.
package transcript

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Header is the first line of an asciicast v2 file.
type Header struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Title     string            `json:"title,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// Event kinds.
const (
	KindOutput = "o"
	KindInput  = "i"
	KindResize = "r"
)

// Event is one asciicast event line: [elapsed, kind, data].
type Event struct {
	Elapsed float64
	Kind    string
	Data    string
}

// MarshalJSON encodes the event as a three element array.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{e.Elapsed, e.Kind, e.Data})
}

// UnmarshalJSON decodes a three element array.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 3 {
		return fmt.Errorf("invalid event: expected 3 elements, got %d", len(raw))
	}
	if err := json.Unmarshal(raw[0], &e.Elapsed); err != nil {
		return fmt.Errorf("invalid event time: %w", err)
	}
	if err := json.Unmarshal(raw[1], &e.Kind); err != nil {
		return fmt.Errorf("invalid event kind: %w", err)
	}
	if err := json.Unmarshal(raw[2], &e.Data); err != nil {
		return fmt.Errorf("invalid event data: %w", err)
	}
	return nil
}

// Recorder appends events to an asciicast stream. It is safe for concurrent use:
// output is recorded from the PTY read loop while input arrives from the surface.
type Recorder struct {
	mu      sync.Mutex
	w       io.Writer
	closer  io.Closer
	started time.Time
	clock   func() time.Time
}

// Create opens path for writing and returns a Recorder over it.
func Create(path string) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create transcript: %w", err)
	}
	r := NewRecorder(f)
	r.closer = f
	return r, nil
}

// NewRecorder returns a Recorder writing to w. The caller owns w.
func NewRecorder(w io.Writer) *Recorder {
	return &Recorder{w: w, started: time.Now(), clock: time.Now}
}

// Start writes the header line. It must be called once before any event.
func (r *Recorder) Start(cols, rows int, title string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.started = r.clock()
	return r.writeLine(Header{
		Version:   2,
		Width:     cols,
		Height:    rows,
		Timestamp: r.started.Unix(),
		Title:     title,
		Env:       map[string]string{"TERM": os.Getenv("TERM")},
	})
}

// Output records bytes produced by the process.
func (r *Recorder) Output(data []byte) error {
	return r.event(KindOutput, string(data))
}

// Input records bytes typed by the user.
func (r *Recorder) Input(data []byte) error {
	return r.event(KindInput, string(data))
}

// Resize records a terminal size change as "COLSxROWS".
func (r *Recorder) Resize(cols, rows uint16) error {
	return r.event(KindResize, fmt.Sprintf("%dx%d", cols, rows))
}

func (r *Recorder) event(kind, data string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.writeLine(Event{
		Elapsed: r.clock().Sub(r.started).Seconds(),
		Kind:    kind,
		Data:    data,
	})
}

func (r *Recorder) writeLine(v interface{}) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode transcript line: %w", err)
	}
	if _, err := r.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write transcript line: %w", err)
	}
	return nil
}

// Close closes the underlying file when the Recorder owns it.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closer == nil {
		return nil
	}
	err := r.closer.Close()
	r.closer = nil
	return err
}
