//go:build !windows

package session

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullshell/nullshell/internal/model"
	"github.com/nullshell/nullshell/internal/pty"
	"github.com/nullshell/nullshell/internal/surface"
)

type fakeSurface struct {
	mu       sync.Mutex
	title    string
	visible  bool
	messages []surface.Message

	inbound  chan surface.Message
	done     chan struct{}
	disposed sync.Once

	// sendErr, when set, fails every output message.
	sendErr error
}

func newFakeSurface(title string) *fakeSurface {
	return &fakeSurface{
		title:   title,
		inbound: make(chan surface.Message, 16),
		done:    make(chan struct{}),
	}
}

func (f *fakeSurface) Title() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.title
}

func (f *fakeSurface) SetTitle(title string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.title = title
}

func (f *fakeSurface) Reveal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visible = true
}

func (f *fakeSurface) Visible() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.visible
}

func (f *fakeSurface) Send(msg surface.Message) error {
	select {
	case <-f.done:
		return model.ErrSurfaceDisposed
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil && msg.Type == surface.MessageOutput {
		return f.sendErr
	}
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeSurface) Inbound() <-chan surface.Message { return f.inbound }
func (f *fakeSurface) Size() (uint16, uint16)           { return 0, 0 }
func (f *fakeSurface) Done() <-chan struct{}            { return f.done }
func (f *fakeSurface) Dispose()                         { f.disposed.Do(func() { close(f.done) }) }

func (f *fakeSurface) output() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var b strings.Builder
	for _, m := range f.messages {
		if m.Type == surface.MessageOutput {
			b.WriteString(m.Text)
		}
	}
	return b.String()
}

func (f *fakeSurface) find(t surface.MessageType) []surface.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []surface.Message
	for _, m := range f.messages {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

type fakeFactory struct {
	mu       sync.Mutex
	surfaces []*fakeSurface
}

func (f *fakeFactory) create(title string) (surface.Surface, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := newFakeSurface(title)
	f.surfaces = append(f.surfaces, s)
	return s, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.surfaces)
}

func (f *fakeFactory) last() *fakeSurface {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.surfaces[len(f.surfaces)-1]
}

type fakeRuns struct {
	mu      sync.Mutex
	created []model.Session
	updates map[string]model.SessionStatus
}

func (r *fakeRuns) Create(_ context.Context, run *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, *run)
	return nil
}

func (r *fakeRuns) UpdateStatus(_ context.Context, id string, status model.SessionStatus, _ *int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updates == nil {
		r.updates = make(map[string]model.SessionStatus)
	}
	r.updates[id] = status
	return nil
}

func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func waitDone(t *testing.T, s *Session) ExitStatus {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("session did not finish")
	}
	status, ok := s.ExitStatus()
	require.True(t, ok)
	return status
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func shellOptions(script string) StartOptions {
	return StartOptions{Interpreter: "/bin/sh", Script: script, Workdir: filepath.Dir(script)}
}

func TestRerunReusesSurface(t *testing.T) {
	factory := &fakeFactory{}
	host := NewHost(Config{Surfaces: factory.create})
	defer host.Close()

	first, err := host.Start(context.Background(), shellOptions(writeScript(t, "one.nu", "echo one\n")))
	require.NoError(t, err)
	waitDone(t, first)

	second, err := host.Start(context.Background(), shellOptions(writeScript(t, "two.nu", "echo two\n")))
	require.NoError(t, err)
	waitDone(t, second)

	assert.Equal(t, 1, factory.count(), "surface must be reused")
	surf := factory.last()
	assert.Equal(t, "NuShell: two.nu", surf.Title())
	assert.True(t, surf.Visible())
	assert.Len(t, surf.find(surface.MessageClear), 2)
	assert.Same(t, surf, host.Surface())
}

func TestDisposingSurfaceKillsProcess(t *testing.T) {
	factory := &fakeFactory{}
	host := NewHost(Config{Surfaces: factory.create})
	defer host.Close()

	s, err := host.Start(context.Background(), shellOptions(writeScript(t, "wait.nu", "echo ready\nsleep 30\n")))
	require.NoError(t, err)

	surf := factory.last()
	eventually(t, func() bool { return strings.Contains(surf.output(), "ready") }, "no output from script")

	surf.Dispose()

	status := waitDone(t, s)
	assert.Equal(t, -1, status.Code)
	eventually(t, func() bool { return host.Current() == nil }, "session reference not cleared")
	eventually(t, func() bool { return host.Surface() == nil }, "surface reference not cleared")
}

func TestDisposingSurfaceKillsProcessIgnoringInput(t *testing.T) {
	factory := &fakeFactory{}
	host := NewHost(Config{Surfaces: factory.create, Starter: pty.StartPipe})
	defer host.Close()

	s, err := host.Start(context.Background(), shellOptions(writeScript(t, "deaf.nu", "echo ready\nsleep 20\n")))
	require.NoError(t, err)

	surf := factory.last()
	eventually(t, func() bool { return strings.Contains(surf.output(), "ready") }, "no output from script")

	// More input than the queue and the pipe can hold; the script never reads it.
	chunk := strings.Repeat("x", 4096)
	go func() {
		for i := 0; i < 200; i++ {
			select {
			case surf.inbound <- surface.Message{Type: surface.MessageInput, Text: chunk}:
			case <-surf.done:
				return
			}
		}
	}()
	time.Sleep(200 * time.Millisecond)

	surf.Dispose()

	status := waitDone(t, s)
	assert.Equal(t, -1, status.Code)
	eventually(t, func() bool { return host.Current() == nil }, "session reference not cleared")
	assert.ErrorIs(t, s.Write([]byte("late")), model.ErrSessionClosed)
}

func TestSurfaceClosedDuringStartKillsProcess(t *testing.T) {
	var created *fakeSurface
	host := NewHost(Config{
		Surfaces: func(title string) (surface.Surface, error) {
			created = newFakeSurface(title)
			created.Dispose()
			return created, nil
		},
	})
	defer host.Close()

	s, err := host.Start(context.Background(), shellOptions(writeScript(t, "orphan.nu", "sleep 30\nexit 0\n")))
	require.NoError(t, err)

	status := waitDone(t, s)
	assert.Equal(t, -1, status.Code, "process must not outlive its surface")
	eventually(t, func() bool { return host.Current() == nil }, "session reference not cleared")
	eventually(t, func() bool { return host.Surface() == nil }, "surface reference not cleared")
	assert.Empty(t, created.find(surface.MessageExit))
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRelayLogsSendFailuresOnce(t *testing.T) {
	logs := &syncBuffer{}
	log.SetOutput(logs)
	defer log.SetOutput(os.Stderr)

	var surf *fakeSurface
	host := NewHost(Config{Surfaces: func(title string) (surface.Surface, error) {
		surf = newFakeSurface(title)
		surf.sendErr = errors.New("connection reset")
		return surf, nil
	}})
	defer host.Close()

	s, err := host.Start(context.Background(), shellOptions(writeScript(t, "chatty.nu", "for i in 1 2 3 4 5; do echo line $i; sleep 0.05; done\n")))
	require.NoError(t, err)
	waitDone(t, s)
	eventually(t, func() bool {
		return strings.Contains(logs.String(), "session "+s.ID()+" exited")
	}, "relay did not finish")

	out := logs.String()
	assert.Equal(t, 1, strings.Count(out, "output for session "+s.ID()+" dropped: connection reset"))
	assert.Contains(t, out, "failed to send exit notice for session "+s.ID())
	assert.Empty(t, surf.find(surface.MessageExit))
}

func TestHostDisposeKillsProcess(t *testing.T) {
	factory := &fakeFactory{}
	host := NewHost(Config{Surfaces: factory.create})
	defer host.Close()

	s, err := host.Start(context.Background(), shellOptions(writeScript(t, "wait.nu", "sleep 30\n")))
	require.NoError(t, err)

	host.Dispose()

	_, ok := s.ExitStatus()
	assert.True(t, ok, "Dispose returns after the process exited")
	assert.Nil(t, host.Current())
	assert.Nil(t, host.Surface())
	assert.True(t, isDone(factory.last().Done()))
}

func TestSessionExitKeepsSurfaceOpen(t *testing.T) {
	factory := &fakeFactory{}
	runs := &fakeRuns{}
	host := NewHost(Config{Surfaces: factory.create, Runs: runs, TranscriptDir: t.TempDir()})
	defer host.Close()

	s, err := host.Start(context.Background(), shellOptions(writeScript(t, "fail.nu", "echo bye\nexit 3\n")))
	require.NoError(t, err)

	status := waitDone(t, s)
	assert.Equal(t, 3, status.Code)
	assert.NoError(t, status.Err)

	surf := factory.last()
	eventually(t, func() bool { return len(surf.find(surface.MessageExit)) == 1 }, "no exit message")
	assert.Contains(t, surf.output(), "bye")
	assert.Contains(t, surf.output(), "[process exited with code 3]")
	assert.Equal(t, 3, *surf.find(surface.MessageExit)[0].Code)
	assert.False(t, isDone(surf.Done()), "surface stays open after exit")

	eventually(t, func() bool { return host.Current() == nil }, "session reference not cleared")
	assert.Same(t, surf, host.Surface())

	info := s.Info()
	assert.Equal(t, model.SessionStatusExited, info.Status)
	require.NotNil(t, info.ExitCode)
	assert.Equal(t, 3, *info.ExitCode)

	data, err := os.ReadFile(info.TranscriptPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "bye")

	eventually(t, func() bool {
		runs.mu.Lock()
		defer runs.mu.Unlock()
		return runs.updates[info.ID] == model.SessionStatusExited
	}, "run status not updated")
	assert.Len(t, runs.created, 1)
}

func TestStartTerminatesPreviousSession(t *testing.T) {
	factory := &fakeFactory{}
	host := NewHost(Config{Surfaces: factory.create})
	defer host.Close()

	first, err := host.Start(context.Background(), shellOptions(writeScript(t, "a.nu", "sleep 30\n")))
	require.NoError(t, err)

	second, err := host.Start(context.Background(), shellOptions(writeScript(t, "b.nu", "sleep 30\n")))
	require.NoError(t, err)

	_, ok := first.ExitStatus()
	assert.True(t, ok, "previous session must be gone before the next starts")
	assert.Same(t, second, host.Current())
	assert.NotEqual(t, first.ID(), second.ID())
}

func TestMissingInterpreterCreatesNothing(t *testing.T) {
	factory := &fakeFactory{}
	host := NewHost(Config{Surfaces: factory.create})
	defer host.Close()

	s, err := host.Start(context.Background(), StartOptions{Script: "main.nu"})
	assert.ErrorIs(t, err, model.ErrInterpreterNotFound)
	assert.Nil(t, s)
	assert.Zero(t, factory.count())
	assert.Nil(t, host.Current())
	assert.Nil(t, host.Surface())
}

func TestSpawnFailureYieldsFailedSession(t *testing.T) {
	factory := &fakeFactory{}
	host := NewHost(Config{
		Surfaces: factory.create,
		Starter: func(pty.StartOptions) (*pty.Process, error) {
			return nil, errors.New("exec format error")
		},
	})
	defer host.Close()

	s, err := host.Start(context.Background(), StartOptions{Interpreter: "/bin/nu", Script: "main.nu"})
	require.NoError(t, err)

	status, ok := s.ExitStatus()
	require.True(t, ok)
	assert.ErrorIs(t, status.Err, model.ErrProcessSpawn)
	assert.Equal(t, model.SessionStatusFailed, s.Info().Status)
	assert.Nil(t, host.Current())

	errs := factory.last().find(surface.MessageError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Text, "exec format error")

	_, open := <-s.Output()
	assert.False(t, open)
	assert.ErrorIs(t, s.Write([]byte("x")), model.ErrSessionClosed)
}

func TestClosedHostRefusesRuns(t *testing.T) {
	host := NewHost(Config{Surfaces: (&fakeFactory{}).create})
	host.Close()

	_, err := host.Start(context.Background(), shellOptions("x.nu"))
	assert.ErrorIs(t, err, model.ErrSessionClosed)
	assert.ErrorIs(t, host.Write([]byte("x")), model.ErrSessionNotFound)
	assert.ErrorIs(t, host.Terminate(), model.ErrSessionNotFound)
}

func TestResizeReachesProcess(t *testing.T) {
	factory := &fakeFactory{}
	host := NewHost(Config{Surfaces: factory.create})
	defer host.Close()

	script := writeScript(t, "size.nu", "stty size\nread line\nstty size\n")
	opts := shellOptions(script)
	opts.Cols, opts.Rows = 100, 30
	s, err := host.Start(context.Background(), opts)
	require.NoError(t, err)

	surf := factory.last()
	eventually(t, func() bool { return strings.Contains(surf.output(), "30 100") }, "initial size not applied")

	surf.inbound <- surface.Message{Type: surface.MessageResize, Cols: 132, Rows: 50}
	eventually(t, func() bool {
		info := s.Info()
		return info.Cols == 132 && info.Rows == 50
	}, "resize not applied")
	surf.inbound <- surface.Message{Type: surface.MessageInput, Text: "\r"}

	waitDone(t, s)
	assert.Contains(t, surf.output(), "50 132")
}

// Input submitted through the surface reaches the process in order.
func TestInputOrderProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20

	properties := gopter.NewProperties(parameters)

	properties.Property("input chunks arrive in submission order", prop.ForAll(
		func(chunks []string) bool {
			factory := &fakeFactory{}
			host := NewHost(Config{Surfaces: factory.create, Starter: pty.StartPipe})
			defer host.Close()

			script := filepath.Join(t.TempDir(), "cat.nu")
			if err := os.WriteFile(script, []byte("exec cat\n"), 0o644); err != nil {
				return false
			}
			if _, err := host.Start(context.Background(), shellOptions(script)); err != nil {
				return false
			}
			surf := factory.last()

			var want strings.Builder
			for _, c := range chunks {
				want.WriteString(c)
				surf.inbound <- surface.Message{Type: surface.MessageInput, Text: c}
			}

			deadline := time.Now().Add(5 * time.Second)
			for time.Now().Before(deadline) {
				if got := surf.output(); got == want.String() {
					return true
				} else if len(got) > want.Len() {
					return false
				}
				time.Sleep(5 * time.Millisecond)
			}
			return false
		},
		gen.SliceOf(gen.AlphaString().Map(func(s string) string { return s + "\n" })),
	))

	properties.TestingRun(t)
}
