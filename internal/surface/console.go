package surface

import (
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/term"
)

const consoleReadBufferSize = 1024

// Console displays a session on the caller's own terminal. Keystrokes are read
// from in and forwarded raw; the window size follows the terminal.
type Console struct {
	in  io.Reader
	out io.Writer

	mu      sync.Mutex
	title   string
	visible bool
	cols    uint16
	rows    uint16

	inbound chan Message
	done    chan struct{}
	once    sync.Once

	restore   func()
	stopWatch func()
}

// NewConsole attaches to in and out. When in is a terminal it is switched to
// raw mode until Dispose.
func NewConsole(in io.Reader, out io.Writer, title string) (*Console, error) {
	c := &Console{
		in:        in,
		out:       out,
		title:     title,
		visible:   true,
		inbound:   make(chan Message, 64),
		done:      make(chan struct{}),
		restore:   func() {},
		stopWatch: func() {},
	}

	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fd := int(f.Fd())
		state, err := term.MakeRaw(fd)
		if err != nil {
			return nil, fmt.Errorf("failed to enter raw mode: %w", err)
		}
		c.restore = func() { _ = term.Restore(fd, state) }
	}

	c.cols, c.rows = c.measure()
	c.writeTitle(title)
	c.stopWatch = watchResize(c)

	go c.readLoop()
	return c, nil
}

// measure returns the size of out when it is a terminal.
func (c *Console) measure() (uint16, uint16) {
	f, ok := c.out.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 0, 0
	}
	w, h, err := term.GetSize(int(f.Fd()))
	if err != nil || w <= 0 || h <= 0 {
		return 0, 0
	}
	return uint16(w), uint16(h)
}

func (c *Console) readLoop() {
	buf := make([]byte, consoleReadBufferSize)
	for {
		n, err := c.in.Read(buf)
		if n > 0 {
			if !c.push(Message{Type: MessageInput, Text: string(buf[:n])}) {
				return
			}
		}
		if err != nil {
			c.Dispose()
			return
		}
	}
}

// push delivers msg to the host unless the console is gone.
func (c *Console) push(msg Message) bool {
	select {
	case c.inbound <- msg:
		return true
	case <-c.done:
		return false
	}
}

// resized is called when the terminal reports a new size.
func (c *Console) resized() {
	cols, rows := c.measure()
	if cols == 0 || rows == 0 {
		return
	}
	c.mu.Lock()
	c.cols, c.rows = cols, rows
	c.mu.Unlock()
	c.push(Message{Type: MessageResize, Cols: cols, Rows: rows})
}

func (c *Console) writeTitle(title string) {
	if title != "" {
		fmt.Fprintf(c.out, "\x1b]0;%s\x07", title)
	}
}

func (c *Console) Title() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.title
}

func (c *Console) SetTitle(title string) {
	c.mu.Lock()
	c.title = title
	c.mu.Unlock()
	c.writeTitle(title)
}

// Reveal is a no-op: the console is always in front of the user.
func (c *Console) Reveal() {}

func (c *Console) Visible() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Send renders a host message on the terminal.
func (c *Console) Send(msg Message) error {
	select {
	case <-c.done:
		return fmt.Errorf("console: %w", os.ErrClosed)
	default:
	}

	var err error
	switch msg.Type {
	case MessageOutput, MessageHistory:
		_, err = io.WriteString(c.out, msg.Text)
	case MessageClear:
		_, err = io.WriteString(c.out, "\x1b[H\x1b[2J")
	case MessageTitle:
		c.SetTitle(msg.Text)
	case MessageError:
		_, err = fmt.Fprintf(c.out, "\r\n%s\r\n", msg.Text)
	}
	return err
}

func (c *Console) Inbound() <-chan Message {
	return c.inbound
}

func (c *Console) Size() (uint16, uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cols, c.rows
}

func (c *Console) Done() <-chan struct{} {
	return c.done
}

// Dispose restores the terminal mode. It is safe to call more than once.
func (c *Console) Dispose() {
	c.once.Do(func() {
		close(c.done)
		c.stopWatch()
		c.restore()
	})
}

var _ Surface = (*Console)(nil)
