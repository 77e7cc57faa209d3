package ws

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/nullshell/nullshell/internal/buffer"
	"github.com/nullshell/nullshell/internal/model"
	"github.com/nullshell/nullshell/internal/surface"
)

const (
	// DefaultScrollback is the number of output bytes replayed to late clients.
	DefaultScrollback = 256 * 1024

	// DefaultDetachGrace is how long a panel survives without clients.
	DefaultDetachGrace = 30 * time.Second

	inboundBuffer = 64
)

// PanelOptions configures a Panel.
type PanelOptions struct {
	// Scrollback is the history ring capacity in bytes.
	Scrollback int
	// DetachGrace is how long the panel waits after the last client leaves
	// before disposing itself. A negative value disables the timeout.
	DetachGrace time.Duration
}

// Panel is the WebSocket-backed display surface.
type Panel struct {
	hub     *Hub
	history *buffer.Ring
	grace   time.Duration

	// sendMu orders outgoing messages and keeps attach/history atomic with
	// respect to output.
	sendMu sync.Mutex
	joiner surface.UTF8Joiner

	mu      sync.RWMutex
	title   string
	visible bool
	cols    uint16
	rows    uint16
	idle    *time.Timer

	inbound  chan surface.Message
	done     chan struct{}
	disposed sync.Once
}

// NewPanel creates a panel with no clients attached.
func NewPanel(title string, opts PanelOptions) *Panel {
	if opts.Scrollback <= 0 {
		opts.Scrollback = DefaultScrollback
	}

	p := &Panel{
		hub:     NewHub(),
		history: buffer.NewRing(opts.Scrollback),
		grace:   opts.DetachGrace,
		title:   title,
		inbound: make(chan surface.Message, inboundBuffer),
		done:    make(chan struct{}),
	}
	p.hub.SetOnMessage(p.receive)
	p.hub.SetOnEmpty(p.lastClientLeft)
	return p
}

// NewPanelFactory returns a surface.Factory creating panels with opts.
func NewPanelFactory(opts PanelOptions) surface.Factory {
	return func(title string) (surface.Surface, error) {
		return NewPanel(title, opts), nil
	}
}

// Title returns the panel title.
func (p *Panel) Title() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.title
}

// SetTitle updates the title and notifies attached clients.
func (p *Panel) SetTitle(title string) {
	p.mu.Lock()
	p.title = title
	p.mu.Unlock()

	if err := p.Send(surface.Title(title)); err != nil {
		log.Printf("Panel: failed to send title: %v", err)
	}
}

// Reveal marks the panel visible and asks clients to focus it.
func (p *Panel) Reveal() {
	p.mu.Lock()
	p.visible = true
	title := p.title
	p.mu.Unlock()

	if err := p.Send(surface.Message{Type: surface.MessageReveal, Text: title}); err != nil {
		log.Printf("Panel: failed to send reveal: %v", err)
	}
}

// Visible reports whether the panel has been revealed and not disposed.
func (p *Panel) Visible() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.visible
}

// Size returns the most recent size reported by a client.
func (p *Panel) Size() (cols, rows uint16) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cols, p.rows
}

// Inbound returns input and resize messages from clients.
func (p *Panel) Inbound() <-chan surface.Message {
	return p.inbound
}

// Done is closed when the panel is disposed.
func (p *Panel) Done() <-chan struct{} {
	return p.done
}

// ClientCount returns the number of attached clients.
func (p *Panel) ClientCount() int {
	return p.hub.ClientCount()
}

// History returns the current scrollback.
func (p *Panel) History() []byte {
	return p.history.Bytes()
}

// Send broadcasts a host message to every attached client. Output is kept in
// the scrollback; clear resets it.
func (p *Panel) Send(msg surface.Message) error {
	if p.isDisposed() {
		return model.ErrSurfaceDisposed
	}

	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	switch msg.Type {
	case surface.MessageOutput:
		data := p.joiner.Next([]byte(msg.Text))
		if len(data) == 0 {
			return nil
		}
		p.history.Write(data)
		msg.Text = string(data)
	case surface.MessageClear:
		p.joiner.Flush()
		p.history.Reset()
	case surface.MessageExit, surface.MessageError:
		if rest := p.joiner.Flush(); len(rest) > 0 {
			p.history.Write(rest)
			if err := p.broadcast(surface.Output(rest)); err != nil {
				return err
			}
		}
	}

	return p.broadcast(msg)
}

func (p *Panel) broadcast(msg surface.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", msg.Type, err)
	}
	p.hub.Broadcast(data)
	return nil
}

// Attach registers a client and sends it the current title and scrollback.
// Output produced concurrently is delivered after the history, never before.
func (p *Panel) Attach(client *Client) error {
	if p.isDisposed() {
		return model.ErrSurfaceDisposed
	}

	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	p.mu.Lock()
	if p.idle != nil {
		p.idle.Stop()
		p.idle = nil
	}
	title := p.title
	p.mu.Unlock()

	p.hub.Register(client)

	if data, err := json.Marshal(surface.Title(title)); err == nil {
		client.Send(data)
	}

	history := trimPartialRune(p.history.Bytes())
	if len(history) == 0 {
		return nil
	}
	data, err := json.Marshal(surface.Message{Type: surface.MessageHistory, Text: string(history)})
	if err != nil {
		return fmt.Errorf("marshal history message: %w", err)
	}
	client.Send(data)
	return nil
}

// Detach removes a client. The grace timer starts when it was the last one.
func (p *Panel) Detach(client *Client) {
	p.hub.Unregister(client)
}

// Dispose disconnects every client and closes Done. It is safe to call more
// than once.
func (p *Panel) Dispose() {
	p.disposed.Do(func() {
		p.mu.Lock()
		p.visible = false
		if p.idle != nil {
			p.idle.Stop()
			p.idle = nil
		}
		p.mu.Unlock()

		close(p.done)
		p.hub.Close()
	})
}

func (p *Panel) isDisposed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// receive handles a message read from a client.
func (p *Panel) receive(client *Client, msg *surface.Message) {
	switch msg.Type {
	case surface.MessagePing:
		if data, err := json.Marshal(surface.Message{Type: surface.MessagePong}); err == nil {
			client.Send(data)
		}
	case surface.MessageClose:
		p.Dispose()
	case surface.MessageResize:
		if msg.Cols == 0 || msg.Rows == 0 {
			return
		}
		p.mu.Lock()
		p.cols, p.rows = msg.Cols, msg.Rows
		p.mu.Unlock()
		p.push(*msg)
	case surface.MessageInput:
		if msg.Text == "" {
			return
		}
		p.push(*msg)
	}
}

// push blocks until the host takes msg, so a slow host applies backpressure
// to the client's read pump instead of reordering input.
func (p *Panel) push(msg surface.Message) {
	select {
	case p.inbound <- msg:
	case <-p.done:
	}
}

func (p *Panel) lastClientLeft() {
	if p.grace < 0 {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.idle != nil {
		p.idle.Stop()
	}
	p.idle = time.AfterFunc(p.grace, func() {
		if p.hub.ClientCount() == 0 {
			log.Printf("Panel: no clients for %s, disposing", p.grace)
			p.Dispose()
		}
	})
}

// trimPartialRune drops continuation bytes left at the start of the ring after
// the oldest output was overwritten.
func trimPartialRune(b []byte) []byte {
	for i := 0; i < len(b) && i < utf8.UTFMax; i++ {
		if utf8.RuneStart(b[i]) {
			return b[i:]
		}
	}
	return b
}

var _ surface.Surface = (*Panel)(nil)
