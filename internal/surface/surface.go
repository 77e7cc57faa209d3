// Package surface defines the display surface the session host relays to, and
// the local console implementation of it. The browser panel lives in package ws.
package surface

// Surface is where a session is displayed and where user input comes from.
// Send carries host -> surface messages; Inbound carries surface -> host
// messages in arrival order.
type Surface interface {
	Title() string
	SetTitle(title string)

	// Reveal brings the surface to the user's attention.
	Reveal()
	Visible() bool

	Send(msg Message) error
	Inbound() <-chan Message

	// Size returns the last size reported by the surface, or zeros if unknown.
	Size() (cols, rows uint16)

	// Done is closed once the surface is disposed.
	Done() <-chan struct{}
	Dispose()
}

// Factory creates a surface with the given title.
type Factory func(title string) (Surface, error)
