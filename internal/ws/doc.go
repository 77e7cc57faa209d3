// Package ws implements the browser display surface: a Panel that any number
// of xterm.js tabs attach to over WebSocket.
//
// The package implements:
//   - Hub: the set of WebSocket clients attached to the panel
//   - Panel: the surface.Surface the session host relays to
//   - Handler: upgrades HTTP requests and runs the read/write pumps
//
// Output is broadcast to every client in order. A client that attaches late
// first receives the scrollback as a single history message. Incoming input and
// resize messages are forwarded to the host in arrival order.
package ws
