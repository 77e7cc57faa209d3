package surface

import "unicode/utf8"

// MessageType identifies a message exchanged between the host and a surface.
type MessageType string

const (
	// Surface -> host
	MessageInput  MessageType = "input"
	MessageResize MessageType = "resize"
	MessagePing   MessageType = "ping"
	MessageClose  MessageType = "close"

	// Host -> surface
	MessageOutput  MessageType = "output"
	MessageClear   MessageType = "clear"
	MessageHistory MessageType = "history"
	MessageTitle   MessageType = "title"
	MessageReveal  MessageType = "reveal"
	MessageExit    MessageType = "exit"
	MessageError   MessageType = "error"
	MessagePong    MessageType = "pong"
)

// Message is the unit of the host/surface protocol. Text carries raw terminal
// bytes for output, history and input, and a human readable string otherwise.
type Message struct {
	Type MessageType `json:"type"`
	Text string      `json:"text,omitempty"`
	Cols uint16      `json:"cols,omitempty"`
	Rows uint16      `json:"rows,omitempty"`
	Code *int        `json:"code,omitempty"`
}

// Output wraps process output.
func Output(data []byte) Message {
	return Message{Type: MessageOutput, Text: string(data)}
}

// Clear asks the surface to wipe its screen.
func Clear() Message {
	return Message{Type: MessageClear}
}

// Title announces a new surface title.
func Title(title string) Message {
	return Message{Type: MessageTitle, Text: title}
}

// Exit reports the process exit code.
func Exit(code int) Message {
	return Message{Type: MessageExit, Code: &code}
}

// Error reports a failure the user should see.
func Error(text string) Message {
	return Message{Type: MessageError, Text: text}
}

// UTF8Joiner holds back an incomplete trailing UTF-8 sequence so chunk
// boundaries from the PTY never split a rune. JSON encoding would otherwise
// replace each half with U+FFFD.
type UTF8Joiner struct {
	pending []byte
}

// Next returns the longest prefix of pending+p that does not end in a
// truncated rune and keeps the remainder for the following call.
func (j *UTF8Joiner) Next(p []byte) []byte {
	data := p
	if len(j.pending) > 0 {
		data = append(j.pending, p...)
		j.pending = nil
	}

	cut := len(data)
	// A rune is at most utf8.UTFMax bytes; only the tail can be incomplete.
	for i := len(data) - 1; i >= 0 && i >= len(data)-utf8.UTFMax; i-- {
		if utf8.RuneStart(data[i]) {
			if !utf8.FullRune(data[i:]) {
				cut = i
			}
			break
		}
	}

	if cut < len(data) {
		j.pending = append([]byte(nil), data[cut:]...)
	}
	return data[:cut]
}

// Flush returns whatever is still held back.
func (j *UTF8Joiner) Flush() []byte {
	p := j.pending
	j.pending = nil
	return p
}
