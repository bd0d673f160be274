// Package notifications defines desktop notification payloads and senders.
package notifications

// Payload is a user-facing notification.
type Payload struct {
	Title   string
	Content string
}

// Sender delivers notifications through a platform backend.
type Sender interface {
	Send(payload Payload)
}

// SenderFunc adapts a plain function to Sender.
type SenderFunc func(Payload)

func (f SenderFunc) Send(payload Payload) {
	f(payload)
}
