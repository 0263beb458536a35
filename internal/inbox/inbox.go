// Package inbox defines the stream of inbound operator messages and the
// sources that produce it.
package inbox

import "context"

// Source names attached to messages.
const (
	SourceTelegram = "telegram"
	SourceFile     = "file"
)

// Message is one inbound operator message.
type Message struct {
	ChatID string
	Text   string
	Source string
}

// Handler consumes a message. It is called sequentially by a single Source.
type Handler func(ctx context.Context, msg Message)

// Source produces messages until ctx is done or it fails.
type Source interface {
	Listen(ctx context.Context, handle Handler) error
}
