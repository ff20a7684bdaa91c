// Package pipeline drains the durable queues through ordered handler
// chains. Each runner owns one queue; a claimed entry passes through every
// handler in order and is finished, rejected, or shunted.
package pipeline

import (
	"context"
	"errors"

	"github.com/trevor/mailman3/message"
	"github.com/trevor/mailman3/queue"
)

// ErrRejected signals that a handler intentionally refused the entry. The
// runner logs and discards the entry instead of shunting it.
var ErrRejected = errors.New("message rejected")

// Handler is one step in a runner's chain. Process sees the claimed entry
// with its parsed message and may mutate the message in place; later
// handlers observe the mutation. Any error other than ErrRejected shunts
// the entry.
type Handler interface {
	Name() string
	Process(ctx context.Context, entry *queue.Entry, msg *message.Message) error
}
