package types

import (
	"context"
	"errors"
	"sync"

	"golang.design/x/chann"
)

var ErrMailboxClosed = errors.New("mailbox is closed")

// Mailbox is an unbounded (unless chann.Cap is passed) queue between a producer and a single consumer loop.
// Send and Close may be called concurrently, a Send that loses the race returns ErrMailboxClosed.
type Mailbox[T any] struct {
	mut    sync.RWMutex
	closed bool
	ch     *chann.Chann[T]
}

func NewMailbox[T any](opts ...chann.Opt) *Mailbox[T] {
	return &Mailbox[T]{
		ch: chann.New[T](opts...),
	}
}

func (m *Mailbox[T]) Send(ctx context.Context, data T) error {
	// The read lock keeps Close from closing the channel under an in flight send.
	m.mut.RLock()
	defer m.mut.RUnlock()
	if m.closed {
		return ErrMailboxClosed
	}
	select {
	case <-ctx.Done():
		return errors.New("send cancelled")
	case m.ch.In() <- data:
		return nil
	}
}

func (m *Mailbox[T]) ReceiveC() <-chan T {
	return m.ch.Out()
}

func (m *Mailbox[T]) AproxLen() int {
	return m.ch.Len()
}

// Close stops accepting new data, anything already queued can still be received. It waits for sends that are
// already in progress.
func (m *Mailbox[T]) Close() {
	m.mut.Lock()
	defer m.mut.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.ch.Close()
}
