package types

import (
	"context"

	"golang.design/x/chann"
)

// SyncMailbox is used to synchronously send data, and wait for it to process before returning.
type SyncMailbox[T, R any] struct {
	mbx *chann.Chann[*Callback[T, R]]
}

func NewSyncMailbox[T, R any](opts ...chann.Opt) *SyncMailbox[T, R] {
	return &SyncMailbox[T, R]{
		mbx: chann.New[*Callback[T, R]](opts...),
	}
}

func (sm *SyncMailbox[T, R]) Close() {
	sm.mbx.Close()
}

func (sm *SyncMailbox[T, R]) ReceiveC() <-chan *Callback[T, R] {
	return sm.mbx.Out()
}

// Send blocks until the receiver calls Notify or the context is done.
func (sm *SyncMailbox[T, R]) Send(ctx context.Context, value T) (R, error) {
	// Buffered so a late Notify after a cancelled Send never blocks the receiver.
	done := make(chan callbackResult[R], 1)
	select {
	case <-ctx.Done():
		return Zero[R](), ctx.Err()
	case sm.mbx.In() <- &Callback[T, R]{Value: value, done: done}:
	}
	select {
	case <-ctx.Done():
		return Zero[R](), ctx.Err()
	case result := <-done:
		return result.response, result.err
	}
}

type Callback[T any, R any] struct {
	Value T
	done  chan callbackResult[R]
}

type callbackResult[R any] struct {
	err      error
	response R
}

// Notify must be called to return the synchronous call.
func (c *Callback[T, R]) Notify(response R, err error) {
	c.done <- callbackResult[R]{
		err:      err,
		response: response,
	}
}

func Zero[T any]() T {
	var zero T
	return zero
}
