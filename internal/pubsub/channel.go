// Package pubsub fans session events out to any number of subscribers without letting a slow subscriber stall the
// goroutines that publish.
package pubsub

import (
	"sync"
)

type Sender[T any] interface {
	// Send delivers msg, blocking while the buffer is full. It returns false once the receiving side is closed.
	Send(msg T) bool
	// TrySend is like Send but gives up immediately when the buffer is full.
	TrySend(msg T) (sent bool, open bool)
}

type Receiver[T any] interface {
	Receive() <-chan T
}

type Closer interface {
	Close()
	Closed() <-chan struct{}
}

type SenderCloser[T any] interface {
	Sender[T]
	Closer
}

type ReceiverCloser[T any] interface {
	Receiver[T]
	Closer
}

type Channel[T any] interface {
	Sender[T]
	Receiver[T]
	Closer
}

// channel wraps a primitive `chan` so that it can be closed safely while senders are still using it.
type channel[T any] struct {
	mu      sync.RWMutex
	ch      chan T
	done    chan struct{}
	closed  bool
	waiting sync.WaitGroup
}

func NewChannel[T any](bufSize int) Channel[T] {
	return &channel[T]{
		ch:   make(chan T, bufSize),
		done: make(chan struct{}),
	}
}

func (c *channel[T]) Receive() <-chan T {
	return c.ch
}

// enter registers a sender, unless the channel is already closed.
func (c *channel[T]) enter() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	c.waiting.Add(1)
	return true
}

func (c *channel[T]) Send(msg T) bool {
	if !c.enter() {
		return false
	}
	defer c.waiting.Done()
	select {
	case c.ch <- msg:
		return true
	case <-c.done:
		return false
	}
}

func (c *channel[T]) TrySend(msg T) (bool, bool) {
	if !c.enter() {
		return false, false
	}
	defer c.waiting.Done()
	select {
	case <-c.done:
		return false, false
	default:
	}
	select {
	case c.ch <- msg:
		return true, true
	default:
		return false, true
	}
}

// Close idempotently ends the channel so that all current and future sends fail. Buffered messages can still be
// received.
func (c *channel[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	close(c.done)
	c.waiting.Wait()
	close(c.ch)
	c.closed = true
}

func (c *channel[T]) Closed() <-chan struct{} {
	return c.done
}
