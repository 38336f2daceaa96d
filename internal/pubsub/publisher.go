package pubsub

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/Fortunato28/ninegag2telegram/generic"
	"github.com/Fortunato28/ninegag2telegram/internal/sync_"
)

const (
	DefaultPublisherBufSize  = 16
	DefaultSubscriberBufSize = 16
)

var (
	ErrPublisherClosed = errors.New("publisher closed")
)

type Publisher[T any] interface {
	SenderCloser[T]
	// AddSubscriber registers s. If closeOnClose is set, s is closed along with the publisher.
	AddSubscriber(s SenderCloser[T], closeOnClose bool) error
	Subscribe() (ReceiverCloser[T], error)
	SubscribeBufSize(bufSize int) (ReceiverCloser[T], error)
	// Dropped counts messages that a subscriber missed because its buffer was full.
	Dropped() uint64
}

type subscriber[T any] struct {
	SenderCloser[T]
	closeOnClose bool
}

// publisher delivers every message to each subscriber in order. A subscriber whose buffer is full misses the message
// instead of blocking the others; closed subscribers are forgotten.
type publisher[T any] struct {
	mu          sync.Mutex
	ch          Channel[T]
	running     sync.WaitGroup
	pending     sync.WaitGroup
	subscribers *sync_.Mutexed[generic.Set[*subscriber[T]]]
	dropped     atomic.Uint64
	closed      bool
}

func NewPublisher[T any]() Publisher[T] {
	return NewPublisherBufSize[T](DefaultPublisherBufSize)
}

func NewPublisherBufSize[T any](bufSize int) Publisher[T] {
	p := &publisher[T]{
		ch:          NewChannel[T](bufSize),
		subscribers: sync_.NewMutexed[generic.Set[*subscriber[T]]](generic.NewSet[*subscriber[T]]()),
	}
	p.running.Add(1)
	go func() {
		defer p.running.Done()
		for v := range p.ch.Receive() {
			p.deliver(v)
			p.pending.Done()
		}
	}()
	return p
}

func (p *publisher[T]) deliver(msg T) {
	// Copy the subscribers so the lock isn't held while sending
	var subscribers []*subscriber[T]
	_ = p.subscribers.Locked(func(s *generic.Set[*subscriber[T]]) error {
		subscribers = (*s).ToSlice()
		return nil
	})
	for _, s := range subscribers {
		sent, open := s.TrySend(msg)
		if !open {
			p.unsubscribe(s)
		} else if !sent {
			p.dropped.Add(1)
		}
	}
}

// Send queues msg for all subscribers. It only blocks while the publisher's own buffer is full.
func (p *publisher[T]) Send(msg T) bool {
	p.pending.Add(1)
	if ok := p.ch.Send(msg); !ok {
		p.pending.Done()
		return false
	}
	return true
}

func (p *publisher[T]) TrySend(msg T) (bool, bool) {
	p.pending.Add(1)
	sent, open := p.ch.TrySend(msg)
	if !sent {
		p.pending.Done()
	}
	return sent, open
}

func (p *publisher[T]) Subscribe() (ReceiverCloser[T], error) {
	return p.SubscribeBufSize(DefaultSubscriberBufSize)
}

func (p *publisher[T]) SubscribeBufSize(bufSize int) (ReceiverCloser[T], error) {
	s := NewChannel[T](bufSize)
	if err := p.AddSubscriber(s, true); err != nil {
		return nil, err
	}
	return s, nil
}

func (p *publisher[T]) AddSubscriber(s SenderCloser[T], closeOnClose bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPublisherClosed
	}
	return p.subscribers.Locked(func(subscribers *generic.Set[*subscriber[T]]) error {
		(*subscribers).Add(&subscriber[T]{SenderCloser: s, closeOnClose: closeOnClose})
		return nil
	})
}

func (p *publisher[T]) unsubscribe(s *subscriber[T]) {
	_ = p.subscribers.Locked(func(subscribers *generic.Set[*subscriber[T]]) error {
		(*subscribers).Remove(s)
		return nil
	})
}

func (p *publisher[T]) Dropped() uint64 {
	return p.dropped.Load()
}

// Close idempotently shuts down the publisher after delivering everything already sent.
func (p *publisher[T]) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.ch.Close()
	p.pending.Wait()
	p.running.Wait()
	var subscribers []*subscriber[T]
	_ = p.subscribers.Locked(func(s *generic.Set[*subscriber[T]]) error {
		subscribers = (*s).ToSlice()
		(*s).Clear()
		return nil
	})
	for _, s := range subscribers {
		if s.closeOnClose {
			s.Close()
		}
	}
	p.closed = true
}

func (p *publisher[T]) Closed() <-chan struct{} {
	return p.ch.Closed()
}
