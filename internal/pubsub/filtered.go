package pubsub

// NewFilteredSender wraps s so that only messages accepted by f are passed on. Rejected messages still count as sent.
func NewFilteredSender[T any](s SenderCloser[T], f func(T) bool) SenderCloser[T] {
	return &filteredSender[T]{
		SenderCloser: s,
		filter:       f,
	}
}

type filteredSender[T any] struct {
	SenderCloser[T]
	filter func(T) bool
}

func (s *filteredSender[T]) closed() bool {
	select {
	case <-s.Closed():
		return true
	default:
		return false
	}
}

func (s *filteredSender[T]) Send(msg T) bool {
	if s.closed() {
		return false
	}
	if s.filter == nil || s.filter(msg) {
		return s.SenderCloser.Send(msg)
	}
	return true
}

func (s *filteredSender[T]) TrySend(msg T) (bool, bool) {
	if s.closed() {
		return false, false
	}
	if s.filter == nil || s.filter(msg) {
		return s.SenderCloser.TrySend(msg)
	}
	return true, true
}
