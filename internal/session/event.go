package session

import "github.com/Fortunato28/ninegag2telegram"

type Event interface {
	// The Request this event relates to.
	Request() *Request
}

type requestEvent struct {
	request *Request
}

func (e requestEvent) Request() *Request {
	return e.request
}

type RequestStarted struct {
	requestEvent
}

type RequestUpdated struct {
	requestEvent
	OldState ninegag2telegram.State
	NewState ninegag2telegram.State
}

type RequestFinished struct {
	requestEvent
	Record RequestRecord
	Err    error
}
