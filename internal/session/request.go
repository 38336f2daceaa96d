package session

import (
	"fmt"
	"time"

	"github.com/Fortunato28/ninegag2telegram"
	"github.com/Fortunato28/ninegag2telegram/internal/sync_"
)

// Request is one message being handled by the Session.
type Request struct {
	id        ninegag2telegram.RequestID
	message   string
	startedAt time.Time

	state *sync_.RWMutexed[ninegag2telegram.State]
	done  sync_.Event
	err   error
}

func newRequest(id ninegag2telegram.RequestID, message string) *Request {
	return &Request{
		id:        id,
		message:   message,
		startedAt: time.Now(),
		state: sync_.NewRWMutexed(ninegag2telegram.State{
			ID:      id,
			Message: message,
			Stage:   ninegag2telegram.StageStart,
		}),
	}
}

func (r *Request) String() string {
	s := r.State()
	return fmt.Sprintf("Request{ID:%q, Message:%q, Stage:%q}", r.id, r.message, s.Stage)
}

func (r *Request) ID() ninegag2telegram.RequestID {
	return r.id
}

func (r *Request) Message() string {
	return r.message
}

func (r *Request) StartedAt() time.Time {
	return r.startedAt
}

// State is the latest known state of the request's Video.
func (r *Request) State() ninegag2telegram.State {
	return r.state.Get()
}

// Done is closed once the request has finished and its Video is released.
func (r *Request) Done() <-chan struct{} {
	return r.done.Wait()
}

// Err is the result of the request, valid once Done is closed.
func (r *Request) Err() error {
	<-r.Done()
	return r.err
}

// record builds the history entry from the last state seen before release.
func (r *Request) record(last ninegag2telegram.State, err error) RequestRecord {
	record := RequestRecord{
		ID:           r.id,
		Message:      r.message,
		CanonicalURL: last.CanonicalURL,
		Filename:     last.Filename,
		Bytes:        last.Bytes,
		Stage:        last.Stage,
		FailedStage:  last.FailedStage,
		StartedAt:    r.startedAt,
		FinishedAt:   time.Now(),
	}
	if err != nil {
		record.Error = err.Error()
		if !record.Stage.IsTerminal() {
			record.Stage = ninegag2telegram.StageFailed
		}
	}
	return record
}
