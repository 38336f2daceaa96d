// Package session runs chat requests as independent units, tracking the live ones, announcing their progress and
// recording each one in a history database when it finishes.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/Fortunato28/ninegag2telegram"
	"github.com/Fortunato28/ninegag2telegram/internal/pubsub"
	"github.com/Fortunato28/ninegag2telegram/internal/sync_"
)

var (
	ErrSessionClosed = errors.New("session closed")
)

// Pipeline acquires a video for a message and hands it to f, releasing it afterwards. Satisfied by
// *ninegag2telegram.Pipeline.
type Pipeline interface {
	With(ctx context.Context, message string, f func(v *ninegag2telegram.Video) error, opts ...ninegag2telegram.AcquireOption) error
}

type Config struct {
	Pipeline Pipeline
	Database Database
	Logger   *zap.SugaredLogger
}

type requestsByID = map[ninegag2telegram.RequestID]*Request

type Session struct {
	config    Config
	ctx       context.Context
	ctxCancel context.CancelFunc
	log       *zap.SugaredLogger

	mu      sync.Mutex
	closed  bool
	running sync.WaitGroup

	requests   *sync_.RWMutexed[requestsByID]
	historyErr *sync_.Mutexed[error]
	events     pubsub.Publisher[Event]
}

func New(ctx context.Context, config Config) (*Session, error) {
	if config.Pipeline == nil {
		return nil, errors.New("session needs a pipeline")
	}
	if config.Database == nil {
		config.Database = NilDatabase{}
	}
	log := config.Logger
	if log == nil {
		log = zap.S().Named("session")
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Session{
		config:     config,
		ctx:        ctx,
		ctxCancel:  cancel,
		log:        log,
		requests:   sync_.NewRWMutexed(make(requestsByID)),
		historyErr: sync_.NewMutexed[error](nil),
		events:     pubsub.NewPublisher[Event](),
	}, nil
}

// Subscribe returns a receiver for all future events. It is closed when the Session closes.
func (s *Session) Subscribe() (pubsub.ReceiverCloser[Event], error) {
	return s.events.Subscribe()
}

// SubscribeRequest is like Subscribe, but only receives events for the request with the given id.
func (s *Session) SubscribeRequest(id ninegag2telegram.RequestID) (pubsub.ReceiverCloser[Event], error) {
	ch := pubsub.NewChannel[Event](pubsub.DefaultSubscriberBufSize)
	filtered := pubsub.NewFilteredSender[Event](ch, func(e Event) bool {
		return e.Request().ID() == id
	})
	if err := s.events.AddSubscriber(filtered, true); err != nil {
		return nil, err
	}
	return ch, nil
}

// ListRequests returns the requests that are still running.
func (s *Session) ListRequests() []*Request {
	var list []*Request
	_ = s.requests.RLocked(func(requests *requestsByID) error {
		list = make([]*Request, 0, len(*requests))
		for _, r := range *requests {
			list = append(list, r)
		}
		return nil
	})
	return list
}

func (s *Session) GetRequest(id ninegag2telegram.RequestID) (r *Request) {
	_ = s.requests.RLocked(func(requests *requestsByID) error {
		r = (*requests)[id]
		return nil
	})
	return r
}

// History returns finished requests from the history database.
func (s *Session) History() ([]RequestRecord, error) {
	return s.config.Database.ListRequests()
}

// With handles message in the calling goroutine, returning once the video has been released.
func (s *Session) With(ctx context.Context, message string, f func(v *ninegag2telegram.Video) error, opts ...ninegag2telegram.AcquireOption) error {
	r, err := s.start(message)
	if err != nil {
		return err
	}
	s.run(ctx, r, f, opts)
	return r.err
}

// Submit handles message in a new goroutine. The returned Request reports the result.
func (s *Session) Submit(ctx context.Context, message string, f func(v *ninegag2telegram.Video) error, opts ...ninegag2telegram.AcquireOption) (*Request, error) {
	r, err := s.start(message)
	if err != nil {
		return nil, err
	}
	go s.run(ctx, r, f, opts)
	return r, nil
}

func (s *Session) start(message string) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	r := newRequest(ninegag2telegram.NewRequestID(), message)
	err := s.requests.Locked(func(requests *requestsByID) error {
		if _, ok := (*requests)[r.id]; ok {
			return fmt.Errorf("duplicate request ID %s", r.id)
		}
		(*requests)[r.id] = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.running.Add(1)
	s.log.Debugf("request added: %v", r)
	s.events.Send(RequestStarted{requestEvent{r}})
	return r, nil
}

func (s *Session) run(ctx context.Context, r *Request, f func(v *ninegag2telegram.Video) error, opts []ninegag2telegram.AcquireOption) {
	defer s.running.Done()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	var last ninegag2telegram.State
	observer := func(old ninegag2telegram.State, new ninegag2telegram.State) {
		if new.Stage.IsRunning() || new.Stage == ninegag2telegram.StageReady || new.Stage == ninegag2telegram.StageFailed {
			last = new
		}
		r.state.Set(new)
		s.events.Send(RequestUpdated{requestEvent{r}, old, new})
	}
	opts = append(opts, ninegag2telegram.WithRequestID(r.id), ninegag2telegram.WithObserver(observer))
	if f == nil {
		f = func(*ninegag2telegram.Video) error { return nil }
	}
	err := s.config.Pipeline.With(ctx, r.message, f, opts...)

	record := r.record(last, err)
	if writeErr := s.config.Database.WriteRequest(&record); writeErr != nil {
		s.log.Errorw("failed to record request", "request_id", r.id, "error", writeErr)
		_ = s.historyErr.Locked(func(result *error) error {
			*result = multierror.Append(*result, fmt.Errorf("request %s: %w", r.id, writeErr))
			return nil
		})
	}

	_ = s.requests.Locked(func(requests *requestsByID) error {
		delete(*requests, r.id)
		return nil
	})
	r.err = err
	s.events.Send(RequestFinished{requestEvent{r}, record, err})
	s.log.Debugw("request finished", "request_id", r.id, "stage", record.Stage, "error", err)
	r.done.Set()
}

// Close cancels all running requests and waits for them to release their videos. The returned error collects any
// failures to write request history.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.ctxCancel()
	s.running.Wait()
	s.events.Close()
	return s.historyErr.Get()
}
