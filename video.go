package ninegag2telegram

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/Fortunato28/ninegag2telegram/download"
	"github.com/Fortunato28/ninegag2telegram/generic"
	"github.com/Fortunato28/ninegag2telegram/internal/sync_"
)

type RequestID string

func NewRequestID() RequestID {
	return RequestID(generic.Unwrap(uuid.NewRandom()).String())
}

func (id RequestID) String() string {
	return string(id)
}

// State is a snapshot of a Video, suitable for events and history.
type State struct {
	ID           RequestID
	Message      string
	CanonicalURL string
	Filename     string
	Bytes        int
	Stage        Stage
	FailedStage  Stage
	Error        string
}

// StateObserver is told about every stage transition of a Video.
type StateObserver func(old State, new State)

// Video owns one downloaded (and possibly transcoded) file for the lifetime of a request. The file lives in a
// scratch directory private to the Video. Release must be called once the Video is no longer needed, whether or not
// it became ready.
type Video struct {
	mu       sync.Mutex
	state    State
	path     string
	err      *StageError
	scratch  *download.Scratch
	released sync_.Event
	observer StateObserver
	log      *zap.SugaredLogger
}

func newVideo(id RequestID, message string, observer StateObserver, log *zap.SugaredLogger) *Video {
	return &Video{
		state: State{
			ID:      id,
			Message: message,
			Stage:   StageStart,
		},
		observer: observer,
		log:      log,
	}
}

func (v *Video) String() string {
	s := v.State()
	return fmt.Sprintf("Video{ID:%q, Filename:%q, Stage:%q}", s.ID, s.Filename, s.Stage)
}

func (v *Video) ID() RequestID {
	return v.State().ID
}

// Filename is the name the file should be delivered under.
func (v *Video) Filename() string {
	return v.State().Filename
}

// Path is the local file backing the Video, empty before persisting and after release.
func (v *Video) Path() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.path
}

func (v *Video) Stage() Stage {
	return v.State().Stage
}

// Err returns the failure that stopped the pipeline, or nil.
func (v *Video) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.err == nil {
		return nil
	}
	return v.err
}

func (v *Video) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Release deletes the backing file and scratch directory. Only the first call does anything; failures are logged.
func (v *Video) Release() {
	if !v.released.Set() {
		return
	}

	v.mu.Lock()
	path, scratch := v.path, v.scratch
	v.mu.Unlock()

	var result error
	if scratch != nil {
		if path != "" {
			if err := scratch.Remove(path); err != nil {
				result = multierror.Append(result, err)
			}
		}
		if err := scratch.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if result != nil {
		v.log.Warnw("failed to release video", "path", path, "error", fmt.Errorf("%w: %v", ErrCleanup, result))
	} else if path != "" {
		v.log.Debugw("released video", "path", path)
	}

	v.update(func(s *State) {
		s.Stage = StageReleased
	}, func() {
		v.path = ""
		v.scratch = nil
	})
}

func (v *Video) enter(stage Stage) {
	v.update(func(s *State) {
		s.Stage = stage
	}, nil)
}

func (v *Video) fail(stage Stage, err error) *StageError {
	stageErr := &StageError{Stage: stage, Err: err}
	v.update(func(s *State) {
		s.Stage = StageFailed
		s.FailedStage = stage
		s.Error = err.Error()
	}, func() {
		v.err = stageErr
	})
	return stageErr
}

func (v *Video) setFile(path string) {
	v.update(func(s *State) {
		s.Filename = filepath.Base(path)
	}, func() {
		v.path = path
	})
}

// update applies f to the state and g (if any) to the rest of the Video under the lock, then notifies the observer
// outside of it.
func (v *Video) update(f func(s *State), g func()) {
	v.mu.Lock()
	old := v.state
	f(&v.state)
	if g != nil {
		g()
	}
	current := v.state
	v.mu.Unlock()
	if v.observer != nil && old != current {
		v.observer(old, current)
	}
}
