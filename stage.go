package ninegag2telegram

import (
	"errors"
	"fmt"

	"github.com/Fortunato28/ninegag2telegram/generic"
)

var (
	// ErrPersist is returned when fetched bytes cannot be written to disk.
	ErrPersist = errors.New("cannot persist video")
	// ErrCleanup marks a failure to delete a file. It is logged, never returned as a request result.
	ErrCleanup = errors.New("cannot clean up video")
)

// Stage is where a Video is in its lifecycle.
type Stage string

const (
	StageStart       Stage = "start"
	StageRewriting   Stage = "rewriting"
	StageFetching    Stage = "fetching"
	StagePersisting  Stage = "persisting"
	StageTranscoding Stage = "transcoding"
	StageReady       Stage = "ready"
	StageFailed      Stage = "failed"
	StageReleased    Stage = "released"
)

var runningStages = generic.NewSet(
	StageRewriting,
	StageFetching,
	StagePersisting,
	StageTranscoding,
)

// IsRunning returns true while some stage of the pipeline is still working on the Video.
func (s Stage) IsRunning() bool {
	return runningStages.Contains(s)
}

// IsTerminal returns true for stages a Video never leaves except by being released.
func (s Stage) IsTerminal() bool {
	return s == StageReady || s == StageFailed || s == StageReleased
}

// StageError is the failure of one pipeline stage. errors.Is sees through it to the underlying cause.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// FailedStage returns the stage at which err originated, if err came from the pipeline.
func FailedStage(err error) (Stage, bool) {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage, true
	}
	return "", false
}
