package ninegag2telegram

import (
	"errors"
	"fmt"
	"testing"

	assert_ "github.com/stretchr/testify/assert"
)

func TestStage(t *testing.T) {
	assert := assert_.New(t)
	for _, s := range []Stage{StageRewriting, StageFetching, StagePersisting, StageTranscoding} {
		assert.True(s.IsRunning(), s)
		assert.False(s.IsTerminal(), s)
	}
	for _, s := range []Stage{StageReady, StageFailed, StageReleased} {
		assert.False(s.IsRunning(), s)
		assert.True(s.IsTerminal(), s)
	}
	assert.False(StageStart.IsRunning())
	assert.False(StageStart.IsTerminal())
}

func TestStageError(t *testing.T) {
	assert := assert_.New(t)
	cause := errors.New("connection refused")
	err := fmt.Errorf("wrapped: %w", &StageError{Stage: StageFetching, Err: cause})

	assert.ErrorIs(err, cause)
	stage, ok := FailedStage(err)
	assert.True(ok)
	assert.Equal(StageFetching, stage)
	assert.Equal("wrapped: fetching: connection refused", err.Error())

	_, ok = FailedStage(cause)
	assert.False(ok)
}

func TestParseFilenameSource(t *testing.T) {
	assert := assert_.New(t)
	for in, want := range map[string]FilenameSource{
		"":          FilenameFromRequest,
		"request":   FilenameFromRequest,
		" Response": FilenameFromResponse,
	} {
		got, err := ParseFilenameSource(in)
		assert.NoError(err)
		assert.Equal(want, got)
	}
	_, err := ParseFilenameSource("header")
	assert.Error(err)
}
