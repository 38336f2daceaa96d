package async

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRun(t *testing.T) {
	assert := assert.New(t)
	a := <-Run(func() int {
		return 123
	})
	assert.Equal(a, 123)
}

func TestRunUnreceived(t *testing.T) {
	done := make(chan struct{})
	_ = Run(func() int {
		defer close(done)
		return 1
	})
	// The goroutine must be able to finish without a receiver
	<-done
}
