package session

import (
	"time"

	"github.com/Fortunato28/ninegag2telegram"
)

// RequestRecord is what is remembered about a request once it has finished. It never refers to files, which are gone
// by the time it is written.
type RequestRecord struct {
	ID           ninegag2telegram.RequestID `json:"id"`
	Message      string                     `json:"message"`
	CanonicalURL string                     `json:"canonical_url,omitempty"`
	Filename     string                     `json:"filename,omitempty"`
	Bytes        int                        `json:"bytes,omitempty"`
	// Stage is the last stage before release: ready or failed.
	Stage       ninegag2telegram.Stage `json:"stage"`
	FailedStage ninegag2telegram.Stage `json:"failed_stage,omitempty"`
	Error       string                 `json:"error,omitempty"`
	StartedAt   time.Time              `json:"started_at"`
	FinishedAt  time.Time              `json:"finished_at"`
}

func (r RequestRecord) Succeeded() bool {
	return r.Error == ""
}

func (r RequestRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

type Database interface {
	// ListRequests returns recorded requests, oldest first.
	ListRequests() ([]RequestRecord, error)
	WriteRequest(*RequestRecord) error
}

type NilDatabase struct{}

func (d NilDatabase) ListRequests() ([]RequestRecord, error) {
	return nil, nil
}

func (d NilDatabase) WriteRequest(_ *RequestRecord) error {
	return nil
}
