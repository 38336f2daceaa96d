package ninegag2telegram

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/Fortunato28/ninegag2telegram/download"
	"github.com/Fortunato28/ninegag2telegram/fetch"
	"github.com/Fortunato28/ninegag2telegram/rewrite"
	"github.com/Fortunato28/ninegag2telegram/transcode"
)

// Fetcher is the network side of the pipeline, satisfied by *fetch.Fetcher.
type Fetcher interface {
	FetchWithProgress(ctx context.Context, target rewrite.CanonicalURL, progress fetch.ProgressFunc) (*fetch.Payload, error)
}

// Transcoder is the encoding side of the pipeline, satisfied by *transcode.Transcoder.
type Transcoder interface {
	EnsureMP4(ctx context.Context, path string) (transcode.Outcome, error)
}

// Pipeline turns chat messages into ready-to-upload videos: rewrite, fetch, persist, transcode. A Pipeline has no
// per-request state and may be shared by any number of goroutines.
type Pipeline struct {
	cfg        Config
	fetcher    Fetcher
	transcoder Transcoder
	log        *zap.SugaredLogger
}

type PipelineOption func(*Pipeline)

func WithPipelineLogger(logger *zap.SugaredLogger) PipelineOption {
	return func(p *Pipeline) {
		p.log = logger
	}
}

func NewPipeline(cfg Config, fetcher Fetcher, transcoder Transcoder, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		cfg:        cfg,
		fetcher:    fetcher,
		transcoder: transcoder,
		log:        zap.S().Named("pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type acquireConfig struct {
	id       RequestID
	observer StateObserver
	progress fetch.ProgressFunc
}

type AcquireOption func(*acquireConfig)

// WithRequestID sets the id of the request instead of generating one.
func WithRequestID(id RequestID) AcquireOption {
	return func(c *acquireConfig) {
		c.id = id
	}
}

func WithObserver(observer StateObserver) AcquireOption {
	return func(c *acquireConfig) {
		c.observer = observer
	}
}

func WithProgress(progress fetch.ProgressFunc) AcquireOption {
	return func(c *acquireConfig) {
		c.progress = progress
	}
}

// Acquire runs the whole pipeline for message. The returned Video is never nil and must always be released: on
// failure it may still own a file (e.g. a source the encoder rejected), which is kept until Release for inspection.
// A non-nil error is a *StageError.
func (p *Pipeline) Acquire(ctx context.Context, message string, opts ...AcquireOption) (*Video, error) {
	config := acquireConfig{}
	for _, opt := range opts {
		opt(&config)
	}
	if config.id == "" {
		config.id = NewRequestID()
	}
	log := p.log.With("request_id", config.id)
	v := newVideo(config.id, message, config.observer, log)

	if err := p.run(ctx, v, config); err != nil {
		log.Infow("video pipeline failed", "error", err)
		return v, err
	}
	log.Infow("video ready", "filename", v.Filename())
	return v, nil
}

// With acquires a video for message, runs f with it if acquisition succeeded, and releases the video on every path.
func (p *Pipeline) With(ctx context.Context, message string, f func(v *Video) error, opts ...AcquireOption) error {
	v, err := p.Acquire(ctx, message, opts...)
	defer v.Release()
	if err != nil {
		return err
	}
	return f(v)
}

func (p *Pipeline) run(ctx context.Context, v *Video, config acquireConfig) error {
	v.enter(StageRewriting)
	canonical, err := p.cfg.Rewrite.Rewrite(v.State().Message)
	if err != nil {
		return v.fail(StageRewriting, err)
	}
	v.update(func(s *State) {
		s.CanonicalURL = canonical.String()
	}, nil)

	v.enter(StageFetching)
	if err := ctx.Err(); err != nil {
		return v.fail(StageFetching, fmt.Errorf("%w: %v", fetch.ErrNetwork, err))
	}
	payload, err := p.fetcher.FetchWithProgress(ctx, canonical, config.progress)
	if err != nil {
		return v.fail(StageFetching, err)
	}
	if !payload.IsVideo() {
		v.log.Warnw("fetched payload does not look like a video", "url", payload.SourceURL.String(), "kind", payload.Kind.MIME.Value)
	}
	v.update(func(s *State) {
		s.Bytes = len(payload.Body)
	}, nil)

	v.enter(StagePersisting)
	if err := p.persist(v, canonical, payload); err != nil {
		return v.fail(StagePersisting, err)
	}

	// From here on the Video owns a file, which Release removes
	v.enter(StageTranscoding)
	if err := ctx.Err(); err != nil {
		return v.fail(StageTranscoding, fmt.Errorf("%w: %v", transcode.ErrTranscode, err))
	}
	outcome, err := p.transcoder.EnsureMP4(ctx, v.Path())
	if err != nil {
		return v.fail(StageTranscoding, err)
	}
	if outcome.CleanupErr != nil {
		v.log.Warnw("transcode left its source behind", "error", fmt.Errorf("%w: %v", ErrCleanup, outcome.CleanupErr))
	}
	v.setFile(outcome.Path)

	v.enter(StageReady)
	return nil
}

func (p *Pipeline) persist(v *Video, canonical rewrite.CanonicalURL, payload *fetch.Payload) error {
	filename := canonical.Filename()
	if p.cfg.NameFrom == FilenameFromResponse {
		filename = payload.Filename()
	}

	scratch, err := download.NewScratch(download.WithBaseDir(p.cfg.ScratchDir), download.WithName(v.ID().String()))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	path, err := scratch.WriteFile(filename, payload.Body)
	if err != nil {
		if closeErr := scratch.Close(); closeErr != nil {
			v.log.Warnw("failed to remove scratch dir", "dir", scratch.Dir(), "error", fmt.Errorf("%w: %v", ErrCleanup, closeErr))
		}
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	v.update(func(s *State) {}, func() {
		v.scratch = scratch
	})
	v.setFile(path)
	v.log.Debugw("persisted video", "path", path, "bytes", len(payload.Body))
	return nil
}

// ScratchPath is where a request's files live, useful for diagnostics.
func (p *Pipeline) ScratchPath(id RequestID) string {
	return filepath.Join(p.cfg.ScratchDir, id.String())
}
