// Package transcode makes sure a downloaded video is an MP4 file, delegating the conversion to an external encoder.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/Fortunato28/ninegag2telegram/util"
)

const TargetExt = "mp4"

var (
	ErrTranscode = errors.New("transcode failed")
)

type Config struct {
	// Timeout bounds a single encoder run. Zero means no limit beyond the context.
	Timeout time.Duration
	// MaxConcurrent limits how many encoder processes run at once. Zero means no limit.
	MaxConcurrent int64
}

func DefaultConfig() Config {
	return Config{
		Timeout:       5 * time.Minute,
		MaxConcurrent: 2,
	}
}

// Outcome is the result of EnsureMP4: either the file was left alone, or it was converted and the source removed.
type Outcome struct {
	Path      string
	Converted bool
	// CleanupErr is set when the source could not be removed after a successful conversion. It does not make the
	// conversion fail.
	CleanupErr error
}

type Transcoder struct {
	encoder Encoder
	cfg     Config
	sem     *semaphore.Weighted
	log     *zap.SugaredLogger
	remove  func(string) error
}

type Option func(*Transcoder)

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(t *Transcoder) {
		t.log = logger
	}
}

func New(encoder Encoder, cfg Config, opts ...Option) *Transcoder {
	t := &Transcoder{
		encoder: encoder,
		cfg:     cfg,
		log:     zap.S().Named("transcode"),
		remove:  os.Remove,
	}
	if cfg.MaxConcurrent > 0 {
		t.sem = semaphore.NewWeighted(cfg.MaxConcurrent)
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// EnsureMP4 returns path unchanged if it already names an MP4 file. Otherwise it encodes path into a sibling file
// with the MP4 extension and removes path. On failure path is left in place.
func (t *Transcoder) EnsureMP4(ctx context.Context, path string) (Outcome, error) {
	if util.HasExt(path, TargetExt) {
		return Outcome{Path: path}, nil
	}
	target := util.ReplaceExt(path, TargetExt)

	if t.sem != nil {
		if err := t.sem.Acquire(ctx, 1); err != nil {
			return Outcome{}, fmt.Errorf("%w: waiting for encoder slot: %v", ErrTranscode, err)
		}
		defer t.sem.Release(1)
	}
	if t.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	if err := t.encoder.Encode(ctx, path, target); err != nil {
		return Outcome{}, fmt.Errorf("%w: %s: %w", ErrTranscode, path, err)
	}
	t.log.Debugw("encoded video", "source", path, "target", target, "elapsed", time.Since(start))

	outcome := Outcome{Path: target, Converted: true}
	if err := t.remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		outcome.CleanupErr = fmt.Errorf("remove transcode source: %w", err)
		t.log.Warnw("failed to remove transcode source", "path", path, "error", err)
	}
	return outcome, nil
}
