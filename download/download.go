// Package download owns the on-disk scratch space of a single request.
//
// Every request gets its own directory, so two requests for the same remote file never share a path. Closing the
// scratch removes the directory and everything left in it.
package download

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/Fortunato28/ninegag2telegram/internal/sync_"
	"github.com/Fortunato28/ninegag2telegram/util"
)

var (
	ErrBadFilename = errors.New("unusable filename")
	ErrOutside     = errors.New("path is outside the scratch directory")
)

type scratchConfig struct {
	baseDir string
	name    string
}

type ScratchOption func(*scratchConfig)

// WithBaseDir sets the parent of the scratch directory; os.TempDir() by default.
func WithBaseDir(dir string) ScratchOption {
	return func(c *scratchConfig) {
		c.baseDir = dir
	}
}

// WithName fixes the scratch directory name, e.g. to a request id. Creation fails if it already exists.
func WithName(name string) ScratchOption {
	return func(c *scratchConfig) {
		c.name = name
	}
}

type Scratch struct {
	dir    string
	closed sync_.Event
}

func NewScratch(opts ...ScratchOption) (*Scratch, error) {
	config := scratchConfig{
		baseDir: os.TempDir(),
	}
	for _, opt := range opts {
		opt(&config)
	}
	if err := os.MkdirAll(config.baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create scratch base: %w", err)
	}

	var dir string
	if config.name == "" {
		var err error
		if dir, err = os.MkdirTemp(config.baseDir, "ninegag-*"); err != nil {
			return nil, fmt.Errorf("create scratch dir: %w", err)
		}
	} else {
		if !util.ValidFilename(config.name) {
			return nil, fmt.Errorf("%w: %q", ErrBadFilename, config.name)
		}
		dir = filepath.Join(config.baseDir, config.name)
		if err := os.Mkdir(dir, 0700); err != nil {
			return nil, fmt.Errorf("create scratch dir: %w", err)
		}
	}
	return &Scratch{dir: dir}, nil
}

func (s *Scratch) Dir() string {
	return s.dir
}

// Path returns where filename lives inside the scratch directory.
func (s *Scratch) Path(filename string) (string, error) {
	if !util.ValidFilename(filename) {
		return "", fmt.Errorf("%w: %q", ErrBadFilename, filename)
	}
	return filepath.Join(s.dir, filename), nil
}

// WriteFile creates filename with data. An existing file is never overwritten, and a partial file is removed if
// writing fails.
func (s *Scratch) WriteFile(filename string, data []byte) (string, error) {
	path, err := s.Path(filename)
	if err != nil {
		return "", err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", err
	}
	_, err = f.Write(data)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

// Remove deletes a single file in the scratch directory. A file that is already gone is not an error.
func (s *Scratch) Remove(path string) error {
	if rel, err := filepath.Rel(s.dir, path); err != nil || rel == "." || !filepath.IsLocal(rel) {
		return fmt.Errorf("%w: %s", ErrOutside, path)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Close removes the scratch directory and its contents. Only the first call does anything.
func (s *Scratch) Close() error {
	if !s.closed.Set() {
		return nil
	}
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("remove scratch dir: %w", err)
	}
	return nil
}

// WithScratch runs f with a fresh Scratch, which is closed however f returns. A failure to close is reported only
// if f itself succeeded.
func WithScratch(f func(scratch *Scratch) error, opts ...ScratchOption) (err error) {
	scratch, err := NewScratch(opts...)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := scratch.Close(); err == nil {
			err = closeErr
		}
	}()
	return f(scratch)
}
