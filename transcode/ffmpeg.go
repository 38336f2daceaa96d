package transcode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// Encoder converts the video at inputPath into outputPath. Success is judged by the returned error only.
type Encoder interface {
	Encode(ctx context.Context, inputPath string, outputPath string) error
}

// EncoderFunc adapts a plain function to Encoder.
type EncoderFunc func(ctx context.Context, inputPath string, outputPath string) error

func (f EncoderFunc) Encode(ctx context.Context, inputPath string, outputPath string) error {
	return f(ctx, inputPath, outputPath)
}

// FFmpeg runs the ffmpeg binary as a black box: ffmpeg -i INPUT OUTPUT.
type FFmpeg struct {
	// Path is the binary to run, looked up in PATH if it has no separator.
	Path string
	// ExtraArgs are placed between the input and the output.
	ExtraArgs []string
}

func NewFFmpeg(path string) *FFmpeg {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpeg{Path: path}
}

// Check reports whether the binary can be found, without running it.
func (f *FFmpeg) Check() error {
	if _, err := exec.LookPath(f.Path); err != nil {
		return fmt.Errorf("ffmpeg not found: %w", err)
	}
	return nil
}

func (f *FFmpeg) Encode(ctx context.Context, inputPath string, outputPath string) error {
	args := []string{"-nostdin", "-hide_banner", "-loglevel", "error", "-y", "-i", inputPath}
	args = append(args, f.ExtraArgs...)
	args = append(args, outputPath)

	cmd := exec.CommandContext(ctx, f.Path, args...)
	cmd.Stdout = io.Discard
	stderr := &tailBuffer{limit: 4096}
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if ctx.Err() != nil {
				return fmt.Errorf("ffmpeg interrupted: %w", ctx.Err())
			}
			return &ExitError{Code: exitErr.ExitCode(), Stderr: stderr.String()}
		}
		return fmt.Errorf("start ffmpeg: %w", err)
	}
	return nil
}

// ExitError is returned when the encoder ran but exited with a non-zero status.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("encoder exited with status %d", e.Code)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + lastLine(s)
	}
	return msg
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// tailBuffer keeps only the last limit bytes written to it.
type tailBuffer struct {
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	return string(b.buf)
}
