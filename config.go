package ninegag2telegram

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Fortunato28/ninegag2telegram/rewrite"
)

// FilenameSource picks which name the persisted file gets.
type FilenameSource string

const (
	// FilenameFromRequest uses the rewritten file name of the canonical URL.
	FilenameFromRequest FilenameSource = "request"
	// FilenameFromResponse uses the last segment of the URL the server answered from, or a placeholder.
	FilenameFromResponse FilenameSource = "response"
)

func ParseFilenameSource(s string) (FilenameSource, error) {
	switch src := FilenameSource(strings.ToLower(strings.TrimSpace(s))); src {
	case "", FilenameFromRequest:
		return FilenameFromRequest, nil
	case FilenameFromResponse:
		return src, nil
	default:
		return "", fmt.Errorf("unknown filename source %q", s)
	}
}

type Config struct {
	// ScratchDir is the parent of every per-request scratch directory.
	ScratchDir string
	Rewrite    rewrite.Config
	NameFrom   FilenameSource
}

func DefaultConfig() Config {
	return Config{
		ScratchDir: filepath.Join(os.TempDir(), "ninegag2telegram"),
		Rewrite:    rewrite.NewConfig(),
		NameFrom:   FilenameFromRequest,
	}
}
