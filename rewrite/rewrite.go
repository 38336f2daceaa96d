// Package rewrite turns a chat message holding a CDN video link into the canonical link of the original encode.
//
// The CDN serves platform re-encodes under file names carrying a codec marker ("vp9", "av1"). Removing every marker
// from the file name selects the original upload. Removal is a plain substring removal and may touch any part of the
// name, not only the suffix.
package rewrite

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/Fortunato28/ninegag2telegram/generic"
	"github.com/Fortunato28/ninegag2telegram/util"
)

var (
	ErrInvalidURL        = errors.New("invalid URL")
	ErrNotBase           = errors.New("URL has no hierarchical path")
	ErrUnsupportedFormat = errors.New("filename is not webm or mp4")
	ErrJoin              = errors.New("cannot join rewritten filename onto URL")
)

// Policy selects which path segment holds the file name.
type Policy string

const (
	// PolicyLastSegment takes the last path segment.
	PolicyLastSegment Policy = "last_segment"
	// PolicyAfterFirstSegment skips the first path segment (e.g. "photo") and takes the next one.
	PolicyAfterFirstSegment Policy = "after_first_segment"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "", PolicyLastSegment:
		return PolicyLastSegment, nil
	case PolicyAfterFirstSegment:
		return p, nil
	default:
		return "", fmt.Errorf("unknown filename policy %q", s)
	}
}

type Config struct {
	Policy Policy
	// FirstSegment, if set, must match the skipped segment under PolicyAfterFirstSegment.
	FirstSegment string
	// Extensions are the markers of which at least one must appear in the file name.
	Extensions generic.Set[string]
	// Markers are removed from the file name in order.
	Markers []string
}

func NewConfig() Config {
	return Config{
		Policy:       PolicyLastSegment,
		FirstSegment: "photo",
		Extensions: generic.NewSet(
			"mp4",
			"webm",
		),
		Markers: []string{"vp9", "av1"},
	}
}

var defaultConfig = NewConfig()

// Rewrite applies the default configuration to message.
func Rewrite(message string) (CanonicalURL, error) {
	return defaultConfig.Rewrite(message)
}

// StripMarkers removes every re-encoding marker known to the default configuration.
func StripMarkers(filename string) string {
	return defaultConfig.StripMarkers(filename)
}

// Rewrite parses message as an absolute URL and returns the URL of the original encode.
func (c *Config) Rewrite(message string) (CanonicalURL, error) {
	parsedURL, err := url.Parse(strings.TrimSpace(message))
	if err != nil {
		return CanonicalURL{}, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if !parsedURL.IsAbs() {
		return CanonicalURL{}, fmt.Errorf("%w: relative URL without a base", ErrInvalidURL)
	}
	if parsedURL.Opaque != "" {
		return CanonicalURL{}, ErrNotBase
	}
	if parsedURL.Host == "" {
		return CanonicalURL{}, fmt.Errorf("%w: empty host", ErrInvalidURL)
	}

	segments, index, err := c.extract(parsedURL)
	if err != nil {
		return CanonicalURL{}, err
	}
	filename := c.StripMarkers(segments[index])

	result, err := replaceSegment(parsedURL, segments, index, filename)
	if err != nil {
		return CanonicalURL{}, err
	}
	return CanonicalURL{url: *result, filename: filename}, nil
}

// ExtractFilename returns the file name segment of u according to the policy, checking that it names a video.
func (c *Config) ExtractFilename(u *url.URL) (string, error) {
	segments, index, err := c.extract(u)
	if err != nil {
		return "", err
	}
	return segments[index], nil
}

func (c *Config) extract(u *url.URL) ([]string, int, error) {
	segments, ok := util.PathSegments(u)
	if !ok {
		return nil, 0, ErrNotBase
	}
	var index int
	switch c.Policy {
	case PolicyAfterFirstSegment:
		if len(segments) < 2 {
			return nil, 0, fmt.Errorf("%w: no filename after first path segment", ErrUnsupportedFormat)
		}
		if c.FirstSegment != "" && segments[0] != c.FirstSegment {
			return nil, 0, fmt.Errorf("%w: first path segment is %q, not %q", ErrUnsupportedFormat, segments[0], c.FirstSegment)
		}
		index = 1
	default:
		index = len(segments) - 1
	}
	name := segments[index]
	if !c.Extensions.Any(func(ext string) bool { return strings.Contains(name, ext) }) {
		return nil, 0, ErrUnsupportedFormat
	}
	return segments, index, nil
}

func (c *Config) StripMarkers(filename string) string {
	for _, marker := range c.Markers {
		filename = strings.ReplaceAll(filename, marker, "")
	}
	return filename
}

// replaceSegment builds a copy of base with segments[index] replaced by filename. Like resolving a relative
// reference, the query and fragment of base are dropped.
func replaceSegment(base *url.URL, segments []string, index int, filename string) (*url.URL, error) {
	if !util.ValidFilename(filename) {
		return nil, fmt.Errorf("%w: rewritten filename %q is not usable", ErrJoin, filename)
	}
	// Keep the original escaping of every other segment
	escaped := strings.Split(strings.TrimPrefix(base.EscapedPath(), "/"), "/")
	if len(escaped) != len(segments) {
		return nil, fmt.Errorf("%w: path segments changed while rewriting", ErrJoin)
	}
	escaped[index] = url.PathEscape(filename)
	rawPath := "/" + strings.Join(escaped, "/")
	path, err := url.PathUnescape(rawPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJoin, err)
	}

	result := *base
	result.Path = path
	result.RawPath = rawPath
	result.RawQuery = ""
	result.ForceQuery = false
	result.Fragment = ""
	result.RawFragment = ""

	// Make sure the result survives a round trip, since it is handed to an HTTP client as a string
	if _, err := url.Parse(result.String()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJoin, err)
	}
	return &result, nil
}
