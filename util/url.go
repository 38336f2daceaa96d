package util

import (
	"errors"
	"net/url"
	"path"
	"strings"
)

// PlaceholderFilename is used when a URL does not name a file.
const PlaceholderFilename = "tmp.bin"

var (
	ErrNoFilename = errors.New("cannot extract valid filename")
)

// PathSegments returns the unescaped segments of a hierarchical URL path, without the leading slash. The second
// return value is false for URLs that have no hierarchical path at all (e.g. "mailto:someone@example.com").
func PathSegments(u *url.URL) ([]string, bool) {
	if u == nil || u.Opaque != "" {
		return nil, false
	}
	escaped := strings.TrimPrefix(u.EscapedPath(), "/")
	raw := strings.Split(escaped, "/")
	segments := make([]string, len(raw))
	for i, s := range raw {
		if unescaped, err := url.PathUnescape(s); err == nil {
			segments[i] = unescaped
		} else {
			segments[i] = s
		}
	}
	return segments, true
}

// ValidFilename reports whether s can be used as a single file name inside a directory.
func ValidFilename(s string) bool {
	if s == "" || strings.ContainsAny(s, `/\`) || strings.ContainsRune(s, 0) {
		return false
	}
	// Don't allow "filenames" that are just ".", "..", etc.
	return strings.ReplaceAll(s, ".", "") != ""
}

// FilenameFromURL returns the last path segment of the URL, which must be a usable file name.
func FilenameFromURL(u *url.URL) (string, error) {
	segments, ok := PathSegments(u)
	if !ok {
		return "", ErrNoFilename
	}
	filename := segments[len(segments)-1]
	if !ValidFilename(filename) {
		return "", ErrNoFilename
	}
	return filename, nil
}

// FilenameFromURLOr is like FilenameFromURL, but returns fallback instead of an error.
func FilenameFromURLOr(u *url.URL, fallback string) string {
	if filename, err := FilenameFromURL(u); err == nil {
		return filename
	}
	return fallback
}

func FilenameFromURLString(s string) (string, error) {
	if parsedURL, err := url.Parse(s); err != nil {
		return "", err
	} else {
		return FilenameFromURL(parsedURL)
	}
}

// ReplaceExt swaps the extension of filename for ext (given without the leading dot). A filename without an
// extension gets one appended.
func ReplaceExt(filename string, ext string) string {
	return strings.TrimSuffix(filename, path.Ext(filename)) + "." + ext
}

// HasExt reports whether filename has the extension ext (given without the leading dot), ignoring case.
func HasExt(filename string, ext string) bool {
	return strings.EqualFold(path.Ext(filename), "."+ext)
}
