package rewrite

import "net/url"

// CanonicalURL is a validated link to the original encode of a video. The zero value is not valid.
type CanonicalURL struct {
	url      url.URL
	filename string
}

// Filename is the rewritten file name segment.
func (c CanonicalURL) Filename() string {
	return c.filename
}

func (c CanonicalURL) IsZero() bool {
	return c.filename == ""
}

func (c CanonicalURL) String() string {
	return c.url.String()
}
