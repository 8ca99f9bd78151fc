package linkval

import (
	"context"
	"net/http"
)

// LinkSource produces the lazy sequence of links the engine validates.
// It is shaped like a Go 1.23 iter.Seq: yield returning false means the
// consumer has stopped early and iteration must cease promptly.
type LinkSource func(yield func(Link) bool)

// ResourceResolver supplies engine-facing facts about a link's origin
// that the core cannot derive from the Link value alone.
type ResourceResolver interface {
	// IsAsciiDocSource reports whether link's resolved URI points at
	// an AsciiDoc source file, used by LinkStream.ExcludeEditThisPage.
	IsAsciiDocSource(link Link) bool
	// SourcePath maps a resolved URI back to an on-disk source path,
	// for pretty-printing error locations. Returns "" if unknown.
	SourcePath(resolvedURI string) string
}

// HttpClient issues the single HTTP request a LinkValidator needs per
// attempt. Implementations must surface network-level failures (DNS,
// TLS, connect, read-timeout) as a non-nil error distinct from a
// successfully received non-2xx response.
type HttpClient interface {
	Do(ctx context.Context, method, uri string, headers http.Header) (*Response, error)
}
