package api

import (
	"strings"
)

const (
	// DefaultSuffix is appended to every endpoint path.
	DefaultSuffix = ".json"
	// DefaultVersion is the API version used when none is given.
	DefaultVersion = "1.1"
	// DefaultBaseTemplate expands to the base URL of a named API.
	DefaultBaseTemplate = "https://{api}.twitter.com/{version}"
)

// streamingAPIs are served over long-lived connections and must be opened
// through a stream rather than a single request.
var streamingAPIs = map[string]bool{
	"stream":     true,
	"userstream": true,
	"sitestream": true,
}

// IsStreamingAPI reports whether the named API delivers a stream.
func IsStreamingAPI(name string) bool {
	return streamingAPIs[name]
}

// BaseURL expands template with the API name and version.
func BaseURL(template, name, version string) string {
	if template == "" {
		template = DefaultBaseTemplate
	}
	if version == "" {
		version = DefaultVersion
	}
	return strings.NewReplacer("{api}", name, "{version}", version).Replace(template)
}

// Path is an endpoint location built one segment at a time. Paths are
// values: every derivation returns a new Path and never shares its segment
// slice with the receiver.
type Path struct {
	api      string
	base     string
	segments []string
	suffix   string
}

// NewPath starts a path at base for the named API.
func NewPath(apiName, base string) Path {
	return Path{
		api:    apiName,
		base:   strings.TrimRight(base, "/"),
		suffix: DefaultSuffix,
	}
}

// Join returns a path extended by segments. Segments containing slashes are
// split so that "statuses/show" and ("statuses", "show") are equivalent.
func (p Path) Join(segments ...string) Path {
	next := make([]string, len(p.segments), len(p.segments)+len(segments))
	copy(next, p.segments)
	for _, s := range segments {
		for _, part := range strings.Split(s, "/") {
			if part != "" {
				next = append(next, part)
			}
		}
	}
	p.segments = next
	return p
}

// WithSuffix returns the path with a different suffix. An empty suffix
// yields bare URLs.
func (p Path) WithSuffix(suffix string) Path {
	p.suffix = suffix
	return p
}

// API returns the name of the API the path belongs to.
func (p Path) API() string {
	return p.api
}

// Streaming reports whether the path belongs to a streaming API.
func (p Path) Streaming() bool {
	return IsStreamingAPI(p.api)
}

// Segments returns a copy of the path segments.
func (p Path) Segments() []string {
	out := make([]string, len(p.segments))
	copy(out, p.segments)
	return out
}

// URL renders the full endpoint URL.
func (p Path) URL() string {
	if len(p.segments) == 0 {
		return p.base
	}
	return p.base + "/" + strings.Join(p.segments, "/") + p.suffix
}

func (p Path) String() string {
	return p.URL()
}

// Get builds a GET request for the path.
func (p Path) Get(args Args) (*Request, error) {
	return NewRequest("GET", p, args)
}

// Post builds a POST request for the path.
func (p Path) Post(args Args) (*Request, error) {
	return NewRequest("POST", p, args)
}
