package davxml

import (
	"strings"
	"time"
)

// Entry is one resource of a listing.
type Entry struct {
	// Href as sent by the server, Path is its unescaped url path.
	Href          string
	Path          string
	Collection    bool
	DisplayName   string
	ContentType   string
	ContentLength int64
	ETag          string
	LastModified  time.Time
	CreationDate  time.Time
	// Props holds the text of every property reported with a 2xx status,
	// keyed by local name.
	Props map[string]string
}

// Name returns the last segment of Path.
func (e *Entry) Name() string {
	p := strings.TrimSuffix(e.Path, "/")
	idx := strings.LastIndex(p, "/")
	return p[idx+1:]
}
