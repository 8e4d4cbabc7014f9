package client

import (
	"context"

	"github.com/xxxsen/davkit/davreq"
	"github.com/xxxsen/davkit/davxml"
)

// IClient runs one Operation per call and blocks until it is terminal.
// Cancelling ctx cancels the operation.
type IClient interface {
	Get(ctx context.Context, p string) ([]byte, error)
	// Put fails with davreq.ErrMissingParameter when data is nil, an empty
	// slice uploads a zero length file.
	Put(ctx context.Context, p string, data []byte, contentType string) error
	Delete(ctx context.Context, p string) error
	Mkcol(ctx context.Context, p string) error
	Copy(ctx context.Context, src string, dst string, overwrite bool) error
	Move(ctx context.Context, src string, dst string, overwrite bool) error
	List(ctx context.Context, p string, depth int) ([]*davxml.Entry, error)
	// NewOperation builds an unstarted operation with the client settings,
	// for callers that want to observe or cancel it themselves.
	NewOperation(p string, verb davreq.Verb) (*davreq.Operation, error)
	// Relative maps a listing entry back to a path below the base url.
	Relative(ent *davxml.Entry) string
}
