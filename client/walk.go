package client

import (
	"context"
	"errors"
	"strings"

	"github.com/xxxsen/davkit/davxml"
)

// SkipDir returned by a WalkFunc for a collection skips its children.
var SkipDir = errors.New("skip this directory")

type WalkFunc func(p string, ent *davxml.Entry) error

// Walk lists root with depth 1 and descends into every collection, calling fn
// for each entry below root in server order. Depth infinity is not used since
// many servers refuse it.
func Walk(ctx context.Context, c IClient, root string, fn WalkFunc) error {
	ents, err := c.List(ctx, root, 1)
	if err != nil {
		return err
	}
	for _, ent := range ents {
		p := c.Relative(ent)
		if IsSamePath(p, root) {
			continue
		}
		if err := fn(p, ent); err != nil {
			if errors.Is(err, SkipDir) {
				continue
			}
			return err
		}
		if !ent.Collection {
			continue
		}
		if err := Walk(ctx, c, p, fn); err != nil {
			return err
		}
	}
	return nil
}

// IsSamePath compares two dav paths ignoring leading and trailing slashes.
func IsSamePath(a, b string) bool {
	return strings.Trim(a, "/") == strings.Trim(b, "/")
}
