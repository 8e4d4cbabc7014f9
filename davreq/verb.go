package davreq

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/xxxsen/davkit/davxml"
)

const (
	defaultTimeout     = 60 * time.Second
	defaultContentType = "application/octet-stream"

	MethodPropfind = "PROPFIND"
	MethodMkcol    = "MKCOL"
	MethodCopy     = "COPY"
	MethodMove     = "MOVE"

	propfindAllProp = `<?xml version="1.0" encoding="utf-8" ?>` + "\n" +
		`<D:propfind xmlns:D="DAV:"><D:allprop/></D:propfind>`
)

// Target is what every encoder resolves paths against.
type Target struct {
	Base    *url.URL
	Path    string
	Timeout time.Duration
}

// Resolve appends p to the base url path. The result is not cleaned, so ".."
// segments reach the server as given.
func (t *Target) Resolve(p string) *url.URL {
	u := *t.Base
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	u.Path = strings.TrimSuffix(t.Base.Path, "/") + "/" + strings.TrimPrefix(p, "/")
	return &u
}

func (t *Target) newRequest(method string) *WireRequest {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &WireRequest{
		Method:  method,
		URL:     t.Resolve(t.Path),
		Header:  make(http.Header),
		Timeout: timeout,
		NoCache: true,
	}
}

// Verb encodes one WebDAV method into a wire request.
type Verb interface {
	Method() string
	Encode(t *Target) (*WireRequest, error)
}

// Decoder is implemented by verbs whose response body carries a result.
type Decoder interface {
	Decode(body []byte) (interface{}, error)
}

type Get struct{}

func (Get) Method() string { return http.MethodGet }

func (g Get) Encode(t *Target) (*WireRequest, error) {
	return t.newRequest(g.Method()), nil
}

func (Get) Decode(body []byte) (interface{}, error) {
	if body == nil {
		return []byte{}, nil
	}
	return body, nil
}

type Delete struct{}

func (Delete) Method() string { return http.MethodDelete }

func (d Delete) Encode(t *Target) (*WireRequest, error) {
	return t.newRequest(d.Method()), nil
}

type Mkcol struct{}

func (Mkcol) Method() string { return MethodMkcol }

func (m Mkcol) Encode(t *Target) (*WireRequest, error) {
	return t.newRequest(m.Method()), nil
}

// Put uploads Data. A nil Data is a missing parameter, an empty slice is a
// valid zero length upload.
type Put struct {
	Data        []byte
	ContentType string
}

func (Put) Method() string { return http.MethodPut }

func (p Put) Encode(t *Target) (*WireRequest, error) {
	if p.Data == nil {
		return nil, missingParameter("data")
	}
	ct := p.ContentType
	if len(ct) == 0 {
		ct = defaultContentType
	}
	req := t.newRequest(p.Method())
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Content-Length", strconv.Itoa(len(p.Data)))
	req.Body = p.Data
	return req, nil
}

type Copy struct {
	Destination string
	Overwrite   bool
}

func (Copy) Method() string { return MethodCopy }

func (c Copy) Encode(t *Target) (*WireRequest, error) {
	return encodeTransfer(t, c.Method(), c.Destination, c.Overwrite)
}

type Move struct {
	Destination string
	Overwrite   bool
}

func (Move) Method() string { return MethodMove }

func (m Move) Encode(t *Target) (*WireRequest, error) {
	return encodeTransfer(t, m.Method(), m.Destination, m.Overwrite)
}

func encodeTransfer(t *Target, method string, dst string, overwrite bool) (*WireRequest, error) {
	if len(dst) == 0 {
		return nil, missingParameter("destination")
	}
	req := t.newRequest(method)
	req.Header.Set("Destination", t.Resolve(dst).String())
	if overwrite {
		req.Header.Set("Overwrite", "T")
	} else {
		req.Header.Set("Overwrite", "F")
	}
	return req, nil
}

type ListingParser func(data []byte) ([]*davxml.Entry, error)

// Listing is a PROPFIND for all properties. Depth above 1 means infinity.
type Listing struct {
	Depth  int
	Parser ListingParser
}

func (Listing) Method() string { return MethodPropfind }

func (l Listing) Encode(t *Target) (*WireRequest, error) {
	if l.Depth < 0 {
		return nil, newError(CodeMissingParameter, fmt.Errorf("invalid depth:%d", l.Depth))
	}
	req := t.newRequest(l.Method())
	if l.Depth > 1 {
		req.Header.Set("Depth", "infinity")
	} else {
		req.Header.Set("Depth", strconv.Itoa(l.Depth))
	}
	req.Header.Set("Content-Type", "application/xml")
	req.Body = []byte(propfindAllProp)
	return req, nil
}

func (l Listing) Decode(body []byte) (interface{}, error) {
	parser := l.Parser
	if parser == nil {
		parser = davxml.Parse
	}
	ents, err := parser(body)
	if err != nil {
		return nil, err
	}
	return ents, nil
}
