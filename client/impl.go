package client

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/davkit/davreq"
	"github.com/xxxsen/davkit/davreq/transport"
	"github.com/xxxsen/davkit/davxml"
	"go.uber.org/zap"
)

type defaultClient struct {
	c    *config
	base *url.URL
	opts []davreq.Option
}

func New(opts ...Option) (IClient, error) {
	c := &config{}
	for _, opt := range opts {
		opt(c)
	}
	if len(c.BaseURL) == 0 {
		return nil, fmt.Errorf("no base url found")
	}
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url failed, err:%w", err)
	}
	if !base.IsAbs() || len(base.Host) == 0 {
		return nil, fmt.Errorf("base url should be absolute, url:%s", c.BaseURL)
	}
	if c.Transport == nil {
		c.Transport = transport.New()
	}
	dopts := []davreq.Option{
		davreq.WithBaseURL(base),
		davreq.WithTransport(c.Transport),
		davreq.WithAllowUntrustedCertificate(c.AllowUntrusted),
	}
	if len(c.User) > 0 {
		dopts = append(dopts, davreq.WithCredential(c.User, c.Password))
	}
	if c.Timeout > 0 {
		dopts = append(dopts, davreq.WithTimeout(c.Timeout))
	}
	return &defaultClient{c: c, base: base, opts: dopts}, nil
}

func (d *defaultClient) NewOperation(p string, verb davreq.Verb) (*davreq.Operation, error) {
	return davreq.NewOperation(p, verb, d.opts...)
}

func (d *defaultClient) do(ctx context.Context, p string, verb davreq.Verb) (*davreq.Outcome, error) {
	op, err := d.NewOperation(p, verb)
	if err != nil {
		return nil, err
	}
	if err := op.Start(ctx); err != nil {
		return nil, err
	}
	<-op.Done()
	o := op.Outcome()
	if o.Err != nil {
		logutil.GetLogger(ctx).Debug("dav operation failed", zap.String("op_id", op.ID()),
			zap.String("method", verb.Method()), zap.String("path", p), zap.Error(o.Err))
		return nil, fmt.Errorf("%s %s failed, err:%w", verb.Method(), p, o.Err)
	}
	return o, nil
}

func (d *defaultClient) Get(ctx context.Context, p string) ([]byte, error) {
	o, err := d.do(ctx, p, davreq.Get{})
	if err != nil {
		return nil, err
	}
	return o.Bytes(), nil
}

func (d *defaultClient) Put(ctx context.Context, p string, data []byte, contentType string) error {
	_, err := d.do(ctx, p, davreq.Put{Data: data, ContentType: contentType})
	return err
}

func (d *defaultClient) Delete(ctx context.Context, p string) error {
	_, err := d.do(ctx, p, davreq.Delete{})
	return err
}

func (d *defaultClient) Mkcol(ctx context.Context, p string) error {
	_, err := d.do(ctx, p, davreq.Mkcol{})
	return err
}

func (d *defaultClient) Copy(ctx context.Context, src string, dst string, overwrite bool) error {
	_, err := d.do(ctx, src, davreq.Copy{Destination: dst, Overwrite: overwrite})
	return err
}

func (d *defaultClient) Move(ctx context.Context, src string, dst string, overwrite bool) error {
	_, err := d.do(ctx, src, davreq.Move{Destination: dst, Overwrite: overwrite})
	return err
}

func (d *defaultClient) List(ctx context.Context, p string, depth int) ([]*davxml.Entry, error) {
	o, err := d.do(ctx, p, davreq.Listing{Depth: depth})
	if err != nil {
		return nil, err
	}
	return o.Entries(), nil
}

func (d *defaultClient) Relative(ent *davxml.Entry) string {
	prefix := strings.TrimSuffix(d.base.Path, "/")
	p := strings.TrimPrefix(ent.Path, prefix)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}
