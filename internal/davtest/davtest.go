// Package davtest runs an in-memory WebDAV server for tests.
package davtest

import (
	"context"
	"io"
	"net/http/httptest"
	"os"
	"path"
	"strings"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"golang.org/x/net/webdav"
)

func init() {
	gin.SetMode(gin.ReleaseMode)
}

type config struct {
	user   string
	pass   string
	tls    bool
	prefix string
}

type Option func(c *config)

// WithBasicAuth protects every route with gin's basic auth middleware.
func WithBasicAuth(user, pass string) Option {
	return func(c *config) {
		c.user = user
		c.pass = pass
	}
}

func WithTLS() Option {
	return func(c *config) {
		c.tls = true
	}
}

// WithPrefix mounts the dav handler below prefix, e.g. "/remote.php/webdav".
func WithPrefix(p string) Option {
	return func(c *config) {
		c.prefix = p
	}
}

type Server struct {
	*httptest.Server
	FS       webdav.FileSystem
	prefix   string
	requests atomic.Int64
}

func New(opts ...Option) *Server {
	c := &config{}
	for _, opt := range opts {
		opt(c)
	}
	fs := webdav.NewMemFS()
	s := &Server{FS: fs, prefix: c.prefix}
	h := &webdav.Handler{
		Prefix:     c.prefix,
		FileSystem: fs,
		LockSystem: webdav.NewMemLS(),
	}
	engine := gin.New()
	engine.Use(func(ctx *gin.Context) {
		s.requests.Add(1)
	})
	group := engine.Group(path.Join("/", c.prefix))
	if len(c.user) > 0 {
		group.Use(gin.BasicAuth(gin.Accounts{c.user: c.pass}))
	}
	for _, m := range AllowMethods {
		group.Handle(m, "/*all", gin.WrapH(h))
	}
	if c.tls {
		s.Server = httptest.NewTLSServer(engine)
	} else {
		s.Server = httptest.NewServer(engine)
	}
	return s
}

// BaseURL is the url the dav tree is mounted at, with a trailing slash.
func (s *Server) BaseURL() string {
	return s.URL + strings.TrimSuffix(path.Join("/", s.prefix), "/") + "/"
}

// RequestCount returns the number of requests seen, auth failures included.
func (s *Server) RequestCount() int64 {
	return s.requests.Load()
}

func (s *Server) WriteFile(name string, data []byte) error {
	ctx := context.Background()
	if err := s.MkdirAll(path.Dir(name)); err != nil {
		return err
	}
	f, err := s.FS.OpenFile(ctx, name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (s *Server) ReadFile(name string) ([]byte, error) {
	f, err := s.FS.OpenFile(context.Background(), name, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (s *Server) MkdirAll(dir string) error {
	ctx := context.Background()
	cur := "/"
	for _, item := range splitPath(dir) {
		cur = path.Join(cur, item)
		err := s.FS.Mkdir(ctx, cur, 0755)
		if err != nil && !os.IsExist(err) {
			return err
		}
	}
	return nil
}

func (s *Server) Exists(name string) bool {
	_, err := s.FS.Stat(context.Background(), name)
	return err == nil
}

func splitPath(p string) []string {
	rs := make([]string, 0, 4)
	for _, item := range strings.Split(path.Clean("/"+p), "/") {
		if len(item) > 0 {
			rs = append(rs, item)
		}
	}
	return rs
}
