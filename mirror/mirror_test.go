package mirror

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/davkit/client"
	"github.com/xxxsen/davkit/davreq"
	"github.com/xxxsen/davkit/davxml"
	"github.com/xxxsen/davkit/internal/davtest"
)

func TestMain(m *testing.M) {
	logger.Init("", "debug", 0, 0, 0, true)
	os.Exit(m.Run())
}

func newTestMirror(t *testing.T, opts ...Option) (*Mirror, *davtest.Server, client.IClient) {
	srv := davtest.New(davtest.WithBasicAuth("u", "p"))
	t.Cleanup(srv.Close)
	c, err := client.New(client.WithBaseURL(srv.BaseURL()), client.WithAuth("u", "p"))
	require.NoError(t, err)
	opts = append([]Option{WithClient(c), WithThread(2), WithRetry(2, 10*time.Millisecond)}, opts...)
	m, err := New(opts...)
	require.NoError(t, err)
	return m, srv, c
}

func writeLocal(t *testing.T, root string, files map[string]string) {
	for name, data := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(data), 0644))
	}
}

func TestNewWithoutClient(t *testing.T) {
	_, err := New()
	assert.Error(t, err)
}

func TestUploadDownload(t *testing.T) {
	ctx := context.Background()
	m, srv, _ := newTestMirror(t)
	files := map[string]string{
		"a.txt":         "aaa",
		"sub/b.json":    `{"k":1}`,
		"sub/deep/c.md": "# c",
	}
	src := t.TempDir()
	writeLocal(t, src, files)
	require.NoError(t, os.MkdirAll(filepath.Join(src, "empty"), 0755))

	st, err := m.Upload(ctx, src, "/backup")
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.Files)
	assert.Equal(t, int64(13), st.Bytes)
	for name, data := range files {
		raw, err := srv.ReadFile("/backup/" + name)
		require.NoError(t, err, "name:%s", name)
		assert.Equal(t, data, string(raw))
	}
	assert.True(t, srv.Exists("/backup/empty"))

	// uploading again only meets existing collections
	_, err = m.Upload(ctx, src, "/backup")
	require.NoError(t, err)

	dst := t.TempDir()
	st, err = m.Download(ctx, "/backup", dst)
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.Files)
	assert.Equal(t, int64(0), st.Skipped)
	for name, data := range files {
		raw, err := os.ReadFile(filepath.Join(dst, filepath.FromSlash(name)))
		require.NoError(t, err)
		assert.Equal(t, data, string(raw))
	}
	info, err := os.Stat(filepath.Join(dst, "empty"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	require.NoError(t, srv.WriteFile("/backup/a.txt", []byte("changed")))
	st, err = m.Download(ctx, "backup/", dst)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Files)
	assert.Equal(t, int64(2), st.Skipped)
	raw, err := os.ReadFile(filepath.Join(dst, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "changed", string(raw))
}

func TestDownloadMissingDir(t *testing.T) {
	m, _, _ := newTestMirror(t)
	_, err := m.Download(context.Background(), "/none", t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, davreq.ErrHTTPStatus))
}

type flakyClient struct {
	client.IClient
	fails atomic.Int32
	calls atomic.Int32
	err   error
}

func (f *flakyClient) Get(ctx context.Context, p string) ([]byte, error) {
	f.calls.Add(1)
	if f.fails.Add(-1) >= 0 {
		return nil, f.err
	}
	return f.IClient.Get(ctx, p)
}

func TestDownloadRetry(t *testing.T) {
	_, srv, c := newTestMirror(t)
	require.NoError(t, srv.WriteFile("/r/x.bin", []byte("xx")))

	flaky := &flakyClient{IClient: c, err: &davreq.RequestError{Code: davreq.CodeTransport, Err: errors.New("reset")}}
	flaky.fails.Store(1)
	m, err := New(WithClient(flaky), WithRetry(3, time.Millisecond))
	require.NoError(t, err)
	st, err := m.Download(context.Background(), "/r", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Files)
	assert.Equal(t, int32(2), flaky.calls.Load())

	notFound := &flakyClient{IClient: c, err: &davreq.RequestError{Code: davreq.CodeHTTPStatus, Status: 404}}
	notFound.fails.Store(10)
	m, err = New(WithClient(notFound), WithRetry(3, time.Millisecond))
	require.NoError(t, err)
	_, err = m.Download(context.Background(), "/r", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, int32(1), notFound.calls.Load())
}

func TestDownloadRetryExhausted(t *testing.T) {
	_, srv, c := newTestMirror(t)
	require.NoError(t, srv.WriteFile("/r/x.bin", []byte("xx")))

	broken := &flakyClient{IClient: c, err: &davreq.RequestError{Code: davreq.CodeTransport, Err: errors.New("reset")}}
	broken.fails.Store(100)
	m, err := New(WithClient(broken), WithRetry(3, time.Millisecond))
	require.NoError(t, err)
	_, err = m.Download(context.Background(), "/r", t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, davreq.ErrTransport))
	assert.Equal(t, int32(3), broken.calls.Load())

	broken.calls.Store(0)
	m, err = New(WithClient(broken), WithRetry(0, time.Millisecond))
	require.NoError(t, err)
	_, err = m.Download(context.Background(), "/r", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, int32(1), broken.calls.Load())
}

// listClient serves a fixed listing and counts downloads.
type listClient struct {
	client.IClient
	ents []*davxml.Entry
	gets atomic.Int32
}

func (l *listClient) List(ctx context.Context, p string, depth int) ([]*davxml.Entry, error) {
	return l.ents, nil
}

func (l *listClient) Relative(ent *davxml.Entry) string {
	return ent.Path
}

func (l *listClient) Get(ctx context.Context, p string) ([]byte, error) {
	l.gets.Add(1)
	return []byte("data"), nil
}

func TestDownloadRejectsEscapingHref(t *testing.T) {
	for _, bad := range []string{"/backup/../../escaped.txt", "/backup/a/../../../x.txt", "/other/x.txt"} {
		root := t.TempDir()
		dst := filepath.Join(root, "a", "b")
		lc := &listClient{ents: []*davxml.Entry{
			{Path: "/backup/", Collection: true},
			{Path: bad},
		}}
		m, err := New(WithClient(lc))
		require.NoError(t, err)
		st, err := m.Download(context.Background(), "/backup", dst)
		require.Error(t, err, "href:%s", bad)
		assert.True(t, errors.Is(err, ErrUnsafePath))
		assert.Equal(t, int64(0), st.Files)
		assert.Equal(t, int32(0), lc.gets.Load())
		_, err = os.Stat(filepath.Join(root, "escaped.txt"))
		assert.True(t, os.IsNotExist(err))
	}
}

func TestLocalPath(t *testing.T) {
	dir := t.TempDir()
	p, err := localPath(dir, "/backup/", "/backup/sub/a.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "sub", "a.txt"), p)
	p, err = localPath(dir, "/", "/sub/")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "sub"), p)
	_, err = localPath(dir, "/backup/", "/backup/..")
	assert.True(t, errors.Is(err, ErrUnsafePath))
}

func TestRemoteRoot(t *testing.T) {
	assert.Equal(t, "/", remoteRoot(""))
	assert.Equal(t, "/", remoteRoot("/"))
	assert.Equal(t, "/a/b/", remoteRoot("a/b"))
	assert.Equal(t, "/a/", remoteRoot("/a/"))
}
