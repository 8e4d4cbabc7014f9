package mirror

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/retry"
	"github.com/xxxsen/davkit/client"
	"github.com/xxxsen/davkit/davreq"
	"github.com/xxxsen/davkit/davxml"
	"github.com/xxxsen/davkit/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var ErrUnsafePath = errors.New("entry path escapes target directory")

type Stat struct {
	Files   int64
	Skipped int64
	Bytes   int64
}

type counter struct {
	files   atomic.Int64
	skipped atomic.Int64
	bytes   atomic.Int64
}

func (c *counter) stat() *Stat {
	return &Stat{Files: c.files.Load(), Skipped: c.skipped.Load(), Bytes: c.bytes.Load()}
}

type Mirror struct {
	c *config
}

func New(opts ...Option) (*Mirror, error) {
	c := &config{
		Thread:    4,
		Retry:     3,
		RetryWait: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.Client == nil {
		return nil, fmt.Errorf("no client found")
	}
	if c.Thread <= 0 {
		c.Thread = 1
	}
	if c.Retry <= 0 {
		c.Retry = 1
	}
	return &Mirror{c: c}, nil
}

// isPermanent reports failures a retry can not fix.
func isPermanent(err error) bool {
	if st := davreq.StatusOf(err); st >= http.StatusBadRequest && st < http.StatusInternalServerError {
		return true
	}
	return errors.Is(err, davreq.ErrCancelled) || errors.Is(err, davreq.ErrMissingParameter)
}

func (m *Mirror) retryDo(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	var permErr, lastErr error
	// RetryDo runs one attempt plus repeat retries
	if err := retry.RetryDo(ctx, uint32(m.c.Retry-1), m.c.RetryWait, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if isPermanent(err) {
			permErr = err
			return nil
		}
		lastErr = err
		logutil.GetLogger(ctx).Error("transfer failed, wait retry", zap.String("name", name), zap.Error(err))
		return err
	}); err != nil {
		if lastErr != nil {
			return lastErr
		}
		return err
	}
	return permErr
}

func logSpeed(ctx context.Context, msg string, name string, size int64, start time.Time) {
	cost := time.Since(start)
	speed := "-"
	if ms := int64(cost / time.Millisecond); ms > 0 {
		speed = humanize.IBytes(uint64(float64(size)*1000/float64(ms))) + "/s"
	}
	logutil.GetLogger(ctx).Debug(msg, zap.String("name", name), zap.String("size", humanize.IBytes(uint64(size))),
		zap.Duration("cost", cost), zap.String("speed", speed))
}

func remoteRoot(dir string) string {
	dir = strings.Trim(dir, "/")
	if len(dir) == 0 {
		return "/"
	}
	return "/" + dir + "/"
}

// localPath maps remote path p below root to a path inside localDir. Hrefs
// come from the server, so ".." segments and paths outside root are refused.
func localPath(localDir string, root string, p string) (string, error) {
	if !strings.HasPrefix(p, root) {
		return "", fmt.Errorf("%w, path:%s, root:%s", ErrUnsafePath, p, root)
	}
	rel := strings.Trim(strings.TrimPrefix(p, root), "/")
	for _, seg := range strings.Split(rel, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w, path:%s", ErrUnsafePath, p)
		}
	}
	local := filepath.Join(localDir, filepath.FromSlash(rel))
	r, err := filepath.Rel(localDir, local)
	if err != nil || filepath.IsAbs(r) || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w, path:%s", ErrUnsafePath, p)
	}
	return local, nil
}

// Download copies every file below remoteDir into localDir, keeping the
// directory layout. Local files whose content already matches are left alone.
func (m *Mirror) Download(ctx context.Context, remoteDir string, localDir string) (*Stat, error) {
	root := remoteRoot(remoteDir)
	cnt := &counter{}
	eg, subctx := errgroup.WithContext(ctx)
	eg.SetLimit(m.c.Thread)
	walkErr := client.Walk(subctx, m.c.Client, root, func(p string, ent *davxml.Entry) error {
		local, err := localPath(localDir, root, p)
		if err != nil {
			logutil.GetLogger(ctx).Error("reject remote entry", zap.String("path", p), zap.Error(err))
			return err
		}
		if ent.Collection {
			return os.MkdirAll(local, 0755)
		}
		eg.Go(func() error {
			return m.downloadFile(subctx, p, local, cnt)
		})
		return nil
	})
	if err := eg.Wait(); err != nil {
		logutil.GetLogger(ctx).Error("download file failed", zap.Error(err))
		return cnt.stat(), err
	}
	if walkErr != nil {
		logutil.GetLogger(ctx).Error("walk remote dir failed", zap.String("dir", root), zap.Error(walkErr))
		return cnt.stat(), walkErr
	}
	return cnt.stat(), nil
}

func (m *Mirror) downloadFile(ctx context.Context, remote string, local string, cnt *counter) error {
	start := time.Now()
	var data []byte
	if err := m.retryDo(ctx, remote, func(ctx context.Context) error {
		raw, err := m.c.Client.Get(ctx, remote)
		if err != nil {
			return err
		}
		data = raw
		return nil
	}); err != nil {
		return fmt.Errorf("download %s failed, err:%w", remote, err)
	}
	if sum, err := utils.ChecksumFile(local); err == nil && sum == utils.Checksum(data) {
		logutil.GetLogger(ctx).Debug("local file unchanged, skip", zap.String("name", remote), zap.String("checksum", sum))
		cnt.skipped.Add(1)
		return nil
	}
	if _, err := utils.SafeSaveIOToFile(local, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("save %s failed, err:%w", local, err)
	}
	cnt.files.Add(1)
	cnt.bytes.Add(int64(len(data)))
	logSpeed(ctx, "file download finish", remote, int64(len(data)), start)
	return nil
}

// Upload creates remoteDir and its sub collections, then puts every regular
// file below localDir.
func (m *Mirror) Upload(ctx context.Context, localDir string, remoteDir string) (*Stat, error) {
	root := remoteRoot(remoteDir)
	dirs := make([]string, 0, 8)
	files := make(map[string]string)
	if root != "/" {
		dirs = append(dirs, root)
	}
	if err := filepath.WalkDir(localDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		remote := path.Join(root, filepath.ToSlash(rel))
		if d.IsDir() {
			dirs = append(dirs, remote+"/")
			return nil
		}
		if d.Type().IsRegular() {
			files[p] = remote
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("walk local dir failed, err:%w", err)
	}
	// parents come first in WalkDir order
	for _, dir := range dirs {
		if err := m.ensureCollection(ctx, dir); err != nil {
			return nil, err
		}
	}
	cnt := &counter{}
	eg, subctx := errgroup.WithContext(ctx)
	eg.SetLimit(m.c.Thread)
	for local, remote := range files {
		eg.Go(func() error {
			return m.uploadFile(subctx, local, remote, cnt)
		})
	}
	if err := eg.Wait(); err != nil {
		logutil.GetLogger(ctx).Error("upload file failed", zap.Error(err))
		return cnt.stat(), err
	}
	return cnt.stat(), nil
}

func (m *Mirror) ensureCollection(ctx context.Context, dir string) error {
	return m.retryDo(ctx, dir, func(ctx context.Context) error {
		err := m.c.Client.Mkcol(ctx, dir)
		if davreq.StatusOf(err) == http.StatusMethodNotAllowed {
			return nil
		}
		return err
	})
}

func (m *Mirror) uploadFile(ctx context.Context, local string, remote string, cnt *counter) error {
	start := time.Now()
	data, err := os.ReadFile(local)
	if err != nil {
		return fmt.Errorf("read %s failed, err:%w", local, err)
	}
	ct := utils.DetermineMimeType(local, data)
	if err := m.retryDo(ctx, remote, func(ctx context.Context) error {
		return m.c.Client.Put(ctx, remote, data, ct)
	}); err != nil {
		return fmt.Errorf("upload %s failed, err:%w", remote, err)
	}
	cnt.files.Add(1)
	cnt.bytes.Add(int64(len(data)))
	logSpeed(ctx, "file upload finish", remote, int64(len(data)), start)
	return nil
}
