package cmd

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/davkit/utils"
	"go.uber.org/zap"
)

type putArgs struct {
	contentType string
}

func NewPutCmd(c *Context) *cobra.Command {
	args := &putArgs{}
	subc := &cobra.Command{
		Use:   "put <local file> <remote path>",
		Short: "Upload a file, a remote path ending with / keeps the local name",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, params []string) error {
			return onRunPut(cmd.Context(), c, params[0], params[1], args)
		},
	}
	subc.Flags().StringVarP(&args.contentType, "content-type", "t", "", "content type, detected when empty")
	return subc
}

func onRunPut(ctx context.Context, c *Context, local string, remote string, args *putArgs) error {
	data, err := os.ReadFile(local)
	if err != nil {
		return fmt.Errorf("read local file failed, err:%w", err)
	}
	if strings.HasSuffix(remote, "/") {
		remote = path.Join(remote, filepath.Base(local))
	}
	ct := args.contentType
	if len(ct) == 0 {
		ct = utils.DetermineMimeType(local, data)
	}
	start := time.Now()
	if err := c.Client.Put(ctx, remote, data, ct); err != nil {
		return fmt.Errorf("put file failed, err:%w", err)
	}
	logutil.GetLogger(ctx).Info("put file succ", zap.String("remote", remote), zap.String("content_type", ct),
		zap.Int("size", len(data)), zap.Duration("cost", time.Since(start)))
	return nil
}

func init() {
	register(NewPutCmd)
}
