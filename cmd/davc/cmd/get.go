package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/davkit/utils"
	"go.uber.org/zap"
)

type getArgs struct {
	output   string
	checksum bool
}

func NewGetCmd(c *Context) *cobra.Command {
	args := &getArgs{}
	subc := &cobra.Command{
		Use:   "get <remote file>",
		Short: "Download a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, params []string) error {
			return onRunGet(cmd.Context(), c, cmd.OutOrStdout(), params[0], args)
		},
	}
	subc.Flags().StringVarP(&args.output, "output", "o", "", "local file, default to the remote file name")
	subc.Flags().BoolVar(&args.checksum, "checksum", false, "print xxhash64 of the content")
	return subc
}

func onRunGet(ctx context.Context, c *Context, out io.Writer, remote string, args *getArgs) error {
	dst := args.output
	if len(dst) == 0 {
		dst = path.Base(remote)
	}
	start := time.Now()
	data, err := c.Client.Get(ctx, remote)
	if err != nil {
		return fmt.Errorf("get file failed, err:%w", err)
	}
	if _, err := utils.SafeSaveIOToFile(dst, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("save file failed, err:%w", err)
	}
	logutil.GetLogger(ctx).Info("get file succ", zap.String("remote", remote), zap.String("local", dst),
		zap.Int("size", len(data)), zap.Duration("cost", time.Since(start)))
	if args.checksum {
		fmt.Fprintf(out, "%s  %s\n", utils.Checksum(data), dst)
	}
	return nil
}

func init() {
	register(NewGetCmd)
}
