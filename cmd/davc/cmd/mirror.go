package cmd

import (
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/davkit/mirror"
	"go.uber.org/zap"
)

func NewMirrorCmd(c *Context) *cobra.Command {
	subc := &cobra.Command{
		Use:   "mirror",
		Short: "Copy directory trees between local disk and server",
	}
	subc.AddCommand(&cobra.Command{
		Use:   "pull <remote dir> <local dir>",
		Short: "Download a remote collection recursively",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, params []string) error {
			start := time.Now()
			st, err := c.Mirror.Download(cmd.Context(), params[0], params[1])
			logMirrorStat(cmd, "pull", st, start)
			return err
		},
	})
	subc.AddCommand(&cobra.Command{
		Use:   "push <local dir> <remote dir>",
		Short: "Upload a local directory recursively",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, params []string) error {
			start := time.Now()
			st, err := c.Mirror.Upload(cmd.Context(), params[0], params[1])
			logMirrorStat(cmd, "push", st, start)
			return err
		},
	})
	return subc
}

func logMirrorStat(cmd *cobra.Command, action string, st *mirror.Stat, start time.Time) {
	if st == nil {
		return
	}
	logutil.GetLogger(cmd.Context()).Info("mirror finish", zap.String("action", action),
		zap.Int64("files", st.Files), zap.Int64("skipped", st.Skipped),
		zap.String("size", humanize.IBytes(uint64(st.Bytes))), zap.Duration("cost", time.Since(start)))
}

func init() {
	register(NewMirrorCmd)
}
