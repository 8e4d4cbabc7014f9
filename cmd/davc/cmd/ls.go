package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/xxxsen/davkit/client"
	"github.com/xxxsen/davkit/davxml"
)

type lsArgs struct {
	recursive bool
	raw       bool
}

func NewLsCmd(c *Context) *cobra.Command {
	args := &lsArgs{}
	subc := &cobra.Command{
		Use:   "ls [remote dir]",
		Short: "List a remote collection",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, params []string) error {
			dir := "/"
			if len(params) > 0 {
				dir = params[0]
			}
			return onRunLs(cmd.Context(), c, cmd.OutOrStdout(), dir, args)
		},
	}
	subc.Flags().BoolVarP(&args.recursive, "recursive", "r", false, "list sub collections too")
	subc.Flags().BoolVar(&args.raw, "bytes", false, "print sizes in bytes")
	return subc
}

func onRunLs(ctx context.Context, c *Context, out io.Writer, dir string, args *lsArgs) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	printEntry := func(p string, ent *davxml.Entry) {
		kind, size := "-", ""
		if ent.Collection {
			kind = "d"
		} else if args.raw {
			size = fmt.Sprintf("%d", ent.ContentLength)
		} else {
			size = humanize.IBytes(uint64(ent.ContentLength))
		}
		mtime := ""
		if !ent.LastModified.IsZero() {
			mtime = ent.LastModified.Local().Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", kind, size, mtime, p)
	}
	if args.recursive {
		if err := client.Walk(ctx, c.Client, dir, func(p string, ent *davxml.Entry) error {
			printEntry(p, ent)
			return nil
		}); err != nil {
			return fmt.Errorf("walk dir failed, err:%w", err)
		}
		return w.Flush()
	}
	ents, err := c.Client.List(ctx, dir, 1)
	if err != nil {
		return fmt.Errorf("list dir failed, err:%w", err)
	}
	for _, ent := range ents {
		p := c.Client.Relative(ent)
		if client.IsSamePath(p, dir) {
			continue
		}
		printEntry(p, ent)
	}
	return w.Flush()
}

func init() {
	register(NewLsCmd)
}
