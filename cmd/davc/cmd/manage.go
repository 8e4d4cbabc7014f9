package cmd

import (
	"github.com/spf13/cobra"
)

func NewRmCmd(c *Context) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <remote path>",
		Short: "Delete a file or collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, params []string) error {
			return c.Client.Delete(cmd.Context(), params[0])
		},
	}
}

func NewMkdirCmd(c *Context) *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <remote dir>",
		Short: "Create a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, params []string) error {
			return c.Client.Mkcol(cmd.Context(), params[0])
		},
	}
}

func NewCpCmd(c *Context) *cobra.Command {
	var overwrite bool
	subc := &cobra.Command{
		Use:   "cp <src> <dst>",
		Short: "Copy on the server",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, params []string) error {
			return c.Client.Copy(cmd.Context(), params[0], params[1], overwrite)
		},
	}
	subc.Flags().BoolVarP(&overwrite, "overwrite", "f", false, "replace an existing destination")
	return subc
}

func NewMvCmd(c *Context) *cobra.Command {
	var overwrite bool
	subc := &cobra.Command{
		Use:   "mv <src> <dst>",
		Short: "Move on the server",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, params []string) error {
			return c.Client.Move(cmd.Context(), params[0], params[1], overwrite)
		},
	}
	subc.Flags().BoolVarP(&overwrite, "overwrite", "f", false, "replace an existing destination")
	return subc
}

func init() {
	register(NewRmCmd)
	register(NewMkdirCmd)
	register(NewCpCmd)
	register(NewMvCmd)
}
