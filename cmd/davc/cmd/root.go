package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/davkit/client"
	"github.com/xxxsen/davkit/cmd/davc/config"
	"github.com/xxxsen/davkit/mirror"
)

const (
	defaultConfigFileEnv = "DAVC_CONFIG"
)

var cmds []CreateFunc

type Context struct {
	Client client.IClient
	Mirror *mirror.Mirror
	Config *config.Config
}

type CreateFunc func(ctx *Context) *cobra.Command

func register(cr CreateFunc) {
	cmds = append(cmds, cr)
}

func initContext(ctx *Context, cfgs []string) error {
	var c *config.Config
	err := fmt.Errorf("no config file given")
	for _, cfg := range cfgs {
		if len(cfg) == 0 {
			continue
		}
		c, err = config.Parse(cfg)
		if err == nil {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("no valid config file found, last err:%w", err)
	}
	ctx.Config = c
	logger.Init("", c.LogLevel, 0, 0, 0, true)
	cli, err := client.New(
		client.WithBaseURL(c.BaseURL),
		client.WithAuth(c.Username, c.Password),
		client.WithAllowUntrustedCert(c.AllowUntrustedCert),
		client.WithTimeout(time.Duration(c.Timeout)*time.Second),
	)
	if err != nil {
		return err
	}
	ctx.Client = cli
	m, err := mirror.New(mirror.WithClient(cli), mirror.WithThread(c.Thread), mirror.WithRetry(c.Retry, 2*time.Second))
	if err != nil {
		return err
	}
	ctx.Mirror = m
	return nil
}

func NewRoot() *cobra.Command {
	var configFile string
	ctx := &Context{}
	var rootCmd = &cobra.Command{
		Use:           "davc",
		Short:         "WebDAV CLI tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	for _, cr := range cmds {
		rootCmd.AddCommand(cr(ctx))
	}
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		envConfigFile, _ := os.LookupEnv(defaultConfigFileEnv)
		return initContext(ctx, []string{configFile, "/etc/davc/davc_config.json", envConfigFile})
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file")
	return rootCmd
}
