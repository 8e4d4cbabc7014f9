package mirror

import (
	"time"

	"github.com/xxxsen/davkit/client"
)

type config struct {
	Client    client.IClient
	Thread    int
	Retry     int
	RetryWait time.Duration
}

type Option func(c *config)

func WithClient(c client.IClient) Option {
	return func(cfg *config) {
		cfg.Client = c
	}
}

func WithThread(n int) Option {
	return func(c *config) {
		c.Thread = n
	}
}

// WithRetry sets how many times a single file transfer is tried in total,
// the first attempt included.
func WithRetry(times int, wait time.Duration) Option {
	return func(c *config) {
		c.Retry = times
		c.RetryWait = wait
	}
}
