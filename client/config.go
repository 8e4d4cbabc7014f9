package client

import (
	"time"

	"github.com/xxxsen/davkit/davreq"
)

type config struct {
	BaseURL        string
	User           string
	Password       string
	AllowUntrusted bool
	Timeout        time.Duration
	Transport      davreq.Transport
}

type Option func(*config)

func WithBaseURL(u string) Option {
	return func(c *config) {
		c.BaseURL = u
	}
}

func WithAuth(user string, password string) Option {
	return func(c *config) {
		c.User = user
		c.Password = password
	}
}

func WithAllowUntrustedCert(v bool) Option {
	return func(c *config) {
		c.AllowUntrusted = v
	}
}

func WithTimeout(t time.Duration) Option {
	return func(c *config) {
		c.Timeout = t
	}
}

func WithTransport(t davreq.Transport) Option {
	return func(c *config) {
		c.Transport = t
	}
}
