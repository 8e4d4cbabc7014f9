package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// levels accepted by the common logger
var supportedLevels = []string{"debug", "info", "warn", "fatal", "panic"}

func isSupportedLevel(lv string) bool {
	for _, item := range supportedLevels {
		if item == lv {
			return true
		}
	}
	return false
}

type Config struct {
	BaseURL            string `json:"base_url"`
	Username           string `json:"username"`
	Password           string `json:"password"`
	AllowUntrustedCert bool   `json:"allow_untrusted_cert"`
	Timeout            int64  `json:"timeout"` // seconds
	Thread             int    `json:"thread"`
	Retry              int    `json:"retry"`
	LogLevel           string `json:"log_level"`
}

func Parse(f string) (*Config, error) {
	raw, err := os.ReadFile(f)
	if err != nil {
		return nil, fmt.Errorf("read file:%w", err)
	}
	c := &Config{
		Timeout:  60,
		Thread:   4,
		Retry:    3,
		LogLevel: "info",
	}
	if err := json.Unmarshal(raw, c); err != nil {
		return nil, fmt.Errorf("unmarshal file:%w", err)
	}
	if !isSupportedLevel(c.LogLevel) {
		return nil, fmt.Errorf("unsupported log_level:%s, should be one of %v", c.LogLevel, supportedLevels)
	}
	if len(c.BaseURL) == 0 {
		return nil, fmt.Errorf("no base_url found in config:%s", f)
	}
	return c, nil
}
