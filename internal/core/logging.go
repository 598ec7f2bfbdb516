package core

import (
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
)

// NewLogger builds the root logger for a binary.
func NewLogger(cfg *Config) hclog.Logger {
	return newLogger(cfg, os.Stderr)
}

func newLogger(cfg *Config, out io.Writer) hclog.Logger {
	level := hclog.Info
	if cfg.Debug {
		level = hclog.Debug
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       cfg.ServiceName,
		Level:      level,
		Output:     out,
		JSONFormat: cfg.LogJSON,
	})
}
