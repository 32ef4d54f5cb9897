package logging

import (
	"io"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileOptions selects a rotated log file. An empty Path logs to stdout.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Output returns the writer log lines go to and a func releasing it.
func Output(opts FileOptions) (io.Writer, func() error) {
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		return os.Stdout, func() error { return nil }
	}
	size := opts.MaxSizeMB
	if size <= 0 {
		size = 100
	}
	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    size,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}
	return rotator, rotator.Close
}
