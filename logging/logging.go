// Package logging points the standard logger at stdout and, optionally, a
// size-rotated log file.
package logging

import (
	"io"
	"log"
	"os"

	"campaign-tracker/config"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup configures the process-wide logger and returns the writer in use so
// callers can hand it to other components (gin, for instance).
func Setup(cfg config.LoggingConfig, prefix string) (io.Writer, func() error) {
	var out io.Writer = os.Stdout
	closer := func() error { return nil }

	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		out = io.MultiWriter(os.Stdout, rotator)
		closer = rotator.Close
	}

	log.SetOutput(out)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if prefix != "" {
		log.SetPrefix("[" + prefix + "] ")
	}
	return out, closer
}
