// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package logging builds the operator log stream.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pdiddy/rxn-harvest/pkg/types"
)

// Setup builds a logger writing to out, formatted per cfg, and also
// appending JSON lines to cfg.File when set. The returned closer releases
// the file and is never nil.
func Setup(cfg types.LogConfig, out io.Writer) (zerolog.Logger, io.Closer, error) {
	levelName := strings.ToLower(strings.TrimSpace(cfg.Level))
	if levelName == "" {
		levelName = "info"
	}
	level, err := zerolog.ParseLevel(levelName)
	if err != nil {
		return zerolog.Nop(), nopCloser{}, fmt.Errorf("parsing log level: %w", err)
	}

	var console io.Writer
	switch strings.ToLower(cfg.Format) {
	case "", "pretty":
		console = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	case "json":
		console = out
	default:
		return zerolog.Nop(), nopCloser{}, fmt.Errorf("unknown log format %q (want pretty or json)", cfg.Format)
	}

	writers := []io.Writer{console}
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf("creating log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf("opening log file: %w", err)
		}
		writers = append(writers, f)
		closer = f
	}

	var w io.Writer = writers[0]
	if len(writers) > 1 {
		w = zerolog.MultiLevelWriter(writers...)
	}
	logger := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
