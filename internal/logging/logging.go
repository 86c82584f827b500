// Package logging wires the process-wide slog logger: colourised console
// output plus a rotating plain-text log file.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/invoicehub/mirror/internal/utils"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"
)

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

type Options struct {
	Level      slog.Level
	FilePath   string // empty disables the file sink
	MaxSizeMB  int
	MaxBackups int
	Console    io.Writer
}

// Setup installs the default slog logger and returns a closer for the file sink.
func Setup(opts Options) (io.Closer, error) {
	console := opts.Console
	if console == nil {
		console = os.Stdout
	}

	noColor := true
	if f, ok := console.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd())
	}

	handlers := []slog.Handler{
		tint.NewHandler(console, &tint.Options{
			Level:      opts.Level,
			TimeFormat: consoleTimeFormat,
			NoColor:    noColor,
		}),
	}

	var closer io.Closer = nopCloser{}
	if opts.FilePath != "" {
		if err := utils.EnsureParent(opts.FilePath); err != nil {
			return nil, err
		}
		rotator := &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    max(opts.MaxSizeMB, 1),
			MaxBackups: opts.MaxBackups,
			Compress:   true,
		}
		seq := NewLineSequencer(rotator)
		handlers = append(handlers, slog.NewTextHandler(seq, &slog.HandlerOptions{
			Level: opts.Level,
			// time is written by the sequencer
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey && len(groups) == 0 {
					return slog.Attr{}
				}
				return a
			},
		}))
		closer = multiCloser{seq, rotator}
	}

	slog.SetDefault(slog.New(NewFanoutHandler(handlers...)))
	return closer, nil
}

// ParseLevel accepts debug/info/warn/error, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var first error
	for _, c := range m {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
