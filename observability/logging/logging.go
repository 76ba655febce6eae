package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options tune where and how log lines are written.
type Options struct {
	// Level is one of debug, info, warn or error. Defaults to info.
	Level string
	// Format is json or text. When empty, text is used on an interactive
	// terminal and json otherwise.
	Format string
	// File, when set, receives a copy of every line through a rotating
	// writer.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	// Output overrides stdout. Used by tests.
	Output io.Writer
}

// Setup configures the standard library logger to emit structured JSON and returns
// the underlying slog.Logger for richer logging within the service. All log lines
// include the service name and environment when provided.
func Setup(service, env string) *slog.Logger {
	return SetupWithOptions(service, env, Options{Format: "json"})
}

// SetupWithOptions is Setup with an explicit level, format and optional
// rotating log file.
func SetupWithOptions(service, env string, opts Options) *slog.Logger {
	out := opts.Output
	interactive := false
	if out == nil {
		out = os.Stdout
		interactive = term.IsTerminal(int(os.Stdout.Fd()))
	}
	if path := strings.TrimSpace(opts.File); path != "" {
		out = io.MultiWriter(out, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    defaultInt(opts.MaxSizeMB, 100),
			MaxBackups: defaultInt(opts.MaxBackups, 5),
			MaxAge:     defaultInt(opts.MaxAgeDays, 28),
			Compress:   true,
		})
	}

	handlerOpts := &slog.HandlerOptions{
		AddSource:   false,
		Level:       ParseLevel(opts.Level),
		ReplaceAttr: replaceAttr,
	}
	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "text":
		handler = slog.NewTextHandler(out, handlerOpts)
	case "json":
		handler = slog.NewJSONHandler(out, handlerOpts)
	default:
		if interactive {
			handler = slog.NewTextHandler(out, handlerOpts)
		} else {
			handler = slog.NewJSONHandler(out, handlerOpts)
		}
	}

	attrs := []slog.Attr{
		slog.String("service", strings.TrimSpace(service)),
	}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}

	withArgs := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		withArgs = append(withArgs, attr)
	}

	base := slog.New(handler).With(withArgs...)
	slog.SetDefault(base)

	// Bridge the standard library logger so existing packages continue to work.
	stdBridge := slog.NewLogLogger(handler.WithAttrs(attrs), slog.LevelInfo)
	stdBridge.SetFlags(0)
	log.SetOutput(stdBridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base
}

func replaceAttr(groups []string, attr slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return redact(attr)
	}
	switch attr.Key {
	case slog.TimeKey:
		return slog.Attr{Key: "timestamp", Value: attr.Value}
	case slog.LevelKey:
		return slog.String("severity", strings.ToUpper(attr.Value.String()))
	case slog.MessageKey:
		return slog.Attr{Key: "message", Value: attr.Value}
	}
	return redact(attr)
}

// ParseLevel maps a configured level name onto slog. Unknown names fall back
// to info.
func ParseLevel(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
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

func defaultInt(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}
