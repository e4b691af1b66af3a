package build

import (
	"context"
	"log/slog"
	"os"

	btclogv1 "github.com/btcsuite/btclog"
	"github.com/btcsuite/btclog/v2"
)

// NewDefaultLoggers returns the standard console logger and rotating log
// writer loggers that we generally want to use. It also applies the various
// config options to the loggers.
func NewDefaultLoggers(cfg *LogConfig, rotator *RotatingLogWriter) (
	btclog.Handler, btclog.Handler) {

	var consoleLogHandler, logFileHandler btclog.Handler

	if !cfg.Console.Disable {
		consoleOpts := cfg.Console.HandlerOptions()
		if cfg.Console.Style {
			consoleOpts = append(
				consoleOpts, btclog.WithStyledOutput(),
			)
		}

		consoleLogHandler = btclog.NewDefaultHandler(
			os.Stdout, consoleOpts...,
		)
	}

	if !cfg.File.Disable {
		logFileHandler = btclog.NewDefaultHandler(
			rotator, cfg.File.HandlerOptions()...,
		)
	}

	return consoleLogHandler, logFileHandler
}

// handlerSet is a btclog.Handler that fans every record out to a set of
// handlers.
type handlerSet struct {
	level btclogv1.Level
	set   []btclog.Handler
}

// NewHandlerSet constructs a new btclog.Handler that writes to all of the
// given handlers. Disabled handlers may be passed as nil.
func NewHandlerSet(level btclogv1.Level,
	handlers ...btclog.Handler) btclog.Handler {

	h := &handlerSet{level: level}
	for _, handler := range handlers {
		if handler == nil {
			continue
		}

		handler.SetLevel(level)
		h.set = append(h.set, handler)
	}

	return h
}

// Enabled reports whether the handler handles records at the given level.
//
// NOTE: this is part of the slog.Handler interface.
func (h *handlerSet) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.set {
		if handler.Enabled(ctx, level) {
			return true
		}
	}

	return false
}

// Handle handles the Record.
//
// NOTE: this is part of the slog.Handler interface.
func (h *handlerSet) Handle(ctx context.Context, record slog.Record) error {
	for _, handler := range h.set {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}

		if err := handler.Handle(ctx, record); err != nil {
			return err
		}
	}

	return nil
}

// WithAttrs returns a new Handler whose attributes consist of both the
// receiver's attributes and the arguments.
//
// NOTE: this is part of the slog.Handler interface.
func (h *handlerSet) WithAttrs(attrs []slog.Attr) slog.Handler {
	newSet := &handlerSet{
		level: h.level,
		set:   make([]btclog.Handler, len(h.set)),
	}
	for i, handler := range h.set {
		newSet.set[i] = handler.WithAttrs(attrs).(btclog.Handler)
	}

	return newSet
}

// WithGroup returns a new Handler with the given group appended to the
// receiver's existing groups.
//
// NOTE: this is part of the slog.Handler interface.
func (h *handlerSet) WithGroup(name string) slog.Handler {
	newSet := &handlerSet{
		level: h.level,
		set:   make([]btclog.Handler, len(h.set)),
	}
	for i, handler := range h.set {
		newSet.set[i] = handler.WithGroup(name).(btclog.Handler)
	}

	return newSet
}

// SubSystem creates a new Handler with the given sub-system tag.
//
// NOTE: this is part of the btclog.Handler interface.
func (h *handlerSet) SubSystem(tag string) btclog.Handler {
	newSet := &handlerSet{
		level: h.level,
		set:   make([]btclog.Handler, len(h.set)),
	}
	for i, handler := range h.set {
		newSet.set[i] = handler.SubSystem(tag)
	}

	return newSet
}

// SetLevel changes the logging level of the Handler to the passed level.
//
// NOTE: this is part of the btclog.Handler interface.
func (h *handlerSet) SetLevel(level btclogv1.Level) {
	for _, handler := range h.set {
		handler.SetLevel(level)
	}
	h.level = level
}

// Level returns the current logging level of the Handler.
//
// NOTE: this is part of the btclog.Handler interface.
func (h *handlerSet) Level() btclogv1.Level {
	return h.level
}

// WithPrefix returns a copy of the Handler but with the given string prefixed
// to each log message.
//
// NOTE: this is part of the btclog.Handler interface.
func (h *handlerSet) WithPrefix(prefix string) btclog.Handler {
	newSet := &handlerSet{
		level: h.level,
		set:   make([]btclog.Handler, len(h.set)),
	}
	for i, handler := range h.set {
		newSet.set[i] = handler.WithPrefix(prefix)
	}

	return newSet
}

// A compile-time check to ensure that handlerSet implements btclog.Handler.
var _ btclog.Handler = (*handlerSet)(nil)
