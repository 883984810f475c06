package testenv

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// LogHandler is a slog.Handler that prints a message index (starting from
// 0), the level and the message, without a timestamp, so that log output in
// examples is deterministic.
type LogHandler struct {
	state *logState
	attrs []slog.Attr

	ignoreDebug bool
	ignoreKeys  map[string]bool
}

// logState is shared by handlers derived through WithAttrs.
type logState struct {
	mu    sync.Mutex
	w     io.Writer
	index int
}

type LogHandlerOption func(*LogHandler)

// WithIgnoreDebug drops DEBUG records.
func WithIgnoreDebug() LogHandlerOption {
	return func(h *LogHandler) {
		h.ignoreDebug = true
	}
}

// WithIgnoreKeys drops attributes whose values change between runs, such as
// URLs of a temporary server or request IDs.
func WithIgnoreKeys(keys ...string) LogHandlerOption {
	return func(h *LogHandler) {
		for _, k := range keys {
			h.ignoreKeys[k] = true
		}
	}
}

// WithWriter sends output somewhere other than stdout.
func WithWriter(w io.Writer) LogHandlerOption {
	return func(h *LogHandler) {
		h.state.w = w
	}
}

func NewLogHandler(opts ...LogHandlerOption) *LogHandler {
	h := &LogHandler{
		state:      &logState{w: os.Stdout},
		ignoreKeys: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *LogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return !(h.ignoreDebug && level == slog.LevelDebug)
}

//nolint:gocritic
func (h *LogHandler) Handle(_ context.Context, r slog.Record) error {
	if !h.Enabled(context.Background(), r.Level) {
		return nil
	}

	parts := make([]string, 0, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		parts = h.appendAttr(parts, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		parts = h.appendAttr(parts, a)
		return true
	})

	h.state.mu.Lock()
	defer h.state.mu.Unlock()
	line := fmt.Sprintf("[%d] %s: %s", h.state.index, r.Level, r.Message)
	if len(parts) > 0 {
		line += " " + strings.Join(parts, ", ")
	}
	h.state.index++
	_, err := fmt.Fprintln(h.state.w, line)
	return err
}

func (h *LogHandler) appendAttr(parts []string, a slog.Attr) []string {
	if h.ignoreKeys[a.Key] {
		return parts
	}
	return append(parts, fmt.Sprintf("%s=%v", a.Key, a.Value))
}

func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LogHandler{
		state:       h.state,
		attrs:       append(h.attrs[:len(h.attrs):len(h.attrs)], attrs...),
		ignoreDebug: h.ignoreDebug,
		ignoreKeys:  h.ignoreKeys,
	}
}

// WithGroup is a no-op; rxcouch never groups attributes.
func (h *LogHandler) WithGroup(string) slog.Handler {
	return h
}
