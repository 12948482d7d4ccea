// Package utils provides shared helpers for the FSWatcher daemon.
package utils

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// FanoutHandler is a slog.Handler that forwards every record to a set of
// underlying handlers. A record is delivered to each handler that reports
// itself enabled for the record's level.
type FanoutHandler struct {
	handlers []slog.Handler
}

func NewFanoutHandler(handlers ...slog.Handler) *FanoutHandler {
	return &FanoutHandler{handlers: handlers}
}

// Enabled implements slog.Handler
func (h *FanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, hh := range h.handlers {
		if hh.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle implements slog.Handler
func (h *FanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, hh := range h.handlers {
		if hh.Enabled(ctx, r.Level) {
			if err := hh.Handle(ctx, r.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// WithAttrs implements slog.Handler
func (h *FanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		next[i] = hh.WithAttrs(attrs)
	}
	return NewFanoutHandler(next...)
}

// WithGroup implements slog.Handler
func (h *FanoutHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		next[i] = hh.WithGroup(name)
	}
	return NewFanoutHandler(next...)
}

// LineWriter prefixes each complete line written through it with a sequence
// number before handing it to the target writer. Partial writes are buffered
// until a newline arrives.
type LineWriter struct {
	mu  sync.Mutex
	w   io.Writer
	seq uint64
	buf bytes.Buffer
}

func NewLineWriter(w io.Writer) *LineWriter {
	return &LineWriter{w: w}
}

// Write implements io.Writer
func (lw *LineWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	lw.buf.Write(p)
	for {
		line, err := lw.buf.ReadBytes('\n')
		if err != nil {
			// no complete line yet, keep the remainder buffered
			lw.buf.Write(line)
			return len(p), nil
		}
		if err := lw.writeLine(line); err != nil {
			return len(p), err
		}
	}
}

func (lw *LineWriter) writeLine(line []byte) error {
	lw.seq++
	if _, err := fmt.Fprintf(lw.w, "line=%d ", lw.seq); err != nil {
		return err
	}
	_, err := lw.w.Write(line)
	return err
}

// Close flushes any buffered partial line to the target.
func (lw *LineWriter) Close() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	if lw.buf.Len() == 0 {
		return nil
	}
	line := lw.buf.Bytes()
	lw.buf.Reset()
	return lw.writeLine(line)
}
