// Package clog provides the slicer's shared logger: silent by default,
// swappable with SetLogger, generalizing gogpu-gg's nop-handler/atomic
// pointer pattern so every internal package logs through one sink
// instead of each carrying its own *log.Logger.
package clog

import (
	"context"
	"log/slog"
	"sync/atomic"
)

type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger used by every internal package.
// Passing nil restores the silent default.
//
// Log levels:
//   - Debug: per-primitive/per-brick diagnostics (SAH split costs, JFA
//     pass counts, cache hit/miss)
//   - Info: lifecycle events (compute context created, kernel compiled,
//     slice pass completed)
//   - Warn: recoverable anomalies (atlas resize, resource still in use
//     on delete request)
//   - Error: operation aborted (device lost, invalid model rejected)
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)
}

// L returns the currently configured logger.
func L() *slog.Logger {
	return loggerPtr.Load()
}
