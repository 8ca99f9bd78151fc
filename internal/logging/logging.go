// Package logging provides the structured logger type shared across
// linkval and its supporting packages, backed by stumpy's JSON writer.
package logging

import (
	"io"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the concrete logger type used throughout this module.
type Logger = logiface.Logger[*stumpy.Event]

// Disabled returns a Logger that never emits output, the library's
// safe default: using linkval without configuring a logger must never
// force output onto a caller's terminal.
func Disabled() *Logger {
	return stumpy.L.New(stumpy.L.WithLevel(logiface.LevelDisabled))
}

// New returns a Logger writing newline-delimited JSON events to w at
// the given minimum level.
func New(w io.Writer, level logiface.Level) *Logger {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(level),
	)
}
