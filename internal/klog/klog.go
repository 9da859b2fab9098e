// Package klog is the kernel's diagnostic logger. It keeps the familiar
// terse, printf-shaped console output freestanding kernels favor (e.g.
// "Reserved %v pages (%vMB)\n") behind a small leveled wrapper around an
// io.Writer, so production code writes to the framebuffer/serial console
// and tests write to a bytes.Buffer.
package klog

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/dustin/go-humanize"
)

// Level orders log severities, quietest first.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DBG"
	case LevelInfo:
		return "INF"
	case LevelWarn:
		return "WRN"
	case LevelError:
		return "ERR"
	default:
		return "???"
	}
}

// Logger writes leveled lines to an underlying console writer.
type Logger struct {
	mu     sync.Mutex
	w      io.Writer
	min    Level
}

// New constructs a Logger writing to w, filtering anything below min.
func New(w io.Writer, min Level) *Logger {
	return &Logger{w: w, min: min}
}

func (l *Logger) log(lvl Level, format string, args ...any) {
	if lvl < l.min {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, "[%s] %s\n", lvl, fmt.Sprintf(format, args...))
}

func (l *Logger) Debugf(format string, args ...any) { l.log(LevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.log(LevelInfo, format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.log(LevelWarn, format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.log(LevelError, format, args...) }

// Bytes formats n as a human-readable byte count (e.g. "2.0 MB"), used for
// PFA/heap capacity diagnostics in place of hand-computed "pages>>8"
// megabyte arithmetic.
func Bytes(n uint64) string {
	return humanize.Bytes(n)
}

// std is the process-wide default logger, writing to stderr in hosted
// builds and to the console writer installed by the boot glue on real
// hardware.
var std = New(os.Stderr, LevelInfo)

// SetOutput redirects the default logger, used by tests to capture output
// and by boot glue to install the framebuffer/serial console writer.
func SetOutput(w io.Writer) { std = New(w, std.min) }

// SetLevel adjusts the default logger's minimum level.
func SetLevel(l Level) { std.min = l }

func Debugf(format string, args ...any) { std.Debugf(format, args...) }
func Infof(format string, args ...any)  { std.Infof(format, args...) }
func Warnf(format string, args ...any)  { std.Warnf(format, args...) }
func Errorf(format string, args ...any) { std.Errorf(format, args...) }
