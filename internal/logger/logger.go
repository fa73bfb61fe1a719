// Package logger provides leveled logging for bisync.
// Errors and warnings are always written; info and debug messages are
// printed only when verbose mode is enabled via the --verbose flag.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Level is a logging threshold.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelTags = map[Level]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

var (
	mu         sync.RWMutex
	level      = LevelWarn
	output     io.Writer = os.Stderr
	timestamps = true
)

// SetVerbose lowers the threshold to debug, or restores the warn default.
func SetVerbose(v bool) {
	if v {
		SetLevel(LevelDebug)
		return
	}
	SetLevel(LevelWarn)
}

// IsVerbose returns true if debug messages are printed.
func IsVerbose() bool {
	mu.RLock()
	defer mu.RUnlock()
	return level <= LevelDebug
}

// SetLevel sets the minimum level printed.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	level = l
}

// SetOutput sets the output writer.
// Defaults to os.Stderr. Useful for testing.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
}

// SetTimestamps toggles the RFC3339 prefix on each line.
func SetTimestamps(on bool) {
	mu.Lock()
	defer mu.Unlock()
	timestamps = on
}

func logf(l Level, component, format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	if l < level {
		return
	}
	prefix := "[" + levelTags[l] + "] "
	if component != "" {
		prefix += component + ": "
	}
	if timestamps {
		prefix = time.Now().UTC().Format(time.RFC3339) + " " + prefix
	}
	fmt.Fprintf(output, prefix+format+"\n", args...)
}

// Debug prints a message if verbose mode is enabled.
func Debug(format string, args ...any) { logf(LevelDebug, "", format, args...) }

// Info prints an informational message if verbose mode is enabled.
func Info(format string, args ...any) { logf(LevelInfo, "", format, args...) }

// Warn prints a warning message.
func Warn(format string, args ...any) { logf(LevelWarn, "", format, args...) }

// Error prints an error message.
func Error(format string, args ...any) { logf(LevelError, "", format, args...) }

// Section prints a section header if verbose mode is enabled.
func Section(name string) {
	mu.RLock()
	defer mu.RUnlock()
	if level <= LevelInfo {
		fmt.Fprintf(output, "\n=== %s ===\n", name)
	}
}

// Logger prefixes every message with a component name.
type Logger struct {
	component string
}

// With returns a logger for a component, e.g. "executor" or "shopify".
func With(component string) Logger {
	return Logger{component: component}
}

func (l Logger) Debug(format string, args ...any) { logf(LevelDebug, l.component, format, args...) }
func (l Logger) Info(format string, args ...any)  { logf(LevelInfo, l.component, format, args...) }
func (l Logger) Warn(format string, args ...any)  { logf(LevelWarn, l.component, format, args...) }
func (l Logger) Error(format string, args ...any) { logf(LevelError, l.component, format, args...) }
