// Package logging is the leveled, module-scoped logger used across the
// backend and the CLI.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

// Level is a log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a config string to a Level. Unknown values yield LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// Logger takes a message followed by alternating key/value pairs.
//
// The method set also satisfies retryablehttp.LeveledLogger, so the plugin's
// HTTP client logs through the same logger.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Fatal(msg string, keysAndValues ...interface{})

	// WithModule returns a child logger; modules nest as "server/auth".
	WithModule(module string) Logger
}

// SimpleLogger writes one line per entry: "[module] LEVEL: msg k=v ...".
type SimpleLogger struct {
	module    string
	level     Level
	out       *log.Logger
	useColors bool
}

// NewSimpleLogger logs to stdout. Colors are only used when stdout is a TTY.
func NewSimpleLogger(module string, level Level, useColors bool) *SimpleLogger {
	return NewSimpleLoggerWithWriter(module, level, useColors && isTTY(os.Stdout), os.Stdout)
}

// NewSimpleLoggerWithWriter logs to w.
func NewSimpleLoggerWithWriter(module string, level Level, useColors bool, w io.Writer) *SimpleLogger {
	return &SimpleLogger{
		module:    module,
		level:     level,
		out:       log.New(w, "", log.LstdFlags),
		useColors: useColors,
	}
}

func isTTY(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func (l *SimpleLogger) Debug(msg string, kv ...interface{}) { l.log(LevelDebug, msg, kv) }
func (l *SimpleLogger) Info(msg string, kv ...interface{})  { l.log(LevelInfo, msg, kv) }
func (l *SimpleLogger) Warn(msg string, kv ...interface{})  { l.log(LevelWarn, msg, kv) }
func (l *SimpleLogger) Error(msg string, kv ...interface{}) { l.log(LevelError, msg, kv) }

// Fatal logs and exits the process with status 1.
func (l *SimpleLogger) Fatal(msg string, kv ...interface{}) {
	l.log(LevelFatal, msg, kv)
	os.Exit(1)
}

func (l *SimpleLogger) WithModule(module string) Logger {
	child := *l
	child.module = joinModule(l.module, module)
	return &child
}

func (l *SimpleLogger) log(level Level, msg string, kv []interface{}) {
	if level < l.level {
		return
	}
	l.out.Println(l.format(level, msg, kv))
}

func (l *SimpleLogger) format(level Level, msg string, kv []interface{}) string {
	var b strings.Builder

	module := "[" + l.module + "]"
	lvl := level.String()
	if l.useColors {
		module = colorCyan + module + colorReset
		lvl = levelColor(level) + lvl + colorReset
	}
	b.WriteString(module)
	b.WriteByte(' ')
	b.WriteString(lvl)
	b.WriteString(": ")
	b.WriteString(msg)

	for i := 0; i+1 < len(kv); i += 2 {
		fmt.Fprintf(&b, " %v=%v", kv[i], kv[i+1])
	}
	if len(kv)%2 == 1 {
		fmt.Fprintf(&b, " EXTRA=%v", kv[len(kv)-1])
	}
	return b.String()
}

func joinModule(parent, child string) string {
	if parent == "" {
		return child
	}
	return parent + "/" + child
}

// Mask shortens an identifier for logs, keeping only its first 6 characters.
// Session ids and bearer tokens are capabilities and never logged whole.
func Mask(id string) string {
	if len(id) <= 6 {
		return strings.Repeat("*", len(id))
	}
	return id[:6] + "..."
}

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

func levelColor(level Level) string {
	switch level {
	case LevelDebug:
		return colorGray
	case LevelInfo:
		return colorGreen
	case LevelWarn:
		return colorYellow
	case LevelError:
		return colorRed
	default:
		return colorRed + colorBold
	}
}
