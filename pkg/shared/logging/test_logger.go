package logging

import (
	"fmt"
	"strings"
	"sync"
	"testing"
)

// TestLogger is a Logger for tests. It is silent unless built with
// NewTestLoggerVerbose and keeps every entry so tests can assert on them.
type TestLogger struct {
	module  string
	t       *testing.T
	entries *entries
}

type entries struct {
	mu    sync.Mutex
	lines []string
}

func NewTestLogger() *TestLogger {
	return &TestLogger{module: "test", entries: &entries{}}
}

// NewTestLoggerVerbose also forwards entries to t.Logf.
func NewTestLoggerVerbose(t *testing.T) *TestLogger {
	return &TestLogger{module: "test", t: t, entries: &entries{}}
}

func (l *TestLogger) Debug(msg string, kv ...interface{}) { l.record(LevelDebug, msg, kv) }
func (l *TestLogger) Info(msg string, kv ...interface{})  { l.record(LevelInfo, msg, kv) }
func (l *TestLogger) Warn(msg string, kv ...interface{})  { l.record(LevelWarn, msg, kv) }
func (l *TestLogger) Error(msg string, kv ...interface{}) { l.record(LevelError, msg, kv) }

// Fatal records the entry and fails the test instead of exiting.
func (l *TestLogger) Fatal(msg string, kv ...interface{}) {
	l.record(LevelFatal, msg, kv)
	if l.t != nil {
		l.t.FailNow()
	}
}

func (l *TestLogger) WithModule(module string) Logger {
	return &TestLogger{module: joinModule(l.module, module), t: l.t, entries: l.entries}
}

// Contains reports whether any recorded line contains substr.
func (l *TestLogger) Contains(substr string) bool {
	l.entries.mu.Lock()
	defer l.entries.mu.Unlock()
	for _, line := range l.entries.lines {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

func (l *TestLogger) record(level Level, msg string, kv []interface{}) {
	line := fmt.Sprintf("[%s] %s: %s %v", l.module, level, msg, kv)
	l.entries.mu.Lock()
	l.entries.lines = append(l.entries.lines, line)
	l.entries.mu.Unlock()
	if l.t != nil {
		l.t.Log(line)
	}
}
