package logging

import (
	"io"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileRotationConfig controls the optional rotating log file.
type FileRotationConfig struct {
	Path       string
	MaxSizeMB  int  // default 100
	MaxBackups int  // default 3
	MaxAge     int  // days, default 28
	Compress   bool
}

// NewLoggerWithFile logs to stdout and, when fileConfig names a path, to a
// lumberjack-rotated file as well. Colors are disabled whenever a file is
// written so it contains no escape codes.
func NewLoggerWithFile(module string, level Level, useColors bool, fileConfig *FileRotationConfig) (*SimpleLogger, error) {
	if fileConfig == nil || fileConfig.Path == "" {
		return NewSimpleLogger(module, level, useColors), nil
	}

	w := &lumberjack.Logger{
		Filename:   fileConfig.Path,
		MaxSize:    orDefault(fileConfig.MaxSizeMB, 100),
		MaxBackups: orDefault(fileConfig.MaxBackups, 3),
		MaxAge:     orDefault(fileConfig.MaxAge, 28),
		Compress:   fileConfig.Compress,
	}
	return NewSimpleLoggerWithWriter(module, level, false, io.MultiWriter(os.Stdout, w)), nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
