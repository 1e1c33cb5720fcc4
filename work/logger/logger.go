package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"
)

// LogLevel orders message severities. Messages below the active level are dropped.
type LogLevel int32

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

// String returns the upper-case label written in front of each message.
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "INFO"
	}
}

// Logger is a leveled logger. The zero value is not usable; use New.
type Logger struct {
	level atomic.Int32
	out   *log.Logger
}

var std = New("INFO", os.Stderr)

// New creates a Logger writing to w at the given level.
func New(level string, w io.Writer) *Logger {
	l := &Logger{out: log.New(w, "", log.LstdFlags)}
	l.level.Store(int32(ParseLogLevel(level)))
	return l
}

// ParseLogLevel converts a string to a LogLevel, defaulting to INFO.
func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// SetLevel changes the minimum level this logger emits.
func (l *Logger) SetLevel(level string) {
	l.level.Store(int32(ParseLogLevel(level)))
}

// GetLevel returns the active level as a string.
func (l *Logger) GetLevel() string {
	return LogLevel(l.level.Load()).String()
}

// SetOutput redirects output, mostly for tests.
func (l *Logger) SetOutput(w io.Writer) {
	l.out.SetOutput(w)
}

func (l *Logger) logf(level LogLevel, format string, v ...any) {
	if level < LogLevel(l.level.Load()) {
		return
	}
	l.out.Printf("[%s] %s", level, fmt.Sprintf(format, v...))
}

func (l *Logger) Debug(format string, v ...any) { l.logf(DEBUG, format, v...) }
func (l *Logger) Info(format string, v ...any)  { l.logf(INFO, format, v...) }
func (l *Logger) Warn(format string, v ...any)  { l.logf(WARN, format, v...) }
func (l *Logger) Error(format string, v ...any) { l.logf(ERROR, format, v...) }

// Package-level helpers operate on the process-wide logger.

// SetLogLevel sets the process-wide log level.
func SetLogLevel(level string) { std.SetLevel(level) }

// GetLogLevel returns the process-wide log level.
func GetLogLevel() string { return std.GetLevel() }

// SetOutput redirects the process-wide logger.
func SetOutput(w io.Writer) { std.SetOutput(w) }

func Debug(format string, v ...any) { std.logf(DEBUG, format, v...) }
func Info(format string, v ...any)  { std.logf(INFO, format, v...) }
func Warn(format string, v ...any)  { std.logf(WARN, format, v...) }
func Error(format string, v ...any) { std.logf(ERROR, format, v...) }
