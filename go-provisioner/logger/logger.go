package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var (
	levelNames = map[LogLevel]string{
		DEBUG: "DEBUG",
		INFO:  "INFO",
		WARN:  "WARN",
		ERROR: "ERROR",
	}

	globalLogLevel LogLevel = INFO
	globalMu       sync.RWMutex
	once           sync.Once
)

// InitGlobalLogLevel initializes the global log level from the given level string.
// Only the first call has an effect.
func InitGlobalLogLevel(level string) {
	once.Do(func() {
		globalMu.Lock()
		globalLogLevel = ParseLogLevel(level)
		globalMu.Unlock()
	})
}

// GetGlobalLogLevel returns the current global log level
func GetGlobalLogLevel() LogLevel {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogLevel
}

// ParseLogLevel converts a string log level to LogLevel type, defaulting to INFO
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

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// Logger is a prefixed, levelled wrapper around log.Logger
type Logger struct {
	Prefix   string
	Logger   *log.Logger
	LogLevel LogLevel
}

// NewLogger creates a new logger with the given prefix
func NewLogger(prefix string) *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return &Logger{
		Prefix:   fmt.Sprintf("[%s] ", prefix),
		Logger:   log.New(os.Stdout, "", log.LstdFlags),
		LogLevel: globalLogLevel,
	}
}

// NewWithWriter creates a logger writing to w at the given level.
func NewWithWriter(prefix string, w io.Writer, level LogLevel) *Logger {
	return &Logger{
		Prefix:   fmt.Sprintf("[%s] ", prefix),
		Logger:   log.New(w, "", 0),
		LogLevel: level,
	}
}

// SetLogLevel sets the minimum log level for the logger
func (l *Logger) SetLogLevel(level LogLevel) {
	l.LogLevel = level
}

// With returns a child logger whose prefix is extended with sub.
func (l *Logger) With(sub string) *Logger {
	return &Logger{
		Prefix:   l.Prefix + fmt.Sprintf("[%s] ", sub),
		Logger:   l.Logger,
		LogLevel: l.LogLevel,
	}
}

func (l *Logger) logWithLevel(level LogLevel, format string, v ...interface{}) {
	if l == nil {
		return
	}
	if level >= l.LogLevel {
		levelPrefix := fmt.Sprintf("[%s] ", levelNames[level])
		l.Logger.Printf(l.Prefix+levelPrefix+format, v...)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, v ...interface{}) {
	l.logWithLevel(DEBUG, format, v...)
}

// Info logs an info message
func (l *Logger) Info(format string, v ...interface{}) {
	l.logWithLevel(INFO, format, v...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, v ...interface{}) {
	l.logWithLevel(WARN, format, v...)
}

// Error logs an error message
func (l *Logger) Error(format string, v ...interface{}) {
	l.logWithLevel(ERROR, format, v...)
}

// Printf maps to Info level
func (l *Logger) Printf(format string, v ...interface{}) {
	l.Info(format, v...)
}
