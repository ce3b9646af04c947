// Package common provides logging utilities for the application
package common

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/lni/dragonboat/v4/logger"
)

// --------------------------------------------------------------------------
// Custom Logger (implements logger.ILogger)
// --------------------------------------------------------------------------

// psLogger implements the ILogger interface with custom formatting
type psLogger struct {
	name   string
	level  logger.LogLevel
	logger *log.Logger
}

func (l *psLogger) SetLevel(level logger.LogLevel) {
	l.level = level
}

func (l *psLogger) Debugf(format string, args ...interface{}) {
	if l.level >= logger.DEBUG {
		l.log("DEBUG", format, args...)
	}
}

func (l *psLogger) Infof(format string, args ...interface{}) {
	if l.level >= logger.INFO {
		l.log("INFO", format, args...)
	}
}

func (l *psLogger) Warningf(format string, args ...interface{}) {
	if l.level >= logger.WARNING {
		l.log("WARN", format, args...)
	}
}

func (l *psLogger) Errorf(format string, args ...interface{}) {
	if l.level >= logger.ERROR {
		l.log("ERROR", format, args...)
	}
}

func (l *psLogger) Panicf(format string, args ...interface{}) {
	l.log("FATAL", format, args...)
	panic(fmt.Sprintf(format, args...))
}

// log formats and writes a log message. this internal helper is used by the public methods
func (l *psLogger) log(levelStr string, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	l.logger.Printf("%-5s | %-12s | %s", levelStr, l.name, message)
}

// --------------------------------------------------------------------------
// Logger Factory
// --------------------------------------------------------------------------

// CreateLogger implements the logger Factory interface
func CreateLogger(pkgName string) logger.ILogger {
	stdLogger := log.New(os.Stdout, "", log.Ldate|log.Ltime)

	return &psLogger{
		name:   pkgName,
		level:  logger.INFO,
		logger: stdLogger,
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// parseLogLevel converts a string level to logger.LogLevel
func parseLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return logger.DEBUG
	case "info":
		return logger.INFO
	case "warning", "warn":
		return logger.WARNING
	case "error":
		return logger.ERROR
	default:
		panic(fmt.Sprintf("invalid log level: %s. must be one of debug, info, warn, error", level))
	}
}

// --------------------------------------------------------------------------
// Logger initialization
// --------------------------------------------------------------------------

// loggerFactoryOnce limits the process-wide factory installation to the
// first InitLoggers call, so several servers can be created in one process.
var loggerFactoryOnce sync.Once

// InitLoggers installs the custom factory (once per process) and configures
// every package logger of the server with the configured level.
func InitLoggers(config ServerConfig) {
	// Set as the global logger factory
	loggerFactoryOnce.Do(func() { logger.SetLoggerFactory(CreateLogger) })

	level := parseLogLevel(config.LogLevel)
	logger.GetLogger("server").SetLevel(level)
	logger.GetLogger("engine").SetLevel(level)
	logger.GetLogger("compressor").SetLevel(level)
	logger.GetLogger("reducer").SetLevel(level)
	logger.GetLogger("transport").SetLevel(level)
	logger.GetLogger("rpc").SetLevel(level)
}
