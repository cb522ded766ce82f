package common

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// LogLevel represents the severity level of a log message. The IC core
// recognizes seven levels: five that map directly onto zerolog's trace,
// debug, info, warn and error, plus Critical (written at zerolog's error
// level) and External, which tags messages that originate from a client's
// own requested log verbosity rather than from the core itself.
type LogLevel int

const (
	// TraceLevel is for per-call wire tracing.
	TraceLevel LogLevel = iota
	// DebugLevel is for debug messages.
	DebugLevel
	// InfoLevel is for informational messages.
	InfoLevel
	// WarningLevel is for warning messages.
	WarningLevel
	// ErrorLevel is for recoverable errors.
	ErrorLevel
	// CriticalLevel is for errors severe enough to log loudly but that
	// must never terminate the process; the core keeps serving other
	// RPCs even after a Critical log.
	CriticalLevel
	// ExternalLevel tags messages whose verbosity was requested by a
	// specific client rather than chosen by the core.
	ExternalLevel
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case TraceLevel:
		return "TRACE"
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarningLevel:
		return "WARNING"
	case ErrorLevel:
		return "ERROR"
	case CriticalLevel:
		return "CRITICAL"
	case ExternalLevel:
		return "EXTERNAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel maps a config file's level name (case-insensitive) onto a
// LogLevel, defaulting to InfoLevel for an empty or unrecognized name.
func ParseLogLevel(name string) LogLevel {
	switch strings.ToUpper(name) {
	case "TRACE":
		return TraceLevel
	case "DEBUG":
		return DebugLevel
	case "WARNING", "WARN":
		return WarningLevel
	case "ERROR":
		return ErrorLevel
	case "CRITICAL":
		return CriticalLevel
	case "EXTERNAL":
		return ExternalLevel
	default:
		return InfoLevel
	}
}

func (l LogLevel) zerologLevel() zerolog.Level {
	switch l {
	case TraceLevel:
		return zerolog.TraceLevel
	case DebugLevel:
		return zerolog.DebugLevel
	case InfoLevel, ExternalLevel:
		return zerolog.InfoLevel
	case WarningLevel:
		return zerolog.WarnLevel
	case ErrorLevel, CriticalLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Logger wraps a zerolog.Logger and adds the Critical/External levels the
// IC core needs on top of zerolog's own five.
type Logger struct {
	mu    sync.Mutex
	level LogLevel
	zl    zerolog.Logger
}

var (
	defaultLogger *Logger
	once          sync.Once
)

func init() {
	defaultLogger = NewLogger(os.Stdout, InfoLevel)
}

// NewLogger creates a new Logger writing structured (JSON) records to out.
func NewLogger(out io.Writer, level LogLevel) *Logger {
	zl := zerolog.New(out).With().Timestamp().Logger().Level(level.zerologLevel())
	return &Logger{level: level, zl: zl}
}

// NewConsoleLogger creates a Logger with zerolog's human-readable console
// writer, suitable for an interactive terminal rather than log aggregation.
func NewConsoleLogger(out io.Writer, level LogLevel) *Logger {
	cw := zerolog.ConsoleWriter{Out: out}
	zl := zerolog.New(cw).With().Timestamp().Logger().Level(level.zerologLevel())
	return &Logger{level: level, zl: zl}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
	l.zl = l.zl.Level(level.zerologLevel())
}

// GetLevel returns the current log level.
func (l *Logger) GetLevel() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// SetOutput redirects the logger's writes.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.zl = l.zl.Output(w)
}

// WithClient returns a child logger tagged with a client ID, used when a
// log line is produced on behalf of a specific registered client.
func (l *Logger) WithClient(clientID string) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &Logger{level: l.level, zl: l.zl.With().Str("client_id", clientID).Logger()}
}

func (l *Logger) event(level LogLevel) *zerolog.Event {
	switch level {
	case TraceLevel:
		return l.zl.Trace()
	case DebugLevel:
		return l.zl.Debug()
	case InfoLevel:
		return l.zl.Info()
	case WarningLevel:
		return l.zl.Warn()
	case ErrorLevel:
		return l.zl.Error()
	case CriticalLevel:
		return l.zl.Error().Bool("critical", true)
	case ExternalLevel:
		return l.zl.Info().Bool("external", true)
	default:
		return l.zl.Info()
	}
}

// Trace logs a trace-level message.
func (l *Logger) Trace(format string, v ...interface{}) { l.event(TraceLevel).Msgf(format, v...) }

// Debug logs a debug message.
func (l *Logger) Debug(format string, v ...interface{}) { l.event(DebugLevel).Msgf(format, v...) }

// Info logs an informational message.
func (l *Logger) Info(format string, v ...interface{}) { l.event(InfoLevel).Msgf(format, v...) }

// Warning logs a warning message.
func (l *Logger) Warning(format string, v ...interface{}) { l.event(WarningLevel).Msgf(format, v...) }

// Error logs a recoverable error.
func (l *Logger) Error(format string, v ...interface{}) { l.event(ErrorLevel).Msgf(format, v...) }

// Critical logs a severe error. Unlike zerolog's Fatal, this never calls
// os.Exit: the core must keep dispatching RPCs after logging one.
func (l *Logger) Critical(format string, v ...interface{}) {
	l.event(CriticalLevel).Msgf(format, v...)
}

// External logs a message at a level a client itself requested.
func (l *Logger) External(format string, v ...interface{}) {
	l.event(ExternalLevel).Msgf(format, v...)
}

// Default logger functions.

// SetLevel sets the minimum log level for the default logger.
func SetLevel(level LogLevel) { defaultLogger.SetLevel(level) }

// GetLevel returns the current log level of the default logger.
func GetLevel() LogLevel { return defaultLogger.GetLevel() }

// SetOutput sets the output destination for the default logger.
func SetOutput(w io.Writer) { defaultLogger.SetOutput(w) }

// Trace logs a trace message using the default logger.
func Trace(format string, v ...interface{}) { defaultLogger.Trace(format, v...) }

// Debug logs a debug message using the default logger.
func Debug(format string, v ...interface{}) { defaultLogger.Debug(format, v...) }

// Info logs an informational message using the default logger.
func Info(format string, v ...interface{}) { defaultLogger.Info(format, v...) }

// Warning logs a warning message using the default logger.
func Warning(format string, v ...interface{}) { defaultLogger.Warning(format, v...) }

// Error logs an error message using the default logger.
func Error(format string, v ...interface{}) { defaultLogger.Error(format, v...) }

// Critical logs a critical message using the default logger.
func Critical(format string, v ...interface{}) { defaultLogger.Critical(format, v...) }

// External logs a client-requested-level message using the default logger.
func External(format string, v ...interface{}) { defaultLogger.External(format, v...) }

// Default returns the package default logger instance.
func Default() *Logger { return defaultLogger }
