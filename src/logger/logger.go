package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel is a message severity. Levels map one to one onto zap levels.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var zapLevels = map[LogLevel]zapcore.Level{
	DEBUG: zapcore.DebugLevel,
	INFO:  zapcore.InfoLevel,
	WARN:  zapcore.WarnLevel,
	ERROR: zapcore.ErrorLevel,
}

// ParseLevel maps a level name to a LogLevel. Unknown names map to INFO.
func ParseLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
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

// Logger is a leveled, prefixed printf-style logger backed by zap.
type Logger struct {
	level  zap.AtomicLevel
	base   *zap.Logger
	sugar  *zap.SugaredLogger
	prefix string
}

var (
	defaultLogger *Logger
	defaultMu     sync.Mutex
	once          sync.Once
)

// Init builds the process logger once from the environment:
//
//	LOG_LEVEL   DEBUG, INFO (default), WARN or ERROR
//	LOG_COLOR   false or 0 disables colored levels
//	LOG_FORMAT  json for one JSON object per line, console otherwise
func Init() {
	once.Do(func() {
		level := ParseLevel(os.Getenv("LOG_LEVEL"))

		color := os.Getenv("LOG_COLOR")
		colored := color != "false" && color != "0"

		var l *Logger
		if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
			l = NewJSON(level, os.Stdout)
		} else {
			l = New(level, os.Stdout, colored, "")
		}

		defaultMu.Lock()
		if defaultLogger == nil {
			defaultLogger = l
		}
		defaultMu.Unlock()
	})
}

// New creates a console Logger writing to output.
func New(level LogLevel, output io.Writer, enableColors bool, prefix string) *Logger {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05")
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	if enableColors {
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return build(level, zapcore.NewConsoleEncoder(cfg), output, prefix)
}

// NewJSON creates a Logger that emits one JSON object per line.
func NewJSON(level LogLevel, output io.Writer) *Logger {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return build(level, zapcore.NewJSONEncoder(cfg), output, "")
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return &Logger{
		level: zap.NewAtomicLevelAt(zapcore.FatalLevel),
		base:  zap.NewNop(),
		sugar: zap.NewNop().Sugar(),
	}
}

func build(level LogLevel, enc zapcore.Encoder, output io.Writer, prefix string) *Logger {
	atom := zap.NewAtomicLevelAt(zapLevels[level])
	core := zapcore.NewCore(enc, zapcore.AddSync(output), atom)
	base := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2))
	return &Logger{
		level:  atom,
		base:   base,
		sugar:  base.Sugar(),
		prefix: prefix,
	}
}

// SetDefault replaces the package-level logger.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

// SetLevel also affects loggers derived with WithPrefix or With.
func (l *Logger) SetLevel(level LogLevel) {
	l.level.SetLevel(zapLevels[level])
}

func (l *Logger) GetLevel() LogLevel {
	switch l.level.Level() {
	case zapcore.DebugLevel:
		return DEBUG
	case zapcore.InfoLevel:
		return INFO
	case zapcore.WarnLevel:
		return WARN
	default:
		return ERROR
	}
}

func (l *Logger) IsLevelEnabled(level LogLevel) bool {
	return l.level.Enabled(zapLevels[level])
}

// Zap exposes the underlying zap logger for libraries that take one.
func (l *Logger) Zap() *zap.Logger {
	return l.base.WithOptions(zap.AddCallerSkip(-2))
}

// Sync flushes buffered output.
func (l *Logger) Sync() error {
	return l.base.Sync()
}

func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	if !l.IsLevelEnabled(level) {
		return
	}

	msg := fmt.Sprintf(format, args...)
	if l.prefix != "" {
		msg = "[" + l.prefix + "] " + msg
	}

	switch level {
	case DEBUG:
		l.sugar.Debug(msg)
	case INFO:
		l.sugar.Info(msg)
	case WARN:
		l.sugar.Warn(msg)
	default:
		l.sugar.Error(msg)
	}
}

// Debug, Info, Warn and Error format with fmt.Sprintf.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(DEBUG, format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.log(INFO, format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(WARN, format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.log(ERROR, format, args...)
}

// WithPrefix tags every message with "[prefix] ". The level is shared with
// the parent.
func (l *Logger) WithPrefix(prefix string) *Logger {
	return &Logger{
		level:  l.level,
		base:   l.base,
		sugar:  l.sugar,
		prefix: prefix,
	}
}

// With returns a logger that attaches structured fields to every entry.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	sugar := l.sugar.With(keysAndValues...)
	return &Logger{
		level:  l.level,
		base:   sugar.Desugar(),
		sugar:  sugar,
		prefix: l.prefix,
	}
}

// GetDefault returns the process logger, initializing it from the
// environment on first use.
func GetDefault() *Logger {
	defaultMu.Lock()
	l := defaultLogger
	defaultMu.Unlock()
	if l != nil {
		return l
	}
	Init()
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultLogger
}

func SetLevel(level LogLevel) {
	GetDefault().SetLevel(level)
}

func GetLevel() LogLevel {
	return GetDefault().GetLevel()
}

// IsDebugEnabled guards expensive debug formatting.
func IsDebugEnabled() bool {
	return GetDefault().IsLevelEnabled(DEBUG)
}

func Debug(format string, args ...interface{}) {
	GetDefault().log(DEBUG, format, args...)
}

func Info(format string, args ...interface{}) {
	GetDefault().log(INFO, format, args...)
}

func Warn(format string, args ...interface{}) {
	GetDefault().log(WARN, format, args...)
}

func Error(format string, args ...interface{}) {
	GetDefault().log(ERROR, format, args...)
}

// WithPrefix derives a component logger from the process logger.
func WithPrefix(prefix string) *Logger {
	return GetDefault().WithPrefix(prefix)
}
