// Package logging provides leveled, printf-style logging for the CLI and the
// transfer pipeline. Output is text ("[INFO] message") or JSON lines.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is a logging severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the upper-case name of the level.
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
	default:
		return "UNKNOWN"
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ParseLevel parses a level name. Matching is case-insensitive but the input
// is not trimmed.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("invalid log level %q (want debug, info, warn or error)", s)
}

var (
	mu     sync.RWMutex
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	format = "text"
	output io.Writer
	logger *zap.Logger
)

func init() {
	rebuild()
}

// rebuild recreates the zap logger. Callers must hold mu for writing, or be init.
func rebuild() {
	var w io.Writer = os.Stderr
	if output != nil {
		w = output
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}

	var enc zapcore.Encoder
	if format == "json" {
		encCfg.EncodeLevel = zapcore.LowercaseLevelEncoder
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = bracketLevelEncoder
		encCfg.ConsoleSeparator = " "
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	logger = zap.New(zapcore.NewCore(enc, zapcore.AddSync(w), level))
}

func bracketLevelEncoder(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString("[" + l.CapitalString() + "]")
}

// SetLevel sets the minimum level that is written.
func SetLevel(l Level) {
	level.SetLevel(l.zapLevel())
}

// GetLevel returns the current minimum level.
func GetLevel() Level {
	switch level.Level() {
	case zapcore.DebugLevel:
		return LevelDebug
	case zapcore.WarnLevel:
		return LevelWarn
	case zapcore.ErrorLevel:
		return LevelError
	default:
		return LevelInfo
	}
}

// IsDebug reports whether debug output is enabled.
func IsDebug() bool {
	return level.Enabled(zapcore.DebugLevel)
}

// SetFormat switches between "text" and "json" output. Unknown values select text.
func SetFormat(f string) {
	mu.Lock()
	defer mu.Unlock()
	if strings.EqualFold(f, "json") {
		format = "json"
	} else {
		format = "text"
	}
	rebuild()
}

// SetOutput redirects log output. nil restores stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
	rebuild()
}

// Sync flushes buffered output.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = logger.Sync()
}

func logf(l zapcore.Level, msg string, args []interface{}) {
	mu.RLock()
	lg := logger
	mu.RUnlock()

	if ce := lg.Check(l, ""); ce != nil {
		if len(args) > 0 {
			msg = fmt.Sprintf(msg, args...)
		}
		ce.Message = msg
		ce.Write()
	}
}

// Debug logs at debug level.
func Debug(msg string, args ...interface{}) { logf(zapcore.DebugLevel, msg, args) }

// Info logs at info level.
func Info(msg string, args ...interface{}) { logf(zapcore.InfoLevel, msg, args) }

// Warn logs at warn level.
func Warn(msg string, args ...interface{}) { logf(zapcore.WarnLevel, msg, args) }

// Error logs at error level.
func Error(msg string, args ...interface{}) { logf(zapcore.ErrorLevel, msg, args) }
