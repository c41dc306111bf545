// Package logging owns the process-wide zap logger.
package logging

import (
	"os"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log level constants
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Encoding constants
const (
	EncodingConsole = "console"
	EncodingJSON    = "json"
)

// Structured field keys shared by every component.
const (
	FieldThreadID     = "thread_id"
	FieldNamespace    = "checkpoint_ns"
	FieldStep         = "step"
	FieldNode         = "node"
	FieldCheckpointID = "checkpoint_id"
	FieldGraph        = "graph"
)

var (
	level   = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	current atomic.Pointer[zap.Logger]
)

func init() {
	current.Store(New(EncodingConsole))
}

var encoderConfig = zapcore.EncoderConfig{
	TimeKey:        "ts",
	LevelKey:       "lvl",
	NameKey:        "name",
	CallerKey:      "caller",
	MessageKey:     "message",
	StacktraceKey:  "stacktrace",
	LineEnding:     zapcore.DefaultLineEnding,
	EncodeLevel:    zapcore.CapitalLevelEncoder,
	EncodeTime:     zapcore.RFC3339TimeEncoder,
	EncodeDuration: zapcore.StringDurationEncoder,
	EncodeCaller:   zapcore.ShortCallerEncoder,
}

// New builds a logger writing to stderr with the shared atomic level.
// Unknown encodings fall back to console.
func New(encoding string) *zap.Logger {
	var enc zapcore.Encoder
	if strings.EqualFold(encoding, EncodingJSON) {
		enc = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		enc = zapcore.NewConsoleEncoder(encoderConfig)
	}
	return zap.New(zapcore.NewCore(enc, zapcore.AddSync(os.Stderr), level), zap.AddCaller())
}

// Default returns the process logger.
func Default() *zap.Logger { return current.Load() }

// SetDefault replaces the process logger. A nil logger installs zap.NewNop.
func SetDefault(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	current.Store(l)
}

// Named returns a child of the process logger for one component.
func Named(component string) *zap.Logger { return Default().Named(component) }

// Configure installs a logger with the given level and encoding.
func Configure(lvl, encoding string) {
	SetLevel(lvl)
	SetDefault(New(encoding))
}

// SetLevel sets the log level of loggers built by New.
// Valid levels are: "debug", "info", "warn", "error"
func SetLevel(lvl string) {
	switch strings.ToLower(lvl) {
	case LevelDebug:
		level.SetLevel(zapcore.DebugLevel)
	case LevelWarn:
		level.SetLevel(zapcore.WarnLevel)
	case LevelError:
		level.SetLevel(zapcore.ErrorLevel)
	default:
		level.SetLevel(zapcore.InfoLevel)
	}
}

// Level returns the current level name.
func Level() string { return level.Level().String() }
