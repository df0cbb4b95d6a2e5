// Package logger provides process-wide logging for sercha-ingest.
//
// The package-level helpers print through a zap sugared logger. Debug
// lines are only emitted when verbose mode is enabled via the --verbose
// flag. Long-running commands switch to JSON output with SetFormat.
package logger

import (
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Output formats accepted by SetFormat.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

var (
	mu      sync.RWMutex
	verbose bool
	format  = FormatConsole
	sink    = zapcore.Lock(zapcore.AddSync(io.Writer(os.Stderr)))
	sugar   = build()
)

// build constructs the sugared logger for the current settings.
// Callers must hold mu.
func build() *zap.SugaredLogger {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	var enc zapcore.Encoder
	if format == FormatJSON {
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(cfg)
	} else {
		cfg := zapcore.EncoderConfig{
			MessageKey:       "msg",
			LevelKey:         "level",
			EncodeLevel:      bracketLevelEncoder,
			ConsoleSeparator: " ",
		}
		enc = zapcore.NewConsoleEncoder(cfg)
	}

	core := zapcore.NewCore(enc, sink, level)
	return zap.New(core).Sugar()
}

// bracketLevelEncoder renders levels as [DEBUG], [INFO], ...
func bracketLevelEncoder(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString("[" + l.CapitalString() + "]")
}

// SetVerbose enables or disables debug logging.
func SetVerbose(v bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = v
	sugar = build()
}

// IsVerbose returns true if verbose mode is enabled.
func IsVerbose() bool {
	mu.RLock()
	defer mu.RUnlock()
	return verbose
}

// SetOutput sets the output writer for logs.
// Defaults to os.Stderr. Useful for testing.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	sink = zapcore.Lock(zapcore.AddSync(w))
	sugar = build()
}

// SetFormat switches between console and JSON encoding.
// Unknown values fall back to console.
func SetFormat(f string) {
	mu.Lock()
	defer mu.Unlock()
	if f != FormatJSON {
		f = FormatConsole
	}
	format = f
	sugar = build()
}

// L returns the current sugared logger.
func L() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

// With returns a child logger carrying the given key/value pairs.
func With(keysAndValues ...any) *zap.SugaredLogger {
	return L().With(keysAndValues...)
}

// Debug prints a message if verbose mode is enabled.
func Debug(template string, args ...any) {
	L().Debugf(template, args...)
}

// Section prints a section header if verbose mode is enabled.
func Section(name string) {
	L().Debugf("=== %s ===", name)
}

// Info prints an informational message.
func Info(template string, args ...any) {
	L().Infof(template, args...)
}

// Warn prints a warning message.
func Warn(template string, args ...any) {
	L().Warnf(template, args...)
}

// Error prints an error message.
func Error(template string, args ...any) {
	L().Errorf(template, args...)
}

// Sync flushes buffered log entries.
func Sync() {
	_ = L().Sync() //nolint:errcheck
}
