// Package debug provides conditional debug logging for cadview.
//
// Debug logging is enabled by setting the CADVIEW_DEBUG environment variable:
//
//	CADVIEW_DEBUG=1 cadview render --out model.png
//
// Output goes to CADVIEW_LOG_FILE when set, stderr otherwise. The terminal UI
// redirects it to a file with Init because it owns the screen.
// When disabled (default), all debug functions are no-ops and Logger returns
// a no-op zap logger.
//
// Usage:
//
//	import "github.com/vanderheijden86/cadview/pkg/debug"
//
//	func myFunc() {
//	    debug.Log("processing %d nodes", count)
//	    debug.Logger().Debug("fetched", zap.Int("bytes", n))
//	    debug.LogTiming("myFunc", elapsed)
//	}
package debug

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu      sync.RWMutex
	enabled bool
	logger  = zap.NewNop()
	sugar   = logger.Sugar()
)

func init() {
	if os.Getenv("CADVIEW_DEBUG") != "" {
		if err := Init(os.Getenv("CADVIEW_LOG_FILE")); err != nil {
			fmt.Fprintf(os.Stderr, "cadview: debug logging disabled: %v\n", err)
		}
	}
}

// Init enables debug logging to path, or stderr when path is empty. Calling
// it again replaces the previous destination.
func Init(path string) error {
	out := "stderr"
	if path != "" {
		out = path
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	cfg.Encoding = "console"
	cfg.Sampling = nil
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000000")
	cfg.OutputPaths = []string{out}
	cfg.ErrorOutputPaths = []string{"stderr"}

	l, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("building debug logger: %w", err)
	}
	set(l.Named("cadview"), true)
	return nil
}

func set(l *zap.Logger, on bool) {
	mu.Lock()
	defer mu.Unlock()
	_ = logger.Sync()
	logger = l
	sugar = l.Sugar()
	enabled = on
}

// Enabled returns whether debug logging is enabled.
func Enabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return enabled
}

// SetEnabled allows programmatic control of debug logging. Enabling without
// a prior Init logs to stderr.
func SetEnabled(e bool) {
	if e == Enabled() {
		return
	}
	if !e {
		set(zap.NewNop(), false)
		return
	}
	if err := Init(""); err != nil {
		fmt.Fprintf(os.Stderr, "cadview: %v\n", err)
	}
}

// Logger returns the structured logger. It is a no-op logger when debug
// logging is disabled, so callers never need to check Enabled.
func Logger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Sync flushes buffered log entries.
func Sync() {
	_ = Logger().Sync()
}

func sugared() (*zap.SugaredLogger, bool) {
	mu.RLock()
	defer mu.RUnlock()
	return sugar, enabled
}

// Log writes a debug message if debug logging is enabled.
// Uses printf-style formatting.
func Log(format string, args ...any) {
	s, on := sugared()
	if !on {
		return
	}
	s.Debugf(format, args...)
}

// LogTiming writes a timing message if debug logging is enabled.
func LogTiming(name string, d time.Duration) {
	if !Enabled() {
		return
	}
	Logger().Debug(name+" took", zap.Duration("elapsed", d))
}

// LogIf writes a debug message only if the condition is true.
func LogIf(cond bool, format string, args ...any) {
	if !cond {
		return
	}
	Log(format, args...)
}

// LogEnterExit logs function entry and exit with timing.
// Usage:
//
//	func myFunc() {
//	    defer debug.LogEnterExit("myFunc")()
//	    // ...
//	}
func LogEnterExit(name string) func() {
	if !Enabled() {
		return func() {}
	}
	Log("-> %s", name)
	start := time.Now()
	return func() {
		Log("<- %s (%v)", name, time.Since(start))
	}
}

// Trace is an alias for LogEnterExit for convenience.
var Trace = LogEnterExit

// Dump logs a value with its type for debugging complex structures.
func Dump(name string, v any) {
	Log("%s: %T = %+v", name, v, v)
}

// Section logs a section header for visual organization in debug output.
func Section(name string) {
	Log("=== %s ===", name)
}

var checkpointCounter atomic.Int64

// Checkpoint logs a numbered checkpoint for tracking progress.
func Checkpoint(msg string) {
	if !Enabled() {
		return
	}
	Log("[%d] %s", checkpointCounter.Add(1), msg)
}

// ResetCheckpoints resets the checkpoint counter.
func ResetCheckpoints() {
	checkpointCounter.Store(0)
}
