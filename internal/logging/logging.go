// Package logging provides categorized diagnostic logging for pyship.
// It is silent by default: the publish pipeline talks to the operator
// through styled status lines, not log output. --verbose routes debug
// logs to stderr, and the logging.debug config switch additionally
// writes JSON logs under <project>/.pyship/logs/.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category identifies the pipeline subsystem a log line belongs to.
type Category string

const (
	CategoryBoot    Category = "boot"    // startup, config, flag resolution
	CategoryResolve Category = "resolve" // pyproject parsing, version/name resolution
	CategoryBuild   Category = "build"   // clean step, tool bootstrap, build backend
	CategoryCheck   Category = "check"   // artifact validation
	CategoryUpload  Category = "upload"  // index upload
	CategoryVerify  Category = "verify"  // verification workspace and smoke test
	CategoryTools   Category = "tools"   // tool executor, command lifecycle
)

// Options controls where log output goes. The zero value is fully silent.
type Options struct {
	// Verbose enables debug-level console logging on stderr.
	Verbose bool

	// Dir, when non-empty, enables JSON file logging into Dir. The
	// directory is created on first use, so Init must not run before
	// invocation arguments have been validated.
	Dir string
}

var (
	mu   sync.RWMutex
	root = zap.NewNop()
)

// Init builds the global logger. Safe to call once per process; later calls
// replace the previous logger (tests rely on this).
func Init(opts Options) error {
	cores := make([]zapcore.Core, 0, 2)

	if opts.Verbose {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(encCfg),
			zapcore.Lock(os.Stderr),
			zapcore.DebugLevel,
		))
	}

	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		name := fmt.Sprintf("%s_pyship.log", time.Now().Format("2006-01-02"))
		f, err := os.OpenFile(filepath.Join(opts.Dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(f),
			zapcore.DebugLevel,
		))
	}

	mu.Lock()
	defer mu.Unlock()
	if len(cores) == 0 {
		root = zap.NewNop()
		return nil
	}
	root = zap.New(zapcore.NewTee(cores...))
	return nil
}

// Get returns the sugared logger for a category.
func Get(cat Category) *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return root.Named(string(cat)).Sugar()
}

// Sync flushes buffered log entries. Called once at shutdown; flush errors
// on stderr sinks are expected and ignored by the caller.
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	return root.Sync()
}

// Convenience functions per category. Only the levels the pipeline actually
// emits get a helper; everything else goes through Get.

func Boot(format string, args ...interface{}) { Get(CategoryBoot).Infof(format, args...) }

func BootDebug(format string, args ...interface{}) { Get(CategoryBoot).Debugf(format, args...) }

func Resolve(format string, args ...interface{}) { Get(CategoryResolve).Infof(format, args...) }

func ResolveDebug(format string, args ...interface{}) {
	Get(CategoryResolve).Debugf(format, args...)
}

func Build(format string, args ...interface{}) { Get(CategoryBuild).Infof(format, args...) }

func BuildDebug(format string, args ...interface{}) { Get(CategoryBuild).Debugf(format, args...) }

func Check(format string, args ...interface{}) { Get(CategoryCheck).Infof(format, args...) }

func Upload(format string, args ...interface{}) { Get(CategoryUpload).Infof(format, args...) }

func Verify(format string, args ...interface{}) { Get(CategoryVerify).Infof(format, args...) }

func VerifyWarn(format string, args ...interface{}) { Get(CategoryVerify).Warnf(format, args...) }

func VerifyDebug(format string, args ...interface{}) {
	Get(CategoryVerify).Debugf(format, args...)
}

func Tools(format string, args ...interface{}) { Get(CategoryTools).Infof(format, args...) }

func ToolsDebug(format string, args ...interface{}) { Get(CategoryTools).Debugf(format, args...) }

func ToolsWarn(format string, args ...interface{}) { Get(CategoryTools).Warnf(format, args...) }

func ToolsError(format string, args ...interface{}) { Get(CategoryTools).Errorf(format, args...) }
