// Package logging provides config-driven categorized file-based logging
// for the engine. Logs are written one file per category under the
// directory passed to Initialize; when Initialize is never called (or
// called with an empty Dir) every Logger is a silent no-op, which keeps
// library callers quiet by default.
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

// Category names a logging subsystem; each gets its own log file.
type Category string

const (
	CategoryBase       Category = "base"       // Base lifecycle (Create/Open/Close)
	CategoryStore      Category = "store"      // Store record add/get/del, triggers
	CategoryIndex      Category = "index"      // Gix posting-list maintenance
	CategoryVocab      Category = "vocab"      // WordVoc/IndexVoc interning and lookup
	CategoryGeo        Category = "geo"        // GeoIndex bucket add/range/nn
	CategoryQuery      Category = "query"      // query parsing
	CategoryExec       Category = "exec"       // query execution
	CategoryStreamAggr Category = "streamaggr" // stream aggregate triggers
	CategoryOps        Category = "ops"        // LinSearch/GroupBy/SplitBy operators
)

// Log levels, ordered least to most severe.
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Config controls where and how much Initialize logs.
type Config struct {
	Dir        string          // log file directory; empty disables file output
	Level      string          // debug/info/warn/error, default info
	Categories map[string]bool // nil/empty = every category enabled
}

var (
	mu          sync.RWMutex
	cfg         Config
	initialized bool
	loggers     = make(map[Category]*Logger)
	zapLevel    zapcore.Level
)

// Initialize (re)configures logging for the process. Safe to call more
// than once; existing Logger handles pick up the new config on next use.
func Initialize(c Config) error {
	mu.Lock()
	defer mu.Unlock()

	switch c.Level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn", "warning":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	if c.Dir != "" {
		if err := os.MkdirAll(c.Dir, 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	cfg = c
	initialized = true
	for _, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
	return nil
}

func categoryEnabled(c Category) bool {
	if len(cfg.Categories) == 0 {
		return true
	}
	enabled, exists := cfg.Categories[string(c)]
	if !exists {
		return true
	}
	return enabled
}

// Logger writes structured, leveled log lines for one Category.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
	file     *os.File
}

// Get returns (or lazily creates) the Logger for category.
func Get(category Category) *Logger {
	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	l := newLoggerLocked(category)
	loggers[category] = l
	return l
}

func newLoggerLocked(category Category) *Logger {
	if !initialized || cfg.Dir == "" || !categoryEnabled(category) {
		return &Logger{category: category}
	}

	date := time.Now().Format("2006-01-02")
	path := filepath.Join(cfg.Dir, fmt.Sprintf("%s_%s.log", date, category))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] could not open log file %s: %v\n", path, err)
		return &Logger{category: category}
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(file), zapLevel)
	sugar := zap.New(core).Sugar().With("category", string(category))
	return &Logger{category: category, sugar: sugar, file: file}
}

func (l *Logger) Debug(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Debugf(format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Infof(format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Warnf(format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Errorf(format, args...)
}

// CloseAll flushes and closes every open log file. Call at shutdown.
func CloseAll() {
	mu.Lock()
	defer mu.Unlock()
	for _, l := range loggers {
		if l.sugar != nil {
			l.sugar.Sync()
		}
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// Timer measures and logs an operation's duration at Debug (or Warn, via
// StopWithThreshold, when it runs long).
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing operation under category.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the elapsed duration.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs a warning instead of debug when elapsed exceeds
// threshold -- used for the slow-query/slow-merge paths callers care about.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
