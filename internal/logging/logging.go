// Package logging provides categorized file-based logging for chartrec.
// Logs are written under <workspace>/.chartrec/logs/ with one file per
// category. When debug mode is off the whole package is a silent no-op, so
// call sites never need to guard their logging.
package logging

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryPipeline      Category = "pipeline"      // Phase orchestration, resume decisions
	CategorySource        Category = "source"        // Source adapter queries
	CategoryRules         Category = "rules"         // Tier 1 marker matching
	CategoryReasoning     Category = "reasoning"     // Tier 2 oracle calls and validation
	CategoryInvestigation Category = "investigation" // Tier 3 strategy execution
	CategoryAdjudication  Category = "adjudication"  // Adjudicator and plausibility checks
	CategoryCheckpoint    Category = "checkpoint"    // Checkpoint save/load
	CategoryReport        Category = "report"        // Artifact and summary output
)

// Options controls logging behavior. Passed explicitly at startup rather than
// read from ambient state.
type Options struct {
	DebugMode  bool            `json:"debug_mode" yaml:"debug_mode"`
	Categories map[string]bool `json:"categories" yaml:"categories"` // nil = all enabled
	Level      string          `json:"level" yaml:"level"`           // debug, info, warn, error
	JSONFormat bool            `json:"json_format" yaml:"json_format"`
}

// Log levels.
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// structuredEntry is the JSON form of one log line.
type structuredEntry struct {
	Timestamp int64                  `json:"ts"` // Unix milliseconds
	Category  string                 `json:"cat"`
	Level     string                 `json:"lvl"`
	Message   string                 `json:"msg"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Logger wraps a standard logger bound to one category file.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	opts      Options
	optsMu    sync.RWMutex
	logLevel  int
)

// Initialize sets up the logging directory. Should be called once at startup
// with the workspace path and resolved options.
func Initialize(workspace string, o Options) error {
	if workspace == "" {
		return fmt.Errorf("workspace path required")
	}

	optsMu.Lock()
	opts = o
	switch o.Level {
	case "debug":
		logLevel = LevelDebug
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}
	optsMu.Unlock()

	if !o.DebugMode {
		return nil // Silent no-op in production mode
	}

	logsDir = filepath.Join(workspace, ".chartrec", "logs")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := Get(CategoryPipeline)
	boot.Info("=== chartrec logging initialized ===")
	boot.Info("Workspace: %s", workspace)
	boot.Info("Log level: %s", o.Level)
	return nil
}

// IsCategoryEnabled reports whether a category is enabled under the current
// options.
func IsCategoryEnabled(category Category) bool {
	optsMu.RLock()
	defer optsMu.RUnlock()

	if !opts.DebugMode {
		return false
	}
	if opts.Categories == nil {
		return true
	}
	enabled, exists := opts.Categories[string(category)]
	if !exists {
		return true // Enable by default if not specified
	}
	return enabled
}

// Get returns (or creates) the logger for a category. Returns a no-op logger
// when the category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) || logsDir == "" {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()

	// Double-check after acquiring write lock
	if l, ok := loggers[category]; ok {
		return l
	}

	date := time.Now().Format("2006-01-02")
	logPath := filepath.Join(logsDir, fmt.Sprintf("%s_%s.log", date, category))

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		logger:   log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[category] = l
	return l
}

func (l *Logger) write(level int, label, format string, args ...interface{}) {
	if l.logger == nil || logLevel > level {
		return
	}
	msg := fmt.Sprintf(format, args...)

	optsMu.RLock()
	jsonFmt := opts.JSONFormat
	optsMu.RUnlock()

	if jsonFmt {
		data, err := json.Marshal(structuredEntry{
			Timestamp: time.Now().UnixMilli(),
			Category:  string(l.category),
			Level:     label,
			Message:   msg,
		})
		if err == nil {
			l.logger.Printf("%s", data)
			return
		}
	}
	l.logger.Printf("[%s] %s", label, msg)
}

// Debug logs at debug level.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.write(LevelDebug, "DEBUG", format, args...)
}

// Info logs at info level.
func (l *Logger) Info(format string, args ...interface{}) {
	l.write(LevelInfo, "INFO", format, args...)
}

// Warn logs at warn level.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.write(LevelWarn, "WARN", format, args...)
}

// Error logs at error level. Always written when the logger exists.
func (l *Logger) Error(format string, args ...interface{}) {
	l.write(LevelError, "ERROR", format, args...)
}

// StructuredLog writes a structured entry with custom fields.
func (l *Logger) StructuredLog(level string, msg string, fields map[string]interface{}) {
	if l.logger == nil {
		return
	}
	data, err := json.Marshal(structuredEntry{
		Timestamp: time.Now().UnixMilli(),
		Category:  string(l.category),
		Level:     level,
		Message:   msg,
		Fields:    fields,
	})
	if err == nil {
		l.logger.Printf("%s", data)
		return
	}
	l.logger.Printf("[%s] %s | fields=%v", level, msg, fields)
}

// CloseAll closes all open log files (call at shutdown).
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	for _, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
	logsDir = ""
}

// =============================================================================
// TIMING HELPERS
// =============================================================================

// Timer measures the duration of one operation.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration at debug level.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs a warning if the duration exceeds the threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
