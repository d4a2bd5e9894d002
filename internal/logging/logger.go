// Package logging provides the daemon's categorized, structured logger.
// It fans every entry out to a zap logger for console (stderr) output and
// keeps a bounded in-memory ring buffer so the HTTP API can serve recent
// log history to the CLI and dashboard without tailing a file.
package logging

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is a log severity, ordered so callers can filter "at or above".
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelInfo:
		return zapcore.InfoLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Category groups log entries by subsystem so the API and dashboard can
// filter on it independently of severity.
type Category string

const (
	CatSystem     Category = "system"
	CatHTTP       Category = "http"
	CatWebSocket  Category = "websocket"
	CatCard       Category = "card"
	CatAllocation Category = "allocation"
	CatReader     Category = "reader"
	CatProfile    Category = "profile"
	CatPlugin     Category = "plugin"
)

// Entry is one recorded log line, as returned by the API and dashboard.
type Entry struct {
	Time     time.Time      `json:"time"`
	Level    Level          `json:"level"`
	Category Category       `json:"category"`
	Message  string         `json:"message"`
	Fields   map[string]any `json:"fields,omitempty"`
}

// Stats summarizes the current state of the ring buffer.
type Stats struct {
	Total    int `json:"total"`
	Capacity int `json:"capacity"`
}

// ringLogger is a categorized logger backed by zap for output and a
// fixed-capacity ring buffer for the API's recent-history queries.
type ringLogger struct {
	mu      sync.Mutex
	entries []Entry
	head    int
	size    int
	cap     int
	minimum Level
	zap     *zap.Logger
}

var (
	instMu sync.Mutex
	inst   *ringLogger
)

// Init creates the process-wide logger. bufSize is the ring buffer
// capacity; level is the minimum severity recorded and forwarded to zap.
// Safe to call more than once (e.g. after reloading config); each call
// replaces the previous logger and its history.
func Init(bufSize int, level Level) {
	if bufSize <= 0 {
		bufSize = 1000
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(level.zapLevel())
	zapCfg.EncoderConfig.TimeKey = "time"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zl, err := zapCfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		zl = zap.NewNop()
	}

	instMu.Lock()
	inst = &ringLogger{
		entries: make([]Entry, bufSize),
		cap:     bufSize,
		minimum: level,
		zap:     zl,
	}
	instMu.Unlock()
}

// Get returns the process-wide logger, initializing a default one (1000
// entries, info level) if Init hasn't been called yet.
func Get() *ringLogger {
	instMu.Lock()
	ready := inst != nil
	instMu.Unlock()
	if !ready {
		Init(1000, LevelInfo)
	}
	instMu.Lock()
	defer instMu.Unlock()
	return inst
}

func (r *ringLogger) log(level Level, category Category, message string, fields map[string]any) {
	if level < r.minimum {
		return
	}

	entry := Entry{Time: time.Now(), Level: level, Category: category, Message: message, Fields: fields}

	r.mu.Lock()
	r.entries[r.head] = entry
	r.head = (r.head + 1) % r.cap
	if r.size < r.cap {
		r.size++
	}
	r.mu.Unlock()

	zapFields := make([]zap.Field, 0, len(fields)+1)
	zapFields = append(zapFields, zap.String("category", string(category)))
	for k, v := range fields {
		zapFields = append(zapFields, zap.Any(k, v))
	}
	switch level {
	case LevelDebug:
		r.zap.Debug(message, zapFields...)
	case LevelWarn:
		r.zap.Warn(message, zapFields...)
	case LevelError:
		r.zap.Error(message, zapFields...)
	default:
		r.zap.Info(message, zapFields...)
	}
}

// GetEntries returns up to limit most-recent entries, newest first,
// optionally filtered by minimum level and/or category.
func (r *ringLogger) GetEntries(limit int, minLevel *Level, category *Category) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]Entry, 0, r.size)
	for i := 0; i < r.size; i++ {
		idx := (r.head - 1 - i + r.cap*2) % r.cap
		e := r.entries[idx]
		if minLevel != nil && e.Level < *minLevel {
			continue
		}
		if category != nil && e.Category != *category {
			continue
		}
		result = append(result, e)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result
}

// Stats reports how full the ring buffer currently is.
func (r *ringLogger) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{Total: r.size, Capacity: r.cap}
}

// Clear empties the ring buffer without affecting zap output.
func (r *ringLogger) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.head = 0
	r.size = 0
}

// Debug records a debug-level entry under category.
func Debug(category Category, message string, fields map[string]any) {
	Get().log(LevelDebug, category, message, fields)
}

// Info records an info-level entry under category.
func Info(category Category, message string, fields map[string]any) {
	Get().log(LevelInfo, category, message, fields)
}

// Warn records a warn-level entry under category.
func Warn(category Category, message string, fields map[string]any) {
	Get().log(LevelWarn, category, message, fields)
}

// Error records an error-level entry under category.
func Error(category Category, message string, fields map[string]any) {
	Get().log(LevelError, category, message, fields)
}
