package log

import (
	"fmt"
	stdlog "log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/logutils"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var levels = []logutils.LogLevel{
	logutils.LogLevel(LevelDebug),
	logutils.LogLevel(LevelInfo),
	logutils.LogLevel(LevelWarn),
	logutils.LogLevel(LevelError),
}

var (
	logger     *stdlog.Logger
	filter     *logutils.LevelFilter
	loggerOnce sync.Once
	mu         sync.Mutex
)

// initLogger initializes the global logger to write to stderr through a
// level filter. Lines below the minimum level never reach stderr.
func initLogger() {
	loggerOnce.Do(func() {
		filter = &logutils.LevelFilter{
			Levels:   levels,
			MinLevel: logutils.LogLevel(LevelInfo),
			Writer:   os.Stderr,
		}
		logger = stdlog.New(filter, "", 0)
	})
}

// ParseLevel maps a config string (debug, info, warn, error) to a Level.
// Unknown values map to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

func SetLevel(l Level) {
	initLogger()
	mu.Lock()
	filter.SetMinLevel(logutils.LogLevel(l))
	mu.Unlock()
}

func Debug(msg string, kv ...any) {
	logWithLevel(LevelDebug, msg, kv...)
}

func Info(msg string, kv ...any) {
	logWithLevel(LevelInfo, msg, kv...)
}

func Warn(msg string, kv ...any) {
	logWithLevel(LevelWarn, msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	extended := append([]any{"err", err}, kv...)
	logWithLevel(LevelError, msg, extended...)
}

func logWithLevel(level Level, msg string, kv ...any) {
	initLogger()
	mu.Lock()
	defer mu.Unlock()
	logger.Println(formatLine(time.Now(), level, msg, kv...))
}

// formatLine renders
//
//	2025-01-01T00:00:00Z [LEVEL] msg key=value ...
//
// The bracketed level is what the logutils filter keys on.
func formatLine(ts time.Time, level Level, msg string, kv ...any) string {
	var b strings.Builder
	b.WriteString(ts.Format(time.RFC3339Nano))
	b.WriteString(" [")
	b.WriteString(string(level))
	b.WriteString("] ")
	b.WriteString(msg)
	b.WriteString(formatKVs(kv...))
	return b.String()
}

func formatKVs(kv ...any) string {
	var b strings.Builder
	// Expect kv as pairs: key, value, key, value, ...
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		b.WriteString(" ")
		b.WriteString(key)
		b.WriteString("=")
		b.WriteString(fmt.Sprint(kv[i+1]))
	}
	// If odd number of args, last one is ignored.
	return b.String()
}
