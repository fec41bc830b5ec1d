// Package logger provides process-wide structured JSON logging.
//
// Call sites use key/value pairs: logger.Info("open recorded", "key", k).
// Values that look like email addresses are masked before they are written.
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

// Level represents the severity of a log entry.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var zapLevels = map[Level]zapcore.Level{
	DEBUG: zapcore.DebugLevel,
	INFO:  zapcore.InfoLevel,
	WARN:  zapcore.WarnLevel,
	ERROR: zapcore.ErrorLevel,
}

var (
	mu        sync.RWMutex
	level     = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	sugar     = newSugar(zapcore.Lock(os.Stderr))
	redactPII = true
)

func newSugar(ws zapcore.WriteSyncer) *zap.SugaredLogger {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "time"
	enc.MessageKey = "msg"
	enc.EncodeTime = zapcore.RFC3339TimeEncoder
	enc.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), ws, level)
	return zap.New(core).Sugar()
}

// SetLevel sets the minimum log level.
func SetLevel(l Level) {
	if zl, ok := zapLevels[l]; ok {
		level.SetLevel(zl)
	}
}

// ParseLevel maps a config string such as "warn" to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG, nil
	case "", "info":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	}
	return INFO, fmt.Errorf("unknown log level %q", s)
}

// Configure applies the level name and redaction flag from config. An
// unknown level leaves INFO in place and is reported.
func Configure(levelName string, redact bool) error {
	SetRedactPII(redact)
	l, err := ParseLevel(levelName)
	SetLevel(l)
	return err
}

// SetRedactPII enables or disables email masking.
func SetRedactPII(r bool) {
	mu.Lock()
	redactPII = r
	mu.Unlock()
}

// SetOutput redirects log output. Used by tests.
func SetOutput(w io.Writer) {
	s := newSugar(zapcore.AddSync(w))
	mu.Lock()
	sugar = s
	mu.Unlock()
}

// Sync flushes buffered entries; call it before the process exits.
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	return sugar.Sync()
}

// Debug emits a DEBUG-level structured log entry.
func Debug(msg string, fields ...interface{}) { log(zapcore.DebugLevel, msg, fields) }

// Info emits an INFO-level structured log entry.
func Info(msg string, fields ...interface{}) { log(zapcore.InfoLevel, msg, fields) }

// Warn emits a WARN-level structured log entry.
func Warn(msg string, fields ...interface{}) { log(zapcore.WarnLevel, msg, fields) }

// Error emits an ERROR-level structured log entry.
func Error(msg string, fields ...interface{}) { log(zapcore.ErrorLevel, msg, fields) }

func log(lvl zapcore.Level, msg string, fields []interface{}) {
	if !level.Enabled(lvl) {
		return
	}
	mu.RLock()
	s, redact := sugar, redactPII
	mu.RUnlock()

	kv := make([]interface{}, 0, len(fields))
	for i := 0; i+1 < len(fields); i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		val := fields[i+1]
		switch v := val.(type) {
		case error:
			val = v.Error()
		case fmt.Stringer:
			val = v.String()
		}
		if str, ok := val.(string); ok && redact {
			val = redactPIIValue(key, str)
		}
		kv = append(kv, key, val)
	}
	switch lvl {
	case zapcore.DebugLevel:
		s.Debugw(msg, kv...)
	case zapcore.WarnLevel:
		s.Warnw(msg, kv...)
	case zapcore.ErrorLevel:
		s.Errorw(msg, kv...)
	default:
		s.Infow(msg, kv...)
	}
}
