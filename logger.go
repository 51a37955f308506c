package energygrid

import (
	"fmt"
	"log"
	"sync/atomic"

	"go.uber.org/zap"
)

// Logger is the minimal structured logging interface used for debug output.
// Key/value pairs follow the msg argument.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// SimpleLogger writes to the standard log package with a level prefix.
type SimpleLogger struct{}

// NewSimpleLogger returns a console logger suitable for development.
func NewSimpleLogger() *SimpleLogger {
	return &SimpleLogger{}
}

func (l *SimpleLogger) Debug(msg string, keysAndValues ...any) { l.write("DEBUG", msg, keysAndValues) }
func (l *SimpleLogger) Info(msg string, keysAndValues ...any)  { l.write("INFO", msg, keysAndValues) }
func (l *SimpleLogger) Warn(msg string, keysAndValues ...any)  { l.write("WARN", msg, keysAndValues) }
func (l *SimpleLogger) Error(msg string, keysAndValues ...any) { l.write("ERROR", msg, keysAndValues) }

func (l *SimpleLogger) write(level, msg string, keysAndValues []any) {
	line := fmt.Sprintf("[%s] %s", level, msg)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		line += fmt.Sprintf(" %v=%v", keysAndValues[i], keysAndValues[i+1])
	}
	log.Print(line)
}

// ZapLogger adapts a *zap.Logger to the Logger interface so applications
// already carrying zap can plug their logger straight in.
type ZapLogger struct {
	s *zap.SugaredLogger
}

// NewZapLogger wraps the given zap logger. Caller keeps ownership (and Sync).
func NewZapLogger(l *zap.Logger) *ZapLogger {
	return &ZapLogger{s: l.Sugar()}
}

func (z *ZapLogger) Debug(msg string, keysAndValues ...any) { z.s.Debugw(msg, keysAndValues...) }
func (z *ZapLogger) Info(msg string, keysAndValues ...any)  { z.s.Infow(msg, keysAndValues...) }
func (z *ZapLogger) Warn(msg string, keysAndValues ...any)  { z.s.Warnw(msg, keysAndValues...) }
func (z *ZapLogger) Error(msg string, keysAndValues ...any) { z.s.Errorw(msg, keysAndValues...) }

// DebugConfig selects which concerns emit debug logs when a Logger is set.
type DebugConfig struct {
	Enabled      bool
	LogRequests  bool
	LogRetries   bool
	LogCache     bool
	LogSession   bool
	LogPolling   bool
	RequestIDGen func() string
}

// DefaultDebugConfig enables all concerns once Enabled is flipped on.
func DefaultDebugConfig() *DebugConfig {
	var counter atomic.Uint64
	return &DebugConfig{
		Enabled:     false,
		LogRequests: true,
		LogRetries:  true,
		LogCache:    true,
		LogSession:  true,
		LogPolling:  true,
		RequestIDGen: func() string {
			return fmt.Sprintf("req-%d", counter.Add(1))
		},
	}
}
