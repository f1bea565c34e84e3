// Package rmlog provides the structured logger used across rankmatch,
// wrapping go.uber.org/zap the way pithecene-io/quarry's log package wraps
// it: a non-sugared Logger for hot paths (tick loops, enqueue, reserve) and
// a Sugar() escape hatch for convenience logging during startup.
package rmlog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a *zap.Logger, carrying whatever fields identify the calling
// component (node, shard, epoch) so every line in this process is
// consistently attributable.
type Logger struct {
	z *zap.Logger
}

// New builds a production-configured Logger writing to stderr.
func New() *Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	z, err := cfg.Build()
	if err != nil {
		// zap's production config is static and cannot fail to build in
		// practice; fall back to a no-op logger rather than panic on a
		// logging-path error.
		z = zap.NewNop()
	}
	return &Logger{z: z}
}

// Nop returns a Logger that discards everything, for tests that don't care
// about log output.
func Nop() *Logger { return &Logger{z: zap.NewNop()} }

// With returns a child Logger with the given fields attached to every
// subsequent entry.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{z: l.z.With(fields...)}
}

// Sugar returns a SugaredLogger for printf-style convenience logging in
// cmd/* startup code, where structured fields matter less than ease of use.
func (l *Logger) Sugar() *SugaredLogger {
	return &SugaredLogger{s: l.z.Sugar()}
}

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.z.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.z.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.z.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.z.Error(msg, fields...) }

// Sync flushes any buffered log entries. Call during graceful shutdown.
func (l *Logger) Sync() error { return l.z.Sync() }

// SugaredLogger provides printf-style logging, mirroring quarry's
// log.SugaredLogger.
type SugaredLogger struct {
	s *zap.SugaredLogger
}

func (s *SugaredLogger) Infof(tmpl string, args ...any)  { s.s.Infof(tmpl, args...) }
func (s *SugaredLogger) Warnf(tmpl string, args ...any)  { s.s.Warnf(tmpl, args...) }
func (s *SugaredLogger) Errorf(tmpl string, args ...any) { s.s.Errorf(tmpl, args...) }
func (s *SugaredLogger) Fatalf(tmpl string, args ...any) { s.s.Fatalf(tmpl, args...) }
