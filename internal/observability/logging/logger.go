package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	slogzap "github.com/samber/slog-zap/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	BackendSlog = "slog"
	BackendZap  = "zap"
)

func NewJSONLogger(service, level string) *slog.Logger {
	return newSlogLogger(os.Stdout, service, level)
}

// New builds the service logger for the configured backend. The returned
// flush func must run before exit; it is a no-op for the slog backend.
func New(backend, service, level string) (*slog.Logger, func()) {
	if strings.EqualFold(strings.TrimSpace(backend), BackendZap) {
		return newZapLogger(os.Stdout, service, level)
	}
	return newSlogLogger(os.Stdout, service, level), func() {}
}

func newSlogLogger(w io.Writer, service, level string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	return slog.New(handler).With("service", service)
}

func newZapLogger(w io.Writer, service, level string) (*slog.Logger, func()) {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.TimeKey = "time"

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.AddSync(w),
		parseZapLevel(level),
	)
	zl := zap.New(core, zap.AddStacktrace(zapcore.ErrorLevel))

	handler := slogzap.Option{
		Level:  parseLevel(level),
		Logger: zl,
	}.NewZapHandler()
	return slog.New(handler).With("service", service), func() { _ = zl.Sync() }
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func parseZapLevel(level string) zapcore.Level {
	switch parseLevel(level) {
	case slog.LevelDebug:
		return zapcore.DebugLevel
	case slog.LevelWarn:
		return zapcore.WarnLevel
	case slog.LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
