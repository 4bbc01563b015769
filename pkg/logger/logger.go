package logger

import (
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var l atomic.Pointer[zap.Logger]

func init() {
	l.Store(zap.NewNop())
}

// InitLogger builds the process logger. "prod" gets JSON output with ISO8601
// timestamps, anything else the development console encoder.
func InitLogger(env string) {
	var cfg zap.Config

	switch env {
	case "prod":
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "time"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	case "test":
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	default:
		cfg = zap.NewDevelopmentConfig()
	}

	logger, err := cfg.Build(zap.AddCaller(), zap.AddCallerSkip(1))
	if err != nil {
		panic(err)
	}

	l.Store(logger.Named("retryflow"))
}

func Info(msg string, fields ...zap.Field) {
	l.Load().Info(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	l.Load().Error(msg, fields...)
}

func Debug(msg string, fields ...zap.Field) {
	l.Load().Debug(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	l.Load().Warn(msg, fields...)
}

func Sync() error {
	return l.Load().Sync()
}
