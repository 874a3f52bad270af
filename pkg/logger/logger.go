package logger

import (
	"fmt"

	"go.uber.org/zap"
)

// InfoLogger и FatalLogger подменяются модулем telemetry при старте.
var InfoLogger, FatalLogger = zap.NewNop(), zap.NewNop()

var (
	serviceName = "default"
)

func SetServiceName(newName string) string {
	oldName := serviceName
	serviceName = newName

	return oldName
}

// Install ставит глобальные логгеры. nil оставляет текущие.
func Install(info, fatal *zap.Logger) {
	if info != nil {
		InfoLogger = info
	}
	if fatal != nil {
		FatalLogger = fatal
	}
}

func base() *zap.Logger {
	if InfoLogger == nil {
		panic("InfoLogger is not initialized")
	}
	return InfoLogger.With(zap.String("service", serviceName))
}

func Info(format string, args ...interface{}) {
	base().Info(fmt.Sprintf(format, args...))
}

func Warn(format string, args ...interface{}) {
	base().Warn(fmt.Sprintf(format, args...))
}

func Error(format string, args ...interface{}) {
	base().Error(fmt.Sprintf(format, args...))
}

func Fatal(format string, args ...interface{}) {
	if FatalLogger == nil {
		panic("FatalLogger is not initialized")
	}

	msg := fmt.Sprintf(format, args...)
	FatalLogger.With(
		zap.String("service", serviceName),
	).Fatal(msg)
}

// Infow пишет структурную запись.
func Infow(msg string, fields ...zap.Field) {
	base().Info(msg, fields...)
}

func Warnw(msg string, fields ...zap.Field) {
	base().Warn(msg, fields...)
}

func Errorw(msg string, fields ...zap.Field) {
	base().Error(msg, fields...)
}
