// Package log connects a scheduler to zap: a Monitor that records task and
// effect lifecycles, and an effect that lets bodies log in sequence with the
// effects they perform.
package log

import (
	"context"

	"github.com/on-the-ground/effect_ive_saga/effects"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel defines the severity level for log messages.
type LogLevel string

const (
	// LogInfo is used for general informational messages.
	LogInfo LogLevel = "info"

	// LogWarn is used for potentially harmful situations.
	LogWarn LogLevel = "warn"

	// LogError is used for error events that might still allow the application to continue running.
	LogError LogLevel = "error"

	// LogDebug is used for debugging messages with detailed internal information.
	LogDebug LogLevel = "debug"
)

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case LogWarn:
		return zap.WarnLevel
	case LogError:
		return zap.ErrorLevel
	case LogDebug:
		return zap.DebugLevel
	default:
		return zap.InfoLevel
	}
}

// LogPayload is one structured log line.
type LogPayload struct {
	Level   LogLevel
	Message string
	Fields  map[string]any
}

func write(logger *zap.Logger, payload LogPayload) {
	ce := logger.Check(payload.Level.zapLevel(), payload.Message)
	if ce == nil {
		return
	}
	fields := make([]zap.Field, 0, len(payload.Fields))
	for k, v := range payload.Fields {
		fields = append(fields, zap.Any(k, v))
	}
	ce.Write(fields...)
}

// LogEff builds an effect writing payload to logger when the task performs it.
// It resolves with nil.
func LogEff(logger *zap.Logger, level LogLevel, msg string, fields map[string]any) effects.InvokeEffect {
	payload := LogPayload{Level: level, Message: msg, Fields: fields}
	return effects.Invoke(func(context.Context, ...any) (any, error) {
		write(logger, payload)
		return nil, nil
	})
}
