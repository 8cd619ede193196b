package logger

import (
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func WithSessionID(sessionID uuid.UUID) zap.Field {
	return zap.String("session.id", sessionID.String())
}

func WithDevicePath(path string) zap.Field {
	return zap.String("device.path", path)
}

func WithOperation(operation string) zap.Field {
	return zap.String("transfer.operation", operation)
}

func WithHandle(handle uint64) zap.Field {
	return zap.Uint64("transfer.handle", handle)
}
