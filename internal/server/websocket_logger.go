package server

import (
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WebSocketLogger tags gateway log lines with the connection identity.
type WebSocketLogger struct {
	logger *zap.Logger
}

func NewWebSocketLogger() *WebSocketLogger {
	return &WebSocketLogger{
		logger: zap.L().With(zap.String("component", "gateway")),
	}
}

func (l *WebSocketLogger) Info(event string, userID uuid.UUID, connectionID string, fields ...zap.Field) {
	l.logger.Info("gateway_event", l.with(event, userID, connectionID, fields...)...)
}

func (l *WebSocketLogger) Warn(event string, userID uuid.UUID, connectionID string, fields ...zap.Field) {
	l.logger.Warn("gateway_warning", l.with(event, userID, connectionID, fields...)...)
}

func (l *WebSocketLogger) Error(event string, userID uuid.UUID, connectionID string, err error, fields ...zap.Field) {
	all := l.with(event, userID, connectionID, fields...)
	all = append(all, zap.Error(err))
	l.logger.Error("gateway_error", all...)
}

func (l *WebSocketLogger) with(event string, userID uuid.UUID, connectionID string, fields ...zap.Field) []zap.Field {
	all := []zap.Field{
		zap.String("event", event),
		zap.String("user_id", userID.String()),
		zap.String("connection_id", connectionID),
	}
	return append(all, fields...)
}
