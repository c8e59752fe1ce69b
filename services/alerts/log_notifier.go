package alerts

import (
	"context"

	"go.uber.org/zap"
)

// LogNotifier writes alerts to the application log.
// Used when no e-mail delivery is configured.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a LogNotifier
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the alert at its severity
func (n *LogNotifier) Notify(_ context.Context, alert Alert) error {
	fields := []zap.Field{
		zap.String("alert_type", alert.Type),
		zap.Time("timestamp", alert.Timestamp),
	}

	switch alert.Level {
	case LevelError:
		n.logger.Error(alert.Message, fields...)
	case LevelWarn:
		n.logger.Warn(alert.Message, fields...)
	default:
		n.logger.Info(alert.Message, fields...)
	}
	return nil
}
