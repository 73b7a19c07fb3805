package notify

import (
	"context"

	"github.com/vitos/volume_anomaly_bot/internal/domain"
	"go.uber.org/zap"
)

// Log writes every event to the structured log.
type Log struct {
	logger *zap.Logger
}

func NewLog(logger *zap.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Notify(ctx context.Context, ev domain.Event) error {
	l.logger.Info("Event",
		zap.String("kind", string(ev.Kind())),
		zap.String("symbol", ev.Symbol()),
		zap.Time("at", ev.OccurredAt()),
		zap.String("message", FormatEvent(ev)))
	return nil
}
