// Package notify delivers job completion and failure notices.
package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/mediafetch/internal/download"
)

// Log writes each notification as a structured log entry.
type Log struct {
	logger *zap.Logger
}

// NewLog returns a Log notifier.
func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger.Named("notify")}
}

// Notify implements download.Notifier.
func (l *Log) Notify(_ context.Context, n download.Notification) {
	fields := []zap.Field{
		zap.String("kind", string(n.Kind)),
		zap.String("job_id", n.JobID),
		zap.String("url", n.URL),
		zap.String("filename", n.Filename),
		zap.Time("at", n.At),
	}
	if n.Kind == download.NotifyFailed {
		l.logger.Warn("download failed", append(fields, zap.String("error", n.Error))...)
		return
	}
	l.logger.Info("download finished", fields...)
}
