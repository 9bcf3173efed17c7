// Package logging provides zap logger helpers.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/mediafetch/internal/download"
)

// New builds a zap.Logger configured for development or production.
func New(development bool) (*zap.Logger, error) {
	if development {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		logger, err := cfg.Build()
		if err != nil {
			return nil, fmt.Errorf("build dev logger: %w", err)
		}
		return logger, nil
	}
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build prod logger: %w", err)
	}
	return logger, nil
}

// JobFields returns the standard fields attached to every job log line.
func JobFields(job download.Job) []zap.Field {
	fields := []zap.Field{
		zap.String("job_id", job.ID),
		zap.String("status", string(job.Status)),
		zap.Int("attempt", job.Attempts),
		zap.String("url", job.CanonicalURL),
	}
	if job.TransportID != "" {
		fields = append(fields, zap.String("transport_id", job.TransportID))
	}
	return fields
}
