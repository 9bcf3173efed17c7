package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/mediafetch/internal/download"
)

// TestNewDevelopmentLogger confirms the development logger builds and logs.
func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(true)
	if err != nil {
		t.Fatalf("New(true) error = %v", err)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger.Info("development logger ready")
}

func TestNewProductionLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(false)
	if err != nil {
		t.Fatalf("New(false) error = %v", err)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger.Info("production logger ready")
}

func TestJobFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	job := download.Job{ID: "j1", Status: download.StatusActive, Attempts: 2, CanonicalURL: "https://x/y.jpg"}
	logger.Info("queued", JobFields(job)...)
	job.TransportID = "t9"
	logger.Info("dispatched", JobFields(job)...)

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	first := entries[0].ContextMap()
	if first["job_id"] != "j1" || first["status"] != "active" || first["attempt"] != int64(2) {
		t.Fatalf("unexpected fields %v", first)
	}
	if _, ok := first["transport_id"]; ok {
		t.Fatal("transport_id must be omitted when empty")
	}
	if entries[1].ContextMap()["transport_id"] != "t9" {
		t.Fatalf("expected transport_id, got %v", entries[1].ContextMap())
	}
}
