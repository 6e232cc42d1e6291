package storage

import (
	"context"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/whispr-dev/sdr/internal/capture"
)

// Store is the capture index: a durable record of scan runs and the capture
// files each run produced. The JSON sidecars on disk remain the source of
// truth for capture parameters; the index exists so runs can be queried
// without walking the output directory.
type Store interface {
	// CreateRun registers a new scan run and returns its database ID.
	// runID is the externally visible run identity (a UUID), config is the
	// effective configuration and may be a string, []byte or any
	// JSON-serializable value.
	CreateRun(ctx context.Context, runID, deviceType, deviceID string, config any) (int64, error)

	// RecordCapture registers a finalized capture under a run.
	RecordCapture(ctx context.Context, runPK int64, meta *capture.Metadata) (int64, error)

	// Run retrieves a single scan run by database ID, nil if not found.
	Run(ctx context.Context, id int64) (*ScanRun, error)

	// Runs returns all scan runs ordered by start time.
	Runs(ctx context.Context) ([]*ScanRun, error)

	// Captures returns all captures of a run ordered by trigger time.
	Captures(ctx context.Context, runPK int64) ([]*CaptureRecord, error)

	// Close releases all database connections. Safe to call multiple times.
	Close() error
}

// ScanRun is one invocation of the scanner against one device.
type ScanRun struct {
	ID         int64
	RunID      string
	StartedAt  time.Time
	DeviceType string
	DeviceID   string
	Config     *string
}

// CaptureRecord is one finalized capture file.
type CaptureRecord struct {
	ID          int64
	RunPK       int64
	FrequencyHz float64
	Sequence    int
	File        string
	Sidecar     string
	Format      string
	Samples     int64
	DurationS   float64
	TriggeredAt time.Time
}
