package storage

import (
	"database/sql"
	"time"

	"github.com/whispr-dev/sdr/internal/capture"
)

type runData struct {
	ID         int64
	RunID      string
	StartedAt  time.Time
	DeviceType string
	DeviceID   string
	Config     sql.NullString
}

func (r *runData) toScanRun() *ScanRun {
	run := ScanRun{
		ID:         r.ID,
		RunID:      r.RunID,
		StartedAt:  r.StartedAt,
		DeviceType: r.DeviceType,
		DeviceID:   r.DeviceID,
	}
	if r.Config.Valid {
		run.Config = &r.Config.String
	}
	return &run
}

type captureData struct {
	ID          int64
	RunPK       int64
	FrequencyHz float64
	Sequence    int
	File        string
	Sidecar     string
	Format      string
	Samples     int64
	DurationS   float64
	TriggeredAt string
}

func (c *captureData) toCaptureRecord() *CaptureRecord {
	rec := CaptureRecord{
		ID:          c.ID,
		RunPK:       c.RunPK,
		FrequencyHz: c.FrequencyHz,
		Sequence:    c.Sequence,
		File:        c.File,
		Sidecar:     c.Sidecar,
		Format:      c.Format,
		Samples:     c.Samples,
		DurationS:   c.DurationS,
	}
	// Stored in the sidecar's compact stamp form; a zero time means the
	// stamp was unparseable.
	if ts, err := time.Parse(capture.TimestampLayout, c.TriggeredAt); err == nil {
		rec.TriggeredAt = ts
	}
	return &rec
}
