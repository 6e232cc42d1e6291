package storage

import (
	_ "embed"
)

const (
	insertRunSQL = `
INSERT INTO runs (started_at,
                  run_id,
                  device_type,
                  device_id,
                  config)
VALUES (CURRENT_TIMESTAMP, ?, ?, ?, ?)`

	selectRunSQL = `
SELECT
    id,
    run_id,
    started_at,
    device_type,
    device_id,
    config
FROM runs
WHERE
    id = ?`

	selectRunsSQL = `
SELECT
    id,
    run_id,
    started_at,
    device_type,
    device_id,
    config
FROM runs
ORDER BY started_at`

	insertCaptureSQL = `
INSERT INTO captures (run_id,
                      frequency_hz,
                      sequence,
                      file,
                      sidecar,
                      format,
                      samples,
                      duration_s,
                      triggered_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectCapturesSQL = `
SELECT
    id,
    run_id,
    frequency_hz,
    sequence,
    file,
    sidecar,
    format,
    samples,
    duration_s,
    triggered_at
FROM captures
WHERE
    run_id = ?
ORDER BY triggered_at, sequence`
)

//go:embed schema.sql
var schemaSQL string
