package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"context"

	"github.com/whispr-dev/sdr/internal/capture"
)

// SqliteStore is the SQLite-backed capture index. Connections are opened
// lazily: a WAL write connection that also initializes the schema, and a
// separate read-only connection.
type SqliteStore struct {
	dbPath string

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

// NewSqliteStore creates a store for the given database path. No connection
// is opened until first use.
func NewSqliteStore(dbPath string) *SqliteStore {
	return &SqliteStore{dbPath: dbPath}
}

func (s *SqliteStore) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL"))
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}

		if _, err = db.Exec(schemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

func (s *SqliteStore) getReadDB() (*sql.DB, error) {
	s.readDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "mode=ro"))
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

func (s *SqliteStore) CreateRun(ctx context.Context, runID, deviceType, deviceID string, config any) (runPK int64, err error) {
	var configData sql.NullString

	if config != nil {
		switch v := config.(type) {
		case string:
			configData.Valid = true
			configData.String = v

		case []byte:
			configData.Valid = true
			configData.String = string(v)

		default:
			var p []byte
			if p, err = json.Marshal(config); err != nil {
				err = fmt.Errorf("marshaling config: %w", err)
				return
			}

			configData.Valid = true
			configData.String = string(p)
		}
	}

	db, err := s.getWriteDB()
	if err != nil {
		err = fmt.Errorf("getting write connection: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, insertRunSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	result, err := stmt.ExecContext(ctx, runID, deviceType, deviceID, configData)
	if err != nil {
		err = fmt.Errorf("inserting run: %w", err)
		return
	}

	runPK, err = result.LastInsertId()
	if err != nil {
		err = fmt.Errorf("getting run ID: %w", err)
	}
	return
}

func (s *SqliteStore) RecordCapture(ctx context.Context, runPK int64, meta *capture.Metadata) (captureID int64, err error) {
	if meta == nil {
		err = errors.New("cannot record nil capture metadata")
		return
	}

	db, err := s.getWriteDB()
	if err != nil {
		err = fmt.Errorf("getting write connection: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, insertCaptureSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	result, err := stmt.ExecContext(ctx,
		runPK,
		meta.FrequencyHz,
		meta.CaptureSeq,
		meta.OutputFile,
		meta.OutputFile+".json",
		meta.Format.String(),
		meta.SamplesCaptured,
		meta.DurationSEst,
		meta.TimestampUTC)
	if err != nil {
		err = fmt.Errorf("inserting capture: %w", err)
		return
	}

	captureID, err = result.LastInsertId()
	if err != nil {
		err = fmt.Errorf("getting capture ID: %w", err)
	}
	return
}

func (s *SqliteStore) Run(ctx context.Context, id int64) (run *ScanRun, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, selectRunSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	var row runData
	err = stmt.QueryRowContext(ctx, id).Scan(&row.ID, &row.RunID, &row.StartedAt, &row.DeviceType, &row.DeviceID, &row.Config)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		err = nil
		return

	case err != nil:
		err = fmt.Errorf("querying run: %w", err)
		return
	}

	run = row.toScanRun()
	return
}

func (s *SqliteStore) Runs(ctx context.Context) (runs []*ScanRun, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectRunsSQL)
	if err != nil {
		err = fmt.Errorf("querying runs: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var row runData
		if err = rows.Scan(&row.ID, &row.RunID, &row.StartedAt, &row.DeviceType, &row.DeviceID, &row.Config); err != nil {
			err = fmt.Errorf("scanning run: %w", err)
			return
		}
		runs = append(runs, row.toScanRun())
	}

	err = rows.Err()
	return
}

func (s *SqliteStore) Captures(ctx context.Context, runPK int64) (captures []*CaptureRecord, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectCapturesSQL, runPK)
	if err != nil {
		err = fmt.Errorf("querying captures: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var row captureData
		if err = rows.Scan(&row.ID, &row.RunPK, &row.FrequencyHz, &row.Sequence, &row.File,
			&row.Sidecar, &row.Format, &row.Samples, &row.DurationS, &row.TriggeredAt); err != nil {
			err = fmt.Errorf("scanning capture: %w", err)
			return
		}
		captures = append(captures, row.toCaptureRecord())
	}

	err = rows.Err()
	return
}

func (s *SqliteStore) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.writeDB != nil {
			if err := s.writeDB.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing write connection: %w", err))
			}
		}
		if s.readDB != nil {
			if err := s.readDB.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing read connection: %w", err))
			}
		}
		s.closeErr = errors.Join(errs...)
	})

	return s.closeErr
}
