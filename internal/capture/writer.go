package capture

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"
)

// TimestampLayout is the UTC timestamp embedded in capture file names and
// the sidecar, e.g. 20260825T143000Z.
const TimestampLayout = "20060102T150405Z"

// SessionSpec identifies a capture session for output naming: one file per
// trigger event, numbered sequentially within a channel dwell.
type SessionSpec struct {
	Band        string
	FrequencyHz float64
	RateSps     int64
	Format      Format
	Sequence    int
	Timestamp   time.Time
}

// stem renders the deterministic file name (without directory):
// <band>_<freq>Hz_<rate>sps_<fmt>_<UTC>_cap<NN>.<fmt>
func (s SessionSpec) stem() string {
	return fmt.Sprintf("%s_%dHz_%dsps_%s_%s_cap%02d.%s",
		s.Band, int64(s.FrequencyHz), s.RateSps, s.Format,
		s.Timestamp.UTC().Format(TimestampLayout), s.Sequence, s.Format)
}

// Writer opens capture sessions. The engine holds at most one session open
// at a time.
type Writer interface {
	Open(spec SessionSpec) (Session, error)
}

// Session receives raw sample payloads for one capture and is finalized
// exactly once with its metadata sidecar. Finalize is idempotent: repeated
// calls after the first are no-ops.
type Session interface {
	Append(iq []int16) error
	Finalize(meta *Metadata) error
	Path() string
}

// FileWriter writes interleaved I/Q files plus a JSON sidecar of the same
// stem into a single output directory.
type FileWriter struct {
	dir string
}

// NewFileWriter creates the output directory if needed.
func NewFileWriter(dir string) (*FileWriter, error) {
	if dir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	return &FileWriter{dir: dir}, nil
}

func (w *FileWriter) Open(spec SessionSpec) (Session, error) {
	if err := spec.Format.Validate(); err != nil {
		return nil, err
	}

	path := filepath.Join(w.dir, spec.stem())
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating capture file: %w", err)
	}

	return &fileSession{f: f, path: path, format: spec.Format}, nil
}

type fileSession struct {
	f      *os.File
	path   string
	format Format
	buf    []byte // reused encode buffer

	finalized bool
}

func (s *fileSession) Path() string {
	return s.path
}

func (s *fileSession) Append(iq []int16) error {
	if s.finalized {
		return fmt.Errorf("append to finalized capture %s", s.path)
	}

	s.buf = encodeIQ(s.buf[:0], iq, s.format)
	if _, err := s.f.Write(s.buf); err != nil {
		return fmt.Errorf("writing capture file: %w", err)
	}
	return nil
}

func (s *fileSession) Finalize(meta *Metadata) error {
	if s.finalized {
		return nil
	}
	s.finalized = true

	if err := s.f.Close(); err != nil {
		return fmt.Errorf("closing capture file: %w", err)
	}

	p, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling sidecar: %w", err)
	}
	if err := os.WriteFile(s.path+".json", p, 0o644); err != nil {
		return fmt.Errorf("writing sidecar: %w", err)
	}
	return nil
}

// encodeIQ appends the wire encoding of interleaved int16 I/Q values to dst.
// cs16 is a straight little-endian copy; cf32 rescales to float32 in [-1, 1).
func encodeIQ(dst []byte, iq []int16, format Format) []byte {
	switch format {
	case FormatCF32:
		for _, v := range iq {
			dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(float32(v)/32768.0))
		}
	default: // FormatCS16
		for _, v := range iq {
			dst = binary.LittleEndian.AppendUint16(dst, uint16(v))
		}
	}
	return dst
}
