// Package replay implements a sample source that replays a recorded cs16
// I/Q file, so a trigger configuration can be reworked offline against a
// previously captured band.
package replay

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/whispr-dev/sdr/internal/sdr"
)

const Device = "replay"

// DefaultBlockSamples matches the rtl driver's streaming block.
const DefaultBlockSamples = 1 << 16

// Source replays interleaved little-endian int16 I/Q pairs from a file.
// Tune is recorded but has no effect on the sample stream; end of file is a
// device stop, which ends the dwell and the run.
type Source struct {
	path  string
	block int

	f      *os.File
	r      *bufio.Reader
	raw    []byte
	active bool
	closed bool
}

// New checks that the file exists; it is opened on Activate.
func New(path string, blockSamples int) (*Source, error) {
	if blockSamples <= 0 {
		blockSamples = DefaultBlockSamples
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("replay file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("replay file %s is a directory", path)
	}

	return &Source{
		path:  path,
		block: blockSamples,
		raw:   make([]byte, blockSamples*4),
	}, nil
}

func (s *Source) Describe() (device, deviceID string) {
	return Device, filepath.Base(s.path)
}

func (s *Source) Tune(freqHz float64) error {
	if s.closed {
		return sdr.ErrClosed
	}
	return nil
}

func (s *Source) Activate() error {
	if s.closed {
		return sdr.ErrClosed
	}
	if s.active {
		return nil
	}

	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("opening replay file: %w", err)
	}

	s.f = f
	s.r = bufio.NewReaderSize(f, len(s.raw))
	s.active = true
	return nil
}

func (s *Source) Deactivate() error {
	if s.closed {
		return sdr.ErrClosed
	}
	if !s.active {
		return nil
	}

	s.active = false
	err := s.f.Close()
	s.f, s.r = nil, nil
	if err != nil {
		return fmt.Errorf("closing replay file: %w", err)
	}
	return nil
}

func (s *Source) Close() error {
	if s.closed {
		return nil
	}
	if s.active {
		if err := s.Deactivate(); err != nil {
			return err
		}
	}
	s.closed = true
	return nil
}

// Read decodes the next block of pairs. The timeout is unused: file reads
// do not block on sample arrival. EOF surfaces as a device stop.
func (s *Source) Read(iq []int16, _ time.Duration) (int, error) {
	if s.closed {
		return 0, sdr.ErrClosed
	}
	if !s.active {
		return 0, sdr.ErrNotActive
	}

	want := len(s.raw)
	if max := len(iq) * 2; max < want {
		want = max
	}
	want = want / 4 * 4 // whole pairs only

	n, err := io.ReadFull(s.r, s.raw[:want])
	n = n / 4 * 4
	if n == 0 {
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return 0, err
	}

	for i := 0; i < n/2; i++ {
		iq[i] = int16(binary.LittleEndian.Uint16(s.raw[i*2:]))
	}
	return n / 4, nil
}
