package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/whispr-dev/sdr/internal/dsp"
	"github.com/whispr-dev/sdr/internal/sdr"
)

// DefaultReadTimeout bounds a single blocking read from the sample source.
// A timed-out read is not an error; the control loop simply continues.
const DefaultReadTimeout = 500 * time.Millisecond

// Params holds the trigger and capture shaping parameters, all counted in
// complex samples at SampleRate. The application converts its second-based
// configuration into samples once, up front.
type Params struct {
	SampleRate int64  // complex samples per second
	Band       string // naming prefix for output files, e.g. "EU868"
	Format     Format // output sample format

	WindowSamples   int     // RMS window length
	HopSamples      int     // RMS hop length, must not exceed WindowSamples
	NoiseWindows    int     // floor history depth
	NoisePercentile float64 // floor percentile, 0..100
	MarginDB        float64 // trigger margin over the floor, in dB

	PreRollSamples    int   // pre-trigger history retained while idle
	PostRollSamples   int64 // hold after energy drops before stopping
	MaxCaptureSamples int64 // hard per-capture sample budget

	ReadBlockSamples int           // complex samples per source read
	ReadTimeout      time.Duration // zero means DefaultReadTimeout
}

// Validate rejects an invalid parameter set before anything is tuned or
// recorded.
func (p *Params) Validate() error {
	switch {
	case p.SampleRate <= 0:
		return fmt.Errorf("invalid sample rate: %d", p.SampleRate)
	case p.Band == "":
		return errors.New("band name is required")
	case p.WindowSamples <= 0:
		return fmt.Errorf("invalid energy window length: %d", p.WindowSamples)
	case p.HopSamples <= 0 || p.HopSamples > p.WindowSamples:
		return fmt.Errorf("invalid energy hop length: %d (window %d)", p.HopSamples, p.WindowSamples)
	case p.NoiseWindows <= 0:
		return fmt.Errorf("invalid noise history depth: %d", p.NoiseWindows)
	case p.NoisePercentile < 0 || p.NoisePercentile > 100:
		return fmt.Errorf("invalid noise percentile: %f", p.NoisePercentile)
	case p.PreRollSamples < 0:
		return fmt.Errorf("invalid pre-roll length: %d", p.PreRollSamples)
	case p.PostRollSamples <= 0:
		return fmt.Errorf("invalid post-roll length: %d", p.PostRollSamples)
	case p.MaxCaptureSamples <= int64(p.PreRollSamples):
		return fmt.Errorf("max capture length %d must exceed pre-roll length %d", p.MaxCaptureSamples, p.PreRollSamples)
	case p.ReadBlockSamples < p.WindowSamples:
		// A block shorter than one window would never produce an energy
		// estimate and the floor could not warm up.
		return fmt.Errorf("read block %d is shorter than energy window %d", p.ReadBlockSamples, p.WindowSamples)
	}
	return p.Format.Validate()
}

// WithLogger sets the logger for the engine.
func WithLogger(logger *slog.Logger) func(*Engine) {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithCaptureHook registers a callback invoked with the finalized metadata
// of every capture, after its sidecar has been written.
func WithCaptureHook(hook func(Metadata)) func(*Engine) {
	return func(e *Engine) {
		e.onCapture = hook
	}
}

// Engine is the squelch-like trigger state machine. Per channel dwell it
// estimates windowed signal energy, tracks a percentile noise floor, keeps a
// fresh pre-roll ring while idle, and on trigger records a bounded burst
// (pre-roll, triggering block, post-roll hold) to the capture writer.
//
// The engine is single-threaded by design: one synchronous loop owns the
// pre-roll ring, the floor tracker and the active capture session, and the
// only blocking operation is the bounded source read.
type Engine struct {
	p      Params
	meta   Metadata // template; per-capture fields filled at trigger time
	writer Writer

	floor *dsp.FloorTracker
	pre   *PreRoll

	energies []float64 // per-block window energies, reused

	logger    *slog.Logger
	onCapture func(Metadata)
}

// New creates an engine. The metadata template carries the static sidecar
// fields (device identity, rate, gain, trigger parameters, channel list).
func New(p Params, meta Metadata, w Writer, options ...func(*Engine)) (*Engine, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid capture parameters: %w", err)
	}
	if w == nil {
		return nil, errors.New("capture writer is required")
	}
	if p.ReadTimeout <= 0 {
		p.ReadTimeout = DefaultReadTimeout
	}

	floor, err := dsp.NewFloorTracker(p.NoiseWindows, p.NoisePercentile)
	if err != nil {
		return nil, fmt.Errorf("invalid capture parameters: %w", err)
	}

	e := Engine{
		p:      p,
		meta:   meta,
		writer: w,
		floor:  floor,
		pre:    NewPreRoll(p.PreRollSamples),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&e)
	}

	return &e, nil
}

// recording is the state of the single active capture session.
type recording struct {
	sess     Session
	meta     Metadata
	wrote    int64 // complex samples written so far
	postLeft int64 // post-roll hold budget, in complex samples
}

// RunChannel monitors one center frequency for up to dwell and records every
// triggered burst. The caller has already tuned the source; RunChannel
// starts from a cleared floor history and pre-roll ring, so estimates never
// leak between channels.
//
// The returned count is the number of finalized captures. A device or write
// fault aborts the remainder of the dwell; any active capture is finalized
// first. Cancellation takes the same path and surfaces ctx.Err().
func (e *Engine) RunChannel(ctx context.Context, src sdr.Source, freqHz float64, dwell time.Duration) (captures int, err error) {
	e.floor.Clear()
	e.pre.Clear()

	buf := make([]int16, e.p.ReadBlockSamples*2)
	deadline := time.Now().Add(dwell)

	var rec *recording
	for {
		if cErr := ctx.Err(); cErr != nil {
			if rec != nil {
				if fErr := e.finalize(rec, "cancelled"); fErr != nil {
					return captures, fErr
				}
			}
			return captures, cErr
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			if rec != nil {
				// Dwell expired while recording: forced stop.
				if fErr := e.finalize(rec, "dwell end"); fErr != nil {
					return captures, fErr
				}
			}
			return captures, nil
		}

		timeout := e.p.ReadTimeout
		if remaining < timeout {
			timeout = remaining
		}

		n, rErr := src.Read(buf, timeout)
		now := time.Now()
		switch {
		case errors.Is(rErr, sdr.ErrOverrun):
			// Recoverable: the block is lost but the floor history and any
			// active capture carry on.
			e.logger.Warn("samples dropped on overrun", slog.Float64("freqHz", freqHz))
			continue

		case rErr != nil:
			if rec != nil {
				if fErr := e.finalize(rec, "device fault"); fErr != nil {
					rErr = errors.Join(rErr, fErr)
				}
			}
			return captures, fmt.Errorf("reading samples: %w", rErr)

		case n == 0:
			continue // timeout, not an error
		}

		block := buf[:n*2]
		exceeded := e.update(block)

		if rec == nil {
			if !exceeded {
				e.pre.Append(block)
				continue
			}

			// Trigger: open a session and flush the pre-roll history as its
			// first payload. The triggering block itself is appended through
			// the recording path below, so nothing is written twice.
			captures++
			if rec, err = e.open(freqHz, captures, now); err != nil {
				return captures, err
			}

			if pre := e.pre.Snapshot(); len(pre) > 0 {
				if aErr := rec.sess.Append(pre); aErr != nil {
					return captures, fmt.Errorf("writing pre-roll: %w", aErr)
				}
				rec.wrote = int64(len(pre) / 2)
			}
			e.pre.Clear()
			rec.postLeft = e.p.PostRollSamples
		}

		// Recording: append the block in full, clamped only by the hard
		// per-capture budget. A burst is never cut short mid-block because
		// energy dipped.
		take := int64(n)
		if room := e.p.MaxCaptureSamples - rec.wrote; take > room {
			take = room
		}
		if take > 0 {
			if aErr := rec.sess.Append(block[:take*2]); aErr != nil {
				return captures, fmt.Errorf("appending capture: %w", aErr)
			}
			rec.wrote += take
		}

		if exceeded {
			rec.postLeft = e.p.PostRollSamples // re-arm the hold
		} else {
			rec.postLeft -= int64(n)
		}

		if rec.wrote >= e.p.MaxCaptureSamples {
			if err = e.finalize(rec, "max length"); err != nil {
				return captures, err
			}
			rec = nil
		} else if rec.postLeft <= 0 {
			if err = e.finalize(rec, "post-roll expired"); err != nil {
				return captures, err
			}
			rec = nil
		}
	}
}

// update feeds the block's window energies into the floor tracker and
// reports whether any window exceeded the trigger threshold. No threshold
// exists until the floor history has warmed up.
func (e *Engine) update(block []int16) bool {
	e.energies = e.energies[:0]
	for w := range dsp.Windows(block, e.p.WindowSamples, e.p.HopSamples) {
		e.energies = append(e.energies, w.RMS)
		e.floor.Push(w.RMS)
	}

	floor, ok := e.floor.Estimate()
	if !ok {
		return false
	}

	thr := dsp.Threshold(floor, e.p.MarginDB)
	for _, v := range e.energies {
		if v > thr {
			return true
		}
	}
	return false
}

func (e *Engine) open(freqHz float64, seq int, ts time.Time) (*recording, error) {
	sess, err := e.writer.Open(SessionSpec{
		Band:        e.p.Band,
		FrequencyHz: freqHz,
		RateSps:     e.p.SampleRate,
		Format:      e.p.Format,
		Sequence:    seq,
		Timestamp:   ts,
	})
	if err != nil {
		return nil, fmt.Errorf("opening capture session: %w", err)
	}

	meta := e.meta
	meta.FrequencyHz = freqHz
	meta.Format = e.p.Format
	meta.TimestampUTC = ts.UTC().Format(TimestampLayout)
	meta.CaptureSeq = seq

	e.logger.Info("trigger fired, recording",
		slog.Float64("freqHz", freqHz),
		slog.Int("seq", seq),
		slog.String("file", sess.Path()))

	return &recording{sess: sess, meta: meta}, nil
}

func (e *Engine) finalize(rec *recording, reason string) error {
	rec.meta.SamplesCaptured = rec.wrote
	rec.meta.DurationSEst = float64(rec.wrote) / float64(e.p.SampleRate)
	rec.meta.OutputFile = rec.sess.Path()

	if err := rec.sess.Finalize(&rec.meta); err != nil {
		return fmt.Errorf("finalizing capture: %w", err)
	}

	e.logger.Info("saved capture",
		slog.String("file", rec.meta.OutputFile),
		slog.String("reason", reason),
		slog.String("samples", humanize.Comma(rec.wrote)),
		slog.String("size", humanize.Bytes(uint64(rec.wrote)*uint64(e.p.Format.SampleBytes()))),
		slog.Float64("durationS", rec.meta.DurationSEst))

	if e.onCapture != nil {
		e.onCapture(rec.meta)
	}
	return nil
}
