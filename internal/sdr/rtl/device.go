package rtl

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/whispr-dev/sdr/internal/sdr"
)

const (
	Runtime = "rtl_sdr"
	Device  = "rtl-sdr"
)

// WithLogger sets the logger for the device.
func WithLogger(logger *slog.Logger) func(*Source) {
	return func(d *Source) {
		d.logger = logger.With(
			slog.String("device", Device),
			slog.String("deviceID", d.deviceID))
	}
}

// Source drives the rtl_sdr command-line tool as a sample source: the tool
// streams raw unsigned 8-bit I/Q on stdout, a pump goroutine converts it to
// int16 pairs and queues blocks for Read. The tool has no live retune, so
// Tune while active restarts the process at the new frequency.
//
// Not safe for concurrent use; the capture engine is the single caller.
type Source struct {
	binPath  string
	cfg      Config
	front    sdr.Config
	deviceID string
	logger   *slog.Logger

	freqHz float64
	active bool
	closed bool

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	blocks  chan sdr.SampleBlock
	fault   chan error
	pending []int16 // remainder of the last dequeued block

	overruns atomic.Int64
}

// New validates the configuration and locates the rtl_sdr binary. The
// rtl_sdr tool only takes a single overall gain; a per-stage gain spec is a
// configuration fault.
func New(front sdr.Config, cfg Config, options ...func(*Source)) (*Source, error) {
	if front.Gain.IsPerStage() {
		return nil, sdr.NewConfigError("rtl-sdr supports only an overall gain, not per-stage gains")
	}
	if front.SampleRate < SampleRateMin || front.SampleRate > SampleRateMax {
		return nil, sdr.NewConfigError(fmt.Sprintf("rtl-sdr sample rate out of range: %d", front.SampleRate))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	binPath, err := sdr.FindRuntime(Runtime)
	if err != nil {
		return nil, fmt.Errorf("error finding runtime: %w", err)
	}

	d := Source{
		binPath:  binPath,
		cfg:      cfg,
		front:    front,
		deviceID: strconv.Itoa(cfg.DeviceIndex),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&d)
	}

	if front.DCCorrection || front.IQBalance {
		d.logger.Warn("DC/IQ correction is not supported by rtl_sdr and will be ignored")
	}

	return &d, nil
}

func (d *Source) Describe() (device, deviceID string) {
	return Device, d.deviceID
}

func (d *Source) Tune(freqHz float64) error {
	if d.closed {
		return sdr.ErrClosed
	}
	if freqHz <= 0 {
		return sdr.NewConfigError(fmt.Sprintf("invalid frequency: %f", freqHz))
	}

	d.freqHz = freqHz
	if !d.active {
		return nil
	}

	// No live retune: bounce the process on the new frequency.
	d.stopProcess()
	return d.startProcess()
}

func (d *Source) Activate() error {
	if d.closed {
		return sdr.ErrClosed
	}
	if d.active {
		return nil
	}
	if d.freqHz <= 0 {
		return sdr.NewConfigError("cannot activate before the first tune")
	}
	return d.startProcess()
}

func (d *Source) Deactivate() error {
	if d.closed {
		return sdr.ErrClosed
	}
	if !d.active {
		return nil
	}
	d.stopProcess()
	return nil
}

func (d *Source) Close() error {
	if d.closed {
		return nil
	}
	if d.active {
		d.stopProcess()
	}
	d.closed = true
	return nil
}

// Read returns the next queued samples, up to len(iq)/2 complex samples. A
// timeout is reported as (0, nil). A streamed block larger than the caller's
// buffer is handed out across consecutive reads; no tail is ever discarded.
// Dropped blocks surface as one ErrOverrun each before newer data is handed
// out.
func (d *Source) Read(iq []int16, timeout time.Duration) (int, error) {
	if d.closed {
		return 0, sdr.ErrClosed
	}
	if !d.active {
		return 0, sdr.ErrNotActive
	}

	if len(d.pending) > 0 {
		return d.take(iq, d.pending), nil
	}

	if d.overruns.Load() > 0 {
		d.overruns.Add(-1)
		return 0, sdr.ErrOverrun
	}

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case block := <-d.blocks:
		return d.take(iq, block.IQ), nil

	case err := <-d.fault:
		return 0, err

	case <-t.C:
		return 0, nil
	}
}

// take copies whole pairs into iq and stashes the rest for the next Read.
func (d *Source) take(iq, block []int16) int {
	n := copy(iq, block)
	n -= n % 2
	d.pending = block[n:]
	return n / 2
}

func (d *Source) args() []string {
	args := []string{
		"-d", d.deviceID,
		"-f", strconv.FormatInt(int64(d.freqHz), 10),
		"-s", strconv.FormatInt(d.front.SampleRate, 10),
	}

	// rtl_sdr treats gain 0 as hardware AGC.
	gain := "0"
	if !d.front.AGC && d.front.Gain.Overall != nil {
		gain = d.front.Gain.String()
	}
	args = append(args, "-g", gain)

	if d.cfg.PPMError != 0 {
		args = append(args, "-p", strconv.Itoa(d.cfg.PPMError))
	}

	return append(args, "-") // raw u8 I/Q on stdout
}

func (d *Source) startProcess() error {
	ctx, cancel := context.WithCancel(context.Background())

	cmd := exec.CommandContext(ctx, d.binPath, d.args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("error creating stdout pipe: %w", err)
	}

	if err = cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("error starting %s: %w", Runtime, err)
	}

	d.cancel = cancel
	d.blocks = make(chan sdr.SampleBlock, d.cfg.QueueDepth)
	d.fault = make(chan error, 1)
	d.pending = nil
	d.overruns.Store(0)
	d.active = true

	d.logger.Info("streaming started", slog.Float64("freqHz", d.freqHz))

	d.wg.Add(1)
	go d.pump(ctx, cmd, stdout)
	return nil
}

func (d *Source) stopProcess() {
	d.cancel()
	d.wg.Wait()
	d.active = false
}

// pump converts the tool's unsigned 8-bit I/Q stream into int16 blocks.
// When the queue is full the incoming block is dropped and counted; Read
// reports each drop as an overrun.
func (d *Source) pump(ctx context.Context, cmd *exec.Cmd, stdout io.Reader) {
	defer d.wg.Done()

	raw := make([]byte, d.cfg.BlockSamples*2)
	for {
		if _, err := io.ReadFull(stdout, raw); err != nil {
			wErr := cmd.Wait()
			if ctx.Err() != nil {
				return // deliberate stop
			}

			if wErr != nil {
				err = fmt.Errorf("%s exited: %w", Runtime, wErr)
			} else {
				err = fmt.Errorf("%s stream ended: %w", Runtime, err)
			}
			d.fault <- err
			return
		}

		iq := make([]int16, len(raw))
		for i, v := range raw {
			iq[i] = (int16(v) - 128) * 256
		}

		select {
		case d.blocks <- sdr.SampleBlock{Timestamp: time.Now(), IQ: iq}:
		default:
			d.overruns.Add(1)
		}
	}
}
