package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/whispr-dev/sdr/internal/capture"
	"github.com/whispr-dev/sdr/internal/sdr"
	"github.com/whispr-dev/sdr/internal/sdr/replay"
	"github.com/whispr-dev/sdr/internal/sdr/rtl"
	"github.com/whispr-dev/sdr/internal/storage"
)

// Run wires the configured source, writer, capture index and engine
// together and executes the channel plan until it is exhausted or ctx is
// cancelled.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	src, err := createSource(config, logger)
	if err != nil {
		return fmt.Errorf("failed to create sample source: %w", err)
	}
	defer src.Close()

	writer, err := capture.NewFileWriter(config.Capture.OutputDir)
	if err != nil {
		return fmt.Errorf("failed to create capture writer: %w", err)
	}

	runID := uuid.NewString()
	device, deviceID := src.Describe()

	options := []func(*capture.Engine){capture.WithLogger(logger)}
	if config.Storage.DataDirectory != "" {
		store, runPK, sErr := createStore(ctx, config, runID, device, deviceID)
		if sErr != nil {
			return fmt.Errorf("failed to create capture index: %w", sErr)
		}
		defer store.Close()

		// Index failures are logged, never fatal: the sidecar on disk
		// remains the source of truth.
		options = append(options, capture.WithCaptureHook(func(meta capture.Metadata) {
			if _, err := store.RecordCapture(context.WithoutCancel(ctx), runPK, &meta); err != nil {
				logger.Error(fmt.Sprintf("failed to index capture: %s", err), slog.String("file", meta.OutputFile))
			}
		}))
	}

	engine, err := capture.New(config.EngineParams(), metadataTemplate(config, runID, device, deviceID), writer, options...)
	if err != nil {
		return err
	}

	scheduler, err := capture.NewScheduler(config.ChannelPlan(), engine, src, capture.WithSchedulerLogger(logger))
	if err != nil {
		return err
	}

	logger.Info("starting scan",
		slog.String("runID", runID),
		slog.String("device", device),
		slog.String("deviceID", deviceID),
		slog.String("band", config.Scan.Band),
		slog.Int("channels", len(config.Scan.Channels)),
		slog.String("dwell", config.Scan.Dwell.String()),
		slog.Int64("sampleRate", config.Device.SampleRate),
		slog.String("gain", config.Device.Gain.String()),
		slog.String("outputDir", config.Capture.OutputDir))

	total, err := scheduler.Run(ctx)

	logger.Info("scan finished", slog.Int("totalCaptures", total))
	return err
}

func createSource(config *Config, logger *slog.Logger) (sdr.Source, error) {
	switch config.Device.Driver {
	case DriverRTLSDR:
		return rtl.New(config.Device.Config, config.Device.RTL, rtl.WithLogger(logger))

	case DriverReplay:
		return replay.New(config.Device.ReplayFile, config.Trigger.ReadBlock)

	default:
		return nil, fmt.Errorf("unknown device driver: %q", config.Device.Driver)
	}
}

func createStore(ctx context.Context, config *Config, runID, device, deviceID string) (storage.Store, int64, error) {
	dir := config.Storage.DataDirectory
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, 0, fmt.Errorf("creating storage directory %q: %w", dir, err)
	}

	dbPath := filepath.Join(dir, fmt.Sprintf("captures_%s.sqlite", time.Now().UTC().Format("20060102_150405")))
	store := storage.NewSqliteStore(dbPath)

	runPK, err := store.CreateRun(ctx, runID, device, deviceID, config)
	if err != nil {
		_ = store.Close()
		return nil, 0, fmt.Errorf("creating run record: %w", err)
	}

	return store, runPK, nil
}

// metadataTemplate carries every static sidecar field; the engine fills the
// per-capture ones at trigger time.
func metadataTemplate(config *Config, runID, device, deviceID string) capture.Metadata {
	return capture.Metadata{
		RunID:              runID,
		Device:             device,
		DeviceID:           deviceID,
		RateSps:            float64(config.Device.SampleRate),
		BandwidthHz:        float64(config.Device.Bandwidth),
		Antenna:            config.Device.Antenna,
		Gain:               config.Device.Gain.String(),
		PreSeconds:         config.Trigger.PreRoll.Std().Seconds(),
		PostSeconds:        config.Trigger.PostRoll.Std().Seconds(),
		EnergyWindowS:      config.Trigger.EnergyWindow.Std().Seconds(),
		EnergyHopS:         config.Trigger.EnergyHop.Std().Seconds(),
		TriggerDBOverFloor: config.Trigger.MarginDB,
		NoisePercentile:    config.Trigger.NoisePercentile,
		TuneSettleS:        config.Scan.Settle.Std().Seconds(),
		ChannelList:        config.Scan.Channels,
	}
}
