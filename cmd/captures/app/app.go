// Package app implements the capture index browser: it lists the scan runs
// recorded in a capture index database, or the capture files of one run.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/whispr-dev/sdr/internal/storage"
)

func Run(ctx context.Context, config *Config, out io.Writer) error {
	if _, err := os.Stat(config.DBPath); err != nil && os.IsNotExist(err) {
		return fmt.Errorf("database file '%s' does not exist: %w", config.DBPath, err)
	}

	store := storage.NewSqliteStore(config.DBPath)
	defer store.Close()

	if config.RunPK > 0 {
		return listCaptures(ctx, store, config.RunPK, out)
	}
	return listRuns(ctx, store, out)
}

func listRuns(ctx context.Context, store storage.Store, out io.Writer) error {
	runs, err := store.Runs(ctx)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "no runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tDEVICE\tRUN")
	for _, run := range runs {
		fmt.Fprintf(w, "%d\t%s\t%s/%s\t%s\n",
			run.ID,
			run.StartedAt.Local().Format(time.DateTime),
			run.DeviceType, run.DeviceID,
			run.RunID)
	}
	return w.Flush()
}

func listCaptures(ctx context.Context, store storage.Store, runPK int64, out io.Writer) error {
	run, err := store.Run(ctx, runPK)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run %d not found", runPK)
	}

	captures, err := store.Captures(ctx, runPK)
	if err != nil {
		return err
	}
	if len(captures) == 0 {
		fmt.Fprintf(out, "run %d has no captures\n", runPK)
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tTRIGGERED\tFREQ\tSAMPLES\tDURATION\tFILE")
	for _, c := range captures {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%.3fs\t%s\n",
			c.Sequence,
			c.TriggeredAt.Local().Format(time.DateTime),
			humanize.SI(c.FrequencyHz, "Hz"),
			humanize.Comma(c.Samples),
			c.DurationS,
			c.File)
	}
	return w.Flush()
}
