package app

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/roman-kulish/plant-telemetry/internal/export"
	"github.com/roman-kulish/plant-telemetry/internal/session"
	"github.com/roman-kulish/plant-telemetry/internal/telemetry"
	"github.com/zeebo/blake3"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// ListExperiments writes a table of completed experiments, newest first.
func ListExperiments(ctx context.Context, config *Config, out io.Writer) (err error) {
	store, err := openStore(ctx, &config.Storage)
	if err != nil {
		return err
	}
	defer closeWithError(store, &err)

	running, err := store.RunningExperiments(ctx)
	if err != nil {
		return fmt.Errorf("listing running experiments: %w", err)
	}
	experiments, err := store.CompletedExperiments(ctx)
	if err != nil {
		return fmt.Errorf("listing experiments: %w", err)
	}

	if len(experiments) == 0 && len(running) == 0 {
		_, err = fmt.Fprintln(out, "no experiments recorded")
		return err
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers("ID", "NAME", "STARTED", "DURATION", "SAMPLES", "STATUS")

	for _, e := range running {
		t.Row(experimentRow(e)...)
	}
	for _, e := range experiments {
		t.Row(experimentRow(e)...)
	}

	_, err = fmt.Fprintln(out, t.Render())
	return err
}

func experimentRow(e *telemetry.Experiment) []string {
	duration := "-"
	if d, ok := e.Duration(); ok {
		duration = telemetry.FormatDuration(d)
	}

	return []string{
		strconv.FormatInt(e.ID, 10),
		e.Name(),
		fmt.Sprintf("%s (%s)", e.StartedAt.Local().Format(time.DateTime), humanize.Time(e.StartedAt)),
		duration,
		humanize.Comma(e.SampleCount),
		string(e.Status),
	}
}

// ExportOptions selects what ExportExperiment writes
type ExportOptions struct {
	ID     int64
	Format export.Format
	Filter export.Filter
	Output string // Defaults to experimento_<id>.<format>
}

// ExportExperiment writes the samples of one experiment to a file.
func ExportExperiment(ctx context.Context, config *Config, opts ExportOptions, logger *slog.Logger) (err error) {
	store, err := openStore(ctx, &config.Storage)
	if err != nil {
		return err
	}
	defer closeWithError(store, &err)

	if _, err = store.Experiment(ctx, opts.ID); err != nil {
		return fmt.Errorf("reading experiment %d: %w", opts.ID, err)
	}

	records, err := store.Records(ctx, opts.ID)
	if err != nil {
		return fmt.Errorf("reading samples: %w", err)
	}
	if len(records) == 0 {
		return fmt.Errorf("exporting experiment %d: %w", opts.ID, export.ErrNoData)
	}

	path := opts.Output
	if path == "" {
		path = fmt.Sprintf("experimento_%d%s", opts.ID, opts.Format.Extension())
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating export file: %w", err)
	}
	defer closeWithError(f, &err)

	// Digest is logged so a copied file can be checked against the export
	hasher := blake3.New()
	if err = export.Export(io.MultiWriter(f, hasher), opts.Format, records, opts.Filter.Apply(records)); err != nil {
		return fmt.Errorf("exporting experiment %d: %w", opts.ID, err)
	}

	var size string
	if info, serr := f.Stat(); serr == nil {
		size = humanize.Bytes(uint64(info.Size()))
	}

	logger.Info("experiment exported",
		slog.Int64("experiment", opts.ID),
		slog.String("path", path),
		slog.String("format", string(opts.Format)),
		slog.String("filter", string(opts.Filter)),
		slog.Int("samples", len(records)),
		slog.String("size", size),
		slog.String("blake3", hex.EncodeToString(hasher.Sum(nil))))
	return nil
}

// DeleteExperiment removes a completed experiment and its samples.
func DeleteExperiment(ctx context.Context, config *Config, id int64, logger *slog.Logger) (err error) {
	store, err := openStore(ctx, &config.Storage)
	if err != nil {
		return err
	}
	defer closeWithError(store, &err)

	e, err := store.Experiment(ctx, id)
	if err != nil {
		return fmt.Errorf("reading experiment %d: %w", id, err)
	}
	if e.Status == telemetry.StatusRunning {
		return fmt.Errorf("deleting experiment %d: %w", id, session.ErrExperimentRunning)
	}

	if err = store.DeleteExperiment(ctx, id); err != nil {
		return err
	}

	logger.Info("experiment deleted", slog.Int64("experiment", id), slog.String("samples", humanize.Comma(e.SampleCount)))
	return nil
}

// Recover creates the schema and closes experiments left running. It must not
// be run against a store a live server is recording into.
func Recover(ctx context.Context, config *Config, logger *slog.Logger) (closed int64, err error) {
	store, err := openStore(ctx, &config.Storage)
	if err != nil {
		return 0, err
	}
	defer closeWithError(store, &err)

	manager, err := session.NewManager(store, session.WithLogger(logger))
	if err != nil {
		return 0, fmt.Errorf("creating session manager: %w", err)
	}

	return manager.StartupRecovery(ctx)
}

func closeWithError(cl io.Closer, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}
