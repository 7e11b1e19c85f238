package app

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/roman-kulish/plant-telemetry/internal/storage"
)

func Run(ctx context.Context, config *Config, logger *slog.Logger) (err error) {
	if _, err = os.Stat(config.DBPath); err != nil && os.IsNotExist(err) {
		return fmt.Errorf("database file '%s' does not exist: %w", config.DBPath, err)
	}

	store := storage.NewSqliteStore(config.DBPath)
	defer store.Close()

	data, err := readChartData(ctx, store, config, logger)
	if err != nil {
		return err
	}

	renderer, err := NewChartRenderer(RenderConfig{
		Width:         config.Width,
		Height:        config.Height,
		Location:      config.TimeZone,
		NoAnnotations: config.NoAnnotations,
	})
	if err != nil {
		return fmt.Errorf("creating chart renderer: %w", err)
	}

	logger.Info("rendering chart",
		slog.Group("image",
			slog.String("destination", config.OutputFile),
			slog.String("format", string(config.Format)),
			slog.Int("width", config.Width),
			slog.Int("height", config.Height),
		))

	img, err := renderer.Render(data)
	if err != nil {
		return fmt.Errorf("rendering chart: %w", err)
	}

	out, err := os.Create(config.OutputFile)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer func() {
		if cErr := out.Close(); cErr != nil && err == nil {
			err = cErr
		}
	}()

	return encodeImage(out, img, config.Format)
}

func readChartData(ctx context.Context, store *storage.SqliteStore, config *Config, logger *slog.Logger) (*ChartData, error) {
	experiment, err := store.Experiment(ctx, config.ExperimentID)
	if err != nil {
		return nil, err
	}

	var opts []storage.ReaderOption
	if config.FromMs != nil || config.ToMs != nil {
		from, to := int64(math.MinInt64), int64(math.MaxInt64)
		if config.FromMs != nil {
			from = *config.FromMs
		}
		if config.ToMs != nil {
			to = *config.ToMs
		}
		opts = append(opts, storage.WithDeviceTimeRange(from, to))

		logger.Info("reader configuration", slog.Int64("fromMs", from), slog.Int64("toMs", to))
	}

	reader, err := store.ReadRecords(ctx, experiment.ID, opts...)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	logger.Info("reading samples", slog.String("experiment", experiment.Name()))

	data := NewChartData(experiment)
	for reader.Next(ctx) {
		data.Update(reader.Current())
	}
	if err = reader.Err(); err != nil {
		return nil, err
	}
	if data.Len() == 0 {
		return nil, fmt.Errorf("reading samples of %s: %w", experiment.Name(), ErrNothingToRender)
	}

	data.ApplyFilter(config.Filter)

	from, to := data.TimeRange()
	logger.Info("finished reading samples",
		slog.Group("stats",
			slog.String("samples", humanize.Comma(int64(data.Len()))),
			slog.Int64("fromMs", from),
			slog.Int64("toMs", to),
			slog.String("firstReceived", data.ReceivedStart.In(config.TimeZone).Format(time.DateTime)),
			slog.String("lastReceived", data.ReceivedEnd.In(config.TimeZone).Format(time.DateTime)),
			slog.String("voltage", fmt.Sprintf("%0.fmV to %0.fmV", data.VoltageBounds.Min, data.VoltageBounds.Max)),
			slog.String("control", fmt.Sprintf("%0.1f%% to %0.1f%%", data.ControlBounds.Min, data.ControlBounds.Max)),
		))

	return data, nil
}

func encodeImage(w io.Writer, img image.Image, format ImageFormat) error {
	switch format {
	case ImageJPEG:
		return jpeg.Encode(w, img, &jpeg.Options{
			Quality: 95,
		})
	default:
		return png.Encode(w, img)
	}
}
