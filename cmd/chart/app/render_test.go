package app

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/roman-kulish/plant-telemetry/internal/export"
	"github.com/roman-kulish/plant-telemetry/internal/storage"
	"github.com/roman-kulish/plant-telemetry/internal/telemetry"
)

func testData(n int) *ChartData {
	start := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	end := start.Add(time.Duration(n) * 100 * time.Millisecond).Truncate(time.Second).Add(time.Second)

	data := NewChartData(&telemetry.Experiment{ID: 3, StartedAt: start, EndedAt: &end, Status: telemetry.StatusCompleted})
	for i := 0; i < n; i++ {
		data.Update(&telemetry.Record{
			DeviceTimeMs:  int64(i * 100),
			VoltageMv:     int32(1000 + (i%20)*50),
			ControlSignal: float64(i % 100),
			ReceivedAt:    start.Add(time.Duration(i) * 100 * time.Millisecond),
		})
	}
	return data
}

func hasColor(img *image.RGBA, r image.Rectangle, c color.RGBA) bool {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if img.RGBAAt(x, y) == c {
				return true
			}
		}
	}
	return false
}

func hasInk(img *image.RGBA, r image.Rectangle) bool {
	white := color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if img.RGBAAt(x, y) != white {
				return true
			}
		}
	}
	return false
}

func TestChartRenderer_Render(t *testing.T) {
	data := testData(300)
	data.ApplyFilter(export.FilterSMA)

	renderer, err := NewChartRenderer(RenderConfig{Width: 600, Height: 300, Location: time.UTC})
	if err != nil {
		t.Fatalf("Failed to create renderer: %v", err)
	}

	img, err := renderer.Render(data)
	if err != nil {
		t.Fatalf("Failed to render: %v", err)
	}

	wantSize := image.Pt(600+defaultLeftBorder+defaultRightBorder, 300+defaultTopBorder+defaultBottomBorder)
	if img.Bounds().Size() != wantSize {
		t.Fatalf("image size: got %v want %v", img.Bounds().Size(), wantSize)
	}

	plot := image.Rect(defaultLeftBorder, defaultTopBorder, defaultLeftBorder+600, defaultTopBorder+300)
	for name, c := range map[string]color.RGBA{"voltage": voltageColor, "control": controlColor, "filtered": filteredColor} {
		if !hasColor(img, plot, c) {
			t.Errorf("%s series not drawn", name)
		}
	}

	infoBar := image.Rect(0, wantSize.Y-defaultBottomBorder/2, wantSize.X, wantSize.Y)
	if !hasInk(img, infoBar) {
		t.Errorf("info bar not drawn")
	}
}

func TestChartRenderer_NoAnnotations(t *testing.T) {
	renderer, err := NewChartRenderer(RenderConfig{Width: 200, Height: 100, NoAnnotations: true})
	if err != nil {
		t.Fatalf("Failed to create renderer: %v", err)
	}

	img, err := renderer.Render(testData(10))
	if err != nil {
		t.Fatalf("Failed to render: %v", err)
	}

	infoBar := image.Rect(0, img.Bounds().Max.Y-defaultBottomBorder/2, img.Bounds().Max.X, img.Bounds().Max.Y)
	if hasInk(img, infoBar) {
		t.Errorf("expected an empty info bar")
	}
}

func TestChartRenderer_SingleSample(t *testing.T) {
	renderer, err := NewChartRenderer(RenderConfig{Width: 200, Height: 100})
	if err != nil {
		t.Fatalf("Failed to create renderer: %v", err)
	}

	if _, err = renderer.Render(testData(1)); err != nil {
		t.Fatalf("Failed to render a single sample: %v", err)
	}
	if _, err = renderer.Render(NewChartData(&telemetry.Experiment{ID: 1})); !errors.Is(err, ErrNothingToRender) {
		t.Fatalf("expected ErrNothingToRender, got %v", err)
	}
}

func TestNiceStep(t *testing.T) {
	tests := []struct {
		span   float64
		pixels int
		want   float64
	}{
		{1000, 600, 200},  // 5 labels
		{3000, 600, 1000}, // target 600 rounds up to 1000
		{1, 1200, 0.1},
		{0, 600, 1},
	}
	for _, tt := range tests {
		if got := niceStep(tt.span, tt.pixels); got < tt.want*0.999 || got > tt.want*1.001 {
			t.Errorf("niceStep(%v, %d): got %v want %v", tt.span, tt.pixels, got, tt.want)
		}
	}
}

func TestNewConfigFromArgs(t *testing.T) {
	c, err := NewConfigFromArgs([]string{"--db", "plant.db", "-e", "4", "-o", "chart", "--filter", "ema", "--from", "0", "--to", "5000"})
	if err != nil {
		t.Fatalf("NewConfigFromArgs: %v", err)
	}
	if c.OutputFile != "chart.png" || c.ExperimentID != 4 || c.Filter != export.FilterEMA {
		t.Fatalf("unexpected config: %+v", c)
	}
	if c.FromMs == nil || *c.FromMs != 0 || c.ToMs == nil || *c.ToMs != 5000 {
		t.Fatalf("unexpected range: %v %v", c.FromMs, c.ToMs)
	}

	invalid := [][]string{
		{"-o", "chart"},
		{"-e", "1"},
		{"-e", "1", "-o", "chart", "-f", "gif"},
		{"-e", "1", "-o", "chart", "--from", "10", "--to", "5"},
		{"-e", "1", "-o", "chart", "--filter", "median"},
	}
	for _, args := range invalid {
		if _, err = NewConfigFromArgs(args); err == nil {
			t.Errorf("expected error for %v", args)
		}
	}
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "plant.db")

	store := storage.NewSqliteStore(dbPath)
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Failed to init store: %v", err)
	}

	start := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	id, err := store.CreateExperiment(ctx, start)
	if err != nil {
		t.Fatalf("Failed to create experiment: %v", err)
	}
	for i := 0; i < 50; i++ {
		_, err = store.InsertRecord(ctx, &telemetry.Record{
			ExperimentID:  id,
			ReceivedAt:    start.Add(time.Duration(i) * time.Second),
			DeviceTimeMs:  int64(i * 1000),
			VoltageMv:     int32(1500 + i),
			ControlSignal: 30,
		})
		if err != nil {
			t.Fatalf("Failed to insert record: %v", err)
		}
	}
	if _, err = store.CloseExperiment(ctx, id, start); err != nil {
		t.Fatalf("Failed to close experiment: %v", err)
	}
	_ = store.Close()

	c, err := NewConfigFromArgs([]string{"--db", dbPath, "-e", "1", "-o", filepath.Join(dir, "chart"), "--width", "400", "--height", "200"})
	if err != nil {
		t.Fatalf("NewConfigFromArgs: %v", err)
	}

	if err = Run(ctx, c, slog.New(slog.NewTextHandler(io.Discard, nil))); err != nil {
		t.Fatalf("Run: %v", err)
	}

	f, err := os.Open(c.OutputFile)
	if err != nil {
		t.Fatalf("Failed to open chart: %v", err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("Failed to decode chart: %v", err)
	}
	if img.Bounds().Dx() != 400+defaultLeftBorder+defaultRightBorder {
		t.Fatalf("unexpected width %d", img.Bounds().Dx())
	}
}
