package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roman-kulish/plant-telemetry/internal/export"
	"github.com/spf13/pflag"
)

const (
	ImagePNG  = "png"
	ImageJPEG = "jpeg"
)

type ImageFormat string

type Config struct {
	DBPath        string
	ExperimentID  int64
	OutputFile    string
	Format        ImageFormat
	Width         int
	Height        int
	Filter        export.Filter
	FromMs        *int64 // Device time range, inclusive
	ToMs          *int64
	TimeZone      *time.Location
	Verbose       bool
	NoAnnotations bool
}

var validImageFormats = map[ImageFormat]struct{}{
	ImagePNG:  {},
	ImageJPEG: {},
}

func NewConfig() *Config {
	return &Config{
		Format:   ImagePNG,
		Width:    1600,
		Height:   600,
		Filter:   export.FilterNone,
		TimeZone: time.Local,
	}
}

// NewConfigFromArgs parses command line arguments, without the program name.
// It returns pflag.ErrHelp when help was requested.
func NewConfigFromArgs(args []string) (*Config, error) {
	c := NewConfig()

	fs := pflag.NewFlagSet("chart", pflag.ContinueOnError)

	var imageFormat, filter, tz string
	var fromMs, toMs int64
	fs.StringVar(&c.DBPath, "db", "motor_data.db", "Path to the database file")
	fs.Int64VarP(&c.ExperimentID, "experiment", "e", 0, "Experiment ID")
	fs.StringVarP(&c.OutputFile, "out", "o", "", "Path to the output file, without extension")
	fs.StringVarP(&imageFormat, "format", "f", string(ImagePNG), "Output image format. [png, jpeg]")
	fs.IntVar(&c.Width, "width", c.Width, "Plot area width in pixels")
	fs.IntVar(&c.Height, "height", c.Height, "Plot area height in pixels")
	fs.StringVar(&filter, "filter", string(export.FilterNone), "Smoothed voltage overlay. [none, sma, ema]")
	fs.Int64Var(&fromMs, "from", 0, "First device timestamp to plot, in milliseconds")
	fs.Int64Var(&toMs, "to", 0, "Last device timestamp to plot, in milliseconds")
	fs.StringVar(&tz, "tz", "", "Time zone of the info bar (default local)")
	fs.BoolVar(&c.Verbose, "verbose", false, "Enable more verbose output")
	fs.BoolVar(&c.NoAnnotations, "no-annotations", false, "Disable scales and the info bar")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "from":
			c.FromMs = &fromMs
		case "to":
			c.ToMs = &toMs
		}
	})

	imageFormat = strings.ToLower(imageFormat)
	if imageFormat == "jpg" {
		imageFormat = ImageJPEG
	}

	var err error
	if c.DBPath == "" {
		err = errors.New("db path is required")
	} else if c.ExperimentID <= 0 {
		err = errors.New("experiment id is required")
	} else if c.OutputFile == "" {
		err = errors.New("output file is required")
	} else if _, ok := validImageFormats[ImageFormat(imageFormat)]; !ok {
		err = fmt.Errorf("invalid image format: %s", imageFormat)
	} else if c.Width < 100 || c.Height < 100 {
		err = fmt.Errorf("plot area too small: %dx%d", c.Width, c.Height)
	} else if c.FromMs != nil && c.ToMs != nil && *c.FromMs > *c.ToMs {
		err = fmt.Errorf("invalid device time range: %d > %d", *c.FromMs, *c.ToMs)
	}
	if err == nil {
		c.Filter, err = export.ParseFilter(filter)
	}
	if err == nil && tz != "" {
		c.TimeZone, err = time.LoadLocation(tz)
	}

	if err != nil {
		fs.Usage()
		return nil, err
	}

	c.Format = ImageFormat(imageFormat)
	c.OutputFile = fmt.Sprintf("%s.%s", c.OutputFile, c.Format)
	return c, nil
}
