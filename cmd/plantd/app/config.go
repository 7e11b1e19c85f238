package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Config represents the main application configuration
type Config struct {
	Settings Settings      `yaml:"settings"`
	Server   ServerConfig  `yaml:"server"`
	Storage  StorageConfig `yaml:"storage"`
	Queues   QueueConfig   `yaml:"queues"`
	Writer   WriterConfig  `yaml:"writer"`
	Cache    CacheConfig   `yaml:"cache"`
	Session  SessionConfig `yaml:"session"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`
}

// ServerConfig represents the HTTP listener settings
type ServerConfig struct {
	Listen          string   `yaml:"listen"`
	MaxBodyBytes    int64    `yaml:"maxBodyBytes"`
	ReadTimeout     Duration `yaml:"readTimeout"`
	WriteTimeout    Duration `yaml:"writeTimeout"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout"`
}

// StorageConfig represents storage settings
type StorageConfig struct {
	Path string `yaml:"path"`
}

// QueueConfig sizes the viewer and persistence queues
type QueueConfig struct {
	ViewerCapacity      int `yaml:"viewerCapacity"`
	PersistenceCapacity int `yaml:"persistenceCapacity"`
}

// WriterConfig represents persistence writer settings
type WriterConfig struct {
	ShutdownGrace Duration `yaml:"shutdownGrace"`
}

// CacheConfig sizes the completed experiment samples cache
type CacheConfig struct {
	MaxExperiments int `yaml:"maxExperiments"`
}

// SessionConfig controls the recording state at startup
type SessionConfig struct {
	AutoStart bool `yaml:"autoStart"` // Open a new experiment as soon as the server starts
}

// Duration is a time.Duration written as a Go duration string, e.g. "2s"
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("decoding duration: %w", err)
	}

	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", s, err)
	}

	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// DefaultConfig returns the configuration used when no file is given
func DefaultConfig() *Config {
	return &Config{
		Settings: Settings{
			LogLevel:  "info",
			LogFormat: LogFormatText,
		},
		Server: ServerConfig{
			Listen:          ":5000",
			MaxBodyBytes:    1 << 20,
			ReadTimeout:     Duration(10 * time.Second),
			WriteTimeout:    Duration(60 * time.Second),
			ShutdownTimeout: Duration(5 * time.Second),
		},
		Storage: StorageConfig{
			Path: "motor_data.db",
		},
		Queues: QueueConfig{
			ViewerCapacity:      1000,
			PersistenceCapacity: 100000,
		},
		Writer: WriterConfig{
			ShutdownGrace: Duration(2 * time.Second),
		},
		Cache: CacheConfig{
			MaxExperiments: 32,
		},
	}
}

// LoadConfig reads a YAML configuration file over the defaults. An empty path
// or a missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	c := DefaultConfig()
	if path == "" {
		return c, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err = yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err = c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks values that cannot be defaulted
func (c *Config) Validate() error {
	var errs []error

	if _, err := ParseLevel(c.Settings.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.Settings.LogFormat {
	case "", LogFormatText, LogFormatJSON:
	default:
		errs = append(errs, fmt.Errorf("invalid log format: %q", c.Settings.LogFormat))
	}
	if c.Server.Listen == "" {
		errs = append(errs, errors.New("server listen address is required"))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("invalid max body bytes: %d", c.Server.MaxBodyBytes))
	}
	if c.Storage.Path == "" {
		errs = append(errs, errors.New("storage path is required"))
	}
	if c.Queues.ViewerCapacity <= 0 {
		errs = append(errs, fmt.Errorf("invalid viewer queue capacity: %d", c.Queues.ViewerCapacity))
	}
	if c.Queues.PersistenceCapacity <= 0 {
		errs = append(errs, fmt.Errorf("invalid persistence queue capacity: %d", c.Queues.PersistenceCapacity))
	}
	if c.Writer.ShutdownGrace < 0 {
		errs = append(errs, errors.New("writer shutdown grace must not be negative"))
	}
	if c.Cache.MaxExperiments <= 0 {
		errs = append(errs, fmt.Errorf("invalid cache size: %d", c.Cache.MaxExperiments))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// ParseLevel maps a config log level to slog. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level: %q", s)
	}
	return level, nil
}
