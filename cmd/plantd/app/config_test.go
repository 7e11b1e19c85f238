package app

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "plantd.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	for _, path := range []string{"", filepath.Join(t.TempDir(), "missing.yaml")} {
		c, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig(%q): %v", path, err)
		}
		if c.Server.Listen != ":5000" {
			t.Errorf("listen: got %q", c.Server.Listen)
		}
		if c.Storage.Path != "motor_data.db" {
			t.Errorf("storage path: got %q", c.Storage.Path)
		}
		if c.Queues.ViewerCapacity != 1000 || c.Queues.PersistenceCapacity != 100000 {
			t.Errorf("queues: got %+v", c.Queues)
		}
		if c.Writer.ShutdownGrace.Std() != 2*time.Second {
			t.Errorf("shutdown grace: got %v", c.Writer.ShutdownGrace.Std())
		}
		if c.Session.AutoStart {
			t.Errorf("recording must not start automatically by default")
		}
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	path := writeConfig(t, `
settings:
  logLevel: debug
  logFormat: json
server:
  listen: 127.0.0.1:6000
  shutdownTimeout: 750ms
storage:
  path: /tmp/plant.db
queues:
  persistenceCapacity: 500
writer:
  shutdownGrace: 3s
session:
  autoStart: true
`)

	c, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if c.Settings.LogLevel != "debug" || c.Settings.LogFormat != LogFormatJSON {
		t.Errorf("settings: got %+v", c.Settings)
	}
	if c.Server.Listen != "127.0.0.1:6000" {
		t.Errorf("listen: got %q", c.Server.Listen)
	}
	if c.Server.ShutdownTimeout.Std() != 750*time.Millisecond {
		t.Errorf("shutdown timeout: got %v", c.Server.ShutdownTimeout.Std())
	}
	// untouched keys keep their defaults
	if c.Server.MaxBodyBytes != 1<<20 || c.Queues.ViewerCapacity != 1000 {
		t.Errorf("defaults lost: %+v %+v", c.Server, c.Queues)
	}
	if c.Queues.PersistenceCapacity != 500 {
		t.Errorf("persistence capacity: got %d", c.Queues.PersistenceCapacity)
	}
	if c.Writer.ShutdownGrace.Std() != 3*time.Second {
		t.Errorf("shutdown grace: got %v", c.Writer.ShutdownGrace.Std())
	}
	if !c.Session.AutoStart {
		t.Errorf("expected autoStart")
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"bad duration", "writer:\n  shutdownGrace: soon\n", "parsing duration"},
		{"bad level", "settings:\n  logLevel: loud\n", "invalid log level"},
		{"bad format", "settings:\n  logFormat: xml\n", "invalid log format"},
		{"zero queue", "queues:\n  viewerCapacity: 0\n", "invalid viewer queue capacity"},
		{"not yaml", "server: [", "decoding config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected %q in %q", tt.want, err.Error())
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":      slog.LevelInfo,
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseLevel(%q): got %v want %v", in, got, want)
		}
	}
}
