package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestTokenPreview(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"short", "*****"},
		{"eyJhbGciOiJIUzI1NiJ9.payload", "eyJhbGci..."},
	}

	for _, tt := range tests {
		if got := TokenPreview(tt.in); got != tt.want {
			t.Errorf("TokenPreview(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewJSONWithComponent(t *testing.T) {
	var buf bytes.Buffer
	log := Component(New(&buf, slog.LevelDebug, "json"), "api_client")
	log.Debug("hello", "k", "v")

	out := buf.String()
	for _, want := range []string{`"msg":"hello"`, `"component":"api_client"`, `"k":"v"`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in output:\n%s", want, out)
		}
	}
}

func TestSetupLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "cli.log")
	log, err := SetupLogger(Config{Level: slog.LevelInfo, LogFile: path, Format: "text"})
	if err != nil {
		t.Fatalf("SetupLogger: %v", err)
	}
	log.Debug("dropped")
	log.Info("kept")

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	data := string(raw)
	if !strings.Contains(data, "msg=kept") {
		t.Errorf("expected info line in file, got:\n%s", data)
	}
	if strings.Contains(data, "dropped") {
		t.Errorf("debug line should be filtered at info level:\n%s", data)
	}
}
