package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
		{"info", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNew_FiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "warn")

	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info record written at warn level: %s", buf.String())
	}
	logger.Warn("kept")
	if buf.Len() == 0 {
		t.Fatal("warn record not written")
	}
}

func TestNew_Redacts(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		t.Skip("no home directory")
	}

	var buf bytes.Buffer
	logger := WithExportID(New(&buf, "info"), "exp-1")
	logger.Info("export started",
		"token", "abcdefghijklmnop",
		"output_path", filepath.Join(home, "Movies", "out.webm"),
		"frames", 42,
	)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if rec["token"] != "abcd...mnop" {
		t.Errorf("token = %v, want abcd...mnop", rec["token"])
	}
	if want := "~" + string(os.PathSeparator) + filepath.Join("Movies", "out.webm"); rec["output_path"] != want {
		t.Errorf("output_path = %v, want %s", rec["output_path"], want)
	}
	if rec["export_id"] != "exp-1" {
		t.Errorf("export_id = %v, want exp-1", rec["export_id"])
	}
	if rec["frames"] != float64(42) {
		t.Errorf("frames = %v, want 42", rec["frames"])
	}
}

func TestSanitizeToken(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "****"},
		{"short", "****"},
		{"12345678", "****"},
		{"123456789", "1234...6789"},
	}
	for _, tt := range tests {
		if got := SanitizeToken(tt.in); got != tt.want {
			t.Errorf("SanitizeToken(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitizePath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		t.Skip("no home directory")
	}

	tests := []struct {
		in, want string
	}{
		{home, "~"},
		{filepath.Join(home, "clip.mp4"), "~" + string(os.PathSeparator) + "clip.mp4"},
		{home + "other", home + "other"},
		{"/var/tmp/clip.mp4", "/var/tmp/clip.mp4"},
	}
	for _, tt := range tests {
		if got := SanitizePath(tt.in); got != tt.want {
			t.Errorf("SanitizePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
