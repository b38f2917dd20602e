package export

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOutputName(t *testing.T) {
	tests := []struct {
		name        string
		source      string
		watermarked bool
		ext         string
		want        string
	}{
		{"free tier", "holiday.mp4", true, ".webm", "watermarked_edited_holiday.webm"},
		{"premium", "holiday.mp4", false, "webm", "edited_holiday.webm"},
		{"first dot wins", "my.trip.final.mov", false, ".mp4", "edited_my.mp4"},
		{"no extension", "raw", true, ".mp4", "watermarked_edited_raw.mp4"},
		{"directory stripped", "/home/u/clips/beach.mkv", false, ".webm", "edited_beach.webm"},
		{"disallowed chars", "a<b>c.mp4", false, ".webm", "edited_a_b_c.webm"},
		{"empty base", ".hidden", false, ".webm", "edited_clip.webm"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := OutputName(tt.source, tt.watermarked, tt.ext); got != tt.want {
				t.Errorf("OutputName(%q) = %q, want %q", tt.source, got, tt.want)
			}
		})
	}
}

func TestEDLName(t *testing.T) {
	if got := EDLName("edited_beach.webm"); got != "edited_beach.edl" {
		t.Errorf("EDLName = %q", got)
	}
}

func TestDeliver(t *testing.T) {
	srcDir := t.TempDir()
	src := filepath.Join(srcDir, "render.webm")
	if err := os.WriteFile(src, []byte("video bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	outDir := t.TempDir()

	d, err := Deliver(src, outDir, "edited_beach.webm", "TITLE: beach\n")
	if err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if d.Path != filepath.Join(outDir, "edited_beach.webm") {
		t.Errorf("Path = %q", d.Path)
	}
	data, _ := os.ReadFile(d.Path)
	if string(data) != "video bytes" {
		t.Errorf("copied content = %q", data)
	}
	if d.EDLPath != filepath.Join(outDir, "edited_beach.edl") {
		t.Errorf("EDLPath = %q", d.EDLPath)
	}

	again, err := Deliver(src, outDir, "edited_beach.webm", "")
	if err != nil {
		t.Fatalf("second Deliver() error = %v", err)
	}
	if again.Path != filepath.Join(outDir, "edited_beach (1).webm") {
		t.Errorf("second Path = %q, want numbered copy", again.Path)
	}
	if again.EDLPath != "" {
		t.Errorf("no EDL requested, got %q", again.EDLPath)
	}
}

func TestDeliver_InvalidDir(t *testing.T) {
	if _, err := Deliver("/nonexistent", "/tmp/../etc", "x.webm", ""); err == nil {
		t.Fatal("expected traversal error")
	}
}
