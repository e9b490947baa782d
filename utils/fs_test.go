package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPartPaths(t *testing.T) {
	if got := PartPath("/tmp/a.mp4"); got != "/tmp/a.mp4.part" {
		t.Errorf("PartPath = %q", got)
	}
	for _, in := range []string{"/tmp/a.mp4", "/tmp/a.mp4.part"} {
		if got := OutputFromPart(in); got != "/tmp/a.mp4" {
			t.Errorf("OutputFromPart(%q) = %q", in, got)
		}
	}
}

func TestSafeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"movie.mp4", "movie.mp4"},
		{"../../etc/passwd", "passwd"},
		{"dir/sub/file.zip", "file.zip"},
		{`a:b*c?.txt`, "a_b_c_.txt"},
		{"bad\x00name", "badname"},
		{"", "download"},
		{"..", "download"},
		{"  spaced.mkv ", "spaced.mkv"},
	}
	for _, tt := range tests {
		if got := SafeFilename(tt.in); got != tt.want {
			t.Errorf("SafeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCreateAndValidatePartialFile(t *testing.T) {
	dir := t.TempDir()
	part := filepath.Join(dir, "nested", "file.bin.part")

	if err := EnsureDir(part); err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}
	if err := CreatePartialFile(part, 4096); err != nil {
		t.Fatalf("CreatePartialFile: %v", err)
	}

	size, err := FileSize(part)
	if err != nil || size != 4096 {
		t.Fatalf("FileSize = %d, %v", size, err)
	}
	if !FileExists(part) {
		t.Error("FileExists = false")
	}
	if err := ValidatePartialFile(part, 4096); err != nil {
		t.Errorf("ValidatePartialFile: %v", err)
	}
	if err := ValidatePartialFile(part, 100); err == nil {
		t.Error("expected error for oversized partial file")
	}
	if err := ValidatePartialFile(filepath.Join(dir, "missing"), 10); err == nil {
		t.Error("expected error for missing partial file")
	}
}

func TestCreatePartialFileTruncatesExisting(t *testing.T) {
	part := filepath.Join(t.TempDir(), "f.part")
	if err := os.WriteFile(part, []byte("stale data that is long"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := CreatePartialFile(part, 4); err != nil {
		t.Fatalf("CreatePartialFile: %v", err)
	}
	data, _ := os.ReadFile(part)
	if string(data) != "\x00\x00\x00\x00" {
		t.Errorf("content = %q", data)
	}
}
