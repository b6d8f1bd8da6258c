package export

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestCleanName(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		maxLen int
		want   string
	}{
		{"plain video", "talk.mp4", 100, "talk.mp4"},
		{"keeps unicode letters", "회의 녹화 (final).mov", 100, "회의 녹화 (final).mov"},
		{"drops control chars", " A\nB\rC\tD\x00.mp4 ", 100, "ABCD.mp4"},
		{"replaces and collapses unsafe runes", `bad<>|"name.mkv`, 100, "bad_name.mkv"},
		{"separators cannot escape", "../../etc/passwd.mp4", 100, "_.._etc_passwd.mp4"},
		{"hidden file made visible", ".secret.mp4", 100, "secret.mp4"},
		{"nothing usable", "///", 100, ""},
		{"truncation keeps extension", "a-very-long-recording-name.webm", 12, "a-very-.webm"},
		{"no limit", "clip.mp4", 0, "clip.mp4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanName(tt.in, tt.maxLen); got != tt.want {
				t.Errorf("CleanName(%q, %d) = %q, want %q", tt.in, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestExportName(t *testing.T) {
	tests := []struct {
		video, ext, want string
	}{
		{"talk.final.mp4", "tsv", "talk.final_storyboard.tsv"},
		{"Demo Day (2).mov", "zip", "Demo Day (2)_storyboard.zip"},
		{"", "csv", "run-1_storyboard.csv"},
		{"<>.mp4", "edl", "run-1_storyboard.edl"},
	}
	for _, tt := range tests {
		if got := ExportName(tt.video, "run-1", tt.ext); got != tt.want {
			t.Errorf("ExportName(%q, %q) = %q, want %q", tt.video, tt.ext, got, tt.want)
		}
	}
}

func TestValidateOutputDir(t *testing.T) {
	tmp := t.TempDir()
	file := filepath.Join(tmp, "file.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		dir     string
		wantErr bool
	}{
		{"existing dir", tmp, false},
		{"empty", "  ", true},
		{"missing", filepath.Join(tmp, "missing"), true},
		{"traversal", "/tmp/../etc", true},
		{"relative", "exports", true},
		{"unclean", tmp + "/", true},
		{"file", file, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOutputDir(tt.dir)
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("ValidateOutputDir(%q) error = %v", tt.dir, err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidOutputDir) {
				t.Fatalf("ValidateOutputDir(%q) error = %v, want ErrInvalidOutputDir", tt.dir, err)
			}
		})
	}
}
