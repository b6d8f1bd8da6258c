package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/heimdex/heimdex-storyboard/internal/catalog"
	"github.com/heimdex/heimdex-storyboard/internal/config"
	"github.com/heimdex/heimdex-storyboard/internal/storyboard"
	"github.com/heimdex/heimdex-storyboard/internal/workspace"
)

func sampleResult() *storyboard.Result {
	return &storyboard.Result{
		RunID:       "run-1",
		Video:       storyboard.VideoInfo{ID: "run-1", Name: "clip.mp4", Duration: 6},
		Detector:    "ffmpeg",
		Transcriber: "none",
		Scenes: []storyboard.SceneResult{
			{Index: 0, Start: 0, End: 3, Timestamp: "00:00:01.500", TimeRange: "00:00 - 00:03",
				ImageRef: "frames/scene_000.jpg", Text: []string{"hello"}, DisplayText: "hello", FlatText: "hello"},
			{Index: 1, Start: 3, End: 6, Timestamp: "00:00:04.500", TimeRange: "00:03 - 00:06",
				Text: []string{}, DisplayText: "", FlatText: ""},
		},
		SegmentCount: 1,
	}
}

func TestResolveFormat(t *testing.T) {
	var buf bytes.Buffer
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", outputTSV, false},
		{"table", outputTable, false},
		{" JSON ", outputJSON, false},
		{"csv", outputCSV, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		got, err := resolveFormat(tt.in, &buf)
		if (err != nil) != tt.wantErr {
			t.Fatalf("resolveFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("resolveFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWriteResult_TSV(t *testing.T) {
	var buf bytes.Buffer
	if err := writeResult(&buf, sampleResult(), outputTSV); err != nil {
		t.Fatalf("writeResult: %v", err)
	}
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d rows, want 3: %q", len(lines), buf.String())
	}
	if lines[0] != "00:00:01.500\t00:00:04.500" {
		t.Errorf("timestamps row = %q", lines[0])
	}
	if lines[1] != "frames/scene_000.jpg\t" {
		t.Errorf("images row = %q", lines[1])
	}
	if lines[2] != "hello\t" {
		t.Errorf("text row = %q", lines[2])
	}
}

func TestWriteResult_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := writeResult(&buf, sampleResult(), outputJSON); err != nil {
		t.Fatalf("writeResult: %v", err)
	}
	var got storyboard.Result
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.RunID != "run-1" || len(got.Scenes) != 2 {
		t.Errorf("unexpected result %+v", got)
	}
}

func TestWriteResult_Table(t *testing.T) {
	var buf bytes.Buffer
	if err := writeResult(&buf, sampleResult(), outputTable); err != nil {
		t.Fatalf("writeResult: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Keyframe", "frames/scene_000.jpg", "hello", "2 scenes, detector ffmpeg"} {
		if !strings.Contains(out, want) {
			t.Errorf("table output missing %q:\n%s", want, out)
		}
	}
}

func TestSummaryLine_Fallback(t *testing.T) {
	r := sampleResult()
	r.FellBack = true
	r.Detector = "framediff"
	r.Orphans = 2
	r.MissingFrames = 1
	got := summaryLine(r)
	want := "2 scenes, detector framediff (fallback), transcriber none, 1 segments, 2 orphaned, 1 without keyframe"
	if got != want {
		t.Errorf("summaryLine = %q, want %q", got, want)
	}
}

func TestDefaultOutDir(t *testing.T) {
	got := defaultOutDir(filepath.Join("videos", "talk.final.mp4"))
	want := filepath.Join("videos", "talk.final_storyboard")
	if got != want {
		t.Errorf("defaultOutDir = %q, want %q", got, want)
	}
}

func TestCheckOutDir(t *testing.T) {
	dir := t.TempDir()

	if err := checkOutDir(filepath.Join(dir, "missing")); err != nil {
		t.Errorf("missing dir: %v", err)
	}

	empty := filepath.Join(dir, "empty")
	os.Mkdir(empty, 0o755)
	if err := checkOutDir(empty); err != nil {
		t.Errorf("empty dir: %v", err)
	}

	previous := filepath.Join(dir, "previous")
	os.MkdirAll(filepath.Join(previous, "frames"), 0o755)
	if err := checkOutDir(previous); err != nil {
		t.Errorf("previous output: %v", err)
	}

	foreign := filepath.Join(dir, "foreign")
	os.Mkdir(foreign, 0o755)
	os.WriteFile(filepath.Join(foreign, "notes.txt"), []byte("keep"), 0o644)
	if err := checkOutDir(foreign); err == nil {
		t.Error("expected error for foreign non-empty dir")
	}
}

func TestCheckVideo(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "clip.mp4")
	os.WriteFile(video, []byte("x"), 0o644)
	text := filepath.Join(dir, "notes.txt")
	os.WriteFile(text, []byte("x"), 0o644)

	tests := []struct {
		name string
		path string
		want error
	}{
		{"ok", video, nil},
		{"missing", filepath.Join(dir, "nope.mp4"), catalog.ErrVideoNotFound},
		{"directory", dir, catalog.ErrNotAFile},
		{"extension", text, catalog.ErrUnsupportedVideo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkVideo(tt.path)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestVersionCommand(t *testing.T) {
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version", "--config", filepath.Join(t.TempDir(), "broken.toml")})
	if err := root.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out.String(), "storyboard "+config.Version) {
		t.Errorf("version output = %q", out.String())
	}
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCommand()
	have := map[string]bool{}
	for _, c := range root.Commands() {
		have[c.Name()] = true
	}
	for _, name := range []string{"serve", "process", "doctor", "version"} {
		if !have[name] {
			t.Errorf("missing subcommand %q", name)
		}
	}
}

func TestProcessCommand_RejectsUnsupportedFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("STORYBOARD_CONFIG", "")
	dir := t.TempDir()
	text := filepath.Join(dir, "notes.txt")
	os.WriteFile(text, []byte("x"), 0o644)

	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"process", text})
	err := root.Execute()
	if !errors.Is(err, catalog.ErrUnsupportedVideo) {
		t.Fatalf("error = %v, want ErrUnsupportedVideo", err)
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "b", "c"); got != "b" {
		t.Errorf("firstNonEmpty = %q", got)
	}
	if got := firstNonEmpty(); got != "" {
		t.Errorf("firstNonEmpty() = %q", got)
	}
}

func TestInboxLabel(t *testing.T) {
	if got := inboxLabel(config.Watcher{}); got != "disabled" {
		t.Errorf("disabled label = %q", got)
	}
	if got := inboxLabel(config.Watcher{Enabled: true, InboxDir: "/in"}); got != "/in" {
		t.Errorf("enabled label = %q", got)
	}
}

func TestAbbreviate(t *testing.T) {
	if got := abbreviate("0123456789abcdef0123", 16); got != "0123456789abcdef..." {
		t.Errorf("abbreviate = %q", got)
	}
	if got := abbreviate("short", 16); got != "short" {
		t.Errorf("abbreviate short = %q", got)
	}
}

func TestProcessCommand_RefusesOutDirHoldingVideo(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("STORYBOARD_CONFIG", "")
	dir := t.TempDir()
	os.Mkdir(filepath.Join(dir, "frames"), 0o755)
	video := filepath.Join(dir, "clip.mp4")
	os.WriteFile(video, []byte("video"), 0o644)

	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"process", video, "--out", dir})
	err := root.Execute()
	if !errors.Is(err, workspace.ErrHoldsInput) {
		t.Fatalf("error = %v, want ErrHoldsInput", err)
	}
	if _, err := os.Stat(video); err != nil {
		t.Fatalf("input video was removed: %v", err)
	}
}
