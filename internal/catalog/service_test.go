package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/heimdex/heimdex-storyboard/internal/db"
	"github.com/heimdex/heimdex-storyboard/internal/events"
)

func setupTestDB(t *testing.T) (*db.DB, Repository) {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	database, err := db.New(dbPath, nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	repo := NewRepository(database.Conn())
	return database, repo
}

func writeVideo(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("fake video content for testing"), 0644); err != nil {
		t.Fatalf("failed to create test video: %v", err)
	}
	return path
}

func TestService_Submit(t *testing.T) {
	_, repo := setupTestDB(t)
	svc := NewService(repo, t.TempDir(), nil)
	ctx := context.Background()

	video := writeVideo(t, t.TempDir(), "clip.mp4")

	run, err := svc.Submit(ctx, video, " en ", RunSourceAPI)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if run.ID == "" {
		t.Error("run.ID is empty")
	}
	if run.Status != RunStatusPending {
		t.Errorf("run.Status = %s, want pending", run.Status)
	}
	if run.VideoName != "clip.mp4" || run.Language != "en" {
		t.Errorf("run = %+v", run)
	}

	select {
	case <-svc.Submitted():
	default:
		t.Error("Submit() did not signal the runner")
	}

	stored, err := svc.GetRun(ctx, run.ID)
	if err != nil || stored == nil {
		t.Fatalf("GetRun() = %v, %v", stored, err)
	}
	if stored.VideoPath != video {
		t.Errorf("stored.VideoPath = %s, want %s", stored.VideoPath, video)
	}
}

func TestService_Submit_Invalid(t *testing.T) {
	_, repo := setupTestDB(t)
	svc := NewService(repo, t.TempDir(), nil)
	dir := t.TempDir()

	tests := []struct {
		name string
		path string
		want error
	}{
		{"missing", filepath.Join(dir, "nope.mp4"), ErrVideoNotFound},
		{"directory", dir, ErrNotAFile},
		{"extension", writeVideo(t, dir, "notes.txt"), ErrUnsupportedVideo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Submit(context.Background(), tt.path, "", RunSourceAPI)
			if !errors.Is(err, tt.want) {
				t.Errorf("Submit() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestService_SaveUpload(t *testing.T) {
	_, repo := setupTestDB(t)
	uploads := t.TempDir()
	svc := NewService(repo, uploads, nil)

	run, err := svc.SaveUpload(context.Background(), "../../My Clip?.mov", strings.NewReader("bytes"), "ko")
	if err != nil {
		t.Fatalf("SaveUpload() error = %v", err)
	}

	if run.Source != RunSourceUpload {
		t.Errorf("run.Source = %s, want upload", run.Source)
	}
	if run.VideoName != "My Clip_.mov" {
		t.Errorf("run.VideoName = %q", run.VideoName)
	}
	if filepath.Dir(filepath.Dir(run.VideoPath)) != uploads {
		t.Errorf("upload stored outside upload dir: %s", run.VideoPath)
	}
	data, err := os.ReadFile(run.VideoPath)
	if err != nil || string(data) != "bytes" {
		t.Errorf("stored upload = %q, %v", data, err)
	}
}

func TestService_SaveUpload_Rejects(t *testing.T) {
	_, repo := setupTestDB(t)
	uploads := t.TempDir()
	svc := NewService(repo, uploads, nil)

	if _, err := svc.SaveUpload(context.Background(), "a.exe", strings.NewReader("x"), ""); !errors.Is(err, ErrUnsupportedVideo) {
		t.Errorf("SaveUpload(exe) error = %v", err)
	}
	if _, err := svc.SaveUpload(context.Background(), "a.mp4", strings.NewReader(""), ""); err == nil {
		t.Error("SaveUpload(empty) should fail")
	}

	entries, _ := os.ReadDir(uploads)
	if len(entries) != 0 {
		t.Errorf("rejected uploads left %d entries behind", len(entries))
	}
}

func TestService_Progress(t *testing.T) {
	_, repo := setupTestDB(t)
	svc := NewService(repo, "", nil)
	ctx := context.Background()

	run, err := svc.Submit(ctx, writeVideo(t, t.TempDir(), "a.mp4"), "", RunSourceCLI)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	// pending runs ignore progress
	svc.Progress(ctx, events.RunEvent{RunID: run.ID, Stage: "probe", Status: events.StatusStarted, Progress: 0.05})
	got, _ := repo.GetRun(ctx, run.ID)
	if got.Progress != 0 || got.Stage != "" {
		t.Fatalf("pending run updated: %+v", got)
	}

	if err := repo.MarkRunRunning(ctx, run.ID, "/ws"); err != nil {
		t.Fatal(err)
	}
	svc.Progress(ctx, events.RunEvent{RunID: run.ID, Stage: "detect", Status: events.StatusCompleted, Progress: 0.35})

	got, _ = repo.GetRun(ctx, run.ID)
	if got.Stage != "detect" || got.Progress != 35 {
		t.Errorf("stage/progress = %s/%d, want detect/35", got.Stage, got.Progress)
	}
}

func TestIsVideoFile(t *testing.T) {
	tests := []struct {
		filename string
		want     bool
	}{
		{"video.mp4", true},
		{"video.MP4", true},
		{"video.mov", true},
		{"video.mkv", true},
		{"video.webm", true},
		{"video.avi", true},
		{"document.pdf", false},
		{"image.jpg", false},
		{"noextension", false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			if got := IsVideoFile(tt.filename); got != tt.want {
				t.Errorf("IsVideoFile(%s) = %v, want %v", tt.filename, got, tt.want)
			}
		})
	}
}
