package catalog

import (
	"context"
	"testing"
	"time"
)

func newRun(id string, created time.Time) *Run {
	return &Run{
		ID:        id,
		VideoPath: "/videos/" + id + ".mp4",
		VideoName: id + ".mp4",
		Source:    RunSourceAPI,
		Status:    RunStatusPending,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestRepository_RunLifecycle(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		if err := repo.CreateRun(ctx, newRun(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("CreateRun(%s) error = %v", id, err)
		}
	}

	missing, err := repo.GetRun(ctx, "zzz")
	if err != nil || missing != nil {
		t.Fatalf("GetRun(missing) = %v, %v; want nil, nil", missing, err)
	}

	pending, err := repo.ListPendingRuns(ctx)
	if err != nil || len(pending) != 3 || pending[0].ID != "a" {
		t.Fatalf("ListPendingRuns() = %v, %v", pending, err)
	}

	if err := repo.MarkRunRunning(ctx, "a", "/ws/a"); err != nil {
		t.Fatal(err)
	}
	if err := repo.UpdateRunStatus(ctx, "b", RunStatusFailed, "boom", "INTERNAL_ERROR"); err != nil {
		t.Fatal(err)
	}

	all, err := repo.ListRuns(ctx, 10)
	if err != nil || len(all) != 3 || all[0].ID != "c" {
		t.Fatalf("ListRuns() newest first = %v, %v", all, err)
	}

	b, _ := repo.GetRun(ctx, "b")
	if b.Error != "boom" || b.ErrorCode != "INTERNAL_ERROR" || !b.Done() {
		t.Errorf("run b = %+v", b)
	}
	if !b.CreatedAt.Equal(base.Add(time.Minute)) {
		t.Errorf("created_at = %v", b.CreatedAt)
	}

	counts, err := repo.CountRunsByStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts[RunStatusRunning] != 1 || counts[RunStatusFailed] != 1 || counts[RunStatusPending] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestRepository_SaveResult(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()

	if err := repo.CreateRun(ctx, newRun("r1", time.Now())); err != nil {
		t.Fatal(err)
	}
	if err := repo.MarkRunRunning(ctx, "r1", "/ws/r1"); err != nil {
		t.Fatal(err)
	}

	want := sampleResult("r1")
	if err := repo.SaveResult(ctx, "r1", want); err != nil {
		t.Fatalf("SaveResult() error = %v", err)
	}
	// saving twice replaces the scenes
	if err := repo.SaveResult(ctx, "r1", want); err != nil {
		t.Fatalf("second SaveResult() error = %v", err)
	}

	run, _ := repo.GetRun(ctx, "r1")
	if run.Status != RunStatusCompleted || run.Progress != 100 {
		t.Errorf("run = %s/%d", run.Status, run.Progress)
	}

	got, err := repo.GetResult(ctx, "r1")
	if err != nil || got == nil {
		t.Fatalf("GetResult() = %v, %v", got, err)
	}
	if got.Detector != "ffmpeg" || len(got.Scenes) != 2 || !got.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("result = %+v", got)
	}

	scenes, err := repo.ListScenes(ctx, "r1")
	if err != nil || len(scenes) != 2 {
		t.Fatalf("ListScenes() = %v, %v", scenes, err)
	}
	first := scenes[0]
	if first.ImageRef != "frames/scene_000.jpg" || first.CaptureAt != 1.25 || first.TimeRange != "00:00 - 00:02" {
		t.Errorf("scene 0 = %+v", first)
	}
	if len(first.Text) != 1 || first.Text[0] != "hi" {
		t.Errorf("scene 0 text = %v", first.Text)
	}
	if scenes[1].Text == nil || len(scenes[1].Text) != 0 {
		t.Errorf("scene 1 text = %#v, want empty slice", scenes[1].Text)
	}
}

func TestRepository_ResultAbsentForPendingRun(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()
	repo.CreateRun(ctx, newRun("p", time.Now()))

	for _, id := range []string{"p", "missing"} {
		got, err := repo.GetResult(ctx, id)
		if err != nil || got != nil {
			t.Errorf("GetResult(%s) = %v, %v; want nil, nil", id, got, err)
		}
	}
}

func TestRepository_Config(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()

	if v, err := repo.GetConfig(ctx, "api_token"); err != nil || v != "" {
		t.Fatalf("GetConfig(unset) = %q, %v", v, err)
	}
	repo.SetConfig(ctx, "api_token", "one")
	repo.SetConfig(ctx, "api_token", "two")
	if v, _ := repo.GetConfig(ctx, "api_token"); v != "two" {
		t.Errorf("GetConfig() = %q, want two", v)
	}
}
