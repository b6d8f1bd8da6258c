package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/heimdex/heimdex-storyboard/internal/storyboard"
)

type Repository interface {
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]*Run, error)
	ListPendingRuns(ctx context.Context) ([]*Run, error)
	CountRunsByStatus(ctx context.Context) (map[string]int, error)
	MarkRunRunning(ctx context.Context, id, workspace string) error
	UpdateRunStatus(ctx context.Context, id, status, errorMsg, errorCode string) error
	UpdateRunProgress(ctx context.Context, id, stage string, progress int) error

	// SaveResult stores the scenes and the full result and completes the run
	// in one transaction.
	SaveResult(ctx context.Context, runID string, result *storyboard.Result) error
	GetResult(ctx context.Context, runID string) (*storyboard.Result, error)
	ListScenes(ctx context.Context, runID string) ([]storyboard.SceneResult, error)

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const runColumns = `id, video_path, video_name, language, source, status, stage, progress, error, error_code, workspace, created_at, updated_at`

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func (r *SQLiteRepository) CreateRun(ctx context.Context, run *Run) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.VideoPath, run.VideoName, run.Language, run.Source, run.Status, run.Stage, run.Progress,
		nullString(run.Error), nullString(run.ErrorCode), run.Workspace,
		run.CreatedAt.UTC().Format(time.RFC3339), run.UpdatedAt.UTC().Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetRun(ctx context.Context, id string) (*Run, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var run Run
	var errMsg, errCode sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&run.ID, &run.VideoPath, &run.VideoName, &run.Language, &run.Source, &run.Status,
		&run.Stage, &run.Progress, &errMsg, &errCode, &run.Workspace, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	run.Error = errMsg.String
	run.ErrorCode = errCode.String
	run.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	run.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &run, nil
}

func (r *SQLiteRepository) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRuns(rows)
}

func (r *SQLiteRepository) ListPendingRuns(ctx context.Context) ([]*Run, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+runColumns+` FROM runs WHERE status = 'pending' ORDER BY created_at ASC, rowid ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRuns(rows)
}

func scanRuns(rows *sql.Rows) ([]*Run, error) {
	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (r *SQLiteRepository) CountRunsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM runs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *SQLiteRepository) MarkRunRunning(ctx context.Context, id, workspace string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE runs SET status = 'running', stage = '', progress = 0, error = NULL, error_code = NULL,
			workspace = ?, updated_at = ? WHERE id = ?
	`, workspace, now(), id)
	return err
}

func (r *SQLiteRepository) UpdateRunStatus(ctx context.Context, id, status, errorMsg, errorCode string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, error = ?, error_code = ?, updated_at = ? WHERE id = ?
	`, status, nullString(errorMsg), nullString(errorCode), now(), id)
	return err
}

// UpdateRunProgress only touches runs still in flight, so late progress
// events cannot reopen a finished run.
func (r *SQLiteRepository) UpdateRunProgress(ctx context.Context, id, stage string, progress int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE runs SET stage = ?, progress = ?, updated_at = ? WHERE id = ? AND status = 'running'
	`, stage, progress, now(), id)
	return err
}

func (r *SQLiteRepository) SaveResult(ctx context.Context, runID string, result *storyboard.Result) (err error) {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM scenes WHERE run_id = ?`, runID); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO scenes (run_id, idx, start_s, end_s, open_ended, capture_at, timestamp, time_range,
			image_ref, text_json, display_text, flat_text)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, s := range result.Scenes {
		text, merr := json.Marshal(s.Text)
		if merr != nil {
			return fmt.Errorf("marshal scene %d text: %w", s.Index, merr)
		}
		if _, err = stmt.ExecContext(ctx, runID, s.Index, s.Start, s.End, boolToInt(s.OpenEnded), s.CaptureAt,
			s.Timestamp, s.TimeRange, s.ImageRef, string(text), s.DisplayText, s.FlatText); err != nil {
			return fmt.Errorf("insert scene %d: %w", s.Index, err)
		}
	}

	if _, err = tx.ExecContext(ctx, `
		UPDATE runs SET status = 'completed', stage = 'assemble', progress = 100, error = NULL, error_code = NULL,
			result_json = ?, updated_at = ? WHERE id = ?
	`, string(data), now(), runID); err != nil {
		return err
	}

	return tx.Commit()
}

func (r *SQLiteRepository) GetResult(ctx context.Context, runID string) (*storyboard.Result, error) {
	var data sql.NullString
	err := r.db.QueryRowContext(ctx, `SELECT result_json FROM runs WHERE id = ?`, runID).Scan(&data)
	if err == sql.ErrNoRows || (err == nil && !data.Valid) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var result storyboard.Result
	if err := json.Unmarshal([]byte(data.String), &result); err != nil {
		return nil, fmt.Errorf("decode result of run %s: %w", runID, err)
	}
	return &result, nil
}

func (r *SQLiteRepository) ListScenes(ctx context.Context, runID string) ([]storyboard.SceneResult, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT idx, start_s, end_s, open_ended, capture_at, timestamp, time_range, image_ref, text_json, display_text, flat_text
		FROM scenes WHERE run_id = ? ORDER BY idx
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storyboard.SceneResult
	for rows.Next() {
		var s storyboard.SceneResult
		var openEnded int
		var text string
		if err := rows.Scan(&s.Index, &s.Start, &s.End, &openEnded, &s.CaptureAt, &s.Timestamp, &s.TimeRange,
			&s.ImageRef, &text, &s.DisplayText, &s.FlatText); err != nil {
			return nil, err
		}
		s.OpenEnded = openEnded == 1
		if err := json.Unmarshal([]byte(text), &s.Text); err != nil {
			return nil, fmt.Errorf("decode scene %d text: %w", s.Index, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
