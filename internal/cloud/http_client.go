// Package cloud uploads finished storyboards to a remote scene-ingest
// service.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/heimdex/heimdex-storyboard/internal/storyboard"
)

// UploadError represents an error from the scene upload endpoint.
type UploadError struct {
	StatusCode int
	Body       string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("scene upload failed: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRetryable returns true for server errors (5xx) and network errors.
// Client errors (4xx) are considered permanent.
func (e *UploadError) IsRetryable() bool {
	return e.StatusCode >= 500
}

type Config struct {
	BaseURL string
	Token   string
	// OrgSlug selects the tenant through the Host header.
	OrgSlug     string
	LibraryID   string
	LibraryName string // resolved to an ID when LibraryID is empty
	DeviceID    string
	Timeout     time.Duration
	MaxAttempts int
	Backoff     time.Duration
	Logger      *slog.Logger
}

// HTTPClient sends scene ingestion payloads to the ingest endpoint.
type HTTPClient struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger

	mu      sync.Mutex
	library string
}

func NewHTTPClient(cfg Config) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &HTTPClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     cfg.Logger.With("component", "cloud"),
		library:    cfg.LibraryID,
	}
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("X-Heimdex-Request-Id", uuid.NewString())
	if c.cfg.DeviceID != "" {
		req.Header.Set("X-Heimdex-Device-Id", c.cfg.DeviceID)
	}
	// The ingest service resolves the org from the Host subdomain.
	if c.cfg.OrgSlug != "" {
		req.Host = c.cfg.OrgSlug + ".app.heimdex.local"
	}
	return req, nil
}

// UploadScenes posts one payload without retrying.
func (c *HTTPClient) UploadScenes(ctx context.Context, payload SceneIngestPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal scene payload: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/ingest/scenes", bytes.NewReader(body))
	if err != nil {
		return err
	}

	c.logger.Info("uploading scenes to cloud",
		"host", req.Host,
		"run_id", payload.RunID,
		"video_id", payload.VideoID,
		"scene_count", len(payload.Scenes),
		"body_bytes", len(body),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var result SceneIngestResponse
		if err := json.Unmarshal(respBody, &result); err == nil {
			c.logger.Info("scene upload succeeded",
				"video_id", result.VideoID,
				"indexed_count", result.IndexedCount,
				"skipped_count", result.SkippedCount,
			)
		}
		return nil
	}

	return &UploadError{StatusCode: resp.StatusCode, Body: string(respBody)}
}

// UploadResult converts and uploads a finished storyboard, retrying server
// and network errors with linear backoff.
func (c *HTTPClient) UploadResult(ctx context.Context, result *storyboard.Result) error {
	libraryID, err := c.libraryID(ctx)
	if err != nil {
		return err
	}
	payload := NewSceneIngestPayload(result, libraryID)

	for attempt := 1; ; attempt++ {
		err = c.UploadScenes(ctx, payload)
		if err == nil || attempt >= c.cfg.MaxAttempts || !retryable(err) || ctx.Err() != nil {
			return err
		}
		wait := time.Duration(attempt) * c.cfg.Backoff
		c.logger.Warn("scene upload failed, retrying", "run_id", result.RunID, "attempt", attempt, "wait", wait, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func retryable(err error) bool {
	var uploadErr *UploadError
	if errors.As(err, &uploadErr) {
		return uploadErr.IsRetryable()
	}
	return true
}
