package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

type LibraryResult struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Created bool   `json:"created"`
}

// GetOrCreateLibrary resolves a library by name, creating it if missing.
func (c *HTTPClient) GetOrCreateLibrary(ctx context.Context, name string) (*LibraryResult, error) {
	body, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return nil, fmt.Errorf("marshal library request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/libraries", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UploadError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result LibraryResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("unmarshal library response: %w", err)
	}
	if result.ID == "" {
		return nil, fmt.Errorf("library response has no id")
	}
	return &result, nil
}

// libraryID returns the configured library ID, resolving it by name once.
func (c *HTTPClient) libraryID(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.library != "" {
		return c.library, nil
	}
	if c.cfg.LibraryName == "" {
		return "", nil
	}
	lib, err := c.GetOrCreateLibrary(ctx, c.cfg.LibraryName)
	if err != nil {
		return "", fmt.Errorf("resolve library %q: %w", c.cfg.LibraryName, err)
	}
	c.logger.Info("cloud library resolved", "library_id", lib.ID, "name", lib.Name, "created", lib.Created)
	c.library = lib.ID
	return c.library, nil
}
