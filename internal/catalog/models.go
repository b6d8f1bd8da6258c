// Package catalog is the session store of storyboard runs: submission,
// persistence of results and the background runner that processes them.
package catalog

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	RunSourceAPI     = "api"
	RunSourceUpload  = "upload"
	RunSourceWatcher = "watcher"
	RunSourceCLI     = "cli"

	RunStatusPending   = "pending"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

type Run struct {
	ID        string    `json:"id"`
	VideoPath string    `json:"video_path"`
	VideoName string    `json:"video_name"`
	Language  string    `json:"language,omitempty"`
	Source    string    `json:"source"`
	Status    string    `json:"status"`
	Stage     string    `json:"stage,omitempty"`
	Progress  int       `json:"progress"`
	Error     string    `json:"error,omitempty"`
	ErrorCode string    `json:"error_code,omitempty"`
	Workspace string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Done reports whether the run reached a terminal status.
func (r *Run) Done() bool {
	return r.Status == RunStatusCompleted || r.Status == RunStatusFailed
}

type ConfigEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

var VideoExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".mkv":  true,
	".m4v":  true,
	".webm": true,
	".avi":  true,
}

func NewID() string {
	return uuid.NewString()
}

func IsVideoFile(filename string) bool {
	return VideoExtensions[strings.ToLower(filepath.Ext(filename))]
}
