// Package events delivers run progress to WebSocket clients and Kafka.
package events

import (
	"context"
	"time"

	"github.com/heimdex/heimdex-storyboard/internal/storyboard"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusStarted   Status = "started"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// RunEvent is one stage transition of a run. Progress is in [0, 1].
type RunEvent struct {
	Type     string    `json:"type"`
	RunID    string    `json:"run_id"`
	VideoID  string    `json:"video_id,omitempty"`
	Stage    string    `json:"stage"`
	Status   Status    `json:"status"`
	Progress float64   `json:"progress"`
	Message  string    `json:"message,omitempty"`
	Code     string    `json:"code,omitempty"`
	Time     time.Time `json:"time"`
}

// CompletedEvent carries a finished storyboard.
type CompletedEvent struct {
	Type   string             `json:"type"`
	RunID  string             `json:"run_id"`
	Result *storyboard.Result `json:"result"`
	Time   time.Time          `json:"time"`
}

const (
	typeProgress  = "run.progress"
	typeCompleted = "run.completed"
)

// Notifier receives run progress. Implementations must not block the
// pipeline for long and report delivery problems through their own logs.
type Notifier interface {
	Progress(ctx context.Context, ev RunEvent)
	Completed(ctx context.Context, result *storyboard.Result)
}

// Multi fans out to every notifier in order.
type Multi []Notifier

func (m Multi) Progress(ctx context.Context, ev RunEvent) {
	for _, n := range m {
		if n != nil {
			n.Progress(ctx, ev)
		}
	}
}

func (m Multi) Completed(ctx context.Context, result *storyboard.Result) {
	for _, n := range m {
		if n != nil {
			n.Completed(ctx, result)
		}
	}
}

type Nop struct{}

func (Nop) Progress(context.Context, RunEvent)              {}
func (Nop) Completed(context.Context, *storyboard.Result) {}

func stamp(ev RunEvent) RunEvent {
	ev.Type = typeProgress
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	return ev
}
