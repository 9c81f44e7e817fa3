// Package jobs keeps request metadata history and streams stage events.
package jobs

import (
	"context"
	"errors"
	"time"

	"subtitle-server-go/internal/domain/eventbus"
)

// ErrNotFound 任务不存在或已过期
var ErrNotFound = errors.New("job not found")

// Status 任务整体状态
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Record 一次请求的元数据，不包含字幕内容
type Record struct {
	ID             string                 `json:"id"`
	Status         Status                 `json:"status"`
	Stage          eventbus.Stage         `json:"stage"`
	FileName       string                 `json:"file_name,omitempty"`
	FileSize       int64                  `json:"file_size,omitempty"`
	Language       string                 `json:"language,omitempty"`
	SeparateVocals bool                   `json:"separate_vocals"`
	SeparationUsed bool                   `json:"separation_used"`
	SegmentCount   int                    `json:"segment_count"`
	ErrorKind      string                 `json:"error_kind,omitempty"`
	Error          string                 `json:"error,omitempty"`
	Details        map[string]interface{} `json:"details,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// Store 任务历史存储
type Store interface {
	Save(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	// List returns the newest records first.
	List(ctx context.Context, limit int) ([]*Record, error)
	// Cleanup deletes records created before the cutoff.
	Cleanup(ctx context.Context, before time.Time) (int, error)
	Close(ctx context.Context) error
}

// Apply folds a stage event into the record.
func (r *Record) Apply(ev eventbus.JobEvent) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = ev.Time
	}
	r.ID = ev.JobID
	r.Stage = ev.Stage
	r.UpdatedAt = ev.Time

	switch ev.Stage {
	case eventbus.StageResponded:
		r.Status = StatusSucceeded
	case eventbus.StageErrored:
		r.Status = StatusFailed
		r.Error = ev.Error
	default:
		r.Status = StatusRunning
	}

	for k, v := range ev.Details {
		switch k {
		case "file_name":
			r.FileName, _ = v.(string)
		case "file_size":
			r.FileSize = toInt64(v)
		case "language":
			r.Language, _ = v.(string)
		case "separate_vocals":
			r.SeparateVocals, _ = v.(bool)
		case "separation_used":
			r.SeparationUsed, _ = v.(bool)
		case "segments":
			r.SegmentCount = int(toInt64(v))
		case "error_kind":
			r.ErrorKind, _ = v.(string)
		default:
			if r.Details == nil {
				r.Details = make(map[string]interface{})
			}
			r.Details[k] = v
		}
	}
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}
