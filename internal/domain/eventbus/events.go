package eventbus

import "time"

// TopicJob 任务阶段事件
const TopicJob = "job:stage"

// Stage 请求处理状态机的阶段
type Stage string

const (
	StageReceived           Stage = "received"
	StageWorkspaceAcquired  Stage = "workspace_acquired"
	StageSeparated          Stage = "separated"
	StageSeparationSkipped  Stage = "separation_skipped"
	StageSeparationFallback Stage = "separation_fallback"
	StageTranscribed        Stage = "transcribed"
	StageFormatted          Stage = "formatted"
	StageResponded          Stage = "responded"
	StageErrored            Stage = "errored"
)

// Terminal reports whether no further events follow this stage.
func (s Stage) Terminal() bool {
	return s == StageResponded || s == StageErrored
}

// JobEvent 任务阶段变化
type JobEvent struct {
	JobID   string                 `json:"job_id"`
	Stage   Stage                  `json:"stage"`
	Message string                 `json:"message,omitempty"`
	Error   string                 `json:"error,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
	Time    time.Time              `json:"time"`
}
