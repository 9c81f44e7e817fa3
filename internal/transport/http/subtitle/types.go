package subtitle

import (
	"time"

	"subtitle-server-go/internal/domain/pipeline"
)

// WordDTO 单词级时间戳，时间单位为秒
type WordDTO struct {
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Word        string  `json:"word"`
	Probability float64 `json:"probability,omitempty"`
}

// SegmentDTO 转录分段，时间单位为秒
type SegmentDTO struct {
	ID    int       `json:"id"`
	Start float64   `json:"start"`
	End   float64   `json:"end"`
	Text  string    `json:"text"`
	Words []WordDTO `json:"words,omitempty"`
}

// ProcessingInfo 处理过程信息
type ProcessingInfo struct {
	ProcessingTimeSeconds  float64 `json:"processing_time_seconds"`
	Mode                   string  `json:"mode"`
	VocalSeparationEnabled bool    `json:"vocal_separation_enabled"`
	FileName               string  `json:"file_name"`
	FileSize               string  `json:"file_size"`
	MIME                   string  `json:"mime"`
}

// DetailedResponse format=json 时的响应数据
type DetailedResponse struct {
	JobID               string         `json:"job_id"`
	Segments            []SegmentDTO   `json:"segments"`
	Language            string         `json:"language,omitempty"`
	LanguageProbability float64        `json:"language_probability,omitempty"`
	Duration            float64        `json:"duration,omitempty"`
	DurationAfterVAD    float64        `json:"duration_after_vad,omitempty"`
	SRTContent          string         `json:"srt_content"`
	VocalSeparationUsed bool           `json:"vocal_separation_used"`
	ProcessingInfo      ProcessingInfo `json:"processing_info"`
}

func seconds(d time.Duration) float64 {
	return float64(d.Milliseconds()) / 1000
}

func newDetailedResponse(r *pipeline.Result) DetailedResponse {
	segments := make([]SegmentDTO, 0, len(r.Transcript.Segments))
	for i, seg := range r.Transcript.Segments {
		dto := SegmentDTO{
			ID:    i + 1,
			Start: seconds(seg.Start),
			End:   seconds(seg.End),
			Text:  seg.Text,
		}
		for _, w := range seg.Words {
			dto.Words = append(dto.Words, WordDTO{
				Start:       seconds(w.Start),
				End:         seconds(w.End),
				Word:        w.Text,
				Probability: w.Probability,
			})
		}
		segments = append(segments, dto)
	}

	mode := "direct"
	if r.SeparationUsed {
		mode = "vocal_separation"
	}
	info := ProcessingInfo{
		ProcessingTimeSeconds:  float64(r.ProcessingTime.Round(10*time.Millisecond).Milliseconds()) / 1000,
		Mode:                   mode,
		VocalSeparationEnabled: r.SeparationRequested,
		FileName:               r.FileName,
	}
	if r.Info != nil {
		info.FileSize = r.Info.HumanSize()
		info.MIME = r.Info.MIME
	}

	return DetailedResponse{
		JobID:               r.JobID,
		Segments:            segments,
		Language:            r.Transcript.Language,
		LanguageProbability: r.Transcript.LanguageProbability,
		Duration:            seconds(r.Transcript.Duration),
		DurationAfterVAD:    seconds(r.Transcript.DurationAfterVAD),
		SRTContent:          r.SRT,
		VocalSeparationUsed: r.SeparationUsed,
		ProcessingInfo:      info,
	}
}
