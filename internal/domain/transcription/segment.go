package transcription

import "time"

// Word 单词级时间戳，仅在后端支持时填充
type Word struct {
	Start       time.Duration `json:"start"`
	End         time.Duration `json:"end"`
	Text        string        `json:"word"`
	Probability float64       `json:"probability,omitempty"`
}

// Segment 规范化后的转录分段：毫秒精度，Start < End，按时间排序且互不重叠
type Segment struct {
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
	Text  string        `json:"text"`
	Words []Word        `json:"words,omitempty"`
}

// Transcript 一次转录的完整结果
type Transcript struct {
	Language            string
	LanguageProbability float64
	Duration            time.Duration
	// DurationAfterVAD 为 0 表示后端未启用 VAD 或未报告
	DurationAfterVAD time.Duration
	Segments         []Segment
}

// RawWord 与 RawSegment 是后端输出的原始形态，时间单位为秒
type RawWord struct {
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Word        string  `json:"word"`
	Probability float64 `json:"probability"`
}

type RawSegment struct {
	Start float64   `json:"start"`
	End   float64   `json:"end"`
	Text  string    `json:"text"`
	Words []RawWord `json:"words,omitempty"`
}
