// Package srt renders transcription segments as SubRip subtitle text.
package srt

import (
	"fmt"
	"strings"
	"time"

	"subtitle-server-go/internal/domain/transcription"
)

// ContentType SRT 文件的 MIME 类型
const ContentType = "application/x-subrip"

// FormatTimestamp renders d as HH:MM:SS,mmm. Hours widen beyond two digits
// instead of wrapping; negative values render as zero.
func FormatTimestamp(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	totalMs := int64(d / time.Millisecond)
	hours := totalMs / 3_600_000
	minutes := (totalMs % 3_600_000) / 60_000
	seconds := (totalMs % 60_000) / 1000
	millis := totalMs % 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, seconds, millis)
}

// Format emits one cue per segment in the given order, numbered from 1.
// An empty slice yields an empty document.
func Format(segments []transcription.Segment) string {
	if len(segments) == 0 {
		return ""
	}

	var b strings.Builder
	for i, seg := range segments {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n",
			i+1,
			FormatTimestamp(seg.Start),
			FormatTimestamp(seg.End),
			cueText(seg.Text),
		)
	}
	return b.String()
}

// cueText trims the text and drops blank lines, which would otherwise end the cue early.
func cueText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(strings.TrimSpace(text), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
