package transcription

import (
	"math"
	"sort"
	"strings"
	"time"
)

// SecondsToDuration rounds a seconds value to the nearest millisecond.
// Negative and NaN inputs become zero.
func SecondsToDuration(sec float64) time.Duration {
	if math.IsNaN(sec) || sec <= 0 {
		return 0
	}
	if math.IsInf(sec, 1) {
		return time.Duration(math.MaxInt64).Truncate(time.Millisecond)
	}
	return time.Duration(math.Round(sec*1000)) * time.Millisecond
}

// Normalize converts backend output into canonical segments: times rounded to
// milliseconds, sorted by start, non-overlapping and with end > start.
func Normalize(raw []RawSegment) []Segment {
	if len(raw) == 0 {
		return []Segment{}
	}

	segments := make([]Segment, 0, len(raw))
	for _, r := range raw {
		seg := Segment{
			Start: SecondsToDuration(r.Start),
			End:   SecondsToDuration(r.End),
			Text:  strings.TrimSpace(r.Text),
		}
		for _, w := range r.Words {
			seg.Words = append(seg.Words, Word{
				Start:       SecondsToDuration(w.Start),
				End:         SecondsToDuration(w.End),
				Text:        strings.TrimSpace(w.Word),
				Probability: w.Probability,
			})
		}
		segments = append(segments, seg)
	}

	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].Start < segments[j].Start
	})

	var prevEnd time.Duration
	for i := range segments {
		seg := &segments[i]
		if i > 0 && seg.Start < prevEnd {
			seg.Start = prevEnd
		}
		if seg.End <= seg.Start {
			seg.End = seg.Start + time.Millisecond
		}
		prevEnd = seg.End
	}
	return segments
}
