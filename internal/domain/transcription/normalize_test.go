package transcription

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func TestSecondsToDuration(t *testing.T) {
	tests := []struct {
		in   float64
		want time.Duration
	}{
		{0, 0},
		{-1.5, 0},
		{1.0004, ms(1000)},
		{1.0005, ms(1001)},
		{3661.25, ms(3661250)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SecondsToDuration(tt.in), "in=%v", tt.in)
	}
}

func TestNormalize(t *testing.T) {
	raw := []RawSegment{
		{Start: 2.0, End: 3.0, Text: "  second "},
		{Start: 0.0, End: 2.5, Text: "first"},
		{Start: 3.0, End: 3.0, Text: "zero length"},
		{Start: -0.2, End: -0.1, Text: "negative"},
	}

	got := Normalize(raw)

	assert.Equal(t, []Segment{
		{Start: 0, End: ms(2500), Text: "first"},
		{Start: ms(2500), End: ms(2501), Text: "negative"},
		{Start: ms(2501), End: ms(3000), Text: "second"},
		{Start: ms(3000), End: ms(3001), Text: "zero length"},
	}, got)

	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i].Start, got[i-1].End)
	}
	for _, s := range got {
		assert.Greater(t, s.End, s.Start)
	}
}

func TestNormalizeKeepsWords(t *testing.T) {
	got := Normalize([]RawSegment{{
		Start: 0.5, End: 1.2, Text: "hi there",
		Words: []RawWord{{Start: 0.5, End: 0.8, Word: " hi", Probability: 0.9}},
	}})
	assert.Len(t, got, 1)
	assert.Equal(t, []Word{{Start: ms(500), End: ms(800), Text: "hi", Probability: 0.9}}, got[0].Words)
}

func TestNormalizeEmpty(t *testing.T) {
	got := Normalize(nil)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}
