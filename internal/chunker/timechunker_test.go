package chunker

import (
	"testing"

	"videoagent/internal/model"
)

func seg(start, end float64, text string) model.TranscriptSegment {
	return model.TranscriptSegment{Start: start, End: end, Text: text}
}

func TestTimeChunkerRespectsMaxWindow(t *testing.T) {
	tc := &TimeChunker{TargetWindowSeconds: 10, MaxWindowSeconds: 20, MinWindowSeconds: 5, OverlapSeconds: 2}
	var segs []model.TranscriptSegment
	for i := 0; i < 30; i++ {
		start := float64(i)
		segs = append(segs, seg(start, start+1, "word"))
	}
	chunks := tc.Split(segs)
	if len(chunks) == 0 {
		t.Fatal("expected at least one chunk")
	}
	for _, c := range chunks {
		if length := c.EndTime - c.StartTime; length > tc.MaxWindowSeconds+1e-9 {
			t.Errorf("chunk [%v,%v] length %v exceeds max window %v", c.StartTime, c.EndTime, length, tc.MaxWindowSeconds)
		}
	}
}

func TestTimeChunkerOverlapOrContiguous(t *testing.T) {
	tc := &TimeChunker{TargetWindowSeconds: 4, MaxWindowSeconds: 8, MinWindowSeconds: 2, OverlapSeconds: 2}
	var segs []model.TranscriptSegment
	for i := 0; i < 10; i++ {
		start := float64(i) * 2
		segs = append(segs, seg(start, start+2, "chunk text here"))
	}
	chunks := tc.Split(segs)
	for i := 1; i < len(chunks); i++ {
		if chunks[i].StartTime > chunks[i-1].EndTime+1e-9 {
			t.Errorf("chunk %d starts (%v) after previous chunk ended (%v); expected overlap or contiguity", i, chunks[i].StartTime, chunks[i-1].EndTime)
		}
	}
}

// A natural sentence boundary at or after the target length should cut the
// window short of the max, compared to an otherwise-identical run with no
// boundary text that grows all the way to the max window.
func TestTimeChunkerPrefersNaturalBoundaryOverMax(t *testing.T) {
	tc := &TimeChunker{TargetWindowSeconds: 5, MaxWindowSeconds: 20, MinWindowSeconds: 3, OverlapSeconds: 0}

	var noBoundary []model.TranscriptSegment
	for i := 0; i < 20; i++ {
		start := float64(i)
		noBoundary = append(noBoundary, seg(start, start+1, "word"))
	}
	forcedChunks := tc.Split(noBoundary)
	if len(forcedChunks) == 0 {
		t.Fatal("expected chunks for no-boundary run")
	}
	if length := forcedChunks[0].EndTime - forcedChunks[0].StartTime; length != tc.MaxWindowSeconds {
		t.Fatalf("expected first chunk to grow to max window %v with no boundary, got %v", tc.MaxWindowSeconds, length)
	}

	var withBoundary []model.TranscriptSegment
	for i := 0; i < 20; i++ {
		start := float64(i)
		text := "word"
		if i == 4 {
			text = "hello."
		}
		withBoundary = append(withBoundary, seg(start, start+1, text))
	}
	boundaryChunks := tc.Split(withBoundary)
	if len(boundaryChunks) == 0 {
		t.Fatal("expected chunks for boundary run")
	}
	if length := boundaryChunks[0].EndTime - boundaryChunks[0].StartTime; length != 5 {
		t.Fatalf("expected first chunk to cut at the sentence boundary (length 5), got %v", length)
	}
}

func TestTimeChunkerDropsInvalidSegments(t *testing.T) {
	tc := &TimeChunker{TargetWindowSeconds: 5, MaxWindowSeconds: 10, MinWindowSeconds: 2, OverlapSeconds: 1}
	segs := []model.TranscriptSegment{
		seg(0, 0, "zero length"),
		seg(5, 2, "inverted"),
		seg(1, 3, ""),
		seg(2, 6, "valid text"),
	}
	chunks := tc.Split(segs)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk from the only valid segment, got %d", len(chunks))
	}
	if chunks[0].Text != "valid text" {
		t.Errorf("unexpected chunk text: %q", chunks[0].Text)
	}
}

func TestTimeChunkerEmptyInput(t *testing.T) {
	tc := &TimeChunker{TargetWindowSeconds: 5, MaxWindowSeconds: 10, MinWindowSeconds: 2, OverlapSeconds: 1}
	if chunks := tc.Split(nil); chunks != nil {
		t.Errorf("expected nil chunks for empty input, got %v", chunks)
	}
}
