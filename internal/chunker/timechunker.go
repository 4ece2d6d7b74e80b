// Time-window chunking for transcripts: groups consecutive transcript
// segments into overlapping windows sized toward a target duration, cut at
// a sentence boundary or silence gap when one falls near the target (only
// once the window has reached a minimum length), and no longer extended once
// it has reached a maximum; the segment that crosses the maximum stays in the
// window, so a window can exceed the maximum by part of one segment. This
// generalizes TextChunker's fixed-size rune window into a time-and-boundary
// window: same overlap-rewind shape, a duration unit instead of a rune
// count, and a natural-boundary/silence-gap cut heuristic instead of a flat
// size cut.
package chunker

import (
	"strings"

	"videoagent/internal/model"
)

// DefaultSilenceGapSeconds is the gap between two segments, in seconds,
// that is treated as a natural break even without sentence punctuation.
const DefaultSilenceGapSeconds = 0.8

// TimeChunk is a single time-windowed span of transcript text.
type TimeChunk struct {
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	Text      string  `json:"text"`
}

// TimeChunker groups transcript segments into time windows.
type TimeChunker struct {
	TargetWindowSeconds float64
	MaxWindowSeconds    float64
	MinWindowSeconds    float64
	OverlapSeconds      float64
	SilenceGapSeconds   float64 // 0 defaults to DefaultSilenceGapSeconds
}

var sentenceTerminators = []string{
	"。", // 。
	"！", // ！
	"？", // ？
	".",
	"!",
	"?",
	"；", // ；
	";",
}

func isNaturalBoundary(text string) bool {
	t := strings.TrimSpace(text)
	if t == "" {
		return false
	}
	for _, suf := range sentenceTerminators {
		if strings.HasSuffix(t, suf) {
			return true
		}
	}
	return false
}

type timedSeg struct {
	start, end float64
	text       string
}

// Split groups segments into TimeChunks. Segments with a missing or
// inverted (end <= start) span, or blank text, are dropped before
// windowing, matching a defensively-parsed upstream transcript source.
func (tc *TimeChunker) Split(segments []model.TranscriptSegment) []TimeChunk {
	silenceGap := tc.SilenceGapSeconds
	if silenceGap <= 0 {
		silenceGap = DefaultSilenceGapSeconds
	}

	var segs []timedSeg
	for _, s := range segments {
		if s.End <= s.Start {
			continue
		}
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		segs = append(segs, timedSeg{start: s.Start, end: s.End, text: text})
	}
	if len(segs) == 0 {
		return nil
	}

	n := len(segs)
	var chunks []TimeChunk
	i := 0

	for i < n {
		startTime := segs[i].start
		endTime := segs[i].end
		texts := []string{segs[i].text}
		lastBoundaryJ := -1

		j := i
		for {
			curLen := endTime - startTime
			if curLen >= tc.TargetWindowSeconds {
				if isNaturalBoundary(texts[len(texts)-1]) {
					lastBoundaryJ = j
				}
				if j+1 < n {
					gap := segs[j+1].start - segs[j].end
					if gap >= silenceGap {
						lastBoundaryJ = j
					}
				}
				if lastBoundaryJ >= 0 && curLen >= tc.MinWindowSeconds {
					j = lastBoundaryJ
					endTime = segs[j].end
					texts = texts[:0]
					for k := i; k <= j; k++ {
						texts = append(texts, segs[k].text)
					}
					break
				}
			}

			if curLen >= tc.MaxWindowSeconds {
				break
			}
			if j+1 >= n {
				break
			}
			j++
			endTime = segs[j].end
			texts = append(texts, segs[j].text)
		}

		chunks = append(chunks, TimeChunk{
			StartTime: startTime,
			EndTime:   endTime,
			Text:      strings.TrimSpace(strings.Join(texts, " ")),
		})

		if j+1 >= n {
			break
		}

		nextStartThreshold := endTime - tc.OverlapSeconds
		k := j
		for k > i && segs[k-1].end > nextStartThreshold {
			k--
		}
		if k > i+1 {
			i = k
		} else {
			i = i + 1
		}
	}

	return chunks
}
