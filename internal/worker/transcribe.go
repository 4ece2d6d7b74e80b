package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"videoagent/internal/model"
)

// TranscribeParams is the decoded params payload for a transcribe job.
type TranscribeParams struct {
	SegmentSeconds float64 `json:"segment_seconds"`
	OverlapSeconds float64 `json:"overlap_seconds"`
	FromScratch    bool    `json:"from_scratch"`
}

func decodeTranscribeParams(raw string) TranscribeParams {
	p := TranscribeParams{SegmentSeconds: 60, OverlapSeconds: 3}
	if raw == "" {
		return p
	}
	_ = json.Unmarshal([]byte(raw), &p)
	if p.SegmentSeconds <= 0 {
		p.SegmentSeconds = 60
	}
	if p.OverlapSeconds < 0 {
		p.OverlapSeconds = 3
	}
	return p
}

// runTranscribe extracts the source video's audio in fixed windows, invokes
// the ASR engine per window, and appends the resulting segments to the
// video's transcript log, resuming from the last recorded end time unless
// from_scratch was requested.
func (w *Worker) runTranscribe(ctx context.Context, p *pipelineCtx, paramsJSON string) error {
	params := decodeTranscribeParams(paramsJSON)

	video, err := w.Repo.GetVideo(ctx, p.videoID)
	if err != nil {
		return fmt.Errorf("load video: %w", err)
	}

	if params.FromScratch {
		if err := w.Transcripts.Delete(p.videoID); err != nil {
			return fmt.Errorf("reset transcript: %w", err)
		}
	}

	lastEnd, err := w.Transcripts.LastEndTime(p.videoID)
	if err != nil {
		return fmt.Errorf("read last end time: %w", err)
	}
	resumeFrom := lastEnd
	start := lastEnd - params.OverlapSeconds
	if start < 0 {
		start = 0
	}

	duration := video.DurationSeconds
	if duration <= 0 {
		duration, err = w.Media.ProbeDuration(ctx, video.FilePath)
		if err != nil {
			return fmt.Errorf("probe duration: %w", err)
		}
	}

	for start < duration {
		if err := p.ensureSameRun(ctx); err != nil {
			return err
		}
		chunkDur := params.SegmentSeconds
		if duration-start < chunkDur {
			chunkDur = duration - start
		}

		progress := 0.0
		if duration > 0 {
			progress = start / duration
		}
		if err := p.updateProgress(ctx, progress, fmt.Sprintf("transcribing %.1fs/%.1fs", start, duration)); err != nil {
			return err
		}

		segments, err := w.transcribeWindow(ctx, video.FilePath, start, chunkDur)
		if err != nil {
			return fmt.Errorf("E_ASR_FAILED: %w", err)
		}

		var surviving []model.TranscriptSegment
		for _, seg := range segments {
			abs := model.TranscriptSegment{Start: seg.Start + start, End: seg.End + start, Text: seg.Text}
			if abs.End <= resumeFrom {
				continue // already captured by a prior run
			}
			surviving = append(surviving, abs)
		}
		if len(surviving) > 0 {
			if err := w.Transcripts.Append(p.videoID, surviving); err != nil {
				return fmt.Errorf("append transcript: %w", err)
			}
		}

		start += chunkDur
	}

	return p.updateProgress(ctx, 1.0, "finalizing transcript")
}

// transcribeWindow extracts a 16kHz mono WAV slice into a scoped temporary
// directory and runs it through the ASR engine under the ASR limiter.
func (w *Worker) transcribeWindow(ctx context.Context, mediaPath string, start, durSeconds float64) ([]model.TranscriptSegment, error) {
	tmpDir, err := os.MkdirTemp("", "videoagent-transcribe-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	wavPath := filepath.Join(tmpDir, "slice.wav")
	if err := w.Media.ExtractAudio(ctx, mediaPath, wavPath, start, durSeconds); err != nil {
		return nil, fmt.Errorf("extract audio: %w", err)
	}

	acqCtx, cancel := context.WithTimeout(ctx, timeoutOr(w.Config.Runtime.ASRConcurrencyTimeoutSec))
	defer cancel()
	if !w.asrLimiter.Acquire(acqCtx) {
		return nil, fmt.Errorf("ASR_CONCURRENCY_TIMEOUT: timed out acquiring ASR limiter")
	}
	defer w.asrLimiter.Release()

	return w.currentASREngine().Transcribe(ctx, wavPath)
}
