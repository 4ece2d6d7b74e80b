package worker

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"videoagent/internal/media"
	"videoagent/internal/model"
)

// KeyframeParams is the decoded params payload for a keyframes job.
type KeyframeParams struct {
	Mode           string  `json:"mode"`
	IntervalSecs   float64 `json:"interval_seconds"`
	SceneThreshold float64 `json:"scene_threshold"`
	MinGapSeconds  float64 `json:"min_gap_seconds"`
	MaxFrames      int     `json:"max_frames"`
	TargetWidth    int     `json:"target_width"`
	FromScratch    bool    `json:"from_scratch"`
}

func decodeKeyframeParams(raw string) KeyframeParams {
	p := KeyframeParams{Mode: "interval", IntervalSecs: 10, SceneThreshold: 0.3, MinGapSeconds: 2.0, MaxFrames: 200}
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &p)
	}
	if p.Mode != "scene" {
		p.Mode = "interval"
	}
	if p.IntervalSecs <= 0 {
		p.IntervalSecs = 10
	}
	if p.SceneThreshold <= 0 {
		p.SceneThreshold = 0.3
	}
	if p.SceneThreshold > 1 {
		p.SceneThreshold = 1
	}
	if p.MinGapSeconds <= 0 {
		p.MinGapSeconds = 2.0
	}
	if p.MaxFrames <= 0 {
		p.MaxFrames = 200
	}
	if p.MaxFrames > 500 {
		p.MaxFrames = 500
	}
	return p
}

// normalizedKeyframeParams projects only the fields relevant to the job's
// mode, used for freshness comparison at the HTTP idempotency gate.
func normalizedKeyframeParams(p KeyframeParams) map[string]any {
	if p.Mode == "scene" {
		return map[string]any{
			"mode": "scene", "scene_threshold": p.SceneThreshold,
			"min_gap_seconds": p.MinGapSeconds, "max_frames": p.MaxFrames, "target_width": p.TargetWidth,
		}
	}
	return map[string]any{
		"mode": "interval", "interval_seconds": p.IntervalSecs,
		"max_frames": p.MaxFrames, "target_width": p.TargetWidth,
	}
}

// runKeyframes extracts still frames at either fixed intervals or detected
// scene changes, probing each extracted JPEG's dimensions and recording a
// row per frame.
func (w *Worker) runKeyframes(ctx context.Context, p *pipelineCtx, paramsJSON string) error {
	params := decodeKeyframeParams(paramsJSON)
	frameDir := filepath.Join(w.dataDir, "keyframes", p.videoID)

	if params.FromScratch {
		if err := w.Repo.DeleteKeyframesForVideo(ctx, p.videoID); err != nil {
			return fmt.Errorf("delete existing keyframes: %w", err)
		}
		if err := removeJPEGs(frameDir); err != nil {
			return fmt.Errorf("clean keyframe dir: %w", err)
		}
	}

	video, err := w.Repo.GetVideo(ctx, p.videoID)
	if err != nil {
		return fmt.Errorf("load video: %w", err)
	}
	duration := video.DurationSeconds
	if duration <= 0 {
		duration, err = w.Media.ProbeDuration(ctx, video.FilePath)
		if err != nil {
			return fmt.Errorf("probe duration: %w", err)
		}
	}
	if duration <= 0 {
		return fmt.Errorf("E_JOB_FAILED: video duration unavailable")
	}

	var timestamps []float64
	if params.Mode == "scene" {
		timestamps, err = w.pickSceneTimestamps(ctx, video.FilePath, params)
		if err != nil {
			return fmt.Errorf("E_JOB_FAILED: scene detection: %w", err)
		}
	} else {
		for t := 0.0; t < duration && len(timestamps) < params.MaxFrames; t += params.IntervalSecs {
			timestamps = append(timestamps, t)
		}
	}

	if err := os.MkdirAll(frameDir, 0755); err != nil {
		return fmt.Errorf("create keyframe dir: %w", err)
	}

	n := len(timestamps)
	for i, ts := range timestamps {
		if err := p.ensureSameRun(ctx); err != nil {
			return err
		}
		progress := float64(i+1) / float64(n)
		if err := p.updateProgress(ctx, progress, fmt.Sprintf("extracting frame %d/%d", i+1, n)); err != nil {
			return err
		}

		acqCtx, cancel := context.WithTimeout(ctx, timeoutOr(w.Config.Runtime.HeavyConcurrencyTimeoutSec))
		acquired := w.heavyLimiter.Acquire(acqCtx)
		cancel()
		if !acquired {
			return fmt.Errorf("HEAVY_CONCURRENCY_TIMEOUT: timed out acquiring heavy-IO limiter")
		}

		relName := fmt.Sprintf("%s.jpg", randomHex(8))
		jpgPath := filepath.Join(frameDir, relName)
		extractErr := w.Media.ExtractFrame(ctx, video.FilePath, jpgPath, ts, params.TargetWidth)
		w.heavyLimiter.Release()
		if extractErr != nil {
			return fmt.Errorf("E_JOB_FAILED: extract frame at %.2fs: %w", ts, extractErr)
		}

		width, height, err := media.ProbeJPEGDimensions(jpgPath)
		if err != nil {
			return fmt.Errorf("E_JOB_FAILED: probe jpeg dimensions: %w", err)
		}

		if err := w.Repo.InsertKeyframe(ctx, model.Keyframe{
			ID: randomHex(16), VideoID: p.videoID, TimestampMs: int64(ts * 1000),
			ImageRelpath: relName, Method: params.Mode, Width: width, Height: height,
		}); err != nil {
			return fmt.Errorf("insert keyframe row: %w", err)
		}
	}

	normalized, _ := json.Marshal(normalizedKeyframeParams(params))
	completed := model.JobStatusCompleted
	return w.Repo.UpsertVideoKeyframeIndex(ctx, model.VideoKeyframeIndex{
		VideoID: p.videoID, Status: completed, Progress: 1.0, Message: "keyframes complete",
		Params: string(normalized), FrameCount: n,
	})
}

// pickSceneTimestamps detects scene changes, greedily keeps the
// highest-scoring candidates subject to a minimum time gap, then returns
// them in ascending time order.
func (w *Worker) pickSceneTimestamps(ctx context.Context, mediaPath string, params KeyframeParams) ([]float64, error) {
	changes, err := w.Media.DetectSceneChanges(ctx, mediaPath, params.SceneThreshold)
	if err != nil {
		return nil, err
	}
	return selectSceneTimestamps(changes, params), nil
}

// selectSceneTimestamps greedily keeps the highest-scoring candidates
// subject to a minimum time gap and a max-frame cap, returning the survivors
// in ascending time order.
func selectSceneTimestamps(changes []media.SceneChange, params KeyframeParams) []float64 {
	ordered := make([]media.SceneChange, len(changes))
	copy(ordered, changes)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Score > ordered[j].Score })

	var picked []media.SceneChange
	for _, c := range ordered {
		if len(picked) >= params.MaxFrames {
			break
		}
		tooClose := false
		for _, p := range picked {
			if absFloat(p.TimestampSeconds-c.TimestampSeconds) < params.MinGapSeconds {
				tooClose = true
				break
			}
		}
		if !tooClose {
			picked = append(picked, c)
		}
	}
	sort.Slice(picked, func(i, j int) bool { return picked[i].TimestampSeconds < picked[j].TimestampSeconds })

	out := make([]float64, len(picked))
	for i, c := range picked {
		out[i] = c.TimestampSeconds
	}
	return out
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", len(b))
	}
	return hex.EncodeToString(b)
}

// removeJPEGs deletes every *.jpg file directly under dir, leaving any
// other file in place. A missing directory is not an error.
func removeJPEGs(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".jpg") {
			if err := os.Remove(filepath.Join(dir, e.Name())); err != nil && !os.IsNotExist(err) {
				return err
			}
		}
	}
	return nil
}
