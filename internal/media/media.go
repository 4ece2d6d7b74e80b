// Package media wraps the ffmpeg/ffprobe command-line tools used to probe
// video duration, extract audio for transcription, and pull still frames
// for the keyframe pipeline. It follows the same exec.Command-plus-
// CombinedOutput idiom as the prior video parser, generalized to run under
// a caller-supplied context so a cancelled job kills the subprocess instead
// of leaking it.
package media

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"videoagent/internal/config"
)

// Runner invokes ffmpeg/ffprobe binaries at configured paths.
type Runner struct {
	FFmpegPath  string
	FFprobePath string
}

// NewRunner builds a Runner from media configuration.
func NewRunner(cfg config.MediaConfig) *Runner {
	return &Runner{FFmpegPath: cfg.FFmpegPath, FFprobePath: cfg.FFprobePath}
}

func validatePath(path string) error {
	if strings.ContainsAny(path, "|;&$`") {
		return fmt.Errorf("path contains illegal characters: %s", path)
	}
	return nil
}

var durationRe = regexp.MustCompile(`Duration:\s*(\d+):(\d+):(\d+(?:\.\d+)?)`)

// ProbeDuration returns a media file's duration in seconds, preferring
// ffprobe's machine-readable output and falling back to parsing ffmpeg's
// stderr banner when ffprobe isn't configured.
func (r *Runner) ProbeDuration(ctx context.Context, path string) (float64, error) {
	if err := validatePath(path); err != nil {
		return 0, err
	}
	if r.FFprobePath != "" {
		cmd := exec.CommandContext(ctx, r.FFprobePath,
			"-v", "error",
			"-show_entries", "format=duration",
			"-of", "default=noprint_wrappers=1:nokey=1",
			path,
		)
		out, err := cmd.Output()
		if err == nil {
			if d, perr := strconv.ParseFloat(strings.TrimSpace(string(out)), 64); perr == nil {
				return d, nil
			}
		}
	}
	if r.FFmpegPath == "" {
		return 0, fmt.Errorf("ffmpeg path not configured")
	}
	cmd := exec.CommandContext(ctx, r.FFmpegPath, "-i", path, "-f", "null", "-")
	output, _ := cmd.CombinedOutput()
	m := durationRe.FindStringSubmatch(string(output))
	if m == nil {
		return 0, fmt.Errorf("unable to parse duration from ffmpeg output")
	}
	hours, _ := strconv.ParseFloat(m[1], 64)
	minutes, _ := strconv.ParseFloat(m[2], 64)
	seconds, _ := strconv.ParseFloat(m[3], 64)
	return hours*3600 + minutes*60 + seconds, nil
}

// ExtractAudio extracts a 16kHz mono WAV from the source media, optionally
// starting at startSeconds and limited to durationSeconds.
func (r *Runner) ExtractAudio(ctx context.Context, mediaPath, wavPath string, startSeconds float64, durationSeconds float64) error {
	if r.FFmpegPath == "" {
		return fmt.Errorf("ffmpeg path not configured")
	}
	for _, p := range []string{mediaPath, wavPath} {
		if err := validatePath(p); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(wavPath), 0755); err != nil {
		return fmt.Errorf("create audio output dir: %w", err)
	}

	args := []string{"-y"}
	if startSeconds > 0 {
		args = append(args, "-ss", strconv.FormatFloat(startSeconds, 'f', -1, 64))
	}
	args = append(args, "-i", mediaPath)
	if durationSeconds > 0 {
		args = append(args, "-t", strconv.FormatFloat(durationSeconds, 'f', -1, 64))
	}
	args = append(args, "-vn", "-ac", "1", "-ar", "16000", "-f", "wav", wavPath)

	cmd := exec.CommandContext(ctx, r.FFmpegPath, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg audio extraction failed: %s: %w", strings.TrimSpace(string(output)), err)
	}
	return nil
}

// ExtractFrame pulls a single JPEG still at timestampSeconds, optionally
// scaled to targetWidth (preserving aspect ratio) when targetWidth > 0.
func (r *Runner) ExtractFrame(ctx context.Context, mediaPath, jpgPath string, timestampSeconds float64, targetWidth int) error {
	if r.FFmpegPath == "" {
		return fmt.Errorf("ffmpeg path not configured")
	}
	for _, p := range []string{mediaPath, jpgPath} {
		if err := validatePath(p); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(jpgPath), 0755); err != nil {
		return fmt.Errorf("create frame output dir: %w", err)
	}

	args := []string{
		"-y",
		"-ss", strconv.FormatFloat(timestampSeconds, 'f', -1, 64),
		"-i", mediaPath,
		"-frames:v", "1",
		"-q:v", "3",
	}
	if targetWidth > 0 {
		args = append(args, "-vf", fmt.Sprintf("scale=%d:-2", targetWidth))
	}
	args = append(args, jpgPath)

	cmd := exec.CommandContext(ctx, r.FFmpegPath, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg frame extraction failed: %s: %w", strings.TrimSpace(string(output)), err)
	}
	return nil
}

// ExtractKeyframesInterval extracts one frame every intervalSeconds across
// the whole video into outputDir, returning the generated file paths in
// timestamp order.
func (r *Runner) ExtractKeyframesInterval(ctx context.Context, mediaPath, outputDir string, intervalSeconds int) ([]string, error) {
	if r.FFmpegPath == "" {
		return nil, fmt.Errorf("ffmpeg path not configured")
	}
	if intervalSeconds <= 0 {
		intervalSeconds = 10
	}
	for _, p := range []string{mediaPath, outputDir} {
		if err := validatePath(p); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("create keyframe dir: %w", err)
	}

	outputPattern := filepath.Join(outputDir, "frame_%04d.jpg")
	cmd := exec.CommandContext(ctx, r.FFmpegPath,
		"-i", mediaPath,
		"-vf", fmt.Sprintf("fps=1/%d", intervalSeconds),
		"-q:v", "2",
		outputPattern,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg keyframe extraction failed: %s: %w", strings.TrimSpace(string(output)), err)
	}

	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return nil, fmt.Errorf("read keyframe dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "frame_") && strings.HasSuffix(e.Name(), ".jpg") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(outputDir, name)
	}
	return paths, nil
}

// SceneChange is a detected cut, with its presentation timestamp and the
// ffmpeg scene-change score that triggered it.
type SceneChange struct {
	TimestampSeconds float64
	Score            float64
}

var (
	ptsTimeRe   = regexp.MustCompile(`pts_time:(\d+(?:\.\d+)?)`)
	sceneScoreRe = regexp.MustCompile(`lavfi\.scene_score=(\d+(?:\.\d+)?)`)
)

// DetectSceneChanges runs ffmpeg's scene-change filter and parses the
// printed metadata lines into timestamp/score pairs. threshold is clamped
// to (0, 1] and defaults to 0.3.
func (r *Runner) DetectSceneChanges(ctx context.Context, mediaPath string, threshold float64) ([]SceneChange, error) {
	if r.FFmpegPath == "" {
		return nil, fmt.Errorf("ffmpeg path not configured")
	}
	if err := validatePath(mediaPath); err != nil {
		return nil, err
	}
	if threshold <= 0 {
		threshold = 0.3
	}
	if threshold > 1.0 {
		threshold = 1.0
	}

	vf := fmt.Sprintf("select='gt(scene,%s)',metadata=print", strconv.FormatFloat(threshold, 'f', -1, 64))
	cmd := exec.CommandContext(ctx, r.FFmpegPath,
		"-hide_banner", "-nostats",
		"-i", mediaPath,
		"-vf", vf,
		"-an", "-f", "null", "-",
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg scene detection failed: %s: %w", strings.TrimSpace(string(output)), err)
	}

	var changes []SceneChange
	var lastPTS float64
	havePTS := false
	scanner := bufio.NewScanner(strings.NewReader(string(output)))
	for scanner.Scan() {
		line := scanner.Text()
		if m := ptsTimeRe.FindStringSubmatch(line); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				lastPTS = v
				havePTS = true
			}
			continue
		}
		if m := sceneScoreRe.FindStringSubmatch(line); m != nil && havePTS {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				changes = append(changes, SceneChange{TimestampSeconds: lastPTS, Score: v})
			}
		}
	}
	return changes, nil
}
