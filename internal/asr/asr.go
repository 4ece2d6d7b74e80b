// Package asr defines the speech-to-text collaborator interface and a
// local CLI-backed implementation, generalizing the prior RapidSpeech
// integration (internal/video/parser.go's Parser.Transcribe) from a
// single whole-file transcript blob into a lazy sequence of timed
// segments, which the transcribe pipeline needs to resume partway through
// a video.
package asr

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"videoagent/internal/model"
)

// Engine transcribes a WAV file into timed segments, relative to the start
// of the given audio slice.
type Engine interface {
	Transcribe(ctx context.Context, wavPath string) ([]model.TranscriptSegment, error)
}

// Config configures a CLI-backed Engine.
type Config struct {
	BinPath     string
	ModelPath   string
	Model       string
	Device      string
	ComputeType string
	Language    string
}

// CLIEngine shells out to a speech-to-text binary that prints one JSON
// object per line on stdout: {"start": 0.0, "end": 2.5, "text": "..."}.
// This mirrors faster-whisper-style CLI wrappers more closely than the
// single-blob RapidSpeech output it replaces, since the pipeline needs
// real per-segment timestamps to resume mid-video.
type CLIEngine struct {
	cfg Config
}

// NewCLIEngine builds a CLIEngine from configuration.
func NewCLIEngine(cfg Config) *CLIEngine {
	return &CLIEngine{cfg: cfg}
}

// logPatterns are substrings that mark a stdout line as tool chatter
// (model loading, GPU/CPU banners, performance stats) rather than a JSON
// transcript line, carried over from the log-line filter the previous
// integration needed for its noisier CLI.
var logPatterns = []string{
	"loading model", "model loaded", "model path",
	"processing time", "rtf", "real-time factor",
	"gpu", "cpu", "thread",
}

func isNoiseLine(line string) bool {
	lower := strings.ToLower(line)
	for _, p := range logPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// Transcribe invokes the configured CLI against wavPath and parses its
// stdout as newline-delimited JSON segments, skipping any line that isn't
// valid JSON (treated as tool-chatter noise rather than a failure).
func (e *CLIEngine) Transcribe(ctx context.Context, wavPath string) ([]model.TranscriptSegment, error) {
	if e.cfg.BinPath == "" {
		return nil, fmt.Errorf("asr: binary path not configured")
	}
	if strings.ContainsAny(wavPath, "|;&$`") {
		return nil, fmt.Errorf("asr: path contains illegal characters")
	}

	args := []string{"-w", wavPath}
	if e.cfg.ModelPath != "" {
		args = append(args, "-m", e.cfg.ModelPath)
	}
	if e.cfg.Model != "" {
		args = append(args, "--model", e.cfg.Model)
	}
	if e.cfg.Device != "" {
		args = append(args, "--device", e.cfg.Device)
	}
	if e.cfg.ComputeType != "" {
		args = append(args, "--compute-type", e.cfg.ComputeType)
	}
	if e.cfg.Language != "" && e.cfg.Language != "auto" {
		args = append(args, "--language", e.cfg.Language)
	}

	cmd := exec.CommandContext(ctx, e.cfg.BinPath, args...)
	output, err := cmd.Output()
	if err != nil {
		stderr := ""
		if exitErr, ok := err.(*exec.ExitError); ok {
			stderr = string(exitErr.Stderr)
		}
		return nil, fmt.Errorf("asr: transcription failed: %s: %w", strings.TrimSpace(stderr), err)
	}

	var segments []model.TranscriptSegment
	scanner := bufio.NewScanner(strings.NewReader(string(output)))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || isNoiseLine(line) {
			continue
		}
		var seg model.TranscriptSegment
		if err := json.Unmarshal([]byte(line), &seg); err != nil {
			continue
		}
		segments = append(segments, seg)
	}
	return segments, nil
}

// FakeEngine returns a single fixed zero-length segment per slice,
// useful for tests and for running the pipeline with no ASR binary
// configured.
type FakeEngine struct {
	Text string
}

// Transcribe returns one segment with Text spanning [0, 0]. The slice's
// duration is not filled in, so once offset by the window start the
// segment still has End equal to Start.
func (f *FakeEngine) Transcribe(ctx context.Context, wavPath string) ([]model.TranscriptSegment, error) {
	text := f.Text
	if text == "" {
		text = "(fake transcript for " + wavPath + ")"
	}
	return []model.TranscriptSegment{{Start: 0, End: 0, Text: text}}, nil
}
