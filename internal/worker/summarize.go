package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"videoagent/internal/chunker"
	"videoagent/internal/llm"
	"videoagent/internal/model"
)

// SummarizeParams is the decoded params payload for a summarize job.
type SummarizeParams struct {
	TargetWindowSeconds float64 `json:"target_window_seconds"`
	MaxWindowSeconds    float64 `json:"max_window_seconds"`
	MinWindowSeconds    float64 `json:"min_window_seconds"`
	OverlapSeconds      float64 `json:"overlap_seconds"`
	FromScratch         bool    `json:"from_scratch"`
	OutputLanguage      string  `json:"output_language"`
}

func decodeSummarizeParams(raw string) SummarizeParams {
	p := SummarizeParams{TargetWindowSeconds: 120, MaxWindowSeconds: 180, MinWindowSeconds: 60, OverlapSeconds: 10, OutputLanguage: "auto"}
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &p)
	}
	if p.TargetWindowSeconds <= 0 {
		p.TargetWindowSeconds = 120
	}
	if p.MaxWindowSeconds <= 0 {
		p.MaxWindowSeconds = 180
	}
	if p.MinWindowSeconds <= 0 {
		p.MinWindowSeconds = 60
	}
	if p.OverlapSeconds < 0 {
		p.OverlapSeconds = 10
	}
	if p.OutputLanguage == "" {
		p.OutputLanguage = "auto"
	}
	return p
}

type segmentSummary struct {
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	Summary   string  `json:"summary"`
}

type outlineEntry struct {
	Title     string   `json:"title"`
	StartTime float64  `json:"start_time"`
	EndTime   float64  `json:"end_time"`
	Bullets   []string `json:"bullets"`
}

// runSummarize builds a map-reduce summary of the video's transcript:
// per-window summaries, a Markdown reduce pass, and a structured outline.
func (w *Worker) runSummarize(ctx context.Context, p *pipelineCtx, paramsJSON string) error {
	params := decodeSummarizeParams(paramsJSON)

	prefs, err := w.Repo.GetPreferences(ctx)
	if err != nil {
		return fmt.Errorf("load preferences: %w", err)
	}
	provider := w.LLM.Get(prefs.LLMProvider)
	if provider == nil || prefs.LLMProvider == "" || prefs.LLMProvider == "none" {
		return fmt.Errorf("E_JOB_FAILED: no LLM provider configured")
	}
	if provider.RequiresConfirmSend() {
		return fmt.Errorf("E_JOB_FAILED: provider %s requires remote confirmation, cannot run unattended", provider.Name())
	}

	segments, err := w.Transcripts.Load(p.videoID)
	if err != nil {
		return fmt.Errorf("load transcript: %w", err)
	}
	if len(segments) == 0 {
		return fmt.Errorf("TRANSCRIPT_NOT_FOUND: no transcript for video %s", p.videoID)
	}
	transcriptHash, err := w.Transcripts.ContentHash(p.videoID)
	if err != nil {
		return fmt.Errorf("hash transcript: %w", err)
	}

	tc := &chunker.TimeChunker{
		TargetWindowSeconds: params.TargetWindowSeconds,
		MaxWindowSeconds:    params.MaxWindowSeconds,
		MinWindowSeconds:    params.MinWindowSeconds,
		OverlapSeconds:      params.OverlapSeconds,
		SilenceGapSeconds:   chunker.DefaultSilenceGapSeconds,
	}
	windows := tc.Split(segments)
	if len(windows) == 0 {
		return fmt.Errorf("E_CHUNKING_FAILED: time-window chunker produced no chunks")
	}

	lang := resolveOutputLanguage(params.OutputLanguage, windows[0].Text)

	paramsOut, _ := json.Marshal(params)
	var sumSummaries []segmentSummary
	for i, win := range windows {
		if err := p.ensureSameRun(ctx); err != nil {
			return err
		}
		text := win.Text
		if len(text) > 12000 {
			text = text[:12000]
		}
		messages := mapPhaseMessages(lang, win.StartTime, win.EndTime, text)

		answer, err := w.callLLM(ctx, provider, messages, prefs)
		if err != nil {
			return fmt.Errorf("map phase window %d: %w", i, err)
		}
		sumSummaries = append(sumSummaries, segmentSummary{StartTime: win.StartTime, EndTime: win.EndTime, Summary: answer})

		progress := 0.05 + 0.7*float64(i+1)/float64(len(windows))
		segJSON, _ := json.Marshal(sumSummaries)
		if err := p.ensureSameRun(ctx); err != nil {
			return err
		}
		if err := w.Repo.UpsertVideoSummary(ctx, model.VideoSummary{
			VideoID: p.videoID, Status: model.JobStatusRunning, Progress: progress,
			Message: fmt.Sprintf("summarized %d/%d windows", i+1, len(windows)),
			TranscriptHash: transcriptHash, Params: string(paramsOut), SegmentSummaries: string(segJSON),
		}); err != nil {
			return fmt.Errorf("persist segment summaries: %w", err)
		}
	}

	if err := p.ensureSameRun(ctx); err != nil {
		return err
	}
	if err := p.updateProgress(ctx, 0.8, "reducing summaries"); err != nil {
		return err
	}
	segJSON, _ := json.Marshal(sumSummaries)
	reduceInput := string(segJSON)
	if len(reduceInput) > 18000 {
		reduceInput = reduceInput[:18000]
	}
	markdown, err := w.callLLM(ctx, provider, reducePhaseMessages(lang, reduceInput), prefs)
	if err != nil {
		return fmt.Errorf("reduce phase: %w", err)
	}

	if err := p.ensureSameRun(ctx); err != nil {
		return err
	}
	if err := p.updateProgress(ctx, 0.9, "building outline"); err != nil {
		return err
	}
	outlineRaw, err := w.callLLM(ctx, provider, outlinePhaseMessages(lang, reduceInput), prefs)
	if err != nil {
		return fmt.Errorf("outline phase: %w", err)
	}
	outlineJSON := parseOutlinePermissive(outlineRaw)
	if outlineJSON == "" {
		fixed, ferr := w.callLLM(ctx, provider, []llm.Message{
			{Role: "system", Content: "Fix the following into valid JSON. Respond with JSON only."},
			{Role: "user", Content: outlineRaw},
		}, prefs)
		if ferr == nil {
			outlineJSON = parseOutlinePermissive(fixed)
		}
	}
	if outlineJSON == "" {
		raw, _ := json.Marshal(map[string]string{"raw": outlineRaw})
		outlineJSON = string(raw)
	}

	completed := model.JobStatusCompleted
	return w.Repo.UpsertVideoSummary(ctx, model.VideoSummary{
		VideoID: p.videoID, Status: completed, Progress: 1.0, Message: "summary complete",
		TranscriptHash: transcriptHash, Params: string(paramsOut),
		SegmentSummaries: string(segJSON), SummaryMarkdown: markdown, Outline: outlineJSON,
	})
}

func (w *Worker) callLLM(ctx context.Context, provider llm.Provider, messages []llm.Message, prefs *model.Preferences) (string, error) {
	acqCtx, cancel := context.WithTimeout(ctx, timeoutOr(w.Config.Runtime.LLMConcurrencyTimeoutSec))
	defer cancel()
	if !w.llmLimiter.Acquire(acqCtx) {
		return "", fmt.Errorf("LLM_CONCURRENCY_TIMEOUT: timed out acquiring LLM limiter")
	}
	defer w.llmLimiter.Release()

	reqCtx := ctx
	if prefs.LLMTimeoutSeconds > 0 {
		var cancel2 context.CancelFunc
		reqCtx, cancel2 = context.WithTimeout(ctx, timeoutOr(prefs.LLMTimeoutSeconds))
		defer cancel2()
	}
	return provider.Generate(reqCtx, messages, llm.Preferences{
		Provider: prefs.LLMProvider, Model: prefs.LLMModel,
		Temperature: prefs.LLMTemperature, MaxTokens: prefs.LLMMaxTokens,
	})
}

// resolveOutputLanguage normalizes zh/en/auto: auto inspects the first 400
// characters of sampleText for any CJK unified ideograph.
func resolveOutputLanguage(requested, sampleText string) string {
	if requested == "zh" || requested == "en" {
		return requested
	}
	sample := sampleText
	runes := []rune(sample)
	if len(runes) > 400 {
		runes = runes[:400]
	}
	for _, r := range runes {
		if r >= 0x4E00 && r <= 0x9FFF {
			return "zh"
		}
	}
	return "en"
}

func mapPhaseMessages(lang string, start, end float64, text string) []llm.Message {
	if lang == "zh" {
		return []llm.Message{
			{Role: "system", Content: "你是一个视频内容摘要助手，请用简洁的中文总结给定时间段内的转录文本。"},
			{Role: "user", Content: fmt.Sprintf("时间段 [%s - %s]：\n%s", llm.FormatTimestamp(start), llm.FormatTimestamp(end), text)},
		}
	}
	return []llm.Message{
		{Role: "system", Content: "You summarize a video transcript segment concisely in English."},
		{Role: "user", Content: fmt.Sprintf("Time range [%s - %s]:\n%s", llm.FormatTimestamp(start), llm.FormatTimestamp(end), text)},
	}
}

func reducePhaseMessages(lang, segmentSummariesJSON string) []llm.Message {
	if lang == "zh" {
		return []llm.Message{
			{Role: "system", Content: "你是一个视频内容摘要助手，请基于以下分段摘要生成一份连贯的 Markdown 格式总结。"},
			{Role: "user", Content: segmentSummariesJSON},
		}
	}
	return []llm.Message{
		{Role: "system", Content: "You write a coherent Markdown summary of a video from its segment summaries."},
		{Role: "user", Content: segmentSummariesJSON},
	}
}

func outlinePhaseMessages(lang, segmentSummariesJSON string) []llm.Message {
	instruction := "Respond with strict JSON only: an array of {title, start_time, end_time, bullets: [string]}. No prose, no markdown fences."
	if lang == "zh" {
		return []llm.Message{
			{Role: "system", Content: "你是一个视频内容摘要助手。" + instruction},
			{Role: "user", Content: segmentSummariesJSON},
		}
	}
	return []llm.Message{
		{Role: "system", Content: instruction},
		{Role: "user", Content: segmentSummariesJSON},
	}
}

// parseOutlinePermissive accepts raw JSON, JSON inside a fenced code block,
// or the substring from the first opening bracket to the last closing one,
// returning "" if no form parses as valid JSON.
func parseOutlinePermissive(raw string) string {
	candidates := []string{strings.TrimSpace(raw)}

	if fenced := extractFenced(raw); fenced != "" {
		candidates = append(candidates, fenced)
	}
	if arr := extractBetween(raw, '[', ']'); arr != "" {
		candidates = append(candidates, arr)
	}
	if obj := extractBetween(raw, '{', '}'); obj != "" {
		candidates = append(candidates, obj)
	}

	for _, c := range candidates {
		var probe any
		if json.Unmarshal([]byte(c), &probe) == nil {
			return c
		}
	}
	return ""
}

func extractFenced(s string) string {
	start := strings.Index(s, "```")
	if start == -1 {
		return ""
	}
	rest := s[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl != -1 {
		// Skip an optional language tag on the opening fence line.
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, "```")
	if end == -1 {
		return ""
	}
	return strings.TrimSpace(rest[:end])
}

func extractBetween(s string, open, close byte) string {
	start := strings.IndexByte(s, open)
	end := strings.LastIndexByte(s, close)
	if start == -1 || end == -1 || end <= start {
		return ""
	}
	return s[start : end+1]
}
