// Package model holds the durable-store row types shared across the
// repository, worker, and HTTP layers.
package model

import "time"

// Video status values.
const (
	VideoStatusPending    = "pending"
	VideoStatusProcessing = "processing"
	VideoStatusComplete   = "complete"
	VideoStatusError      = "error"
)

// Job type and status values.
const (
	JobTypeTranscribe = "transcribe"
	JobTypeIndex      = "index"
	JobTypeSummarize  = "summarize"
	JobTypeKeyframes  = "keyframes"

	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// Video is a single imported source file and its lifecycle status.
type Video struct {
	ID              string
	FilePath        string
	FileHash        string
	Title           string
	DurationSeconds float64
	FileSizeBytes   int64
	Status          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Job is a unit of pipeline work queued against a video.
type Job struct {
	ID           string
	VideoID      string
	JobType      string
	Status       string
	Progress     float64
	Message      string
	Params       string // JSON
	Result       *string
	ErrorCode    *string
	ErrorMessage *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

// VideoIndex is the singleton per-video index artifact row.
type VideoIndex struct {
	VideoID        string
	Status         string
	Progress       float64
	Message        string
	EmbedModel     string
	EmbedDim       int
	ChunkParams    string
	TranscriptHash string
	ChunkCount     int
	IndexedCount   int
	ErrorCode      *string
	ErrorMessage   *string
	UpdatedAt      time.Time
}

// VideoSummary is the singleton per-video summary artifact row.
type VideoSummary struct {
	VideoID           string
	Status            string
	Progress          float64
	Message           string
	TranscriptHash    string
	Params            string
	SegmentSummaries  string // JSON array
	SummaryMarkdown   string
	Outline           string // JSON array or {"raw": "..."}
	ErrorCode         *string
	ErrorMessage      *string
	UpdatedAt         time.Time
}

// VideoKeyframeIndex is the singleton per-video keyframe artifact row.
type VideoKeyframeIndex struct {
	VideoID      string
	Status       string
	Progress     float64
	Message      string
	Params       string
	FrameCount   int
	ErrorCode    *string
	ErrorMessage *string
	UpdatedAt    time.Time
}

// Keyframe is a single extracted still frame.
type Keyframe struct {
	ID           string
	VideoID      string
	TimestampMs  int64
	ImageRelpath string
	Method       string
	Width        int
	Height       int
	Score        *float64
	Metadata     string
	CreatedAt    time.Time
}

// Chunk is a single time-windowed, embedded transcript chunk.
type Chunk struct {
	ID          string
	VideoID     string
	ChunkIndex  int
	StartTime   float64
	EndTime     float64
	Text        string
	ContentHash string
	CreatedAt   time.Time
}

// Preferences is the singleton LLM/runtime configuration row.
type Preferences struct {
	LLMProvider       string
	LLMModel          string
	LLMTemperature    float64
	LLMMaxTokens      int
	LLMOutputLanguage string
	RuntimeProfile    string
	ASRMax            int
	LLMMax            int
	HeavyMax          int
	LLMTimeoutSeconds int
	ASRDevice         string
	ASRComputeType    string
	ASRModel          string
}

// TranscriptSegment is one ASR-produced line of the append-only transcript
// log, with absolute (whole-video) start/end times in seconds.
type TranscriptSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}
