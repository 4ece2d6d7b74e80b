// Package config loads process configuration from environment variables into
// a struct-of-structs, mirroring the grouping (server, LLM, embedding,
// video) used throughout this codebase's other configuration surfaces.
package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds all process configuration, loaded once at startup.
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	ASR       ASRConfig
	Index     IndexConfig
	Embedding EmbeddingConfig
	LLM       LLMConfig
	Runtime   RuntimeConfig
	Media     MediaConfig
}

// ServerConfig holds HTTP bind configuration.
type ServerConfig struct {
	Host          string
	Port          int
	CORSOrigins   string
	DisableWorker bool
}

// StorageConfig holds on-disk layout roots.
type StorageConfig struct {
	DataDir string
}

// ASRConfig configures the speech-to-text collaborator.
type ASRConfig struct {
	BinPath         string
	ModelPath       string
	Model           string
	Device          string
	ComputeType     string
	Language        string
	SegmentSeconds  float64
	OverlapSeconds  float64
}

// IndexConfig configures default chunk-window sizing for the index pipeline.
type IndexConfig struct {
	TargetWindowSeconds float64
	MaxWindowSeconds    float64
	MinWindowSeconds    float64
	OverlapSeconds      float64
}

// EmbeddingConfig configures the embedding collaborator.
type EmbeddingConfig struct {
	Model    string
	Dim      int
	Endpoint string
	APIKey   string
}

// LLMConfig configures the local/cloud LLM providers.
type LLMConfig struct {
	LocalBaseURL      string
	LocalModel        string
	EnableCloud       bool
	CloudBaseURL      string
	CloudAPIKey       string
	CloudModel        string
	RequestTimeoutSec int
	EnableCloudSummary bool
	DashscopeAPIKey    string
	CloudSummaryModel  string
}

// RuntimeConfig configures concurrency-limiter timeouts.
type RuntimeConfig struct {
	ASRConcurrencyTimeoutSec   int
	LLMConcurrencyTimeoutSec   int
	HeavyConcurrencyTimeoutSec int
}

// MediaConfig configures the external media-probe tools.
type MediaConfig struct {
	FFmpegPath  string
	FFprobePath string
}

// Load reads every setting from the environment, applying the defaults
// named in the environment-variable surface.
func Load() Config {
	return Config{
		Server: ServerConfig{
			Host:          getEnv("VIDEOAGENT_HOST", "0.0.0.0"),
			Port:          getEnvInt("VIDEOAGENT_PORT", 8080),
			CORSOrigins:   getEnv("VIDEOAGENT_CORS_ORIGINS", ""),
			DisableWorker: getEnvBool("VIDEOAGENT_DISABLE_WORKER", false),
		},
		Storage: StorageConfig{
			DataDir: getEnv("VIDEOAGENT_DATA_DIR", "./data"),
		},
		ASR: ASRConfig{
			BinPath:        getEnv("ASR_BIN_PATH", ""),
			ModelPath:      getEnv("ASR_MODEL_PATH", ""),
			Model:          getEnv("ASR_MODEL", "base"),
			Device:         getEnv("ASR_DEVICE", "cpu"),
			ComputeType:    getEnv("ASR_COMPUTE_TYPE", "int8"),
			Language:       getEnv("ASR_LANGUAGE", "auto"),
			SegmentSeconds: getEnvFloat("ASR_SEGMENT_SECONDS", 60),
			OverlapSeconds: getEnvFloat("ASR_OVERLAP_SECONDS", 3),
		},
		Index: IndexConfig{
			TargetWindowSeconds: getEnvFloat("INDEX_TARGET_WINDOW_SECONDS", 45),
			MaxWindowSeconds:    getEnvFloat("INDEX_MAX_WINDOW_SECONDS", 90),
			MinWindowSeconds:    getEnvFloat("INDEX_MIN_WINDOW_SECONDS", 15),
			OverlapSeconds:      getEnvFloat("INDEX_OVERLAP_WINDOW_SECONDS", 5),
		},
		Embedding: EmbeddingConfig{
			Model:    getEnv("EMBEDDING_MODEL", "fastembed:bge-small-en"),
			Dim:      getEnvInt("EMBEDDING_DIM", 384),
			Endpoint: getEnv("EMBEDDING_API_ENDPOINT", ""),
			APIKey:   getEnv("EMBEDDING_API_KEY", ""),
		},
		LLM: LLMConfig{
			LocalBaseURL:       getEnv("LLM_LOCAL_BASE_URL", "http://127.0.0.1:8000/v1"),
			LocalModel:         getEnv("LLM_LOCAL_MODEL", "local-model"),
			EnableCloud:        getEnvBool("ENABLE_CLOUD_LLM", false),
			CloudBaseURL:       getEnv("LLM_CLOUD_BASE_URL", ""),
			CloudAPIKey:        getEnv("LLM_CLOUD_API_KEY", ""),
			CloudModel:         getEnv("LLM_CLOUD_MODEL", ""),
			RequestTimeoutSec:  getEnvInt("LLM_REQUEST_TIMEOUT_SECONDS", 600),
			EnableCloudSummary: getEnvBool("ENABLE_CLOUD_SUMMARY", false),
			DashscopeAPIKey:    getEnv("DASHSCOPE_API_KEY", ""),
			CloudSummaryModel:  getEnv("CLOUD_LLM_MODEL", ""),
		},
		Runtime: RuntimeConfig{
			ASRConcurrencyTimeoutSec:   getEnvInt("ASR_CONCURRENCY_TIMEOUT_SECONDS", 3),
			LLMConcurrencyTimeoutSec:   getEnvInt("LLM_CONCURRENCY_TIMEOUT_SECONDS", 3),
			HeavyConcurrencyTimeoutSec: getEnvInt("HEAVY_CONCURRENCY_TIMEOUT_SECONDS", 3),
		},
		Media: MediaConfig{
			FFmpegPath:  getEnv("FFMPEG_PATH", "ffmpeg"),
			FFprobePath: getEnv("FFPROBE_PATH", "ffprobe"),
		},
	}
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getEnvBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return def
	}
	return v == "1" || v == "true" || v == "yes" || v == "on"
}
