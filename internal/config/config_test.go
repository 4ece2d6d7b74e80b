package config

import (
	"os"
	"testing"
)

func withEnv(t *testing.T, key, value string) {
	t.Helper()
	old, had := os.LookupEnv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if had {
			os.Setenv(key, old)
		} else {
			os.Unsetenv(key)
		}
	})
}

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"VIDEOAGENT_HOST", "VIDEOAGENT_PORT", "VIDEOAGENT_DATA_DIR", "ASR_DEVICE", "EMBEDDING_DIM", "ENABLE_CLOUD_LLM"} {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		if had {
			t.Cleanup(func(k, old string) func() { return func() { os.Setenv(k, old) } }(k, old))
		}
	}
	cfg := Load()
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want 0.0.0.0", cfg.Server.Host)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Storage.DataDir != "./data" {
		t.Errorf("Storage.DataDir = %q, want ./data", cfg.Storage.DataDir)
	}
	if cfg.ASR.Device != "cpu" {
		t.Errorf("ASR.Device = %q, want cpu", cfg.ASR.Device)
	}
	if cfg.Embedding.Dim != 384 {
		t.Errorf("Embedding.Dim = %d, want 384", cfg.Embedding.Dim)
	}
	if cfg.LLM.EnableCloud {
		t.Errorf("LLM.EnableCloud = true, want false")
	}
}

func TestLoadOverridesFromEnv(t *testing.T) {
	withEnv(t, "VIDEOAGENT_PORT", "9090")
	withEnv(t, "VIDEOAGENT_DATA_DIR", "/tmp/videoagent-data")
	withEnv(t, "ENABLE_CLOUD_LLM", "true")
	withEnv(t, "EMBEDDING_DIM", "768")

	cfg := Load()
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Storage.DataDir != "/tmp/videoagent-data" {
		t.Errorf("Storage.DataDir = %q, want /tmp/videoagent-data", cfg.Storage.DataDir)
	}
	if !cfg.LLM.EnableCloud {
		t.Errorf("LLM.EnableCloud = false, want true")
	}
	if cfg.Embedding.Dim != 768 {
		t.Errorf("Embedding.Dim = %d, want 768", cfg.Embedding.Dim)
	}
}

func TestLoadInvalidIntFallsBackToDefault(t *testing.T) {
	withEnv(t, "VIDEOAGENT_PORT", "not-a-number")
	cfg := Load()
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want default 8080 on invalid input", cfg.Server.Port)
	}
}
