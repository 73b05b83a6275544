package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("PIPELINE_MAX_RETRIES", "")
	t.Setenv("STORE_BACKEND", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.StoreBackend != "postgres" || cfg.DispatcherBackend != "nats" || cfg.StorageBackend != "localfs" {
		t.Fatalf("unexpected backends %q/%q/%q", cfg.StoreBackend, cfg.DispatcherBackend, cfg.StorageBackend)
	}
	if cfg.PipelineMaxRetries != 3 || cfg.PipelineRetryBase() != time.Minute {
		t.Fatalf("unexpected retry defaults %d %s", cfg.PipelineMaxRetries, cfg.PipelineRetryBase())
	}
	if cfg.OllamaTimeout() != 300*time.Second {
		t.Fatalf("expected 300s ollama timeout, got %s", cfg.OllamaTimeout())
	}
	if cfg.MaxRecordAge() != 24*time.Hour || cfg.StuckAfter() != time.Hour {
		t.Fatalf("unexpected housekeeping defaults %s %s", cfg.MaxRecordAge(), cfg.StuckAfter())
	}
	if cfg.OCRLanguage != "por+eng" {
		t.Fatalf("expected por+eng, got %q", cfg.OCRLanguage)
	}
}

func TestLoadFileThenEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docpipe.yaml")
	content := "store_backend: badger\nbadger_path: /var/lib/docpipe\npipeline_max_retries: 5\nllm_temperature: 0.4\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PIPELINE_MAX_RETRIES", "2")
	t.Setenv("STORE_BACKEND", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.StoreBackend != "badger" || cfg.BadgerPath != "/var/lib/docpipe" {
		t.Fatalf("expected file overlay, got %q %q", cfg.StoreBackend, cfg.BadgerPath)
	}
	if cfg.PipelineMaxRetries != 2 {
		t.Fatalf("expected env to win over file, got %d", cfg.PipelineMaxRetries)
	}
	if cfg.LLMTemperature != 0.4 {
		t.Fatalf("expected temperature 0.4, got %v", cfg.LLMTemperature)
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("STORE_BACKEND", "mongo")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "StoreBackend") {
		t.Fatalf("expected StoreBackend validation error, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestMalformedEnvFallsBack(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("WORKER_CONCURRENCY", "many")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.WorkerConcurrency != 4 {
		t.Fatalf("expected fallback concurrency 4, got %d", cfg.WorkerConcurrency)
	}
	if cfg.MaxUploadBytes() != 50<<20 {
		t.Fatalf("unexpected upload limit %d", cfg.MaxUploadBytes())
	}
}
