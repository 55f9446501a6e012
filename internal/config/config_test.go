package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  host: localhost
  name: facefind
  user: facefind
  password: secret
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("server port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Vision.EmbeddingDim != 512 {
		t.Errorf("embedding_dim = %d, want 512", cfg.Vision.EmbeddingDim)
	}
	if cfg.Match.Threshold != 0.4 {
		t.Errorf("match threshold = %v, want 0.4", cfg.Match.Threshold)
	}
	if cfg.Ingest.MaxRetries != 3 {
		t.Errorf("max_retries = %d, want 3", cfg.Ingest.MaxRetries)
	}
	if cfg.Ingest.ExtractTimeout != 30*time.Second {
		t.Errorf("extract_timeout = %v, want 30s", cfg.Ingest.ExtractTimeout)
	}
	if cfg.Ingest.TransformTimeout != 30*time.Second {
		t.Errorf("transform_timeout = %v, want 30s", cfg.Ingest.TransformTimeout)
	}
	if cfg.Transform.TargetHeight != 1080 {
		t.Errorf("target_height = %d, want 1080", cfg.Transform.TargetHeight)
	}
}

func TestLoadExplicitValues(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
match:
  threshold: 0.55
  limit: 10
transform:
  target_height: 720
  skip_watermark: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("server port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Match.Threshold != 0.55 || cfg.Match.Limit != 10 {
		t.Errorf("match = %+v", cfg.Match)
	}
	if cfg.Transform.TargetHeight != 720 || !cfg.Transform.SkipWatermark {
		t.Errorf("transform = %+v", cfg.Transform)
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
database:
  host: localhost
`)
	t.Setenv("FACEFIND_DB_HOST", "db.internal")
	t.Setenv("FACEFIND_MATCH_THRESHOLD", "0.6")
	t.Setenv("FACEFIND_WORKER_COUNT", "8")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Database.Host != "db.internal" {
		t.Errorf("db host = %q, want env override", cfg.Database.Host)
	}
	if cfg.Match.Threshold != 0.6 {
		t.Errorf("match threshold = %v, want 0.6", cfg.Match.Threshold)
	}
	if cfg.Ingest.WorkerCount != 8 {
		t.Errorf("worker_count = %d, want 8", cfg.Ingest.WorkerCount)
	}
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "pg", Port: 5433, Name: "facefind", User: "u", Password: "p"}
	want := "postgres://u:p@pg:5433/facefind?sslmode=disable"
	if got := d.DSN(); got != want {
		t.Errorf("dsn = %q, want %q", got, want)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("missing config file must error")
	}
}
