package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	NATS      NATSConfig      `yaml:"nats"`
	MinIO     MinIOConfig     `yaml:"minio"`
	Vision    VisionConfig    `yaml:"vision"`
	Selfie    SelfieConfig    `yaml:"selfie"`
	Transform TransformConfig `yaml:"transform"`
	Match     MatchConfig     `yaml:"match"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type VisionConfig struct {
	ModelsDir          string  `yaml:"models_dir"`
	DetectionThreshold float64 `yaml:"detection_threshold"`
	// EmbeddingDim must match the embedding model's output size and is
	// constant process-wide. The default fits ArcFace w600k_r50.
	EmbeddingDim  int `yaml:"embedding_dim"`
	MaxConcurrent int `yaml:"max_concurrent"`
}

type SelfieConfig struct {
	MinConfidence float64 `yaml:"min_confidence"`
	MinRealScore  float64 `yaml:"min_real_score"`
	MinLiveScore  float64 `yaml:"min_live_score"`
}

type TransformConfig struct {
	TargetHeight  int    `yaml:"target_height"`
	JPEGQuality   int    `yaml:"jpeg_quality"`
	WatermarkText string `yaml:"watermark_text"`
	SkipWatermark bool   `yaml:"skip_watermark"`
}

type MatchConfig struct {
	// Threshold is calibrated against the configured embedding backend.
	// Swapping the backend requires recalibration; do not assume the
	// default carries over.
	Threshold float64 `yaml:"threshold"`
	Limit     int     `yaml:"limit"`
}

type IngestConfig struct {
	WorkerCount      int           `yaml:"worker_count"`
	MaxRetries       int           `yaml:"max_retries"`
	ExtractTimeout   time.Duration `yaml:"extract_timeout"`
	TransformTimeout time.Duration `yaml:"transform_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Vision.EmbeddingDim == 0 {
		cfg.Vision.EmbeddingDim = 512
	}
	if cfg.Vision.MaxConcurrent == 0 {
		cfg.Vision.MaxConcurrent = 4
	}
	if cfg.Selfie.MinConfidence == 0 {
		cfg.Selfie.MinConfidence = 0.6
	}
	if cfg.Selfie.MinRealScore == 0 {
		cfg.Selfie.MinRealScore = 0.5
	}
	if cfg.Selfie.MinLiveScore == 0 {
		cfg.Selfie.MinLiveScore = 0.5
	}
	if cfg.Transform.TargetHeight == 0 {
		cfg.Transform.TargetHeight = 1080
	}
	if cfg.Transform.JPEGQuality == 0 {
		cfg.Transform.JPEGQuality = 80
	}
	if cfg.Transform.WatermarkText == "" {
		cfg.Transform.WatermarkText = "facefind"
	}
	if cfg.Match.Threshold == 0 {
		cfg.Match.Threshold = 0.4
	}
	if cfg.Match.Limit == 0 {
		cfg.Match.Limit = 50
	}
	if cfg.Ingest.WorkerCount == 0 {
		cfg.Ingest.WorkerCount = 4
	}
	if cfg.Ingest.MaxRetries == 0 {
		cfg.Ingest.MaxRetries = 3
	}
	if cfg.Ingest.ExtractTimeout == 0 {
		cfg.Ingest.ExtractTimeout = 30 * time.Second
	}
	if cfg.Ingest.TransformTimeout == 0 {
		cfg.Ingest.TransformTimeout = 30 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FACEFIND_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FACEFIND_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("FACEFIND_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("FACEFIND_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("FACEFIND_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("FACEFIND_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("FACEFIND_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("FACEFIND_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("FACEFIND_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("FACEFIND_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("FACEFIND_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("FACEFIND_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("FACEFIND_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("FACEFIND_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ingest.WorkerCount = n
		}
	}
	if v := os.Getenv("FACEFIND_MATCH_THRESHOLD"); v != "" {
		if t, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Match.Threshold = t
		}
	}
}
