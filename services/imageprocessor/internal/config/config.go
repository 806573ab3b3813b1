package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// ConfigPathEnv overrides ConfigPath.
const ConfigPathEnv = "IMAGE_PROCESSOR_CONFIG"

const (
	ReportStoreFile  = "file"
	ReportStoreMinio = "minio"
	ReportStoreNone  = "none"
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                   string   `yaml:"port"`
	LogLevel               string   `yaml:"logLevel"`
	LogFormat              string   `yaml:"logFormat"`
	InputDir               string   `yaml:"inputDir"`
	OutputDir              string   `yaml:"outputDir"`
	OllamaBaseURL          string   `yaml:"ollamaBaseURL"`
	OllamaModel            string   `yaml:"ollamaModel"`
	DatabaseURL            string   `yaml:"databaseURL"`
	DatabaseMaxOpenConns   int      `yaml:"databaseMaxOpenConns"`
	RedisAddr              string   `yaml:"redisAddr"`
	RedisPassword          string   `yaml:"redisPassword"`
	QueueName              string   `yaml:"queueName"`
	QueueGroup             string   `yaml:"queueGroup"`
	QueueConcurrency       int      `yaml:"queueConcurrency"`
	QueueMaxAttempts       int      `yaml:"queueMaxAttempts"`
	BatchConcurrency       int      `yaml:"batchConcurrency"`
	AnalyzeRateLimitPerMin int      `yaml:"analyzeRateLimitPerMinute"`
	TrustedProxies         []string `yaml:"trustedProxies"`
	ReportStore            string   `yaml:"reportStore"`
	MinioEndpoint          string   `yaml:"minioEndpoint"`
	MinioAccessKey         string   `yaml:"minioAccessKey"`
	MinioSecretKey         string   `yaml:"minioSecretKey"`
	MinioBucket            string   `yaml:"minioBucket"`
	MinioRegion            string   `yaml:"minioRegion"`
	MinioUseSSL            bool     `yaml:"minioUseSSL"`
}

// ResolvePath returns the config path from the environment, or ConfigPath.
func ResolvePath() string {
	if v := strings.TrimSpace(os.Getenv(ConfigPathEnv)); v != "" {
		return v
	}
	return ConfigPath
}

// Load reads config from path (defaults to config.yaml). A missing file is not an
// error; environment variables and defaults still apply.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}

	// Override with environment variables
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("INPUT_DIR"); v != "" {
		cfg.InputDir = v
	}
	if v := os.Getenv("OUTPUT_DIR"); v != "" {
		cfg.OutputDir = v
	}
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		cfg.OllamaBaseURL = v
	}
	if v := os.Getenv("OLLAMA_MODEL"); v != "" {
		cfg.OllamaModel = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("ANALYZE_QUEUE_NAME"); v != "" {
		cfg.QueueName = v
	}
	if v := os.Getenv("ANALYZE_QUEUE_GROUP"); v != "" {
		cfg.QueueGroup = v
	}
	if v := os.Getenv("ANALYZE_QUEUE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueConcurrency = n
		}
	}
	if v := os.Getenv("ANALYZE_QUEUE_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueMaxAttempts = n
		}
	}
	if v := os.Getenv("ANALYZE_BATCH_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BatchConcurrency = n
		}
	}
	if v := os.Getenv("ANALYZE_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.AnalyzeRateLimitPerMin = n
		}
	}
	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = splitList(v)
	}
	if v := os.Getenv("REPORT_STORE"); v != "" {
		cfg.ReportStore = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_REGION"); v != "" {
		cfg.MinioRegion = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.MinioUseSSL = b
		}
	}

	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.Port == "" {
		cfg.Port = "8000"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}
	if cfg.InputDir == "" {
		cfg.InputDir = "/app/input"
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "/app/output"
	}
	if cfg.OllamaBaseURL == "" {
		cfg.OllamaBaseURL = "http://localhost:11434"
	}
	if cfg.OllamaModel == "" {
		cfg.OllamaModel = "llava:13b"
	}
	if cfg.QueueName == "" {
		cfg.QueueName = "imageprocessor:analyze"
	}
	if cfg.QueueGroup == "" {
		cfg.QueueGroup = "imageprocessor"
	}
	if cfg.QueueConcurrency == 0 {
		cfg.QueueConcurrency = 1
	}
	if cfg.QueueMaxAttempts == 0 {
		cfg.QueueMaxAttempts = 1
	}
	if cfg.BatchConcurrency == 0 {
		cfg.BatchConcurrency = 1
	}
	cfg.ReportStore = strings.ToLower(strings.TrimSpace(cfg.ReportStore))
	if cfg.ReportStore == "" {
		cfg.ReportStore = ReportStoreFile
	}
	cfg.TrustedProxies = trimList(cfg.TrustedProxies)
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or PORT)")
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if strings.TrimSpace(cfg.InputDir) == "" || strings.TrimSpace(cfg.OutputDir) == "" {
		return errors.New("config: inputDir and outputDir are required")
	}
	if cfg.QueueConcurrency < 1 {
		return errors.New("config: queueConcurrency must be >= 1 (set in config.yaml or ANALYZE_QUEUE_CONCURRENCY)")
	}
	if cfg.QueueMaxAttempts < 1 {
		return errors.New("config: queueMaxAttempts must be >= 1 (set in config.yaml or ANALYZE_QUEUE_MAX_ATTEMPTS)")
	}
	if cfg.BatchConcurrency < 1 {
		return errors.New("config: batchConcurrency must be >= 1 (set in config.yaml or ANALYZE_BATCH_CONCURRENCY)")
	}
	if cfg.AnalyzeRateLimitPerMin < 0 {
		return errors.New("config: analyzeRateLimitPerMinute must be >= 0")
	}
	if cfg.AnalyzeRateLimitPerMin > 0 && strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: analyzeRateLimitPerMinute requires redisAddr (set in config.yaml or REDIS_ADDR)")
	}
	switch cfg.ReportStore {
	case ReportStoreFile, ReportStoreNone:
	case ReportStoreMinio:
		if cfg.MinioEndpoint == "" || cfg.MinioBucket == "" {
			return errors.New("config: reportStore=minio requires minioEndpoint and minioBucket")
		}
		if cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" {
			return errors.New("config: reportStore=minio requires MINIO_ACCESS_KEY + MINIO_SECRET_KEY")
		}
	default:
		return fmt.Errorf("config: unknown reportStore %q (want file, minio or none)", cfg.ReportStore)
	}
	return nil
}

func splitList(v string) []string {
	return trimList(strings.Split(v, ","))
}

func trimList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
