package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrMissingRequired = errors.New("missing required configuration")

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"walter"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"walter"`

	// Object storage (R2 / MinIO compatible)
	StorageEndpoint  string `envconfig:"STORAGE_ENDPOINT" default:"minio:9000"`
	StorageAccessKey string `envconfig:"STORAGE_ACCESS_KEY"`
	StorageSecretKey string `envconfig:"STORAGE_SECRET_KEY"`
	StorageBucket    string `envconfig:"STORAGE_BUCKET" default:"walter-receipts"`
	StorageUseSSL    bool   `envconfig:"STORAGE_USE_SSL" default:"false"`

	OCRServiceURL string `envconfig:"OCR_SERVICE_URL" default:"http://ocr:8000"`
	GeminiAPIKey  string `envconfig:"GEMINI_API_KEY"`

	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	EnableAPI    bool   `envconfig:"ENABLE_API" default:"true"`
	EnableWorker bool   `envconfig:"ENABLE_WORKER" default:"true"`
	WorkerID     string `envconfig:"WORKER_ID"`

	// Pipeline
	// Attempts accumulate across the whole job, and the success path
	// alone consumes one per stage, so the ceiling must cover the four
	// stages plus retry headroom.
	JobMaxAttempts        int `envconfig:"JOB_MAX_ATTEMPTS" default:"6"`
	WorkerPollIntervalSec int `envconfig:"WORKER_POLL_INTERVAL_SECONDS" default:"5"`
	WorkerLeaseSec        int `envconfig:"WORKER_LEASE_SECONDS" default:"120"`
	StageTimeoutSec       int `envconfig:"STAGE_TIMEOUT_SECONDS" default:"60"`
	OCRTextMaxChars       int `envconfig:"OCR_TEXT_MAX_CHARS" default:"20000"`

	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Server
	ServerPort        int   `envconfig:"SERVER_PORT" default:"8081"`
	MaxUploadSizeMB   int64 `envconfig:"MAX_UPLOAD_SIZE_MB" default:"50"`
	PresignExpiryMins int   `envconfig:"PRESIGN_EXPIRY_MINUTES" default:"15"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Try loading .env from current dir and repo root
	// Ignore errors, as env vars might be set in the shell
	_ = godotenv.Load(".env")

	// Try finding root .env (assuming 2 levels up if in apps/backend)
	cwd, _ := os.Getwd()
	rootEnv := filepath.Join(cwd, "../../.env")
	_ = godotenv.Load(rootEnv)

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	if c.StorageBucket == "" {
		return fmt.Errorf("%w: STORAGE_BUCKET", ErrMissingRequired)
	}
	if c.JobMaxAttempts < 1 {
		return fmt.Errorf("%w: JOB_MAX_ATTEMPTS must be at least 1", ErrMissingRequired)
	}
	return nil
}
