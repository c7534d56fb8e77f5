package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultMaxUploadBytes = 8 << 20

// Config holds application configuration.
type Config struct {
	Port            string
	Env             string
	LogLevel        string
	CORSAllowOrigin []string

	DatabaseURL         string
	MetadataStore       string
	GCPProjectID        string
	FirestoreCollection string

	ObjectStoreType string
	LocalStoreDir   string
	AWSRegion       string
	S3Bucket        string
	S3Prefix        string
	SSEKMSKeyID     string
	GCSBucket       string
	MinioEndpoint   string
	MinioAccessKey  string
	MinioSecretKey  string
	MinioBucket     string
	MinioUseSSL     bool

	MaxUploadBytes int64

	Trigger          string
	SQSQueueURL      string
	RedisAddr        string
	RedisPassword    string
	RedisQueueKey    string
	WorkflowLocation string
	WorkflowID       string
	WorkerWebhookURL string
	WorkerToken      string

	CompletionQueueURL string

	ReconcileStaleAfter time.Duration
	ReconcileInterval   time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience; real env wins.
	for _, path := range []string{".env", "cmd/.env"} {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err != nil {
				log.Printf("config: load %s: %v", path, err)
			}
		}
	}

	env := normalizeEnv(getEnv("ENV", "dev"))
	dbURL := os.Getenv("DATABASE_URL")

	if env == "production" && dbURL == "" && normalizeMetadataStore(getEnv("METADATA_STORE", "auto")) == "postgres" {
		log.Printf("DATABASE_URL is required in production")
	}

	return Config{
		Port:                getEnv("PORT", "8080"),
		Env:                 env,
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		CORSAllowOrigin:     splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:3000")),
		DatabaseURL:         dbURL,
		MetadataStore:       normalizeMetadataStore(getEnv("METADATA_STORE", "auto")),
		GCPProjectID:        getEnv("GCP_PROJECT_ID", ""),
		FirestoreCollection: getEnv("FIRESTORE_COLLECTION", "documents"),
		ObjectStoreType:     normalizeStoreType(getEnv("OBJECT_STORE", "local")),
		LocalStoreDir:       getEnv("LOCAL_STORE_DIR", "./data"),
		AWSRegion:           getEnv("AWS_REGION", ""),
		S3Bucket:            getEnv("S3_BUCKET", ""),
		S3Prefix:            getEnv("S3_PREFIX", ""),
		SSEKMSKeyID:         getEnv("SSE_KMS_KEY_ID", ""),
		GCSBucket:           getEnv("GCS_BUCKET", ""),
		MinioEndpoint:       getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey:      getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey:      getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:         getEnv("MINIO_BUCKET", "raw-uploads"),
		MinioUseSSL:         getEnvBool("MINIO_USE_SSL", false),
		MaxUploadBytes:      getEnvInt64("MAX_UPLOAD_BYTES", defaultMaxUploadBytes),
		Trigger:             normalizeTrigger(getEnv("TRIGGER", "none")),
		SQSQueueURL:         getEnv("SQS_QUEUE_URL", ""),
		RedisAddr:           getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""),
		RedisQueueKey:       getEnv("REDIS_QUEUE_KEY", "extract-document"),
		WorkflowLocation:    getEnv("WORKFLOW_LOCATION", "us-central1"),
		WorkflowID:          getEnv("WORKFLOW_ID", "extract-document"),
		WorkerWebhookURL:    getEnv("WORKER_WEBHOOK_URL", ""),
		WorkerToken:         getEnv("WORKER_TOKEN", ""),
		CompletionQueueURL:  getEnv("COMPLETION_SQS_QUEUE_URL", ""),
		ReconcileStaleAfter: getEnvDuration("RECONCILE_STALE_AFTER", 15*time.Minute),
		ReconcileInterval:   getEnvDuration("RECONCILE_INTERVAL", time.Minute),
	}
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt64(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || val <= 0 {
		log.Printf("config: %s invalid, using default %d", key, def)
		return def
	}
	return val
}

func getEnvBool(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return val
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := time.ParseDuration(raw)
	if err != nil || val <= 0 {
		log.Printf("config: %s invalid, using default %s", key, def)
		return def
	}
	return val
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	case "development", "dev":
		return "dev"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	case "gcs":
		return "gcs"
	case "minio":
		return "minio"
	default:
		return "local"
	}
}

func normalizeMetadataStore(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "postgres", "pg":
		return "postgres"
	case "firestore":
		return "firestore"
	case "memory":
		return "memory"
	default:
		return "auto"
	}
}

func normalizeTrigger(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "sqs":
		return "sqs"
	case "redis":
		return "redis"
	case "workflows":
		return "workflows"
	case "http", "webhook":
		return "http"
	default:
		return "none"
	}
}
