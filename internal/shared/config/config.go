package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultMaxUploadBytes = 10 << 20 // 10MB
	defaultAllowedTypes   = "pdf,txt,doc,docx,jpg,jpeg,png,gif,xls,xlsx,log"
)

// Config holds application configuration.
type Config struct {
	Port            string
	CORSAllowOrigin []string
	ObjectStoreType string
	LocalStoreDir   string
	AWSRegion       string
	S3Bucket        string
	S3Prefix        string
	SSEKMSKeyID     string
	DatabaseURL     string
	Env             string
	LogLevel        string
	JWTSecret       string

	Upload UploadConfig
	Ingest IngestConfig
	Jobs   JobsConfig
}

// UploadConfig limits what the ingestion pipeline accepts.
type UploadConfig struct {
	MaxSizeBytes      int64
	AllowedExtensions []string
}

// IngestConfig sizes the ingestion worker pool.
type IngestConfig struct {
	Workers        int
	QueueDepth     int
	JobTimeout     time.Duration
	HashChunkBytes int
}

// JobsConfig controls where job status lives and how long it is kept.
type JobsConfig struct {
	StoreType  string
	RedisURL   string
	Retention  time.Duration
	StuckAfter time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	env := normalizeEnv(getEnv("ENV", "dev"))
	dbURL := os.Getenv("DATABASE_URL")

	if env == "production" && dbURL == "" {
		log.Printf("DATABASE_URL is required in production")
	}

	return Config{
		Port:            getEnv("PORT", "8080"),
		CORSAllowOrigin: splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173")),
		ObjectStoreType: normalizeStoreType(getEnv("OBJECT_STORE", "local")),
		LocalStoreDir:   getEnv("LOCAL_STORE_DIR", "./data"),
		AWSRegion:       getEnv("AWS_REGION", ""),
		S3Bucket:        getEnv("S3_BUCKET", ""),
		S3Prefix:        getEnv("S3_PREFIX", ""),
		SSEKMSKeyID:     getEnv("SSE_KMS_KEY_ID", ""),
		DatabaseURL:     dbURL,
		Env:             env,
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		Upload: UploadConfig{
			MaxSizeBytes:      getEnvInt64("UPLOAD_MAX_SIZE", defaultMaxUploadBytes),
			AllowedExtensions: NormalizeExtensions(splitAndTrim(getEnv("UPLOAD_ALLOWED_TYPES", defaultAllowedTypes))),
		},
		Ingest: IngestConfig{
			Workers:        getEnvInt("INGEST_WORKERS", 4),
			QueueDepth:     getEnvInt("INGEST_QUEUE_DEPTH", 64),
			JobTimeout:     getEnvDuration("INGEST_JOB_TIMEOUT", 2*time.Minute),
			HashChunkBytes: getEnvInt("INGEST_HASH_CHUNK_SIZE", 64<<10),
		},
		Jobs: JobsConfig{
			StoreType:  normalizeJobStore(getEnv("JOB_STORE", "auto")),
			RedisURL:   getEnv("REDIS_URL", ""),
			Retention:  getEnvDuration("JOB_RETENTION", 7*24*time.Hour),
			StuckAfter: getEnvDuration("JOB_STUCK_AFTER", 30*time.Minute),
		},
	}
}

// NormalizeExtensions lowercases extensions and strips leading dots.
func NormalizeExtensions(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, ext := range raw {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext == "" {
			continue
		}
		if _, ok := seen[ext]; ok {
			continue
		}
		seen[ext] = struct{}{}
		out = append(out, ext)
	}
	return out
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("config %s invalid int: %v", key, err)
		return def
	}
	return val
}

func getEnvInt64(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("config %s invalid int: %v", key, err)
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
	if err != nil {
		log.Printf("config %s invalid duration: %v", key, err)
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
	default:
		return "local"
	}
}

func normalizeJobStore(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "memory", "postgres", "redis":
		return strings.ToLower(strings.TrimSpace(raw))
	case "pg":
		return "postgres"
	default:
		return "auto"
	}
}
