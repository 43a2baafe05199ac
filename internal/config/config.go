// Package config holds the service settings shared by every CLI command.
//
// Values come from flags or environment variables (kong tags). LoadDotEnv
// should run before parsing so .env files can supply the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	StorageLocal = "local"
	StorageS3    = "s3"

	RankerPgvector = "pgvector"
	RankerExact    = "exact"
	RankerChromem  = "chromem"
	RankerQdrant   = "qdrant"
)

type Config struct {
	Addr          string `help:"HTTP listen address." env:"ADDR" default:":8080"`
	PublicBaseURL string `name:"public-base-url" help:"Prefix for image URLs (empty = relative)." env:"PUBLIC_BASE_URL"`

	DatabaseURL  string `name:"database-url" help:"PostgreSQL connection string." env:"DATABASE_URL"`
	Store        string `help:"Record store backend." env:"STORE" enum:"postgres,memory" default:"postgres"`
	HNSWEfSearch int    `name:"hnsw-ef-search" help:"hnsw.ef_search used by pgvector queries (0 = server default)." env:"HNSW_EF_SEARCH" default:"40"`

	DataDir     string `help:"Base data directory." env:"DATA_DIR" default:"./data"`
	ImagesDir   string `help:"Managed image directory (default: <data-dir>/images)." env:"IMAGES_DIR"`
	Storage     string `help:"Managed image storage backend." env:"STORAGE" enum:"local,s3" default:"local"`
	S3Bucket    string `name:"s3-bucket" help:"S3 bucket for managed images." env:"S3_BUCKET"`
	S3Prefix    string `name:"s3-prefix" help:"Key prefix inside the bucket." env:"S3_PREFIX" default:"images"`
	S3Region    string `name:"s3-region" help:"S3 region." env:"S3_REGION" default:"us-east-1"`
	S3Endpoint  string `name:"s3-endpoint" help:"Custom S3 endpoint (MinIO, R2)." env:"S3_ENDPOINT"`
	S3AccessKey string `name:"s3-access-key-id" help:"S3 access key id." env:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `name:"s3-secret-access-key" help:"S3 secret access key." env:"S3_SECRET_ACCESS_KEY"`
	S3PathStyle bool   `name:"s3-path-style" help:"Use path-style S3 addressing." env:"S3_PATH_STYLE"`

	ModelDir       string `help:"Directory holding the CLIP ONNX models." env:"MODEL_DIR" default:"./model"`
	ORTLibrary     string `name:"ort-library" help:"onnxruntime shared library." env:"ORT_LIBRARY" default:"libonnxruntime.so"`
	VisionModel    string `help:"CLIP vision tower ONNX file." env:"CLIP_VISION_MODEL" default:"clip_vision.onnx"`
	TextModel      string `help:"CLIP text tower ONNX file." env:"CLIP_TEXT_MODEL" default:"clip_text.onnx"`
	TokenizerFile  string `name:"tokenizer" help:"CLIP tokenizer.json." env:"CLIP_TOKENIZER" default:"tokenizer.json"`
	EmbedBatchSize int    `help:"Images per embedding chunk." env:"EMBED_BATCH_SIZE" default:"32"`
	ORTThreads     int    `name:"ort-threads" help:"Intra-op threads for onnxruntime (0 = library default)." env:"ORT_THREADS" default:"0"`
	WarmModel      bool   `help:"Load the model at startup instead of on first use." env:"WARM_MODEL" default:"true" negatable:""`

	Ranker           string `help:"Similarity ranking backend." env:"RANKER" enum:"pgvector,exact,chromem,qdrant" default:"pgvector"`
	ChromemPath      string `help:"Persistence directory for the chromem index (empty = memory only)." env:"CHROMEM_PATH"`
	QdrantHost       string `help:"Qdrant host." env:"QDRANT_HOST" default:"localhost"`
	QdrantPort       int    `help:"Qdrant gRPC port." env:"QDRANT_PORT" default:"6334"`
	QdrantAPIKey     string `name:"qdrant-api-key" help:"Qdrant API key." env:"QDRANT_API_KEY"`
	QdrantTLS        bool   `name:"qdrant-tls" help:"Use TLS for Qdrant." env:"QDRANT_TLS"`
	QdrantCollection string `help:"Qdrant collection name." env:"QDRANT_COLLECTION" default:"images"`

	AllowedOrigins []string `help:"CORS origins allowed to call the API (empty or * = any)." env:"ALLOWED_ORIGINS" sep:","`
	UploadTempDir  string   `help:"Directory for staging uploads (empty = system temp dir)." env:"UPLOAD_TEMP_DIR"`

	IngestMaxFiles int `help:"Maximum new images per ingestion call (0 = unlimited)." env:"INGEST_MAX_FILES" default:"0"`
	MaxTopK        int `name:"max-top-k" help:"Upper bound for top_k." env:"MAX_TOP_K" default:"100"`

	LogLevel  string `help:"Log level (debug, info, warn, error)." env:"LOG_LEVEL" default:"info"`
	LogFormat string `help:"Log format (text, json)." env:"LOG_FORMAT" enum:"text,json" default:"text"`
}

// Validate rejects inconsistent settings.
func (c *Config) Validate() error {
	var errs []error

	if c.Store == StorePostgres && c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
	}
	if c.Ranker == RankerPgvector && c.Store != StorePostgres {
		errs = append(errs, fmt.Errorf("ranker %q requires the postgres store", RankerPgvector))
	}
	// Memory store ids restart at 1, so a persisted mirror would point old
	// vectors at unrelated new images.
	if c.Ranker == RankerChromem && c.ChromemPath != "" && c.Store == StoreMemory {
		errs = append(errs, errors.New("CHROMEM_PATH cannot be used with the memory store"))
	}
	if c.Storage == StorageS3 && c.S3Bucket == "" {
		errs = append(errs, errors.New("S3_BUCKET is required for s3 storage"))
	}
	if c.EmbedBatchSize < 1 {
		errs = append(errs, fmt.Errorf("embed batch size must be >= 1, got %d", c.EmbedBatchSize))
	}
	if c.MaxTopK < 1 {
		errs = append(errs, fmt.Errorf("max top_k must be >= 1, got %d", c.MaxTopK))
	}
	if c.IngestMaxFiles < 0 {
		errs = append(errs, fmt.Errorf("ingest max files must be >= 0, got %d", c.IngestMaxFiles))
	}
	if c.HNSWEfSearch < 0 {
		errs = append(errs, fmt.Errorf("hnsw ef_search must be >= 0, got %d", c.HNSWEfSearch))
	}

	return errors.Join(errs...)
}

// ImagesPath returns the managed image directory.
func (c *Config) ImagesPath() string {
	if c.ImagesDir != "" {
		return c.ImagesDir
	}
	return filepath.Join(c.DataDir, "images")
}

// ModelFile resolves a model asset relative to ModelDir.
func (c *Config) ModelFile(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.ModelDir, name)
}

// LoadDotEnv loads .env.local and .env from the working directory.
// Existing environment variables are not overwritten.
func LoadDotEnv() error {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}
