package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, args ...string) Config {
	t.Helper()
	var cfg Config
	parser, err := kong.New(&cfg)
	require.NoError(t, err)
	_, err = parser.Parse(args)
	require.NoError(t, err)
	return cfg
}

func TestConfig_Defaults(t *testing.T) {
	// Parsing validates, and the default postgres store needs a URL.
	t.Setenv("DATABASE_URL", "postgres://localhost/images")
	cfg := parse(t)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, StorePostgres, cfg.Store)
	assert.Equal(t, StorageLocal, cfg.Storage)
	assert.Equal(t, RankerPgvector, cfg.Ranker)
	assert.Equal(t, 32, cfg.EmbedBatchSize)
	assert.Equal(t, 100, cfg.MaxTopK)
	assert.Equal(t, 40, cfg.HNSWEfSearch)
	assert.True(t, cfg.WarmModel)
	assert.Equal(t, filepath.Join("./data", "images"), cfg.ImagesPath())
}

func TestConfig_EnvOverrides(t *testing.T) {
	t.Setenv("STORE", "memory")
	t.Setenv("RANKER", "exact")
	t.Setenv("EMBED_BATCH_SIZE", "8")
	t.Setenv("IMAGES_DIR", "/srv/images")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg := parse(t)

	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, RankerExact, cfg.Ranker)
	assert.Equal(t, 8, cfg.EmbedBatchSize)
	assert.Equal(t, "/srv/images", cfg.ImagesPath())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			Store:          StorePostgres,
			DatabaseURL:    "postgres://localhost/images",
			Storage:        StorageLocal,
			Ranker:         RankerPgvector,
			EmbedBatchSize: 32,
			MaxTopK:        100,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing_database_url", mutate: func(c *Config) { c.DatabaseURL = "" }, wantErr: "DATABASE_URL"},
		{
			name: "pgvector_on_memory",
			mutate: func(c *Config) {
				c.Store = StoreMemory
				c.DatabaseURL = ""
			},
			wantErr: "requires the postgres store",
		},
		{
			name: "persistent_chromem_on_memory",
			mutate: func(c *Config) {
				c.Store = StoreMemory
				c.Ranker = RankerChromem
				c.ChromemPath = "/var/lib/imagesearch/index"
			},
			wantErr: "CHROMEM_PATH",
		},
		{
			name: "memory_chromem_on_memory",
			mutate: func(c *Config) {
				c.Store = StoreMemory
				c.Ranker = RankerChromem
			},
		},
		{name: "s3_without_bucket", mutate: func(c *Config) { c.Storage = StorageS3 }, wantErr: "S3_BUCKET"},
		{name: "zero_batch", mutate: func(c *Config) { c.EmbedBatchSize = 0 }, wantErr: "batch size"},
		{name: "zero_top_k", mutate: func(c *Config) { c.MaxTopK = 0 }, wantErr: "top_k"},
		{name: "negative_ingest_cap", mutate: func(c *Config) { c.IngestMaxFiles = -1 }, wantErr: "ingest max files"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_ModelFile(t *testing.T) {
	cfg := Config{ModelDir: "/opt/clip"}
	assert.Equal(t, filepath.Join("/opt/clip", "tokenizer.json"), cfg.ModelFile("tokenizer.json"))
	assert.Equal(t, "/abs/model.onnx", cfg.ModelFile("/abs/model.onnx"))
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("IMAGESEARCH_TEST_KEY=from-file\n"), 0o644))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("IMAGESEARCH_TEST_KEY", "")
	require.NoError(t, os.Unsetenv("IMAGESEARCH_TEST_KEY"))

	require.NoError(t, LoadDotEnv())
	assert.Equal(t, "from-file", os.Getenv("IMAGESEARCH_TEST_KEY"))
}
