package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	assert.NoError(t, err)
	assert.Equal(t, "postgres", cfg.DBHost)
	assert.Equal(t, 5432, cfg.DBPort)
	assert.Equal(t, 8081, cfg.ServerPort)
	assert.Equal(t, 10, cfg.ProcessorBatchSize)
	assert.Equal(t, 3, cfg.ProcessorMaxBatches)
	assert.Equal(t, 1000, cfg.MaxChunkSize)
	assert.Equal(t, 100, cfg.MinChunkSize)
	assert.Equal(t, 50, cfg.OverlapSize)
	assert.True(t, cfg.EnableProcessor)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("PROCESSOR_BATCH_SIZE", "25")
	t.Setenv("E5_EMBEDDING_SERVER_URL", "http://localhost:9000")

	cfg, err := Load()
	assert.NoError(t, err)
	assert.Equal(t, "db.internal", cfg.DBHost)
	assert.Equal(t, 25, cfg.ProcessorBatchSize)
	assert.Equal(t, "http://localhost:9000", cfg.E5ServerURL)
}

func TestValidate(t *testing.T) {
	t.Run("MissingDBHost", func(t *testing.T) {
		cfg := &Config{DBUser: "u", DBName: "n", E5ServerURL: "x", BGEServerURL: "y", MinChunkSize: 100, MaxChunkSize: 1000}
		err := cfg.Validate()
		assert.ErrorIs(t, err, ErrMissingRequired)
	})

	t.Run("MissingEmbeddingServer", func(t *testing.T) {
		cfg := &Config{DBHost: "h", DBUser: "u", DBName: "n", BGEServerURL: "y", MinChunkSize: 100, MaxChunkSize: 1000}
		err := cfg.Validate()
		assert.ErrorIs(t, err, ErrMissingRequired)
	})

	t.Run("BadChunkSizes", func(t *testing.T) {
		cfg := &Config{DBHost: "h", DBUser: "u", DBName: "n", E5ServerURL: "x", BGEServerURL: "y", MinChunkSize: 1000, MaxChunkSize: 100}
		err := cfg.Validate()
		assert.ErrorIs(t, err, ErrMissingRequired)
	})

	t.Run("Valid", func(t *testing.T) {
		cfg := &Config{DBHost: "h", DBUser: "u", DBName: "n", E5ServerURL: "x", BGEServerURL: "y", MinChunkSize: 100, MaxChunkSize: 1000}
		assert.NoError(t, cfg.Validate())
	})
}
