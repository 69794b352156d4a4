package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "https://api.apollo.io", cfg.Apollo.BaseURL)
	assert.Equal(t, "https://api.hunter.io", cfg.Hunter.BaseURL)
	assert.Equal(t, 3, cfg.Enrichment.MaxAttempts)
	assert.Equal(t, 1000, cfg.Enrichment.InitialBackoffMs)
	assert.Equal(t, 10, cfg.Enrichment.TimeoutSecs)
	assert.Equal(t, 10000, cfg.Quota.ApolloLimit)
	assert.Equal(t, 25, cfg.Quota.HunterLimit)
	assert.InDelta(t, 0.8, cfg.Quota.WarnFraction, 1e-9)
	assert.Equal(t, 100, cfg.Scoring.BatchMaxCount)
	assert.Equal(t, 10, cfg.Scoring.FallbackChunkSize)
	assert.InDelta(t, 0.5, cfg.Scoring.ActivityDefault, 1e-9)
	assert.False(t, cfg.Salesforce.SyncLeads)
}

func TestLoadFromFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
  database_url: prospector.db
apollo:
  key: ap-key
quota:
  hunter_limit: 50
redis:
  addr: localhost:6379
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "prospector.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "ap-key", cfg.Apollo.Key)
	assert.Equal(t, 50, cfg.Quota.HunterLimit)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("PROSPECTOR_STORE_DRIVER", "postgres")
	t.Setenv("PROSPECTOR_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("PROSPECTOR_SERVER_PORT", "3000")
	t.Setenv("PROSPECTOR_QUOTA_APOLLO_LIMIT", "500")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 500, cfg.Quota.ApolloLimit)
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PROSPECTOR_HUNTER_KEY=from-dotenv\nPROSPECTOR_APOLLO_KEY=from-dotenv\n"), 0600))
	t.Setenv("PROSPECTOR_APOLLO_KEY", "from-env")
	t.Cleanup(func() { os.Unsetenv("PROSPECTOR_HUNTER_KEY") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Hunter.Key)
	assert.Equal(t, "from-env", cfg.Apollo.Key)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

func TestValidateStore(t *testing.T) {
	cfg := &Config{Store: StoreConfig{Driver: "postgres"}}
	err := cfg.Validate("store")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url")

	cfg.Store.DatabaseURL = "postgres://localhost/prospector"
	assert.NoError(t, cfg.Validate("store"))

	assert.NoError(t, (&Config{Store: StoreConfig{Driver: "sqlite"}}).Validate("store"))

	err = (&Config{Store: StoreConfig{Driver: "mysql"}}).Validate("store")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
}

func TestValidateEnrich_NeedsOneProviderKey(t *testing.T) {
	cfg := &Config{Store: StoreConfig{Driver: "sqlite"}}
	err := cfg.Validate("enrich")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apollo.key or hunter.key")

	cfg.Hunter.Key = "hk"
	assert.NoError(t, cfg.Validate("enrich"))
}

func TestValidateScore_MissingFields(t *testing.T) {
	cfg := &Config{Store: StoreConfig{Driver: "sqlite"}}
	err := cfg.Validate("score")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embeddings.key")
	assert.Contains(t, err.Error(), "vector_index.host")
}

func TestValidateServe_AllPresent(t *testing.T) {
	cfg := &Config{
		Store:       StoreConfig{Driver: "postgres", DatabaseURL: "postgres://localhost/p"},
		Apollo:      ProviderConfig{Key: "ak"},
		Embeddings:  EmbeddingsConfig{Key: "ek"},
		VectorIndex: VectorIndexConfig{Host: "https://idx.example.com"},
	}
	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidateSalesforce(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate("salesforce")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "salesforce.client_id")
	assert.Contains(t, err.Error(), "salesforce.key_path")
}

func TestValidateUnknownMode(t *testing.T) {
	err := (&Config{}).Validate("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown validation mode")
}

func TestLoadEnvOnlyKeys(t *testing.T) {
	chdirTemp(t)

	t.Setenv("PROSPECTOR_STORE_DATABASE_URL", "postgres://localhost/prospector")
	t.Setenv("PROSPECTOR_EMBEDDINGS_KEY", "ek")
	t.Setenv("PROSPECTOR_VECTOR_INDEX_HOST", "https://idx.example.com")
	t.Setenv("PROSPECTOR_REDIS_ADDR", "localhost:6379")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/prospector", cfg.Store.DatabaseURL)
	assert.Equal(t, "ek", cfg.Embeddings.Key)
	assert.Equal(t, "https://idx.example.com", cfg.VectorIndex.Host)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}
