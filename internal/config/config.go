package config

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Apollo      ProviderConfig    `yaml:"apollo" mapstructure:"apollo"`
	Hunter      ProviderConfig    `yaml:"hunter" mapstructure:"hunter"`
	Embeddings  EmbeddingsConfig  `yaml:"embeddings" mapstructure:"embeddings"`
	VectorIndex VectorIndexConfig `yaml:"vector_index" mapstructure:"vector_index"`
	Redis       RedisConfig       `yaml:"redis" mapstructure:"redis"`
	Salesforce  SalesforceConfig  `yaml:"salesforce" mapstructure:"salesforce"`
	Enrichment  EnrichmentConfig  `yaml:"enrichment" mapstructure:"enrichment"`
	Quota       QuotaConfig       `yaml:"quota" mapstructure:"quota"`
	Scoring     ScoringConfig     `yaml:"scoring" mapstructure:"scoring"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ProviderConfig holds credentials and limits for an enrichment provider API.
type ProviderConfig struct {
	Key       string  `yaml:"key" mapstructure:"key"`
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// EmbeddingsConfig holds embedding API settings.
type EmbeddingsConfig struct {
	Key        string `yaml:"key" mapstructure:"key"`
	BaseURL    string `yaml:"base_url" mapstructure:"base_url"`
	Model      string `yaml:"model" mapstructure:"model"`
	Dimensions int    `yaml:"dimensions" mapstructure:"dimensions"`
}

// VectorIndexConfig holds vector index settings. Host is the index data-plane URL.
type VectorIndexConfig struct {
	Key  string `yaml:"key" mapstructure:"key"`
	Host string `yaml:"host" mapstructure:"host"`
}

// RedisConfig configures the optional ICP vector cache. Empty Addr disables it.
type RedisConfig struct {
	Addr       string `yaml:"addr" mapstructure:"addr"`
	Password   string `yaml:"password" mapstructure:"password"`
	DB         int    `yaml:"db" mapstructure:"db"`
	TTLMinutes int    `yaml:"ttl_minutes" mapstructure:"ttl_minutes"`
}

// SalesforceConfig holds Salesforce JWT auth settings.
type SalesforceConfig struct {
	ClientID  string  `yaml:"client_id" mapstructure:"client_id"`
	Username  string  `yaml:"username" mapstructure:"username"`
	KeyPath   string  `yaml:"key_path" mapstructure:"key_path"`
	LoginURL  string  `yaml:"login_url" mapstructure:"login_url"`
	SyncLeads bool    `yaml:"sync_leads" mapstructure:"sync_leads"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// EnrichmentConfig configures provider call timeouts and retries.
type EnrichmentConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	TimeoutSecs      int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// QuotaConfig holds per-provider usage caps.
type QuotaConfig struct {
	ApolloLimit  int     `yaml:"apollo_limit" mapstructure:"apollo_limit"`
	HunterLimit  int     `yaml:"hunter_limit" mapstructure:"hunter_limit"`
	WarnFraction float64 `yaml:"warn_fraction" mapstructure:"warn_fraction"`
}

// ScoringConfig configures ICP scoring and the batch optimizer.
type ScoringConfig struct {
	BatchMaxCount     int     `yaml:"batch_max_count" mapstructure:"batch_max_count"`
	FallbackChunkSize int     `yaml:"fallback_chunk_size" mapstructure:"fallback_chunk_size"`
	ActivityDefault   float64 `yaml:"activity_default" mapstructure:"activity_default"`
	MaxConcurrent     int     `yaml:"max_concurrent_campaigns" mapstructure:"max_concurrent_campaigns"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

var envOnlyKeys = []string{
	"store.database_url",
	"apollo.key",
	"hunter.key",
	"embeddings.key",
	"vector_index.key",
	"vector_index.host",
	"redis.addr",
	"redis.password",
	"redis.db",
	"salesforce.client_id",
	"salesforce.username",
	"salesforce.key_path",
}

// Load reads configuration from file and environment. A .env file in the
// working directory, if present, is loaded into the environment first;
// variables already set take precedence over it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PROSPECTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "postgres")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("apollo.base_url", "https://api.apollo.io")
	v.SetDefault("apollo.rate_limit", 5)
	v.SetDefault("hunter.base_url", "https://api.hunter.io")
	v.SetDefault("hunter.rate_limit", 10)
	v.SetDefault("embeddings.base_url", "https://api.openai.com/v1")
	v.SetDefault("embeddings.model", "text-embedding-3-small")
	v.SetDefault("embeddings.dimensions", 0)
	v.SetDefault("redis.ttl_minutes", 60)
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("salesforce.sync_leads", false)
	v.SetDefault("salesforce.rate_limit", 10)
	v.SetDefault("enrichment.max_attempts", 3)
	v.SetDefault("enrichment.initial_backoff_ms", 1000)
	v.SetDefault("enrichment.max_backoff_ms", 4000)
	v.SetDefault("enrichment.timeout_secs", 10)
	v.SetDefault("quota.apollo_limit", 10000)
	v.SetDefault("quota.hunter_limit", 25)
	v.SetDefault("quota.warn_fraction", 0.8)
	v.SetDefault("scoring.batch_max_count", 100)
	v.SetDefault("scoring.fallback_chunk_size", 10)
	v.SetDefault("scoring.activity_default", 0.5)
	v.SetDefault("scoring.max_concurrent_campaigns", 4)

	// Keys without defaults are only seen by Unmarshal once bound.
	for _, key := range envOnlyKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", key)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the settings a command depends on are present.
// Modes: "store", "enrich", "score", "serve", "salesforce".
func (c *Config) Validate(mode string) error {
	var missing []string

	requireStore := func() {
		switch c.Store.Driver {
		case "postgres":
			if c.Store.DatabaseURL == "" {
				missing = append(missing, "store.database_url")
			}
		case "sqlite":
		default:
			missing = append(missing, "store.driver (postgres|sqlite)")
		}
	}
	requireScoring := func() {
		if c.Embeddings.Key == "" {
			missing = append(missing, "embeddings.key")
		}
		if c.VectorIndex.Host == "" {
			missing = append(missing, "vector_index.host")
		}
	}
	requireEnrichment := func() {
		if c.Apollo.Key == "" && c.Hunter.Key == "" {
			missing = append(missing, "apollo.key or hunter.key")
		}
	}

	switch mode {
	case "store":
		requireStore()
	case "enrich":
		requireStore()
		requireEnrichment()
	case "score":
		requireStore()
		requireScoring()
	case "serve":
		requireStore()
		requireScoring()
		requireEnrichment()
	case "salesforce":
		if c.Salesforce.ClientID == "" {
			missing = append(missing, "salesforce.client_id")
		}
		if c.Salesforce.KeyPath == "" {
			missing = append(missing, "salesforce.key_path")
		}
	default:
		return eris.Errorf("config: unknown validation mode %q", mode)
	}

	if len(missing) > 0 {
		return eris.Errorf("config: missing required settings for %s: %s", mode, strings.Join(missing, ", "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
