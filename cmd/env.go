package main

import (
	"context"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/batch"
	"github.com/sells-group/prospector/internal/config"
	"github.com/sells-group/prospector/internal/conversion"
	"github.com/sells-group/prospector/internal/enrich"
	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/quota"
	"github.com/sells-group/prospector/internal/resilience"
	"github.com/sells-group/prospector/internal/scoring"
	"github.com/sells-group/prospector/internal/store"
	"github.com/sells-group/prospector/internal/vectorcache"
	"github.com/sells-group/prospector/pkg/apollo"
	"github.com/sells-group/prospector/pkg/embeddings"
	"github.com/sells-group/prospector/pkg/hunter"
	"github.com/sells-group/prospector/pkg/salesforce"
	"github.com/sells-group/prospector/pkg/vectorindex"
)

// appEnv holds the services a command needs. Services whose settings are
// missing stay nil.
type appEnv struct {
	Store     store.Store
	Enrich    *enrich.Service
	Engine    *scoring.Engine
	Optimizer *batch.Optimizer
	Convert   *conversion.Service
	Cache     *vectorcache.Cache

	redis *redis.Client
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.redis != nil {
		_ = e.redis.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "prospector.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEnv validates cfg for mode, opens and migrates the store, and builds
// every service whose settings are present. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st}

	if err := st.Migrate(ctx); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	if cfg.Apollo.Key != "" || cfg.Hunter.Key != "" {
		env.Enrich = enrich.NewService(st, newRouter(st))
	}

	if cfg.Embeddings.Key != "" && cfg.VectorIndex.Host != "" {
		embedder := embeddings.NewClient(cfg.Embeddings.Key,
			embeddings.WithBaseURL(cfg.Embeddings.BaseURL),
			embeddings.WithModel(cfg.Embeddings.Model),
			embeddings.WithDimensions(cfg.Embeddings.Dimensions),
		)
		var index scoring.VectorIndex = vectorindex.NewClient(cfg.VectorIndex.Key, cfg.VectorIndex.Host)
		if cfg.Redis.Addr != "" {
			env.redis = redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			env.Cache = vectorcache.New(env.redis, index, time.Duration(cfg.Redis.TTLMinutes)*time.Minute)
			index = env.Cache
			zap.L().Info("icp vector cache enabled", zap.String("addr", cfg.Redis.Addr))
		}

		env.Engine = scoring.NewEngine(st, embedder, index, scoring.WithActivity(cfg.Scoring.ActivityDefault))
		env.Optimizer = batch.NewOptimizer(env.Engine, st, embedder,
			batch.WithChunkSize(cfg.Scoring.FallbackChunkSize),
		)
	}

	var convOpts []conversion.Option
	if cfg.Salesforce.SyncLeads {
		sf, err := initSalesforce()
		if err != nil {
			env.Close()
			return nil, err
		}
		convOpts = append(convOpts, conversion.WithCRM(conversion.NewSalesforceCRM(sf)))
		zap.L().Info("salesforce lead sync enabled")
	}
	env.Convert = conversion.NewService(st, convOpts...)

	return env, nil
}

// newRouter registers both providers. A provider without a key is still
// registered so that selecting it reports the missing credential.
func newRouter(st store.Store) *enrich.Router {
	retry := resilience.FromConfig(cfg.Enrichment.MaxAttempts, cfg.Enrichment.InitialBackoffMs, cfg.Enrichment.MaxBackoffMs)
	opts := []enrich.ProviderOption{
		enrich.WithRetry(retry),
		enrich.WithTimeout(time.Duration(cfg.Enrichment.TimeoutSecs) * time.Second),
	}

	var apolloClient apollo.Client
	if cfg.Apollo.Key != "" {
		apolloClient = apollo.NewClient(cfg.Apollo.Key,
			apollo.WithBaseURL(cfg.Apollo.BaseURL),
			apollo.WithRateLimit(cfg.Apollo.RateLimit),
		)
	}
	var hunterClient hunter.Client
	if cfg.Hunter.Key != "" {
		hunterClient = hunter.NewClient(cfg.Hunter.Key,
			hunter.WithBaseURL(cfg.Hunter.BaseURL),
			hunter.WithRateLimit(cfg.Hunter.RateLimit),
		)
	}

	registry := enrich.NewRegistry(
		enrich.NewApolloProvider(apolloClient, opts...),
		enrich.NewHunterProvider(hunterClient, opts...),
	)
	tracker := quota.NewTracker(st, quotaLimits(cfg.Quota))
	return enrich.NewRouter(registry, tracker, st)
}

// quotaLimits applies configured caps to the default provider windows.
func quotaLimits(q config.QuotaConfig) []quota.Limit {
	limits := quota.DefaultLimits()
	for i := range limits {
		switch limits[i].Provider {
		case model.ProviderApollo:
			if q.ApolloLimit > 0 {
				limits[i].Max = q.ApolloLimit
			}
			if q.WarnFraction > 0 {
				limits[i].WarnFraction = q.WarnFraction
			}
		case model.ProviderHunter:
			if q.HunterLimit > 0 {
				limits[i].Max = q.HunterLimit
			}
		}
	}
	return limits
}

func initSalesforce() (salesforce.Client, error) {
	if err := cfg.Validate("salesforce"); err != nil {
		return nil, err
	}

	pemData, err := os.ReadFile(cfg.Salesforce.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "read salesforce JWT private key")
	}

	return salesforce.Connect(salesforce.Creds{
		LoginURL:   cfg.Salesforce.LoginURL,
		Username:   cfg.Salesforce.Username,
		ClientID:   cfg.Salesforce.ClientID,
		PrivateKey: string(pemData),
	}, salesforce.WithRateLimit(cfg.Salesforce.RateLimit))
}
