package di

import (
	"context"
	"fmt"
	"time"

	"SignalGate/internal/domain/repository"
	"SignalGate/internal/handler/api"
	internalrepo "SignalGate/internal/repository"
	svccache "SignalGate/internal/service/cache"
	svcmetrics "SignalGate/internal/service/metrics"
	"SignalGate/internal/service/ratelimit"
	"SignalGate/internal/services/decision"
	"SignalGate/internal/services/indicators"
	"SignalGate/internal/usecase"
	pkgcache "SignalGate/pkg/cache"
	pkgch "SignalGate/pkg/clickhouse"
	"SignalGate/pkg/config"
	xhttp "SignalGate/pkg/http"
	pkgkafka "SignalGate/pkg/kafka"
	"SignalGate/pkg/logger"
	pkgmetrics "SignalGate/pkg/metrics"
	"SignalGate/pkg/queue"
	"SignalGate/pkg/server"
	"SignalGate/pkg/util"
)

// ProvideLogger builds the application logger.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return svcmetrics.NewRecorder(pkgmetrics.New())
}

// ProvideCacheStore returns Redis when enabled, otherwise an in-process cache
// that only lives as long as the process.
func ProvideCacheStore(cfg *config.Config, log *logger.Logger) (pkgcache.Service, error) {
	if !cfg.Redis.Enabled {
		log.Warn("redis disabled, using in-memory cache")
		return pkgcache.NewMemoryCache(), nil
	}
	rc, err := pkgcache.NewRedisCache(
		pkgcache.WithRedisAddr(cfg.Redis.Host, cfg.Redis.Port),
		pkgcache.WithRedisPassword(cfg.Redis.Password),
		pkgcache.WithRedisDB(cfg.Redis.DB),
		pkgcache.WithRedisPool(cfg.Redis.PoolSize, 2, 30*time.Second),
		pkgcache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return rc, nil
}

func ProvideValidationCache(store pkgcache.Service, log *logger.Logger, metrics repository.Metrics) *svccache.ValidationCache {
	return svccache.NewValidationCache(store, log, metrics)
}

func ProvideSwitchStore(store pkgcache.Service) *svccache.SwitchStore {
	return svccache.NewSwitchStore(store)
}

// ProvideClickHouseClient creates a ClickHouse client, or nil when disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := pkgch.NewClient(ctx,
		pkgch.WithHost(cfg.ClickHouse.Host, cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

func retryPolicy(cfg *config.Config) indicators.RetryPolicy {
	p := indicators.DefaultRetryPolicy()
	p.Attempts = cfg.Indicators.RetryAttempts
	p.Backoff = cfg.Indicators.RetryBackoff
	return p
}

// ProvideIndicatorProvider selects the snapshot source.
func ProvideIndicatorProvider(cfg *config.Config, ch *pkgch.Client, log *logger.Logger) (repository.IndicatorProvider, error) {
	switch cfg.Indicators.Source {
	case "clickhouse":
		if ch == nil {
			return nil, fmt.Errorf("indicators: clickhouse source requires clickhouse.enabled")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := ch.InitSchema(ctx, internalrepo.IndicatorSchema(cfg.Indicators.Table)); err != nil {
			return nil, fmt.Errorf("indicator schema: %w", err)
		}
		return internalrepo.NewCHIndicatorProvider(ch, cfg.Indicators.Table, retryPolicy(cfg), log), nil
	default:
		client := xhttp.NewClient(cfg.Indicators.BaseURL,
			xhttp.WithTimeout(cfg.Indicators.Timeout),
			xhttp.WithHeader("X-API-Key", cfg.Indicators.APIKey),
		)
		limiter := ratelimit.New(cfg.Indicators.RatePerSecond, cfg.Indicators.Burst)
		base := indicators.NewHTTPServiceBase(client, limiter, retryPolicy(cfg))
		return internalrepo.NewHTTPIndicatorProvider(base, log), nil
	}
}

// ProvidePositionProvider returns the account service client, or a provider
// reporting no exposure when none is configured.
func ProvidePositionProvider(cfg *config.Config, log *logger.Logger) repository.PositionProvider {
	if cfg.Positions.BaseURL == "" {
		log.Warn("positions.base_url not set, exposure pre-filter disabled")
		return internalrepo.NoExposure{}
	}
	client := xhttp.NewClient(cfg.Positions.BaseURL,
		xhttp.WithTimeout(cfg.Positions.Timeout),
		xhttp.WithHeader("X-API-Key", cfg.Positions.APIKey),
	)
	base := indicators.NewHTTPServiceBase(client, ratelimit.New(0, 0), indicators.DefaultRetryPolicy())
	return internalrepo.NewHTTPPositionProvider(base)
}

// ProvideKafkaProducer creates a Kafka producer, or nil without brokers. When
// enabled, the log collector ships aggregated errors through it.
func ProvideKafkaProducer(cfg *config.Config, log *logger.Logger) (*pkgkafka.Producer, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatch(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.WriteTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	if cfg.Log.Collector.Enabled {
		log.AddCollector(&logger.CollectionConfig{
			TimeInterval:   cfg.Log.Collector.Interval,
			CountThreshold: cfg.Log.Collector.Threshold,
			Topic:          cfg.Log.Collector.Topic,
			Publisher:      producer,
		})
	}
	return producer, nil
}

// ProvideDecisionSink selects where READY verdicts are handed off.
func ProvideDecisionSink(cfg *config.Config, producer *pkgkafka.Producer, store pkgcache.Service, log *logger.Logger) (repository.DecisionSink, error) {
	switch cfg.Sink.Type {
	case "kafka":
		if producer == nil {
			return nil, fmt.Errorf("decision sink: kafka brokers are not configured")
		}
		return internalrepo.NewKafkaDecisionSink(producer, cfg.Kafka.DecisionTopic), nil
	case "redis":
		rc, ok := store.(*pkgcache.RedisCache)
		if !ok {
			return nil, fmt.Errorf("decision sink: redis sink requires redis.enabled")
		}
		q := queue.NewRedisQueue(rc.Client(),
			queue.WithKeyPrefix(cfg.Redis.Prefix+":queue"),
			queue.WithMaxLen(cfg.Sink.QueueMaxLen),
		)
		return internalrepo.NewQueueDecisionSink(q), nil
	default:
		return internalrepo.NewLogDecisionSink(log), nil
	}
}

// ProvideAuditStore returns the ClickHouse audit store with its schema in
// place, or a no-op store when ClickHouse is disabled.
func ProvideAuditStore(ch *pkgch.Client, log *logger.Logger) (repository.AuditStore, error) {
	if ch == nil {
		return internalrepo.NopAuditStore{}, nil
	}
	store := internalrepo.NewCHAuditStore(ch, log)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("audit schema: %w", err)
	}
	return store, nil
}

func ProvideProfiles(cfg *config.Config) (map[string]*decision.Profile, error) {
	profiles, err := decision.DecodeProfiles(cfg.Profiles)
	if err != nil {
		return nil, fmt.Errorf("profiles: %w", err)
	}
	return profiles, nil
}

func ProvideOrchestratorConfig(cfg *config.Config) (usecase.OrchestratorConfig, error) {
	switchFor, err := util.ParseDuration(cfg.Run.SwitchDuration)
	if err != nil {
		return usecase.OrchestratorConfig{}, fmt.Errorf("run.switch_duration: %w", err)
	}
	cooldown, err := util.ParseDuration(cfg.Run.ExposureCooldown)
	if err != nil {
		return usecase.OrchestratorConfig{}, fmt.Errorf("run.exposure_cooldown: %w", err)
	}
	return usecase.OrchestratorConfig{
		DefaultProfile:   cfg.Run.Profile,
		Workers:          cfg.Run.Workers,
		SymbolLock:       cfg.Run.SymbolLock,
		LockTTL:          cfg.Run.LockTTL,
		GraceWindow:      cfg.Run.GraceWindow,
		SymbolTimeout:    cfg.Run.SymbolTimeout,
		ExposureCooldown: cooldown,
		StreakThreshold:  cfg.Run.InvalidStreakThreshold,
		SwitchDuration:   switchFor,
	}, nil
}

func ProvideRunRegistry() *usecase.RunRegistry {
	return usecase.NewRunRegistry(0)
}

func ProvideAuditProjector(store repository.AuditStore, sink repository.DecisionSink, metrics repository.Metrics, log *logger.Logger) *usecase.AuditProjector {
	return usecase.NewAuditProjector(store, sink, metrics, log)
}

func ProvideOrchestrator(
	oc usecase.OrchestratorConfig,
	profiles map[string]*decision.Profile,
	provider repository.IndicatorProvider,
	positions repository.PositionProvider,
	cache *svccache.ValidationCache,
	switches *svccache.SwitchStore,
	projector *usecase.AuditProjector,
	registry *usecase.RunRegistry,
	metrics repository.Metrics,
	log *logger.Logger,
) *usecase.Orchestrator {
	return usecase.NewOrchestrator(oc, profiles, provider, positions, cache, switches, projector, registry, metrics, log)
}

// ProvideKafkaConsumer creates the run-request consumer, or nil without brokers.
func ProvideKafkaConsumer(cfg *config.Config, log *logger.Logger) (*pkgkafka.Consumer, error) {
	if len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.RunRequestTopic == "" {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(log,
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

func ProvideRunRequestsHandler(cfg *config.Config, orch *usecase.Orchestrator, metrics repository.Metrics, log *logger.Logger) *usecase.RunRequestsHandler {
	return usecase.NewRunRequestsHandler(cfg.Kafka.RunRequestTopic, orch, metrics, log)
}

// ProvideHTTPServer registers the ops API with health checks for every
// configured backend.
func ProvideHTTPServer(
	cfg *config.Config,
	log *logger.Logger,
	orch *usecase.Orchestrator,
	cache *svccache.ValidationCache,
	switches *svccache.SwitchStore,
	store pkgcache.Service,
	audit repository.AuditStore,
) *xhttp.Server {
	handlers := []xhttp.Handler{
		api.NewRunsEchoHandler(log, orch, orch.Runs(), cache),
		api.NewSwitchesEchoHandler(log, switches),
	}
	opts := []xhttp.ServerOption{
		xhttp.WithAddr(cfg.Server.Host, cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithHealthCheck("audit_store", audit.Health),
	}
	if rc, ok := store.(*pkgcache.RedisCache); ok {
		opts = append(opts, xhttp.WithHealthCheck("redis", func(ctx context.Context) error {
			return rc.Client().Ping(ctx).Err()
		}))
	}
	return xhttp.NewServer(log, handlers, opts...)
}

// ProvideApp creates the application.
func ProvideApp(
	cfg *config.Config,
	log *logger.Logger,
	orch *usecase.Orchestrator,
	httpServer *xhttp.Server,
	consumer *pkgkafka.Consumer,
	handler *usecase.RunRequestsHandler,
	sink repository.DecisionSink,
	producer *pkgkafka.Producer,
	ch *pkgch.Client,
	store pkgcache.Service,
) *server.App {
	return server.New(cfg, log, orch, httpServer, consumer, handler, sink, producer, ch, store)
}
