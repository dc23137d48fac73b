package main

import (
	"context"
	"flag"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"giftgate/internal/pkg/bootstrap"
	"giftgate/internal/pkg/logger"
	"giftgate/internal/pkg/metrics"
	"giftgate/internal/pkg/mq"
	"giftgate/internal/pkg/mysql"
	"giftgate/internal/pkg/redis"
	"giftgate/internal/pkg/tracing"
	"giftgate/internal/service/gift/application"
	"giftgate/internal/service/gift/domain"
	"giftgate/internal/service/gift/domain/port"
	"giftgate/internal/service/gift/infrastructure"
	"giftgate/internal/service/gift/interfaces"
)

// main 函数是应用的"组装根" (Composition Root)
// 它的核心职责是：创建并组装所有依赖项，然后启动应用。
func main() {
	configPath := flag.String("config", os.Getenv("GIFTGATE_CONFIG"), "path to the yaml config file")
	flag.Parse()

	cfg, err := bootstrap.Init(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Timezone); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize logger")
	}

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("gift-server exited")
	}
}

func run(cfg *bootstrap.Config) error {
	var closers []bootstrap.Closer
	abort := func(err error) error {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close(context.Background())
		}
		return err
	}

	// 1. 初始化核心技术组件
	tp, err := tracing.InitTracerProvider(cfg.App.Name, cfg.Infra.Jaeger.Endpoint)
	if err != nil {
		return err
	}
	closers = append(closers, bootstrap.Closer{Name: "tracer", Close: tp.Shutdown})
	tracer := otel.Tracer(cfg.App.Name)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// 2. 持久化网关
	gateway, gatewayCloser, err := buildGateway(cfg)
	if err != nil {
		return abort(err)
	}
	if gatewayCloser != nil {
		closers = append(closers, *gatewayCloser)
	}

	quotas, quotaCloser, err := buildQuotaRepository(cfg, gateway)
	if err != nil {
		return abort(err)
	}
	if quotaCloser != nil {
		closers = append(closers, *quotaCloser)
	}

	publisher, publisherCloser := buildUsagePublisher(cfg)
	if publisherCloser != nil {
		closers = append(closers, *publisherCloser)
	}

	// 3. 组装应用服务
	cache := application.NewReferenceCache(gateway, cfg.Cache.TTL, m)
	ledger := application.NewQuotaLedger(quotas, m)
	svc := application.NewGiftApplicationService(quotas, gateway, publisher, cache, ledger, cfg.Gift.MaxGift, tracer)

	handler := interfaces.NewConnHandler(svc, m, cfg.Server.IdleTimeout)
	server := interfaces.NewTCPServer(handler)
	ops := interfaces.NewOpsHandler(reg, cache.Ready)

	ln, err := interfaces.Listen(cfg.Server.Addr(), cfg.Server.Backlog)
	if err != nil {
		return abort(err)
	}

	ctx, stop := bootstrap.SignalContext()
	defer stop()

	return bootstrap.Run(ctx, bootstrap.AppInfo{
		ServiceName:     cfg.App.Name,
		Listener:        ln,
		Server:          server,
		Cache:           cache,
		OpsAddr:         cfg.Ops.Addr,
		RegisterOps:     ops.RegisterRoutes,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Closers:         closers,
	})
}

func buildGateway(cfg *bootstrap.Config) (port.Gateway, *bootstrap.Closer, error) {
	if cfg.Storage.Driver == bootstrap.StorageDriverMemory {
		repo := infrastructure.NewMemoryGiftRepository()
		for _, id := range cfg.Catalog.Devices {
			repo.AddDevice(domain.DeviceRef{ID: id})
		}
		for _, id := range cfg.Catalog.Products {
			repo.AddProduct(domain.ProductRef{ID: id})
		}
		log.Warn().Msg("using in-memory storage, quota ledger is lost on restart")
		return repo, nil, nil
	}

	db, err := mysql.NewGormDB(mysql.Options{
		Addr:         cfg.Storage.MySQL.Addr,
		User:         cfg.Storage.MySQL.User,
		Password:     cfg.Storage.MySQL.Password,
		Database:     cfg.Storage.MySQL.Database,
		MaxOpenConns: cfg.Storage.MySQL.MaxOpenConns,
	})
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	closer := &bootstrap.Closer{Name: "mysql", Close: func(context.Context) error { return sqlDB.Close() }}

	repo := infrastructure.NewGormGiftRepository(db)
	if cfg.Storage.MySQL.AutoMigrate {
		if err := repo.AutoMigrate(context.Background()); err != nil {
			_ = sqlDB.Close()
			return nil, nil, err
		}
	}
	return repo, closer, nil
}

func buildQuotaRepository(cfg *bootstrap.Config, gateway port.Gateway) (port.QuotaRepository, *bootstrap.Closer, error) {
	if cfg.Quota.Backend != bootstrap.QuotaBackendRedis {
		return gateway, nil, nil
	}

	redisClient, err := redis.NewClient(cfg.Infra.Redis.Addr, cfg.Infra.Redis.Password, cfg.Infra.Redis.DB)
	if err != nil {
		return nil, nil, err
	}
	adapter, err := infrastructure.NewRedisQuotaAdapter(redisClient)
	if err != nil {
		_ = redisClient.Close()
		return nil, nil, err
	}
	return adapter, &bootstrap.Closer{Name: "redis", Close: func(context.Context) error { return redisClient.Close() }}, nil
}

func buildUsagePublisher(cfg *bootstrap.Config) (port.UsagePublisher, *bootstrap.Closer) {
	if len(cfg.Infra.Kafka.Brokers) == 0 {
		return infrastructure.NoopUsagePublisher{}, nil
	}

	writer := mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.UsageTopic)
	// 异步写入，broker 抖动不拖慢终端回复
	writer.Async = true
	writer.Completion = func(messages []kafka.Message, err error) {
		if err != nil {
			log.Error().Err(err).Int("messages", len(messages)).Msg("failed to publish usage events")
		}
	}
	publisher := infrastructure.NewKafkaUsagePublisher(writer)
	return publisher, &bootstrap.Closer{Name: "kafka", Close: func(context.Context) error { return publisher.Close() }}
}
