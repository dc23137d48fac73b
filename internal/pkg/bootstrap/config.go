// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	StorageDriverMySQL  = "mysql"
	StorageDriverMemory = "memory"

	QuotaBackendStorage = "storage"
	QuotaBackendRedis   = "redis"
)

// Config 是整个服务的运行时配置，加载顺序: 默认值 -> YAML 文件 -> 环境变量
type Config struct {
	App     AppConfig     `yaml:"app"`
	Server  ServerConfig  `yaml:"server"`
	Gift    GiftConfig    `yaml:"gift"`
	Cache   CacheConfig   `yaml:"cache"`
	Storage StorageConfig `yaml:"storage"`
	Quota   QuotaConfig   `yaml:"quota"`
	Infra   InfraConfig   `yaml:"infra"`
	Ops     OpsConfig     `yaml:"ops"`
	Log     LogConfig     `yaml:"log"`
	Catalog CatalogConfig `yaml:"catalog"`
}

type AppConfig struct {
	Name string `yaml:"name"`
}

// ServerConfig 描述 TCP 监听器
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Backlog         int           `yaml:"backlog"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"` // 0 表示不设置读超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr 返回 host:port 形式的监听地址
func (s ServerConfig) Addr() string {
	return s.Host + ":" + strconv.Itoa(s.Port)
}

type GiftConfig struct {
	MaxGift int `yaml:"max_gift"`
}

type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

type StorageConfig struct {
	Driver string      `yaml:"driver"`
	MySQL  MySQLConfig `yaml:"mysql"`
}

type MySQLConfig struct {
	Addr         string `yaml:"addr"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	AutoMigrate  bool   `yaml:"auto_migrate"`
}

// QuotaConfig 决定配额计数器存放在哪里: storage 表示与目录同库, redis 表示使用 Lua 脚本的 Redis 账本
type QuotaConfig struct {
	Backend string `yaml:"backend"`
}

type InfraConfig struct {
	Redis  RedisConfig  `yaml:"redis"`
	Kafka  KafkaConfig  `yaml:"kafka"`
	Jaeger JaegerConfig `yaml:"jaeger"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers    []string `yaml:"brokers"`
	UsageTopic string   `yaml:"usage_topic"`
}

type JaegerConfig struct {
	Endpoint string `yaml:"endpoint"`
}

type OpsConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level    string `yaml:"level"`
	Timezone string `yaml:"timezone"`
}

// CatalogConfig 仅供 memory 驱动使用，用于预置合法的设备和商品
type CatalogConfig struct {
	Devices  []int64 `yaml:"devices"`
	Products []int64 `yaml:"products"`
}

var currentConfig atomic.Pointer[Config]

// GetCurrentConfig 返回最近一次 Init 加载的配置
func GetCurrentConfig() *Config {
	if cfg := currentConfig.Load(); cfg != nil {
		return cfg
	}
	return DefaultConfig()
}

// Init 加载配置并设置为当前配置
func Init(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	currentConfig.Store(cfg)
	return cfg, nil
}

// DefaultConfig 返回与线上终端约定一致的默认配置
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{Name: "gift-server"},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            9224,
			Backlog:         512,
			ShutdownTimeout: 10 * time.Second,
		},
		Gift:  GiftConfig{MaxGift: 2},
		Cache: CacheConfig{TTL: 24 * time.Hour},
		Storage: StorageConfig{
			Driver: StorageDriverMySQL,
			MySQL: MySQLConfig{
				Addr:         "127.0.0.1:3306",
				User:         "root",
				Database:     "vending",
				MaxOpenConns: 50,
			},
		},
		Quota: QuotaConfig{Backend: QuotaBackendStorage},
		Infra: InfraConfig{
			Redis: RedisConfig{Addr: "localhost:6379"},
			Kafka: KafkaConfig{UsageTopic: "gift-usage-events"},
		},
		Ops: OpsConfig{Addr: ":9225"},
		Log: LogConfig{Level: "info", Timezone: "Asia/Tehran"},
	}
}

// LoadConfig 按 默认值 -> 文件 -> 环境变量 的顺序解析配置，path 为空时跳过文件
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config file %s", path)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config file %s", path)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验启动必需的配置项
func (c *Config) Validate() error {
	if c.Gift.MaxGift < 1 {
		return errors.Errorf("gift.max_gift must be positive, got %d", c.Gift.MaxGift)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return errors.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Server.Backlog < 1 {
		return errors.Errorf("server.backlog must be positive, got %d", c.Server.Backlog)
	}
	if c.Cache.TTL <= 0 {
		return errors.Errorf("cache.ttl must be positive, got %s", c.Cache.TTL)
	}
	switch c.Storage.Driver {
	case StorageDriverMySQL, StorageDriverMemory:
	default:
		return errors.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	switch c.Quota.Backend {
	case QuotaBackendStorage, QuotaBackendRedis:
	default:
		return errors.Errorf("unknown quota.backend %q", c.Quota.Backend)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.App.Name = getEnv("APP_NAME", cfg.App.Name)
	cfg.Server.Host = getEnv("SERVER_HOST", cfg.Server.Host)
	cfg.Storage.Driver = getEnv("STORAGE_DRIVER", cfg.Storage.Driver)
	cfg.Storage.MySQL.Addr = getEnv("MYSQL_ADDR", cfg.Storage.MySQL.Addr)
	cfg.Storage.MySQL.User = getEnv("MYSQL_USER", cfg.Storage.MySQL.User)
	cfg.Storage.MySQL.Password = getEnv("MYSQL_PASSWORD", cfg.Storage.MySQL.Password)
	cfg.Storage.MySQL.Database = getEnv("MYSQL_DATABASE", cfg.Storage.MySQL.Database)
	cfg.Quota.Backend = getEnv("QUOTA_BACKEND", cfg.Quota.Backend)
	cfg.Infra.Redis.Addr = getEnv("REDIS_ADDR", cfg.Infra.Redis.Addr)
	cfg.Infra.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Infra.Redis.Password)
	cfg.Infra.Kafka.UsageTopic = getEnv("KAFKA_USAGE_TOPIC", cfg.Infra.Kafka.UsageTopic)
	cfg.Infra.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", cfg.Infra.Jaeger.Endpoint)
	cfg.Ops.Addr = getEnv("OPS_ADDR", cfg.Ops.Addr)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Timezone = getEnv("LOG_TIMEZONE", cfg.Log.Timezone)

	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		cfg.Infra.Kafka.Brokers = strings.Split(brokers, ",")
	}

	var err error
	if cfg.Server.Port, err = getEnvInt("SERVER_PORT", cfg.Server.Port); err != nil {
		return err
	}
	if cfg.Server.Backlog, err = getEnvInt("SERVER_BACKLOG", cfg.Server.Backlog); err != nil {
		return err
	}
	if cfg.Gift.MaxGift, err = getEnvInt("MAX_GIFT", cfg.Gift.MaxGift); err != nil {
		return err
	}
	if cfg.Cache.TTL, err = getEnvDuration("CACHE_TTL", cfg.Cache.TTL); err != nil {
		return err
	}
	if cfg.Server.IdleTimeout, err = getEnvDuration("SERVER_IDLE_TIMEOUT", cfg.Server.IdleTimeout); err != nil {
		return err
	}
	if cfg.Server.ShutdownTimeout, err = getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout); err != nil {
		return err
	}
	if v, ok := os.LookupEnv("MYSQL_AUTO_MIGRATE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrap(err, "MYSQL_AUTO_MIGRATE")
		}
		cfg.Storage.MySQL.AutoMigrate = b
	}
	return nil
}

// getEnv 是一个内部辅助函数，从环境变量中读取配置。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s", key)
	}
	return n, nil
}

// getEnvDuration 同时接受 "24h" 这种写法和纯秒数 "86400"
func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	value = strings.TrimSpace(value)
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s", key)
	}
	return d, nil
}
