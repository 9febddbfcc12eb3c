package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	base "github.com/felipeneri/base-trade/libs/config"
)

type DBConfig struct {
	Host         string
	Port         int
	Name         string
	User         string
	Password     string
	SSLMode      string
	QueryTimeout time.Duration
}

type KafkaTopics struct {
	OrdersAccepted  string
	OrdersCancelled string
	TradesExecuted  string
	DeadLetter      string
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topics  KafkaTopics
}

type RedisConfig struct {
	Addr string
}

type RateLimitConfig struct {
	Limit  int
	Window time.Duration
}

type Config struct {
	App       base.AppConfig
	DB        DBConfig
	Kafka     KafkaConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
}

func Load() (*Config, error) {
	appCfg, err := base.Load(os.Getenv("BT_CONFIG"))
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("BT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := os.Getenv("BT_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topics.orders_accepted", "orders.accepted")
	v.SetDefault("kafka.topics.orders_cancelled", "orders.cancelled")
	v.SetDefault("kafka.topics.trades_executed", "trades.executed")
	v.SetDefault("kafka.topics.dead_letter", "dead_letter")
	v.SetDefault("rate_limit.limit", 20)
	v.SetDefault("rate_limit.window", "1s")

	cfg := &Config{
		App: *appCfg,
		DB: DBConfig{
			Host:         envString("DB_HOST", envString("POSTGRES_HOST", "localhost")),
			Port:         envInt("DB_PORT", envInt("POSTGRES_PORT", 5432)),
			Name:         envString("DB_NAME", envString("POSTGRES_DB", "base_trade")),
			User:         envString("DB_USER", envString("POSTGRES_USER", "basetrade")),
			Password:     envString("DB_PASSWORD", envString("POSTGRES_PASSWORD", "basetrade")),
			SSLMode:      envString("DB_SSLMODE", envString("POSTGRES_SSLMODE", "disable")),
			QueryTimeout: envDuration("DB_QUERY_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Enabled: envBool("KAFKA_ENABLED", v.GetBool("kafka.enabled")),
			Brokers: envCSV("KAFKA_BROKERS", v.GetStringSlice("kafka.brokers")),
			Topics: KafkaTopics{
				OrdersAccepted:  envString("KAFKA_ORDERS_ACCEPTED_TOPIC", v.GetString("kafka.topics.orders_accepted")),
				OrdersCancelled: envString("KAFKA_ORDERS_CANCELLED_TOPIC", v.GetString("kafka.topics.orders_cancelled")),
				TradesExecuted:  envString("KAFKA_TRADES_TOPIC", v.GetString("kafka.topics.trades_executed")),
				DeadLetter:      envString("KAFKA_DLQ_TOPIC", v.GetString("kafka.topics.dead_letter")),
			},
		},
		Redis: RedisConfig{
			Addr: envString("REDIS_ADDR", v.GetString("redis.addr")),
		},
		RateLimit: RateLimitConfig{
			Limit:  envInt("RATE_LIMIT", v.GetInt("rate_limit.limit")),
			Window: envDuration("RATE_LIMIT_WINDOW", v.GetDuration("rate_limit.window")),
		},
	}

	if cfg.App.HTTP.Port <= 0 {
		return nil, fmt.Errorf("http port must be positive")
	}
	if cfg.DB.QueryTimeout <= 0 {
		return nil, fmt.Errorf("db query timeout must be positive")
	}
	if cfg.Kafka.Enabled {
		if len(cfg.Kafka.Brokers) == 0 {
			return nil, fmt.Errorf("kafka brokers required")
		}
		if cfg.Kafka.Topics.OrdersAccepted == "" || cfg.Kafka.Topics.OrdersCancelled == "" || cfg.Kafka.Topics.TradesExecuted == "" {
			return nil, fmt.Errorf("kafka topics required")
		}
	}
	if cfg.RateLimit.Limit <= 0 {
		return nil, fmt.Errorf("rate limit must be positive")
	}
	if cfg.RateLimit.Window <= 0 {
		return nil, fmt.Errorf("rate limit window must be positive")
	}

	return cfg, nil
}

// DSN renders the postgres connection string for pgxpool.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

func envString(key, def string) string {
	if v := os.Getenv("BT_" + key); v != "" {
		return v
	}
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv("BT_" + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv("BT_" + key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv("BT_" + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envCSV(key string, def []string) []string {
	raw := os.Getenv("BT_" + key)
	if raw == "" {
		raw = os.Getenv(key)
	}
	if raw == "" {
		return def
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
