package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Queue    QueueConfig
	Channel  ChannelConfig
	Retry    RetryConfig
	Dispatch DispatchConfig
}

type ServerConfig struct {
	Address string
}

type DatabaseConfig struct {
	PostgresURL string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

type QueueConfig struct {
	AMQPURL string
	Workers int
}

type ChannelConfig struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	ContentMax int
}

type RetryConfig struct {
	Interval       time.Duration
	BatchSize      int
	BackoffTable   []time.Duration
	PermanentCodes []string
}

type DispatchConfig struct {
	BatchSize  int
	RatePerSec int
	LockTTL    time.Duration
}

func LoadAll() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
		},
		Database: DatabaseConfig{
			PostgresURL: mustEnv("POSTGRES_URL"),
		},
		Queue: QueueConfig{
			AMQPURL: mustEnv("AMQP_URL"),
			Workers: getEnvInt("QUEUE_WORKERS", 3),
		},
		Channel: ChannelConfig{
			BaseURL:    mustEnv("CHANNEL_URL"),
			Token:      os.Getenv("CHANNEL_TOKEN"),
			Timeout:    time.Duration(getEnvInt("CHANNEL_TIMEOUT_SECONDS", 10)) * time.Second,
			ContentMax: getEnvInt("CONTENT_MAX", 4096),
		},
		Retry: RetryConfig{
			Interval:       time.Duration(getEnvInt("RETRY_INTERVAL_SECONDS", 300)) * time.Second,
			BatchSize:      getEnvInt("RETRY_BATCH_SIZE", 100),
			BackoffTable:   getEnvMinutes("RETRY_BACKOFF_MINUTES", []int{5, 15, 60}),
			PermanentCodes: getEnvList("RETRY_PERMANENT_CODES", []string{"invalid_destination", "recipient_blocked", "compliance_block"}),
		},
		Dispatch: DispatchConfig{
			BatchSize:  getEnvInt("DISPATCH_BATCH_SIZE", 50),
			RatePerSec: getEnvInt("DISPATCH_RATE_PER_SEC", 10),
			LockTTL:    time.Duration(getEnvInt("DISPATCH_LOCK_TTL_SECONDS", 600)) * time.Second,
		},
		Redis: loadRedisConfig(),
	}

	validate(cfg)
	return cfg, nil
}

func loadRedisConfig() RedisConfig {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}
	}

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       getEnvInt("REDIS_DB", 0),
		TTL:      time.Duration(getEnvInt("REDIS_TTL_SECONDS", 86400)) * time.Second,
	}
}

func validate(cfg *Config) {
	if cfg.Dispatch.BatchSize <= 0 {
		panic("DISPATCH_BATCH_SIZE must be > 0")
	}
	if cfg.Dispatch.RatePerSec <= 0 {
		panic("DISPATCH_RATE_PER_SEC must be > 0")
	}
	if cfg.Retry.Interval <= 0 {
		panic("RETRY_INTERVAL_SECONDS must be > 0")
	}
	if cfg.Retry.BatchSize <= 0 {
		panic("RETRY_BATCH_SIZE must be > 0")
	}
	if len(cfg.Retry.BackoffTable) == 0 {
		panic("RETRY_BACKOFF_MINUTES must not be empty")
	}
	if cfg.Channel.ContentMax <= 0 {
		panic("CONTENT_MAX must be > 0")
	}
	if cfg.Queue.Workers <= 0 {
		panic("QUEUE_WORKERS must be > 0")
	}
}

func mustEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("missing required env var: %s", key))
	}
	return val
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		panic(fmt.Sprintf("invalid int for env %s: %s", key, v))
	}
	return i
}

func getEnvList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvMinutes(key string, def []int) []time.Duration {
	raw := getEnvList(key, nil)
	mins := def
	if raw != nil {
		mins = make([]int, 0, len(raw))
		for _, p := range raw {
			m, err := strconv.Atoi(p)
			if err != nil || m <= 0 {
				panic(fmt.Sprintf("invalid minutes value for env %s: %s", key, p))
			}
			mins = append(mins, m)
		}
	}
	out := make([]time.Duration, 0, len(mins))
	for _, m := range mins {
		out = append(out, time.Duration(m)*time.Minute)
	}
	return out
}
