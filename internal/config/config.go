package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Holds    HoldsConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type PostgresConfig struct {
	User     string
	Password string
	Name     string
	Host     string
	Port     int
	SSLMode  string
}

// HoldsConfig tunes the reservation engine. TTL governs how long a hold
// guards its tickets, the rush/rate knobs drive the allocation mode
// selector, and SweepInterval (0 = disabled) turns on the background
// purge loop that complements on-request purging.
type HoldsConfig struct {
	TTL            time.Duration
	MaxQty         int
	RushWindow     time.Duration
	RateWindow     time.Duration
	RateThreshold  int64
	RateLimitPerIP int64
	SweepInterval  time.Duration
}

func New() (*Config, error) {
	const op = "config.New"

	_ = godotenv.Load()

	serverHost := os.Getenv("SERVER_HOST")
	if serverHost == "" {
		serverHost = "localhost"
	}

	serverPort, err := intEnv("SERVER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	serverCfg := ServerConfig{
		Host: serverHost,
		Port: serverPort,
	}

	postgresHost := os.Getenv("POSTGRES_HOST")
	if postgresHost == "" {
		postgresHost = "localhost"
	}

	postgresPort, err := intEnv("POSTGRES_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	postgresUser := os.Getenv("POSTGRES_USER")
	if postgresUser == "" {
		return nil, fmt.Errorf("%s: missing POSTGRES_USER", op)
	}

	postgresPassword := os.Getenv("POSTGRES_PASSWORD")
	if postgresPassword == "" {
		return nil, fmt.Errorf("%s: missing POSTGRES_PASSWORD", op)
	}

	postgresDB := os.Getenv("POSTGRES_DB")
	if postgresDB == "" {
		return nil, fmt.Errorf("%s: missing POSTGRES_DB", op)
	}

	postgresSSLMode := os.Getenv("POSTGRES_SSLMODE")
	if postgresSSLMode == "" {
		postgresSSLMode = "disable"
	}

	postgresCfg := PostgresConfig{
		User:     postgresUser,
		Password: postgresPassword,
		Name:     postgresDB,
		Host:     postgresHost,
		Port:     postgresPort,
		SSLMode:  postgresSSLMode,
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	redisCfg := RedisConfig{
		Addr:     redisAddr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       0,
	}

	holdTTLMs, err := intEnv("HOLD_TTL_MS", 600000)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	maxQty, err := intEnv("HOLD_MAX_QTY", 10)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	rushWindowSec, err := intEnv("ALLOC_RUSH_WINDOW_SEC", 600)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	rateWindowSec, err := intEnv("ALLOC_RATE_WINDOW_SEC", 60)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	rateThreshold, err := intEnv("ALLOC_RATE_THRESHOLD", 60)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	rateLimitPerIP, err := intEnv("RATE_LIMIT_PER_IP", 30)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	sweepIntervalSec, err := intEnv("HOLD_SWEEP_INTERVAL_SEC", 0)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	holdsCfg := HoldsConfig{
		TTL:            time.Duration(holdTTLMs) * time.Millisecond,
		MaxQty:         maxQty,
		RushWindow:     time.Duration(rushWindowSec) * time.Second,
		RateWindow:     time.Duration(rateWindowSec) * time.Second,
		RateThreshold:  int64(rateThreshold),
		RateLimitPerIP: int64(rateLimitPerIP),
		SweepInterval:  time.Duration(sweepIntervalSec) * time.Second,
	}

	return &Config{
		Server:   serverCfg,
		Postgres: postgresCfg,
		Redis:    redisCfg,
		Holds:    holdsCfg,
	}, nil
}

func intEnv(name string, def int) (int, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}

	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}

	return v, nil
}
