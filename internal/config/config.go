package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis config. Redis is optional: leaving REDIS_HOST empty disables
	// dispatch leases and rate limiting.
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Push gateway config. Without SNS_ENABLED the service logs simulated
	// sends instead of publishing.
	AWSRegion  string
	SNSEnabled bool

	// Dispatch config
	PushTimeout         time.Duration
	DispatchConcurrency int

	// Scheduler config
	SweepInterval time.Duration
	SweepBatch    int

	// Admin API auth
	JWTSecret string

	// Rate limiting (requests per minute per user; 0 disables)
	RateLimit int
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		// Local postgres defaults
		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "fitgent",
		DBPassword: "",
		DBName:     "fitgent",
		DBSSLMode:  "disable",

		// Redis defaults
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		AWSRegion: "us-east-1",

		PushTimeout:         10 * time.Second,
		DispatchConcurrency: 4,
		SweepInterval:       time.Minute,
		SweepBatch:          100,

		RateLimit: 120,
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Database config
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	if enabled := os.Getenv("SNS_ENABLED"); enabled != "" {
		b, err := strconv.ParseBool(enabled)
		if err != nil {
			return nil, fmt.Errorf("invalid SNS_ENABLED: %w", err)
		}
		cfg.SNSEnabled = b
	}

	if timeout := os.Getenv("PUSH_TIMEOUT"); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid PUSH_TIMEOUT: %w", err)
		}
		cfg.PushTimeout = d
	}

	if n := os.Getenv("DISPATCH_CONCURRENCY"); n != "" {
		c, err := strconv.Atoi(n)
		if err != nil {
			return nil, fmt.Errorf("invalid DISPATCH_CONCURRENCY: %w", err)
		}
		cfg.DispatchConcurrency = c
	}

	if interval := os.Getenv("SWEEP_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			return nil, fmt.Errorf("invalid SWEEP_INTERVAL: %w", err)
		}
		cfg.SweepInterval = d
	}

	if batch := os.Getenv("SWEEP_BATCH"); batch != "" {
		b, err := strconv.Atoi(batch)
		if err != nil {
			return nil, fmt.Errorf("invalid SWEEP_BATCH: %w", err)
		}
		cfg.SweepBatch = b
	}

	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.JWTSecret = secret
	}

	if limit := os.Getenv("RATE_LIMIT"); limit != "" {
		l, err := strconv.Atoi(limit)
		if err != nil {
			return nil, fmt.Errorf("invalid RATE_LIMIT: %w", err)
		}
		cfg.RateLimit = l
	}

	return cfg, nil
}
