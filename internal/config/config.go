package config

import (
	"fmt"
	"time"

	env "github.com/caarlos0/env/v11"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required"`
	Port        int    `env:"PORT" envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv      string `env:"APP_ENV" envDefault:"production"`

	// Saga engine.
	SagaMaxRetries int `env:"SAGA_MAX_RETRIES" envDefault:"3"`

	// Recovery job. The age floor must stay well below the scan
	// interval so a healthy in-flight saga is never reconciled.
	RecoveryIntervalS int `env:"RECOVERY_INTERVAL_S" envDefault:"300"`
	RecoveryMaxAgeS   int `env:"RECOVERY_MAX_AGE_S" envDefault:"60"`

	// Fee policy, basis points of the transferred amount.
	TransferFeeBps int64 `env:"TRANSFER_FEE_BPS" envDefault:"0"`

	// Response cache.
	CacheMaxEntries int `env:"CACHE_MAX_ENTRIES" envDefault:"10000"`
	CacheTTLS       int `env:"CACHE_TTL_S" envDefault:"300"`

	DBMaxOpenConns     int `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns     int `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLifetimeS int `env:"DB_CONN_MAX_LIFETIME_S" envDefault:"300"`
	DBConnMaxIdleTimeS int `env:"DB_CONN_MAX_IDLE_TIME_S" envDefault:"60"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

func (c *Config) RecoveryInterval() time.Duration {
	return time.Duration(c.RecoveryIntervalS) * time.Second
}

func (c *Config) RecoveryMaxAge() time.Duration {
	return time.Duration(c.RecoveryMaxAgeS) * time.Second
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLS) * time.Second
}
