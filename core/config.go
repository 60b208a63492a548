package core

import (
	"fmt"
	"strings"
	"time"
)

type RetryConfig struct {
	SweepInterval  time.Duration `koanf:"sweep_interval" mapstructure:"sweep_interval"`
	BatchSize      int           `koanf:"batch_size" mapstructure:"batch_size"`
	InitialBackoff time.Duration `koanf:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff" mapstructure:"max_backoff"`
	// JitterFraction bounds the random offset added to each backoff delay,
	// expressed as a fraction of the computed delay. Zero disables jitter.
	JitterFraction float64 `koanf:"jitter_fraction" mapstructure:"jitter_fraction"`
}

type DedupConfig struct {
	KeyTTL time.Duration `koanf:"key_ttl" mapstructure:"key_ttl"`
	// HashBucket is the time bucket appended to content-hash dedup keys for
	// events that arrive without an external event id.
	HashBucket time.Duration `koanf:"hash_bucket" mapstructure:"hash_bucket"`
}

type Config struct {
	ServiceName     string        `koanf:"service_name" mapstructure:"service_name"`
	MaxAttempts     int           `koanf:"max_attempts" mapstructure:"max_attempts"`
	DispatchTimeout time.Duration `koanf:"dispatch_timeout" mapstructure:"dispatch_timeout"`
	Retry           RetryConfig   `koanf:"retry" mapstructure:"retry"`
	Dedup           DedupConfig   `koanf:"dedup" mapstructure:"dedup"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName:     "ingest",
		MaxAttempts:     5,
		DispatchTimeout: 10 * time.Second,
		Retry: RetryConfig{
			SweepInterval:  5 * time.Second,
			BatchSize:      50,
			InitialBackoff: 2 * time.Second,
			MaxBackoff:     5 * time.Minute,
			JitterFraction: 0.2,
		},
		Dedup: DedupConfig{
			KeyTTL:     2 * time.Hour,
			HashBucket: time.Minute,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("core: max_attempts must be greater than zero")
	}
	if c.Retry.JitterFraction < 0 || c.Retry.JitterFraction >= 1 {
		return fmt.Errorf("core: retry.jitter_fraction must be in [0, 1)")
	}
	if c.Retry.MaxBackoff > 0 && c.Retry.InitialBackoff > c.Retry.MaxBackoff {
		return fmt.Errorf("core: retry.initial_backoff exceeds retry.max_backoff")
	}
	return nil
}
