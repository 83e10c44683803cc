// Package config loads the proxy's process configuration from the
// environment, following the defaults-then-env-override-then-validate
// pipeline the rest of this codebase's lineage uses for its (much larger)
// configuration surface — scaled down here to the two variables the proxy
// actually recognizes.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/maxermolaev/cache-proxy-go/internal/logging"
)

const (
	// DefaultExecutorCount is used when CLIENT_HANDLER_COUNT is unset.
	DefaultExecutorCount = 8
	// DefaultCacheExpiry is used when CACHE_EXPIRED_TIME_MS is unset.
	DefaultCacheExpiry = 60_000 * time.Millisecond
	// DefaultQueueCapacity is the smallest task queue Load configures. No
	// environment variable sets the queue size: Load uses eight slots per
	// executor and raises the result to this value when it is smaller.
	DefaultQueueCapacity = 64
	// DefaultCacheCapacity sizes the cache's bucket array.
	DefaultCacheCapacity = 1024
)

// Config holds the proxy's runtime configuration.
type Config struct {
	ExecutorCount int
	CacheExpiry   time.Duration
	QueueCapacity int
	CacheCapacity int
}

// Load builds a Config from defaults overridden by CLIENT_HANDLER_COUNT and
// CACHE_EXPIRED_TIME_MS, then validates it. Invalid environment values are
// logged and the default is kept rather than failing startup — the
// loader treats misconfiguration as a warning, not a
// fatal condition, reserving fatal-on-misuse for the missing port argument.
func Load() (*Config, error) {
	cfg := &Config{
		ExecutorCount: DefaultExecutorCount,
		CacheExpiry:   DefaultCacheExpiry,
		QueueCapacity: DefaultQueueCapacity,
		CacheCapacity: DefaultCacheCapacity,
	}

	if v, ok := os.LookupEnv("CLIENT_HANDLER_COUNT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			logging.Log("Config warning: invalid CLIENT_HANDLER_COUNT %q, using default %d", v, DefaultExecutorCount)
		} else {
			cfg.ExecutorCount = n
		}
	}

	if v, ok := os.LookupEnv("CACHE_EXPIRED_TIME_MS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			logging.Log("Config warning: invalid CACHE_EXPIRED_TIME_MS %q, using default %s", v, DefaultCacheExpiry)
		} else {
			cfg.CacheExpiry = time.Duration(n) * time.Millisecond
		}
	}

	cfg.QueueCapacity = cfg.ExecutorCount * 8
	if cfg.QueueCapacity < DefaultQueueCapacity {
		cfg.QueueCapacity = DefaultQueueCapacity
	}

	return cfg, cfg.Validate()
}

// Validate checks invariants the cache and worker pool both require at
// construction time.
func (c *Config) Validate() error {
	if c.ExecutorCount <= 0 {
		return fmt.Errorf("config: executor count must be positive, got %d", c.ExecutorCount)
	}
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("config: queue capacity must be positive, got %d", c.QueueCapacity)
	}
	if c.CacheCapacity <= 0 {
		return fmt.Errorf("config: cache capacity must be positive, got %d", c.CacheCapacity)
	}
	if c.CacheExpiry <= 0 {
		return fmt.Errorf("config: cache expiry must be positive, got %s", c.CacheExpiry)
	}
	return nil
}
