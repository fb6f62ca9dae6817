package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks enumerated settings and numeric bounds. It collects every
// problem instead of stopping at the first one.
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver))
	}

	switch c.Webhook.Mode {
	case ModeSync, ModeAsync:
	default:
		errs = append(errs, fmt.Errorf("webhook.mode must be sync or async, got %q", c.Webhook.Mode))
	}
	if c.Webhook.TimeoutMs <= 0 {
		errs = append(errs, fmt.Errorf("webhook.timeout_ms must be positive, got %d", c.Webhook.TimeoutMs))
	}
	if c.Webhook.Mode == ModeAsync {
		if c.Webhook.Workers <= 0 {
			errs = append(errs, fmt.Errorf("webhook.workers must be positive in async mode, got %d", c.Webhook.Workers))
		}
		if c.Webhook.QueueSize <= 0 {
			errs = append(errs, fmt.Errorf("webhook.queue_size must be positive in async mode, got %d", c.Webhook.QueueSize))
		}
	}

	switch c.Receiver.Lock {
	case LockMemory:
	case LockRedis:
		if strings.TrimSpace(c.Redis.Addr) == "" {
			errs = append(errs, errors.New("redis.addr is required when receiver.lock is redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("receiver.lock must be memory or redis, got %q", c.Receiver.Lock))
	}

	for i, m := range c.TypeMappings {
		if strings.TrimSpace(m.Source) == "" || strings.TrimSpace(m.Local) == "" {
			errs = append(errs, fmt.Errorf("type_mappings[%d]: source and local are required", i))
		}
	}

	return errors.Join(errs...)
}
