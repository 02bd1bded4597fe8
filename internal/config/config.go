// Package config binds the flat configuration surface of RRLS onto a
// typed Config from RRLS_* environment variables or an equivalent
// string map.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config groups every tunable named in the flat key → meaning table.
// Struct tags are the envconfig keys (prefix "RRLS_"); FromMap accepts
// the camelCase flat-string keys (e.g. "maxAttempts") instead.
type Config struct {
	ServiceName string `envconfig:"SERVICE_NAME" default:"rrls"`

	MaxAttempts int `envconfig:"MAX_ATTEMPTS" default:"3"`

	// DelaysAfterFailure: element K used after the Kth failure; the
	// last element repeats for further failures. Encoded as a
	// comma-separated list of durations in both env and FromMap form.
	DelaysAfterFailure []time.Duration

	MaxPendingRequests int `envconfig:"MAX_PENDING_REQUESTS" default:"1000"`

	RequestEarlyProcessingGracePeriod time.Duration `envconfig:"GRACE_PERIOD" default:"5ms"`

	RateLimiterBucketSize     int           `envconfig:"RATE_LIMITER_BUCKET_SIZE" default:"10"`
	RateLimiterRefillRate     int           `envconfig:"RATE_LIMITER_REFILL_RATE" default:"10"`
	RateLimiterRefillInterval time.Duration `envconfig:"RATE_LIMITER_REFILL_INTERVAL" default:"1s"`

	// RequestProcessingThreadPoolConfig is "min,max"; MinWorkers/MaxWorkers
	// are the parsed form consumed by internal/workerpool.
	MinWorkers int `envconfig:"MIN_WORKERS" default:"2"`
	MaxWorkers int `envconfig:"MAX_WORKERS" default:"8"`

	DelayQueueThreadCount int `envconfig:"DELAY_QUEUE_THREAD_COUNT" default:"4"`
}

// defaultDelaysAfterFailure is used whenever DelaysAfterFailure is left
// empty; a single short delay is a safe default that does not impose an
// opinion on schedule shape.
var defaultDelaysAfterFailure = []time.Duration{100 * time.Millisecond}

// LoadConfig populates Config from environment variables (prefix RRLS_),
// then applies schedule/pool defaults envconfig cannot express natively.
func LoadConfig() (Config, error) {
	var c Config
	if err := envconfig.Process("RRLS", &c); err != nil {
		return Config{}, err
	}
	if raw, ok := os.LookupEnv("RRLS_DELAYS_AFTER_FAILURE"); ok {
		delays, err := parseDelays(raw)
		if err != nil {
			return Config{}, err
		}
		c.DelaysAfterFailure = delays
	}
	applyDefaults(&c)
	return c, nil
}

// FromMap projects the flat string configuration surface
// onto a Config. Unknown keys are ignored; missing keys fall back to
// the same defaults LoadConfig uses.
func FromMap(m map[string]string) (Config, error) {
	c := Config{}
	applyDefaults(&c)

	if v, ok := m["serviceName"]; ok {
		c.ServiceName = v
	}
	if v, ok := m["maxAttempts"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: maxAttempts: %w", err)
		}
		c.MaxAttempts = n
	}
	if v, ok := m["delaysAfterFailure"]; ok {
		delays, err := parseDelays(v)
		if err != nil {
			return Config{}, err
		}
		c.DelaysAfterFailure = delays
	}
	if v, ok := m["maxPendingRequests"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: maxPendingRequests: %w", err)
		}
		c.MaxPendingRequests = n
	}
	if v, ok := m["requestEarlyProcessingGracePeriod"]; ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: requestEarlyProcessingGracePeriod: %w", err)
		}
		c.RequestEarlyProcessingGracePeriod = d
	}
	if v, ok := m["rateLimiterBucketSize"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: rateLimiterBucketSize: %w", err)
		}
		c.RateLimiterBucketSize = n
	}
	if v, ok := m["rateLimiterRefillRate"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: rateLimiterRefillRate: %w", err)
		}
		c.RateLimiterRefillRate = n
	}
	if v, ok := m["rateLimiterRefillInterval"]; ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: rateLimiterRefillInterval: %w", err)
		}
		c.RateLimiterRefillInterval = d
	}
	if v, ok := m["requestProcessingThreadPoolConfig"]; ok {
		min, max, err := parsePoolConfig(v)
		if err != nil {
			return Config{}, err
		}
		c.MinWorkers, c.MaxWorkers = min, max
	}
	if v, ok := m["delayQueueThreadCount"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: delayQueueThreadCount: %w", err)
		}
		c.DelayQueueThreadCount = n
	}
	return c, nil
}

func applyDefaults(c *Config) {
	if c.ServiceName == "" {
		c.ServiceName = "rrls"
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if len(c.DelaysAfterFailure) == 0 {
		c.DelaysAfterFailure = append([]time.Duration(nil), defaultDelaysAfterFailure...)
	}
	if c.MaxPendingRequests <= 0 {
		c.MaxPendingRequests = 1000
	}
	if c.RequestEarlyProcessingGracePeriod <= 0 {
		c.RequestEarlyProcessingGracePeriod = 5 * time.Millisecond
	}
	if c.RateLimiterBucketSize <= 0 {
		c.RateLimiterBucketSize = 10
	}
	if c.RateLimiterRefillRate <= 0 {
		c.RateLimiterRefillRate = 10
	}
	if c.RateLimiterRefillInterval <= 0 {
		c.RateLimiterRefillInterval = time.Second
	}
	if c.MinWorkers <= 0 {
		c.MinWorkers = 2
	}
	if c.MaxWorkers < c.MinWorkers {
		c.MaxWorkers = c.MinWorkers * 4
	}
	if c.DelayQueueThreadCount <= 0 {
		c.DelayQueueThreadCount = 4
	}
}

// DelayFor returns the delay to honor after the given 1-based failed
// attempt number: attempt K waits delaySchedule[min(K-1,len-1)].
func (c Config) DelayFor(failedAttempt int) time.Duration {
	schedule := c.DelaysAfterFailure
	if len(schedule) == 0 {
		return 0
	}
	idx := failedAttempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(schedule) {
		idx = len(schedule) - 1
	}
	return schedule[idx]
}

func parseDelays(raw string) ([]time.Duration, error) {
	parts := strings.Split(raw, ",")
	out := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		d, err := time.ParseDuration(p)
		if err != nil {
			return nil, fmt.Errorf("config: delaysAfterFailure %q: %w", p, err)
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("config: delaysAfterFailure must not be empty")
	}
	return out, nil
}

func parsePoolConfig(raw string) (min, max int, err error) {
	parts := strings.SplitN(raw, ",", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("config: requestProcessingThreadPoolConfig must be \"min,max\", got %q", raw)
	}
	min, err = strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("config: requestProcessingThreadPoolConfig min: %w", err)
	}
	max, err = strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("config: requestProcessingThreadPoolConfig max: %w", err)
	}
	return min, max, nil
}
