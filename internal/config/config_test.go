package config

import (
	"testing"
	"time"
)

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("RRLS_MAX_ATTEMPTS", "5")
	t.Setenv("RRLS_MAX_PENDING_REQUESTS", "250")
	t.Setenv("RRLS_DELAYS_AFTER_FAILURE", "100ms,800ms")
	t.Setenv("RRLS_RATE_LIMITER_BUCKET_SIZE", "2")
	t.Setenv("RRLS_RATE_LIMITER_REFILL_RATE", "2")
	t.Setenv("RRLS_RATE_LIMITER_REFILL_INTERVAL", "100ms")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.MaxAttempts != 5 {
		t.Fatalf("unexpected MaxAttempts: %+v", cfg)
	}
	if cfg.MaxPendingRequests != 250 {
		t.Fatalf("unexpected MaxPendingRequests: %+v", cfg)
	}
	want := []time.Duration{100 * time.Millisecond, 800 * time.Millisecond}
	if len(cfg.DelaysAfterFailure) != len(want) || cfg.DelaysAfterFailure[0] != want[0] || cfg.DelaysAfterFailure[1] != want[1] {
		t.Fatalf("unexpected DelaysAfterFailure: %+v", cfg.DelaysAfterFailure)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.MaxAttempts != 3 || cfg.MinWorkers != 2 || cfg.DelayQueueThreadCount != 4 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if len(cfg.DelaysAfterFailure) == 0 {
		t.Fatalf("expected non-empty default delay schedule")
	}
}

func TestFromMap(t *testing.T) {
	cfg, err := FromMap(map[string]string{
		"maxAttempts":                       "3",
		"delaysAfterFailure":                "100ms,800ms",
		"maxPendingRequests":                "100",
		"requestEarlyProcessingGracePeriod": "10ms",
		"rateLimiterBucketSize":             "2",
		"rateLimiterRefillRate":             "2",
		"rateLimiterRefillInterval":         "100ms",
		"requestProcessingThreadPoolConfig": "2,8",
		"delayQueueThreadCount":             "4",
	})
	if err != nil {
		t.Fatalf("FromMap error: %v", err)
	}
	if cfg.MinWorkers != 2 || cfg.MaxWorkers != 8 {
		t.Fatalf("unexpected pool config: %+v", cfg)
	}
	if cfg.DelayFor(1) != 100*time.Millisecond || cfg.DelayFor(2) != 800*time.Millisecond || cfg.DelayFor(5) != 800*time.Millisecond {
		t.Fatalf("unexpected DelayFor behavior: %+v", cfg.DelaysAfterFailure)
	}
}

func TestFromMap_BadPoolConfig(t *testing.T) {
	if _, err := FromMap(map[string]string{"requestProcessingThreadPoolConfig": "bogus"}); err == nil {
		t.Fatal("expected error for malformed pool config")
	}
}
