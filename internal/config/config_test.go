package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"KGSINK_ADDR", "KGSINK_WORKERS", "REDIS_URL", "MEILI_URL", "ARCHIVE_USE_SSL", "KGSINK_FETCH_TIMEOUT_MS"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.Addr != ":8788" {
		t.Fatalf("unexpected addr %q", cfg.Addr)
	}
	if cfg.Workers != 16 {
		t.Fatalf("unexpected workers %d", cfg.Workers)
	}
	if cfg.FetchTimeout != 30*time.Second {
		t.Fatalf("unexpected fetch timeout %s", cfg.FetchTimeout)
	}
	if cfg.RedisURL != "" || cfg.MeiliURL != "" {
		t.Fatalf("expected optional backends disabled, got redis=%q meili=%q", cfg.RedisURL, cfg.MeiliURL)
	}
	if !cfg.ArchiveUseSSL {
		t.Fatalf("expected archive ssl on by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KGSINK_WORKERS", "4")
	t.Setenv("KGSINK_RETRY_DELAY_MS", "50")
	t.Setenv("KGSINK_CACHE_TTL_SECONDS", "5")
	t.Setenv("ARCHIVE_USE_SSL", "false")
	t.Setenv("ROOT_SPACE_CREATED_AT", "1700000000")

	cfg := Load()
	if cfg.Workers != 4 {
		t.Fatalf("unexpected workers %d", cfg.Workers)
	}
	if cfg.RetryDelay != 50*time.Millisecond {
		t.Fatalf("unexpected retry delay %s", cfg.RetryDelay)
	}
	if cfg.CacheTTL != 5*time.Second {
		t.Fatalf("unexpected cache ttl %s", cfg.CacheTTL)
	}
	if cfg.ArchiveUseSSL {
		t.Fatalf("expected archive ssl off")
	}
	if !cfg.RootCreatedAt.Equal(time.Unix(1700000000, 0)) {
		t.Fatalf("unexpected root created at %s", cfg.RootCreatedAt)
	}
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("KGSINK_WORKERS", "many")
	t.Setenv("ARCHIVE_USE_SSL", "sometimes")

	cfg := Load()
	if cfg.Workers != 16 {
		t.Fatalf("expected fallback workers, got %d", cfg.Workers)
	}
	if !cfg.ArchiveUseSSL {
		t.Fatalf("expected fallback ssl setting")
	}
}
