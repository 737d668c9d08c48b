package redis

import "testing"

func TestKeys(t *testing.T) {
	if got := lockKey("catalog-etl", "public.sku"); got != "catalog-etl:lock:public.sku" {
		t.Errorf("unexpected lock key %s", got)
	}
	if got := lastRunKey("etl", "main.sku"); got != "etl:last_run:main.sku" {
		t.Errorf("unexpected last run key %s", got)
	}
}

func TestNewClient_InvalidURL(t *testing.T) {
	if _, err := NewClient(Config{URL: "http://not-redis"}); err == nil {
		t.Error("expected error for non-redis URL")
	}
}

func TestNewCycleLock_DefaultTTL(t *testing.T) {
	a := NewCycleLock(nil, "public.sku", 0)
	b := NewCycleLock(nil, "public.sku", 0)
	if a.ttl != DefaultLockTTL {
		t.Errorf("expected default ttl, got %v", a.ttl)
	}
	if a.token == b.token {
		t.Error("each lock must carry its own token")
	}
}
