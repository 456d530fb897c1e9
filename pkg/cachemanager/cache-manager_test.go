package cachemanager

import (
	"d20d/pkg/cache"
	"d20d/pkg/metrics"
	"d20d/pkg/models"
	"d20d/pkg/utils/logger"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func boolPtr(v bool) *bool {
	return &v
}

func newTestManager(cfg *models.CacheConfig, capacity uint64) (*CacheManager, *metrics.Metrics) {
	m := metrics.New()
	l := logger.Nop()
	store := cache.NewStore(4, capacity, cache.WithOnEvict(EvictionHook(m, l)))
	return NewCacheManager(store, cfg, m, l), m
}

func TestCacheManager_SetGet(t *testing.T) {
	cm, m := newTestManager(&models.CacheConfig{}, 10)

	if _, ok := cm.Get("/srv/a.html"); ok {
		t.Fatal("Expected miss on empty cache")
	}
	if !cm.Set("/srv/a.html", "text/html", []byte("<a>")) {
		t.Fatal("Expected Set to store entry")
	}
	e, ok := cm.Get("/srv/a.html")
	if !ok || string(e.Content) != "<a>" || e.ContentType != "text/html" {
		t.Fatalf("Unexpected entry: %+v ok=%v", e, ok)
	}

	if got := testutil.ToFloat64(m.CacheHits); got != 1 {
		t.Errorf("Expected 1 hit, got %v", got)
	}
	if got := testutil.ToFloat64(m.CacheMisses); got != 1 {
		t.Errorf("Expected 1 miss, got %v", got)
	}
	if got := testutil.ToFloat64(m.CacheEntries); got != 1 {
		t.Errorf("Expected entries gauge 1, got %v", got)
	}
}

func TestCacheManager_EnabledByDefault(t *testing.T) {
	cm, _ := newTestManager(&models.CacheConfig{}, 10)
	if !cm.Set("k", "text/plain", []byte("v")) {
		t.Fatal("Set should store when the enabled flag is omitted")
	}
	if _, ok := cm.Get("k"); !ok {
		t.Error("Get should hit when the enabled flag is omitted")
	}
}

func TestCacheManager_Disabled(t *testing.T) {
	cm, _ := newTestManager(&models.CacheConfig{Enabled: boolPtr(false)}, 10)
	if cm.Set("k", "text/plain", []byte("v")) {
		t.Error("Set must not store when caching is disabled")
	}
	if _, ok := cm.Get("k"); ok {
		t.Error("Get must miss when caching is disabled")
	}
	if cm.Len() != 0 {
		t.Errorf("Expected empty store, got %d", cm.Len())
	}
}

func TestCacheManager_MaxContentSize(t *testing.T) {
	cm, _ := newTestManager(&models.CacheConfig{MaxContentSize: 4}, 10)
	if cm.Set("big", "text/plain", []byte("too large")) {
		t.Error("Expected oversized content to be skipped")
	}
	if !cm.Set("small", "text/plain", []byte("ok")) {
		t.Error("Expected small content to be cached")
	}
}

func TestCacheManager_EvictionMetrics(t *testing.T) {
	cm, m := newTestManager(&models.CacheConfig{}, 1)
	cm.Set("a", "text/plain", []byte("a"))
	cm.Set("b", "text/plain", []byte("b"))

	if got := testutil.ToFloat64(m.CacheEvictions); got != 1 {
		t.Errorf("Expected 1 eviction, got %v", got)
	}
	if got := testutil.ToFloat64(m.CacheEntries); got != 1 {
		t.Errorf("Expected entries gauge 1, got %v", got)
	}
}

func TestCacheManager_Close(t *testing.T) {
	cm, m := newTestManager(&models.CacheConfig{}, 0)
	cm.Set("a", "text/plain", []byte("a"))
	if err := cm.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if cm.Len() != 0 {
		t.Errorf("Expected empty store after Close, got %d", cm.Len())
	}
	if got := testutil.ToFloat64(m.CacheEntries); got != 0 {
		t.Errorf("Expected entries gauge 0, got %v", got)
	}
}
