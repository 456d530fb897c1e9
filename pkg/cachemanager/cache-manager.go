package cachemanager

import (
	"d20d/pkg/cache"
	"d20d/pkg/metrics"
	"d20d/pkg/models"
	"d20d/pkg/utils/logger"
	"fmt"
)

type ICache interface {
	Get(key string) (cache.Entry, bool)
	Put(key, contentType string, content []byte, size int) error
	Len() int
	Close() error
}

// CacheManager applies the server's caching policy on top of a store: the
// enabled switch, the per-entry size ceiling, logging and metrics.
type CacheManager struct {
	cache   ICache
	config  *models.CacheConfig
	metrics *metrics.Metrics
	logger  *logger.Logger
}

func NewCacheManager(cache ICache, config *models.CacheConfig, metrics *metrics.Metrics, logger *logger.Logger) *CacheManager {
	return &CacheManager{
		cache:   cache,
		config:  config,
		metrics: metrics,
		logger:  logger,
	}
}

// EvictionHook returns the callback a store reports evictions through.
func EvictionHook(m *metrics.Metrics, l *logger.Logger) func(key string) {
	return func(key string) {
		m.CacheEvictions.Inc()
		l.Debug(fmt.Sprintf("Evicted least recently used entry %s", key))
	}
}

func (cm *CacheManager) Get(key string) (cache.Entry, bool) {
	if !cm.config.IsEnabled() {
		return cache.Entry{}, false
	}

	e, ok := cm.cache.Get(key)
	if ok {
		cm.metrics.CacheHits.Inc()
		cm.logger.Info(fmt.Sprintf("Cache HIT for key %s", key))
	} else {
		cm.metrics.CacheMisses.Inc()
		cm.logger.Info(fmt.Sprintf("Cache MISS for key %s", key))
	}
	return e, ok
}

// Set stores content under key unless caching is disabled or the content is
// larger than the configured ceiling. It reports whether the entry was stored.
func (cm *CacheManager) Set(key, contentType string, content []byte) bool {
	if !cm.config.IsEnabled() {
		return false
	}

	if cm.config.MaxContentSize > 0 && uint64(len(content)) > cm.config.MaxContentSize {
		cm.logger.Info(fmt.Sprintf("Response size %d exceeds max cache size %d; skipping cache for key %s", len(content), cm.config.MaxContentSize, key))
		return false
	}

	if err := cm.cache.Put(key, contentType, content, len(content)); err != nil {
		cm.logger.Error(fmt.Sprintf("Unable to cache key %s: %v", key, err))
		return false
	}

	cm.metrics.CacheEntries.Set(float64(cm.cache.Len()))
	cm.logger.Info(fmt.Sprintf("Cached response for key %s (%d bytes, %s)", key, len(content), contentType))
	return true
}

func (cm *CacheManager) Len() int {
	return cm.cache.Len()
}

func (cm *CacheManager) Close() error {
	err := cm.cache.Close()
	cm.metrics.CacheEntries.Set(0)
	return err
}
