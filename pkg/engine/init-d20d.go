package engine

import (
	"d20d/pkg/models"
	"d20d/pkg/utils/system"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// InitConfig writes a starter config to configPath, listening on a free port.
func InitConfig(configPath string) error {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return err
	}

	storageDir, err := defaultStorageDir(absPath)
	if err != nil {
		return err
	}

	freePort, err := system.GetFreePort()
	if err != nil {
		return err
	}

	capacity := uint64(defaultCapacity)
	cacheEnabled := true
	requests := int64(100)
	window := time.Minute
	failOpen := true

	defaultConfig := &models.D20dConfig{
		Log: &models.LogConfig{
			ToFile:     true,
			FilePath:   filepath.Join(storageDir, "d20d.log"),
			ToStdout:   true,
			Prefix:     "[d20d]",
			MaxSizeMB:  100,
			MaxBackups: 5,
			Compress:   true,
		},
		Server: &models.ServerConfig{
			Port:                uint16(freePort),
			ContentRoot:         defaultContentRoot,
			NotFoundPage:        defaultNotFoundPage,
			IndexFile:           defaultIndexFile,
			MaxConnections:      defaultMaxConnections,
			ReadTimeout:         defaultTimeout,
			WriteTimeout:        defaultTimeout,
			MaxRequestLineBytes: defaultMaxRequestLineBytes,
		},
		Cache: &models.CacheConfig{
			Enabled:        &cacheEnabled,
			Buckets:        defaultBuckets,
			Capacity:       &capacity,
			MaxContentSize: defaultMaxContentSize,
		},
		RateLimit: &models.RateLimitConfig{
			Enabled:  false,
			Requests: &requests,
			Window:   &window,
			Storage:  "memory",
			Message:  "Rate limit exceeded",
			Redis: &models.RedisConfig{
				Address:      "localhost:6379",
				KeyNamespace: "d20d:ratelimit:",
				FailOpen:     &failOpen,
			},
		},
		Metrics: &models.MetricsConfig{
			Enabled: false,
			Port:    defaultMetricsPort,
			Path:    defaultMetricsPath,
		},
		Storage: &models.StorageConfig{
			Path: storageDir,
		},
	}

	if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
		return err
	}

	f, err := os.Create(absPath)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	return enc.Encode(defaultConfig)
}
