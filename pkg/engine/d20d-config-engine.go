package engine

import (
	"d20d/pkg/cache"
	"d20d/pkg/cachemanager"
	"d20d/pkg/dispatcher"
	"d20d/pkg/files"
	"d20d/pkg/metrics"
	"d20d/pkg/models"
	"d20d/pkg/ratelimit"
	"d20d/pkg/ratelimitmanager"
	"d20d/pkg/response"
	"d20d/pkg/utils/fs"
	"d20d/pkg/utils/hash"
	"d20d/pkg/utils/logger"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/semaphore"
	"gopkg.in/yaml.v3"
)

const (
	appName = "d20d"
	pidFile = "d20d.pid"

	defaultPort                = 3490
	defaultContentRoot         = "serverfiles"
	defaultNotFoundPage        = "404.html"
	defaultIndexFile           = "index.html"
	defaultMaxConnections      = 64
	defaultTimeout             = 10 * time.Second
	defaultMaxRequestLineBytes = 64 * 1024
	defaultBuckets             = 10
	defaultCapacity            = 1000
	defaultMaxContentSize      = 1 * 1024 * 1024
	defaultMetricsPort         = 9090
	defaultMetricsPath         = "/metrics"
)

type D20dEngine struct {
	config           *models.D20dConfig
	logger           *logger.Logger
	metrics          *metrics.Metrics
	admin            *metrics.AdminServer
	cacheManager     *cachemanager.CacheManager
	dispatcher       *dispatcher.Dispatcher
	rateLimitManager *ratelimitmanager.RateLimitManager
	connections      *semaphore.Weighted
	pid              int
}

// LoadConfig reads the YAML file at configPath and fills in defaults.
// Relative content paths are taken relative to the config file.
func LoadConfig(configPath string) (*models.D20dConfig, error) {
	var config models.D20dConfig

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read the config-path %s: %w", configPath, err)
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("unable to parse the config at %s: %w", configPath, err)
	}

	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("unable to resolve config path %s: %w", configPath, err)
	}

	if err := applyDefaults(&config, absPath); err != nil {
		return nil, err
	}
	return &config, nil
}

func applyDefaults(config *models.D20dConfig, configPath string) error {
	if config.Log == nil {
		config.Log = &models.LogConfig{
			ToStdout: true,
			Prefix:   "[d20d]",
		}
	}
	if config.Log.MaxSizeMB == 0 {
		config.Log.MaxSizeMB = 100
	}
	if config.Log.MaxBackups == 0 {
		config.Log.MaxBackups = 5
	}

	if config.Server == nil {
		config.Server = &models.ServerConfig{}
	}
	server := config.Server
	if server.Port == 0 {
		server.Port = defaultPort
	}
	if server.ContentRoot == "" {
		server.ContentRoot = defaultContentRoot
	}
	if !filepath.IsAbs(server.ContentRoot) && configPath != "" {
		server.ContentRoot = filepath.Join(filepath.Dir(configPath), server.ContentRoot)
	}
	if server.NotFoundPage == "" {
		server.NotFoundPage = defaultNotFoundPage
	}
	if !filepath.IsAbs(server.NotFoundPage) {
		server.NotFoundPage = filepath.Join(server.ContentRoot, server.NotFoundPage)
	}
	if server.IndexFile == "" {
		server.IndexFile = defaultIndexFile
	}
	if server.MaxConnections <= 0 {
		server.MaxConnections = defaultMaxConnections
	}
	if server.ReadTimeout == 0 {
		server.ReadTimeout = defaultTimeout
	}
	if server.WriteTimeout == 0 {
		server.WriteTimeout = defaultTimeout
	}
	if server.MaxRequestLineBytes <= 0 {
		server.MaxRequestLineBytes = defaultMaxRequestLineBytes
	}

	if config.Cache == nil {
		config.Cache = &models.CacheConfig{}
	}
	if config.Cache.Enabled == nil {
		enabled := true
		config.Cache.Enabled = &enabled
	}
	if config.Cache.Buckets <= 0 {
		config.Cache.Buckets = defaultBuckets
	}
	if config.Cache.Capacity == nil {
		capacity := uint64(defaultCapacity)
		config.Cache.Capacity = &capacity
	}
	if config.Cache.MaxContentSize == 0 {
		config.Cache.MaxContentSize = defaultMaxContentSize
	}

	if config.RateLimit == nil {
		config.RateLimit = &models.RateLimitConfig{}
	}
	ratelimit.SetDefaults(config.RateLimit)

	if config.Metrics == nil {
		config.Metrics = &models.MetricsConfig{}
	}
	if config.Metrics.Port == 0 {
		config.Metrics.Port = defaultMetricsPort
	}
	if config.Metrics.Path == "" {
		config.Metrics.Path = defaultMetricsPath
	}

	if config.Storage == nil || config.Storage.Path == "" {
		storageDir, err := defaultStorageDir(configPath)
		if err != nil {
			return err
		}
		config.Storage = &models.StorageConfig{Path: storageDir}
	}
	return nil
}

func defaultStorageDir(configPath string) (string, error) {
	storageRoot, err := fs.GetUserAppDataDir(appName)
	if err != nil {
		return "", fmt.Errorf("failed to determine app data dir: %w", err)
	}
	return filepath.Join(storageRoot, hash.HashString(configPath)), nil
}

// InstantiateD20Engine loads configPath and builds an engine from it.
// An error wrapping dispatcher.ErrNotFoundPageMissing means the server
// cannot run with this configuration at all.
func InstantiateD20Engine(configPath string) (*D20dEngine, error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return NewD20Engine(config)
}

// NewD20Engine wires every component from an already defaulted config.
func NewD20Engine(config *models.D20dConfig) (*D20dEngine, error) {
	logger_, err := logger.NewLogger(config.Log)
	if err != nil {
		return nil, fmt.Errorf("unable to instantiate the logger: %w", err)
	}

	metrics_ := metrics.New()

	capacity := *config.Cache.Capacity
	if capacity == 0 {
		logger_.Warn("Cache capacity is 0; the cache is unbounded and never evicts")
	}
	store := cache.NewStore(config.Cache.Buckets, capacity,
		cache.WithOnEvict(cachemanager.EvictionHook(metrics_, logger_)))
	cacheManager := cachemanager.NewCacheManager(store, config.Cache, metrics_, logger_)

	dispatcher_ := dispatcher.New(dispatcher.Options{
		ContentRoot:         config.Server.ContentRoot,
		NotFoundPage:        config.Server.NotFoundPage,
		IndexFile:           config.Server.IndexFile,
		MaxRequestLineBytes: config.Server.MaxRequestLineBytes,
	}, cacheManager, files.NewDiskLoader(), response.NewBuilder(time.Now), metrics_, logger_)

	if err := dispatcher_.CheckNotFoundPage(); err != nil {
		logger_.Error(fmt.Sprintf("Cannot find system 404 file: %v", err))
		_ = logger_.Close()
		return nil, err
	}

	engine := &D20dEngine{
		config:       config,
		logger:       logger_,
		metrics:      metrics_,
		cacheManager: cacheManager,
		dispatcher:   dispatcher_,
		connections:  semaphore.NewWeighted(config.Server.MaxConnections),
		pid:          os.Getpid(),
	}

	limiter, err := ratelimit.NewRateLimiter(config.RateLimit, logger_)
	if err != nil {
		_ = logger_.Close()
		return nil, fmt.Errorf("unable to instantiate the rate limiter: %w", err)
	}
	if limiter != nil {
		engine.rateLimitManager = ratelimitmanager.NewRateLimitManager(limiter, logger_)
		logger_.Info(fmt.Sprintf("Rate limiting enabled: %d requests per %s (%s)",
			*config.RateLimit.Requests, config.RateLimit.Window.String(), config.RateLimit.Storage))
	}

	if config.Metrics.Enabled {
		engine.admin = metrics.NewAdminServer(config.Metrics, metrics_, logger_)
	}

	return engine, nil
}
