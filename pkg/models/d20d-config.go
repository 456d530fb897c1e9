package models

import "time"

type LogConfig struct {
	ToFile       bool   `yaml:"toFile"`
	FilePath     string `yaml:"filePath"`
	ToStdout     bool   `yaml:"toStdout"`
	Prefix       string `yaml:"prefix"`
	DebugEnabled bool   `yaml:"debugEnabled"`
	MaxSizeMB    int    `yaml:"maxSizeMB"`
	MaxBackups   int    `yaml:"maxBackups"`
	Compress     bool   `yaml:"compress"`
}

type ServerConfig struct {
	Port                uint16        `yaml:"port"`
	ContentRoot         string        `yaml:"contentRoot"`
	NotFoundPage        string        `yaml:"notFoundPage"`
	IndexFile           string        `yaml:"indexFile"`
	MaxConnections      int64         `yaml:"maxConnections"`
	ReadTimeout         time.Duration `yaml:"readTimeout"`
	WriteTimeout        time.Duration `yaml:"writeTimeout"`
	MaxRequestLineBytes int           `yaml:"maxRequestLineBytes"`
}

// CacheConfig configures the in-memory response store. Enabled and Capacity
// are pointers so that explicit false/0 can be told apart from omitted values.
type CacheConfig struct {
	Enabled        *bool   `yaml:"enabled"`
	Buckets        int     `yaml:"buckets"`
	Capacity       *uint64 `yaml:"capacity"`
	MaxContentSize uint64  `yaml:"maxContentSize"`
}

// IsEnabled reports whether caching is on. An omitted enabled flag means on.
func (c *CacheConfig) IsEnabled() bool {
	return c != nil && (c.Enabled == nil || *c.Enabled)
}

type RedisConfig struct {
	Address      string `yaml:"address"`
	Password     string `yaml:"password"`
	DB           *int   `yaml:"db"`
	KeyNamespace string `yaml:"keyNamespace"`
	FailOpen     *bool  `yaml:"failOpen"`
}

type RateLimitConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Requests *int64         `yaml:"requests"`
	Window   *time.Duration `yaml:"window"`
	Storage  string         `yaml:"storage"`
	Message  string         `yaml:"message"`
	Redis    *RedisConfig   `yaml:"redis"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    uint16 `yaml:"port"`
	Path    string `yaml:"path"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
}

type D20dConfig struct {
	Log       *LogConfig       `yaml:"log"`
	Server    *ServerConfig    `yaml:"server"`
	Cache     *CacheConfig     `yaml:"cache"`
	RateLimit *RateLimitConfig `yaml:"rateLimit"`
	Metrics   *MetricsConfig   `yaml:"metrics"`
	Storage   *StorageConfig   `yaml:"storage"`
}
