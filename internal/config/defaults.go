package config

import "time"

// Default values for options spec §6 leaves unspecified by the operator.
const (
	DefaultBindAddress       = "0.0.0.0"
	DefaultPort              = 2049
	DefaultMaxConnections    = 1024
	DefaultThreadPoolSize    = 16
	DefaultMaxRequestSize    = 1 << 20
	DefaultCacheSize         = 1000
	DefaultLogLevel          = "info"
	DefaultSessionTimeout    = 300 * time.Second
	DefaultFileAccessTimeout = 3600 * time.Second
	DefaultCleanupInterval   = 60 * time.Second
	DefaultAnonUID           = 65534
	DefaultAnonGID           = 65534
)

// ApplyDefaults fills in zero-valued fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.BindAddress == "" {
		cfg.BindAddress = DefaultBindAddress
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = DefaultMaxConnections
	}
	if !cfg.EnableTCP && !cfg.EnableUDP {
		cfg.EnableTCP = true
		cfg.EnableUDP = true
	}
	if cfg.ThreadPoolSize == 0 {
		cfg.ThreadPoolSize = DefaultThreadPoolSize
	}
	if cfg.MaxRequestSize == 0 {
		cfg.MaxRequestSize = DefaultMaxRequestSize
	}
	if cfg.CacheSize == 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.SessionTimeout == 0 {
		cfg.SessionTimeout = DefaultSessionTimeout
	}
	if cfg.FileAccessTimeout == 0 {
		cfg.FileAccessTimeout = DefaultFileAccessTimeout
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	if cfg.AnonUID == 0 {
		cfg.AnonUID = DefaultAnonUID
	}
	if cfg.AnonGID == 0 {
		cfg.AnonGID = DefaultAnonGID
	}
	if !cfg.EnableNFSv2 && !cfg.EnableNFSv3 && !cfg.EnableNFSv4 {
		cfg.EnableNFSv3 = true
		cfg.EnableNFSv4 = true
	}
}
