// Package config loads and validates the server's static configuration
// (spec §6), following the teacher's pkg/config layering: viper for
// file/env/default merging, mapstructure decode hooks for duration
// parsing, go-playground/validator for struct-tag validation, and a
// fsnotify watch that triggers a hot-reload callback on SIGHUP/file
// change.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Export mirrors spec §3 ExportEntry / §6 exports[].
type Export struct {
	Name    string   `mapstructure:"name" validate:"required" yaml:"name"`
	Path    string   `mapstructure:"path" validate:"required" yaml:"path"`
	Clients []string `mapstructure:"clients" yaml:"clients,omitempty"`
	Options []string `mapstructure:"options" yaml:"options,omitempty"`
	Comment string   `mapstructure:"comment" yaml:"comment,omitempty"`
}

// Config is the full set of options spec §6 recognizes.
type Config struct {
	BindAddress    string `mapstructure:"bind_address" validate:"required" yaml:"bind_address"`
	Port           int    `mapstructure:"port" validate:"required,min=1,max=65535" yaml:"port"`
	MaxConnections int    `mapstructure:"max_connections" validate:"omitempty,min=1" yaml:"max_connections"`
	EnableTCP      bool   `mapstructure:"enable_tcp" yaml:"enable_tcp"`
	EnableUDP      bool   `mapstructure:"enable_udp" yaml:"enable_udp"`

	RootPath    string `mapstructure:"root_path" validate:"required" yaml:"root_path"`
	EnableNFSv2 bool   `mapstructure:"enable_nfsv2" yaml:"enable_nfsv2"`
	EnableNFSv3 bool   `mapstructure:"enable_nfsv3" yaml:"enable_nfsv3"`
	EnableNFSv4 bool   `mapstructure:"enable_nfsv4" yaml:"enable_nfsv4"`

	ThreadPoolSize int `mapstructure:"thread_pool_size" validate:"omitempty,min=1" yaml:"thread_pool_size"`
	MaxRequestSize int `mapstructure:"max_request_size" validate:"omitempty,min=1" yaml:"max_request_size"`
	CacheSize      int `mapstructure:"cache_size" validate:"omitempty,min=1" yaml:"cache_size"`

	LogLevel     string `mapstructure:"log_level" validate:"omitempty,oneof=trace debug info warn error" yaml:"log_level"`
	LogFile      string `mapstructure:"log_file" yaml:"log_file,omitempty"`
	AuditLogFile string `mapstructure:"audit_log_file" yaml:"audit_log_file,omitempty"`

	EnableAuthSys    bool `mapstructure:"enable_auth_sys" yaml:"enable_auth_sys"`
	EnableAuthDH     bool `mapstructure:"enable_auth_dh" yaml:"enable_auth_dh"`
	EnableKerberos   bool `mapstructure:"enable_kerberos" yaml:"enable_kerberos"`
	EnableACL        bool `mapstructure:"enable_acl" yaml:"enable_acl"`
	RootSquash       bool `mapstructure:"root_squash" yaml:"root_squash"`
	AnonymousAccess  bool `mapstructure:"anonymous_access" yaml:"anonymous_access"`
	AnonUID          uint32 `mapstructure:"anon_uid" yaml:"anon_uid"`
	AnonGID          uint32 `mapstructure:"anon_gid" yaml:"anon_gid"`

	SessionTimeout    time.Duration `mapstructure:"session_timeout" yaml:"session_timeout"`
	FileAccessTimeout time.Duration `mapstructure:"file_access_timeout" yaml:"file_access_timeout"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`

	Exports []Export `mapstructure:"exports" validate:"dive" yaml:"exports"`
}

// Load reads configuration from configPath (YAML), merges in NFSD_*
// environment variables, applies defaults for anything unset, and
// validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("NFSD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/nfsd")
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// Validate runs struct-tag validation over cfg using go-playground/validator.
func Validate(cfg *Config) error {
	return validator.New().Struct(cfg)
}

// Save writes cfg to path as YAML.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
