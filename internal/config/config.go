package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/jcdickinson/docindex/internal/snapshot"
)

type FetchConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	Concurrency    int    `mapstructure:"concurrency"`
}

// Timeout returns the configured per-request timeout.
func (f FetchConfig) Timeout() time.Duration {
	return time.Duration(f.TimeoutSeconds) * time.Second
}

type SnapshotConfig struct {
	Compression snapshot.Compression `mapstructure:"compression"`
}

type ServeConfig struct {
	Addr string `mapstructure:"addr"`
}

type Config struct {
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	Serve    ServeConfig    `mapstructure:"serve"`
}

// cacheBase returns the base cache directory for docindex.
// Checks XDG_CACHE_HOME, then ~/.cache, then /tmp/docindex as fallback.
func cacheBase() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "docindex")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "docindex")
	}
	return filepath.Join(os.TempDir(), "docindex")
}

// DBPath returns the path to the SQLite database file.
func DBPath() string {
	return filepath.Join(cacheBase(), "index.db")
}

// CASDir returns the path to the content-addressable storage directory.
func CASDir() string {
	return filepath.Join(cacheBase(), "cas")
}

// JSONCacheDir returns the path to the rustdoc JSON cache directory.
func JSONCacheDir() string {
	return filepath.Join(cacheBase(), "json")
}

// LockPath returns the file locked while crates are being built.
func LockPath() string {
	return filepath.Join(cacheBase(), "build.lock")
}

// LogPath returns the default log file for the serve command.
func LogPath() string {
	return filepath.Join(cacheBase(), "serve.log")
}

func initializeViper(v *viper.Viper) error {
	v.SetConfigName("config")
	v.SetConfigType("toml")

	v.AddConfigPath(".")
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		v.AddConfigPath(filepath.Join(xdg, "docindex"))
	} else if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "docindex"))
	}

	v.SetDefault("fetch.base_url", "https://docs.rs")
	v.SetDefault("fetch.timeout_seconds", 60)
	v.SetDefault("fetch.concurrency", 4)
	v.SetDefault("snapshot.compression", "zstd")
	v.SetDefault("serve.addr", "127.0.0.1:8731")

	v.SetEnvPrefix("DOCINDEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return nil
}

func stringToCompressionHookFunc() mapstructure.DecodeHookFunc {
	return func(f, t reflect.Type, data interface{}) (interface{}, error) {
		if t != reflect.TypeOf(snapshot.Compression(0)) || f.Kind() != reflect.String {
			return data, nil
		}
		return snapshot.ParseCompression(strings.ToLower(strings.TrimSpace(data.(string))))
	}
}

// Load reads config.toml (if any), DOCINDEX_* environment overrides and
// defaults.
func Load() (*Config, error) {
	v := viper.New()
	if err := initializeViper(v); err != nil {
		return nil, err
	}

	var config Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       stringToCompressionHookFunc(),
		WeaklyTypedInput: true,
		Result:           &config,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Fetch.TimeoutSeconds <= 0 {
		return nil, fmt.Errorf("fetch.timeout_seconds must be positive, got %d", config.Fetch.TimeoutSeconds)
	}
	if config.Fetch.Concurrency <= 0 {
		config.Fetch.Concurrency = 1
	}
	return &config, nil
}
