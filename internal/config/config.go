// Package config loads settings from defaults, an optional TOML file and
// CONCIERGE_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	EnvPrefix      = "CONCIERGE"
	configDirName  = ".concierge"
	configFileName = "config"

	DriverTOML  = "toml"
	DriverRedis = "redis"

	SecretsChain = "chain"
	SecretsPass  = "pass"
	SecretsFile  = "file"
)

var durationKeys = []string{
	"cache.ttl",
	"cache.load_timeout",
	"grants.ttl",
	"grants.sweep_interval",
	"sessions.idle_max",
	"sessions.sweep_interval",
	"avatar.gather_timeout",
	"http.shutdown_timeout",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", DriverTOML)
	v.SetDefault("store.path", "")
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "concierge:")
	v.SetDefault("cache.ttl", "5m")
	v.SetDefault("cache.load_timeout", "10s")
	v.SetDefault("grants.ttl", "2h")
	v.SetDefault("grants.sweep_interval", "1m")
	v.SetDefault("sessions.idle_max", "30m")
	v.SetDefault("sessions.sweep_interval", "1m")
	v.SetDefault("sessions.history_turns", 10)
	v.SetDefault("sessions.segments", []string{"cocktails", "spirits", "wine", "beer"})
	v.SetDefault("sessions.persona", "")
	v.SetDefault("hub.capacity", 100)
	v.SetDefault("hub.mailbox", 256)
	v.SetDefault("http.listen", "127.0.0.1:8080")
	v.SetDefault("http.shutdown_timeout", "10s")
	v.SetDefault("generation.base_url", "https://api.openai.com/v1")
	v.SetDefault("generation.model", "gpt-4o-mini")
	v.SetDefault("generation.api_key", "")
	v.SetDefault("generation.api_key_ref", "")
	v.SetDefault("generation.max_tokens", 400)
	v.SetDefault("secrets.backend", SecretsChain)
	v.SetDefault("secrets.path", "")
	v.SetDefault("avatar.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("avatar.gather_timeout", "5s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load builds the configuration. An explicit file must exist; the default
// $HOME/.concierge/config.toml is optional.
func Load(file string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	} else if homeDir, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(homeDir, configDirName))
		v.SetConfigName(configFileName)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	if err := Validate(v); err != nil {
		return nil, err
	}
	return v, nil
}

// Validate rejects unknown backends, unparsable durations and non-positive
// sizes.
func Validate(v *viper.Viper) error {
	switch driver := v.GetString("store.driver"); driver {
	case DriverTOML, DriverRedis:
	default:
		return fmt.Errorf("store.driver: unknown driver %q", driver)
	}

	switch backend := v.GetString("secrets.backend"); backend {
	case SecretsChain, SecretsPass, SecretsFile:
	default:
		return fmt.Errorf("secrets.backend: unknown backend %q", backend)
	}

	for _, key := range durationKeys {
		raw := v.GetString(key)
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if parsed <= 0 {
			return fmt.Errorf("%s: must be positive, got %s", key, raw)
		}
	}

	for _, key := range []string{"hub.capacity", "hub.mailbox", "sessions.history_turns", "generation.max_tokens"} {
		if v.GetInt(key) <= 0 {
			return fmt.Errorf("%s: must be positive", key)
		}
	}

	if _, err := parseLevel(v.GetString("log.level")); err != nil {
		return err
	}
	switch format := strings.ToLower(v.GetString("log.format")); format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format: unknown format %q", format)
	}
	return nil
}
