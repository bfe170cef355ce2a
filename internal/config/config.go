package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Address      string          `mapstructure:"address"`
	Port         string          `mapstructure:"port"`
	LogLevel     string          `mapstructure:"log_level"`
	TelemetryURL string          `mapstructure:"telemetry_url"`
	Provider     ProviderConfig  `mapstructure:"provider"`
	Assistant    AssistantConfig `mapstructure:"assistant"`
	Relay        RelayConfig     `mapstructure:"relay"`

	// APIKeys are the upstream credentials in rotation order.
	APIKeys []string `mapstructure:"-"`
}

type ProviderConfig struct {
	Name        string  `mapstructure:"name"`
	BaseURL     string  `mapstructure:"base_url"`
	Model       string  `mapstructure:"model"`
	Temperature float32 `mapstructure:"temperature"`
}

type AssistantConfig struct {
	Name     string `mapstructure:"name"`
	Creator  string `mapstructure:"creator"`
	Timezone string `mapstructure:"timezone"`
}

type RelayConfig struct {
	HistoryWindow  int           `mapstructure:"history_window"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
}

// Rotation slots are read in order; the legacy single key is only used when
// none of them is set.
var (
	rotationKeyVars = []string{"API_KEY_1", "API_KEY_2", "API_KEY_3"}
	legacyKeyVar    = "API_KEY"
)

// ListenAddr returns the address the relay binds to.
func (c *Config) ListenAddr() string {
	if c.Address != "" {
		return c.Address
	}
	return net.JoinHostPort("0.0.0.0", c.Port)
}

// Load reads configuration from file (or config.yaml in . or ./config when
// file is empty), merges envFile in dotenv format when it exists, and
// applies environment overrides prefixed with RELAY_.
func Load(file, envFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("port", "PORT"); err != nil {
		return nil, err
	}
	for _, name := range append(rotationKeyVars, legacyKeyVar) {
		if err := v.BindEnv(strings.ToLower(name), name); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		// env-only configuration is fine unless a file was asked for
		var nf viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &nf) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	if err := mergeEnvFile(v, envFile); err != nil {
		return nil, err
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.APIKeys = apiKeys(v)
	return &c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("address", "")
	v.SetDefault("port", "3000")
	v.SetDefault("log_level", "info")
	v.SetDefault("telemetry_url", "")
	v.SetDefault("provider.name", "gemini")
	v.SetDefault("provider.base_url", "https://generativelanguage.googleapis.com/v1beta/openai/")
	v.SetDefault("provider.model", "gemini-3-flash-preview")
	v.SetDefault("provider.temperature", 0.7)
	v.SetDefault("assistant.name", "Avatar Lite")
	v.SetDefault("assistant.creator", "YK")
	v.SetDefault("assistant.timezone", "")
	v.SetDefault("relay.history_window", 10)
	v.SetDefault("relay.attempt_timeout", 30*time.Second)
}

func mergeEnvFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	ev := viper.New()
	ev.SetConfigFile(path)
	ev.SetConfigType("env")
	if err := ev.ReadInConfig(); err != nil {
		return fmt.Errorf("read env file: %w", err)
	}
	return v.MergeConfigMap(ev.AllSettings())
}

func apiKeys(v *viper.Viper) []string {
	var keys []string
	for _, name := range rotationKeyVars {
		if k := strings.TrimSpace(v.GetString(strings.ToLower(name))); k != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		if k := strings.TrimSpace(v.GetString(strings.ToLower(legacyKeyVar))); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
