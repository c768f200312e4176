// Package config loads rpclient's runtime configuration from a YAML file,
// environment variables, and flags (in that ascending precedence), the same
// layering github.com/spf13/viper provides for the agent this codebase is
// descended from.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config is the rpclient runtime configuration. Field names match the CLI
// flags (with dashes for underscores) and the YAML config file keys.
type Config struct {
	Host       string `mapstructure:"host"`
	PS5        bool   `mapstructure:"ps5"`
	RegistKey  string `mapstructure:"regist_key"` // hex, up to 32 chars
	Morning    string `mapstructure:"morning"`    // hex, up to 32 chars

	Resolution string `mapstructure:"resolution"` // 360p, 540p, 720p, 1080p
	FPS        int    `mapstructure:"fps"`        // 30 or 60

	EnableKeyboard     bool `mapstructure:"enable_keyboard"`
	VideoAutoDowngrade bool `mapstructure:"video_auto_downgrade"`

	LogLevel    string `mapstructure:"log_level"`
	MetricsAddr string `mapstructure:"metrics_addr"` // empty disables the metrics server
}

// Default returns the baseline configuration applied before a config file,
// environment, or flags are layered on top.
func Default() *Config {
	return &Config{
		Resolution:  "720p",
		FPS:         30,
		LogLevel:    "info",
		MetricsAddr: "",
	}
}

// Load reads cfgFile (or the default search path if empty), environment
// variables prefixed RPSESSION_, and returns the merged Config. Flags are
// bound by the caller via v.BindPFlag before Load is invoked.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	cfg := Default()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("rpclient")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("RPSESSION")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read %s: %w", cfgFile, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

func configDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "rpclient")
	}
	return "."
}

// RegistKeyBytes decodes RegistKey into a fixed 16-byte array, left-aligned
// and zero-padded, matching the wire truncate-at-NUL convention.
func (c *Config) RegistKeyBytes() ([16]byte, error) {
	return decodeHex16(c.RegistKey)
}

// MorningBytes decodes Morning into a fixed 16-byte array.
func (c *Config) MorningBytes() ([16]byte, error) {
	return decodeHex16(c.Morning)
}

func decodeHex16(s string) ([16]byte, error) {
	var out [16]byte
	if s == "" {
		return out, nil
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("config: invalid hex %q: %w", s, err)
	}
	if len(raw) > len(out) {
		return out, fmt.Errorf("config: hex value %q exceeds 16 bytes", s)
	}
	copy(out[:], raw)
	return out, nil
}
