// Package mqlconfig loads client settings from a config file and MQL_*
// environment variables.
package mqlconfig

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
	mql "github.com/transform-data/mql-go"
)

const (
	DefaultServerURL = "https://api.transformdata.io"
	DefaultLogLevel  = "warn"
	EnvPrefix        = "MQL"
)

// Config is the resolved client configuration. Environment variables such
// as MQL_API_KEY override values from the file.
type Config struct {
	ServerURL  string `mapstructure:"server_url"`
	DSN        string `mapstructure:"dsn"`
	APIKey     string `mapstructure:"api_key"`
	ClientInfo string `mapstructure:"client_info"`
	LogLevel   string `mapstructure:"log_level"`

	// RawTimeout is parsed into Timeout with mql.ParseDuration so values
	// like "1d" or a bare number of seconds work.
	RawTimeout string        `mapstructure:"timeout"`
	Timeout    time.Duration `mapstructure:"-"`
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	v.SetDefault("server_url", DefaultServerURL)
	v.SetDefault("dsn", "")
	v.SetDefault("api_key", "")
	v.SetDefault("client_info", mql.DefaultClientInfo)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("timeout", "0")
	return v
}

// Load reads the config file at path, or $HOME/.mql/config.{yaml,json,toml}
// when path is empty. A missing default file is not an error.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("$HOME/.mql")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	timeout, err := mql.ParseDuration(cfg.RawTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid timeout %q: %w", cfg.RawTimeout, err)
	}
	cfg.Timeout = timeout
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DSN == "" && c.ServerURL == "" {
		return fmt.Errorf("either dsn or server_url must be set")
	}
	return nil
}

// NewClient builds a client from the configuration. A DSN, when set, wins
// over server_url and api_key; a timeout in the DSN wins over the one in the
// file.
func (c *Config) NewClient(opts ...mql.RequestOption) (*mql.Client, error) {
	if c.DSN != "" {
		client, dsnCfg, err := mql.NewClientFromDSN(c.DSN, opts...)
		if err != nil {
			return nil, err
		}
		if dsnCfg.Timeout > 0 {
			c.Timeout = dsnCfg.Timeout
		}
		return client, nil
	}

	client, err := mql.NewClient(c.ServerURL, c.APIKey)
	if err != nil {
		return nil, err
	}
	if c.ClientInfo != "" {
		client.ClientInfo(c.ClientInfo)
	}
	if len(opts) > 0 {
		client.RequestOptions(opts...)
	}
	return client, nil
}
