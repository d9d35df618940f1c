package mql

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	str2duration "github.com/xhit/go-str2duration/v2"
)

// DSNConfig holds the parsed DSN parameters.
type DSNConfig struct {
	ServerURL  string
	APIKey     string
	User       string
	Password   string
	ClientInfo string
	// Timeout is the default lifecycle budget; zero means unbounded.
	Timeout    time.Duration
	RetryDelay time.Duration
}

// ParseDSN parses an MQL server DSN.
//
// Format: mql://[user[:password]@]host[:port][/path][?key=value&...]
//
//	mqls://... (HTTPS)
//
// Query params: api_key, timeout, retry_delay, client_info. Durations accept
// Go syntax plus days and weeks ("1d12h"); a bare number is seconds.
func ParseDSN(dsn string) (*DSNConfig, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid DSN: %w", err)
	}

	var scheme string
	switch u.Scheme {
	case "mql":
		scheme = "http"
	case "mqls":
		scheme = "https"
	default:
		return nil, fmt.Errorf("unsupported scheme %q: must be mql or mqls", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("missing host in DSN")
	}

	cfg := &DSNConfig{}
	if u.User != nil {
		cfg.User = u.User.Username()
		if p, ok := u.User.Password(); ok {
			cfg.Password = p
		}
	}

	for key, values := range u.Query() {
		val := values[0]
		switch key {
		case "api_key":
			cfg.APIKey = val
		case "client_info":
			cfg.ClientInfo = val
		case "timeout":
			if cfg.Timeout, err = ParseDuration(val); err != nil {
				return nil, fmt.Errorf("invalid timeout %q: %w", val, err)
			}
		case "retry_delay":
			if cfg.RetryDelay, err = ParseDuration(val); err != nil {
				return nil, fmt.Errorf("invalid retry_delay %q: %w", val, err)
			}
		default:
			return nil, fmt.Errorf("unknown DSN parameter %q", key)
		}
	}

	server := url.URL{Scheme: scheme, Host: u.Host, Path: u.Path}
	cfg.ServerURL = server.String()
	return cfg, nil
}

// ParseDuration parses a duration such as "90s", "1h30m" or "2d". A plain
// integer is taken as seconds.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("negative duration %q", s)
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := str2duration.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}

// NewClientFromDSN parses dsn and builds a Client from it. Extra options are
// applied to every request.
func NewClientFromDSN(dsn string, opts ...RequestOption) (*Client, *DSNConfig, error) {
	cfg, err := ParseDSN(dsn)
	if err != nil {
		return nil, nil, err
	}
	c, err := NewClient(cfg.ServerURL, cfg.APIKey)
	if err != nil {
		return nil, nil, err
	}
	if cfg.APIKey == "" && cfg.User != "" {
		c.UserPassword(cfg.User, cfg.Password)
	}
	if cfg.ClientInfo != "" {
		c.ClientInfo(cfg.ClientInfo)
	}
	if cfg.RetryDelay > 0 {
		c.RetryDelay(cfg.RetryDelay)
	}
	if len(opts) > 0 {
		c.RequestOptions(opts...)
	}
	return c, cfg, nil
}
