// Package oauth2 authenticates mql-go clients with OAuth2 bearer tokens
// instead of API keys. It lives apart from the root package so that only
// programs that need it link golang.org/x/oauth2.
package oauth2

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	mql "github.com/transform-data/mql-go"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// DefaultEarlyExpiry is how long before expiry a cached token is replaced.
// Status polls of one job can span many minutes, and a token that expires
// between two polls would fail the lifecycle with a 401.
const DefaultEarlyExpiry = time.Minute

// NewStaticTokenOption returns a RequestOption that sends token as a Bearer
// token, e.g. one obtained through a browser login.
func NewStaticTokenOption(token string) mql.RequestOption {
	return func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// Config configures the client credentials flow.
type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string

	// Audience is sent as the "audience" form parameter when set.
	Audience string

	// EarlyExpiry overrides DefaultEarlyExpiry.
	EarlyExpiry time.Duration
}

var errMissing = errors.New("oauth2: missing setting")

func (c *Config) validate() error {
	var missing []string
	if c.ClientID == "" {
		missing = append(missing, "client id")
	}
	if c.ClientSecret == "" {
		missing = append(missing, "client secret")
	}
	if c.TokenURL == "" {
		missing = append(missing, "token url")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", errMissing, strings.Join(missing, ", "))
	}
	return nil
}

// NewRequestOption returns a RequestOption that fetches tokens with the
// client credentials flow. Tokens are cached and refreshed ahead of expiry,
// so one option can serve many concurrent lifecycles.
func NewRequestOption(cfg Config) (mql.RequestOption, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
	if cfg.Audience != "" {
		cc.EndpointParams = url.Values{"audience": {cfg.Audience}}
	}

	early := cfg.EarlyExpiry
	if early <= 0 {
		early = DefaultEarlyExpiry
	}
	ts := oauth2.ReuseTokenSourceWithExpiry(nil, fetchSource{cc}, early)
	return TokenSource(ts), nil
}

// fetchSource asks the token endpoint on every call; caching is left to the
// reuse source wrapped around it.
type fetchSource struct {
	cc *clientcredentials.Config
}

func (f fetchSource) Token() (*oauth2.Token, error) {
	return f.cc.Token(context.Background())
}

// TokenSource adapts ts to a RequestOption. When no token can be obtained the
// request goes out without credentials and fails with a 401.
func TokenSource(ts oauth2.TokenSource) mql.RequestOption {
	return func(req *http.Request) {
		token, err := ts.Token()
		if err != nil {
			log.Warn().Err(err).Str("path", req.URL.Path).Msg("oauth2: no token for request")
			return
		}
		token.SetAuthHeader(req)
	}
}

// parseDSN moves the OAuth2 query parameters of dsn into a RequestOption
// (nil when there are none) and returns the DSN without them.
//
// access_token selects a static token and wins over the oauth2_* client
// credential parameters.
func parseDSN(dsn string) (mql.RequestOption, string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, "", fmt.Errorf("oauth2: invalid DSN: %w", err)
	}

	var (
		cfg         Config
		accessToken string
	)
	q := u.Query()
	for key := range q {
		val := q.Get(key)
		switch key {
		case "access_token":
			accessToken = val
		case "oauth2_client_id":
			cfg.ClientID = val
		case "oauth2_client_secret":
			cfg.ClientSecret = val
		case "oauth2_token_url":
			cfg.TokenURL = val
		case "oauth2_audience":
			cfg.Audience = val
		case "oauth2_scopes":
			for _, s := range strings.Split(val, ",") {
				if s = strings.TrimSpace(s); s != "" {
					cfg.Scopes = append(cfg.Scopes, s)
				}
			}
		case "oauth2_early_expiry":
			if cfg.EarlyExpiry, err = mql.ParseDuration(val); err != nil {
				return nil, "", fmt.Errorf("oauth2: invalid oauth2_early_expiry %q: %w", val, err)
			}
		default:
			continue
		}
		q.Del(key)
	}
	u.RawQuery = q.Encode()
	rest := u.String()

	switch {
	case accessToken != "":
		return NewStaticTokenOption(accessToken), rest, nil
	case cfg.ClientID != "" || cfg.ClientSecret != "" || cfg.TokenURL != "":
		opt, err := NewRequestOption(cfg)
		if err != nil {
			return nil, "", err
		}
		return opt, rest, nil
	}
	return nil, rest, nil
}

// NewClient builds an mql.Client from a DSN that may carry either
// access_token or the oauth2_client_id, oauth2_client_secret,
// oauth2_token_url, oauth2_scopes, oauth2_audience and oauth2_early_expiry
// parameters next to the regular ones.
func NewClient(dsn string) (*mql.Client, *mql.DSNConfig, error) {
	opt, rest, err := parseDSN(dsn)
	if err != nil {
		return nil, nil, err
	}
	if opt == nil {
		return mql.NewClientFromDSN(rest)
	}
	return mql.NewClientFromDSN(rest, opt)
}
