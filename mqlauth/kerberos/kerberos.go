// Package kerberos authenticates mql-go clients with SPNEGO on Kerberized
// networks. It lives apart from the root package so that only programs that
// need it link gokrb5.
package kerberos

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/jcmturner/gokrb5/v8/client"
	"github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/jcmturner/gokrb5/v8/spnego"
	"github.com/rs/zerolog/log"
	mql "github.com/transform-data/mql-go"
)

// Config describes a keytab login.
type Config struct {
	// KeytabPath and ConfigPath locate the keytab and krb5.conf.
	KeytabPath string
	ConfigPath string

	// Principal is "user" or "user@REALM". Realm is only needed when the
	// principal has no realm of its own.
	Principal string
	Realm     string

	// ServiceSPN defaults to "HTTP/<server host>".
	ServiceSPN string
}

var errMissing = errors.New("kerberos: missing setting")

func (c *Config) validate() error {
	var missing []string
	if c.KeytabPath == "" {
		missing = append(missing, "keytab path")
	}
	if c.ConfigPath == "" {
		missing = append(missing, "krb5.conf path")
	}
	if c.Principal == "" {
		missing = append(missing, "principal")
	} else if _, realm := splitPrincipal(c.Principal, c.Realm); realm == "" {
		missing = append(missing, "realm")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", errMissing, strings.Join(missing, ", "))
	}
	return nil
}

// splitPrincipal returns the user and realm of principal, using
// defaultRealm when principal carries none.
func splitPrincipal(principal, defaultRealm string) (string, string) {
	if user, realm, ok := strings.Cut(principal, "@"); ok {
		return user, realm
	}
	return principal, defaultRealm
}

// session owns a logged-in Kerberos client.
type session struct {
	cl   *client.Client
	once sync.Once
}

// Close destroys the Kerberos client. It is safe to call more than once.
func (s *session) Close() error {
	s.once.Do(s.cl.Destroy)
	return nil
}

func (s *session) apply(spn string) mql.RequestOption {
	return func(req *http.Request) {
		target := spn
		if target == "" {
			target = "HTTP/" + req.URL.Hostname()
		}
		// A request without the header gets a 401, surfaced to callers as a
		// transport error.
		if err := spnego.SetSPNEGOHeader(s.cl, req, target); err != nil {
			log.Warn().Err(err).Str("spn", target).Str("path", req.URL.Path).Msg("kerberos: could not negotiate")
		}
	}
}

// NewRequestOption logs in with the keytab and returns a RequestOption that
// sets the Negotiate header on every request. The io.Closer releases the
// login and should be closed together with the mql.Client.
func NewRequestOption(cfg Config) (mql.RequestOption, io.Closer, error) {
	if err := cfg.validate(); err != nil {
		return nil, nil, err
	}

	kt, err := keytab.Load(cfg.KeytabPath)
	if err != nil {
		return nil, nil, fmt.Errorf("kerberos: reading keytab %s: %w", cfg.KeytabPath, err)
	}
	krb5Conf, err := config.Load(cfg.ConfigPath)
	if err != nil {
		return nil, nil, fmt.Errorf("kerberos: reading krb5.conf %s: %w", cfg.ConfigPath, err)
	}

	user, realm := splitPrincipal(cfg.Principal, cfg.Realm)
	s := &session{cl: client.NewWithKeytab(user, realm, kt, krb5Conf)}
	if err := s.cl.Login(); err != nil {
		return nil, nil, fmt.Errorf("kerberos: login as %s@%s: %w", user, realm, err)
	}
	log.Debug().Str("principal", user+"@"+realm).Msg("kerberos: logged in")
	return s.apply(cfg.ServiceSPN), s, nil
}

// parseDSN moves the kerberos_* query parameters of dsn into a Config and
// returns the DSN without them, ready for mql.ParseDSN.
func parseDSN(dsn string) (*Config, string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, "", fmt.Errorf("kerberos: invalid DSN: %w", err)
	}

	cfg := &Config{}
	q := u.Query()
	for key := range q {
		var field *string
		switch key {
		case "kerberos_keytab":
			field = &cfg.KeytabPath
		case "kerberos_config":
			field = &cfg.ConfigPath
		case "kerberos_principal":
			field = &cfg.Principal
		case "kerberos_realm":
			field = &cfg.Realm
		case "kerberos_service_spn":
			field = &cfg.ServiceSPN
		default:
			continue
		}
		*field = q.Get(key)
		q.Del(key)
	}
	u.RawQuery = q.Encode()
	return cfg, u.String(), nil
}

// NewClient builds an mql.Client from a DSN that carries kerberos_* params
// next to the regular ones. Close the returned io.Closer when done.
func NewClient(dsn string) (*mql.Client, io.Closer, error) {
	cfg, rest, err := parseDSN(dsn)
	if err != nil {
		return nil, nil, err
	}
	opt, closer, err := NewRequestOption(*cfg)
	if err != nil {
		return nil, nil, err
	}
	c, _, err := mql.NewClientFromDSN(rest, opt)
	if err != nil {
		_ = closer.Close()
		return nil, nil, err
	}
	return c, closer, nil
}
