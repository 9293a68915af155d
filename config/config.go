// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/capsession/clientassertion"
	"github.com/hashicorp/capsession/oidc"
	"github.com/hashicorp/capsession/session"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidConfig is returned when the config file or environment can't
	// be parsed.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrReadFile is returned when a config, key or CA file can't be read.
	ErrReadFile = errors.New("unable to read file")
)

// DefaultSigningAlg is used when no signing_alg is configured.
const DefaultSigningAlg = clientassertion.RS256

// Config is the on disk representation of a session's configuration.  Every
// field may be overridden from the environment (see EnvPrefix).
type Config struct {
	Issuer      string `yaml:"issuer"`
	ClientID    string `yaml:"client_id"`
	RedirectURL string `yaml:"redirect_url"`

	// SigningKey is an inline PEM private key; SigningKeyFile is read when
	// it's empty.
	SigningKey     oidc.PrivateKeyPEM `yaml:"signing_key"`
	SigningKeyFile string             `yaml:"signing_key_file"`
	SigningAlg     string             `yaml:"signing_alg"`
	KeyID          string             `yaml:"key_id"`

	Scopes     []string          `yaml:"scopes"`
	AuthParams map[string]string `yaml:"auth_params"`

	// AssertionAudience is the canonical token endpoint used as the client
	// assertion audience.
	AssertionAudience string `yaml:"assertion_audience"`

	VerifyIdToken      bool     `yaml:"verify_id_token"`
	IdTokenSigningAlgs []string `yaml:"id_token_signing_algs"`

	PostLogoutRedirectURL string `yaml:"post_logout_redirect_url"`

	ProviderCA     string `yaml:"provider_ca"`
	ProviderCAFile string `yaml:"provider_ca_file"`
	Timeout        string `yaml:"timeout"`

	ProviderMetadata *oidc.ProviderMetadata `yaml:"provider_metadata"`
	PreferDiscovery  bool                   `yaml:"prefer_discovery"`

	Session struct {
		AutomaticRenew           bool   `yaml:"automatic_renew"`
		ExpiringNotificationTime string `yaml:"expiring_notification_time"`
		AuthRequestTTL           string `yaml:"auth_request_ttl"`
	} `yaml:"session"`

	// MetricsAddr is where the CLI serves /metrics; empty disables it.
	MetricsAddr string `yaml:"metrics_addr"`
}

// Load reads the YAML config at path, then applies the CAPSESSION_*
// environment overrides.  An empty path loads from the environment only.
//
// Supported options:
//   - WithEnvFile
//   - WithLookupEnv
func Load(path string, opt ...Option) (*Config, error) {
	const op = "config.Load"
	opts := getOpts(opt...)

	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %w", op, ErrReadFile, err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidConfig, err)
		}
	}

	lookup := opts.withLookupEnv
	if opts.withEnvFile != "" {
		fileEnv, err := godotenv.Read(opts.withEnvFile)
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %w", op, ErrReadFile, err)
		}
		lookup = withFallback(lookup, fileEnv)
	}
	if err := c.applyEnvOverrides(lookup); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if c.SigningAlg == "" {
		c.SigningAlg = string(DefaultSigningAlg)
	}
	return &c, nil
}

// OIDCConfig builds and validates the oidc.Config, reading the signing key
// and provider CA files when they aren't inline.
func (c *Config) OIDCConfig() (*oidc.Config, error) {
	const op = "Config.OIDCConfig"
	var result *multierror.Error

	key := c.SigningKey
	if key == "" && c.SigningKeyFile != "" {
		b, err := os.ReadFile(c.SigningKeyFile)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("signing key: %w: %w", ErrReadFile, err))
		}
		key = oidc.PrivateKeyPEM(b)
	}
	ca := c.ProviderCA
	if ca == "" && c.ProviderCAFile != "" {
		b, err := os.ReadFile(c.ProviderCAFile)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("provider CA: %w: %w", ErrReadFile, err))
		}
		ca = string(b)
	}
	timeout, err := parseDuration("timeout", c.Timeout)
	if err != nil {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	opts := []oidc.Option{
		oidc.WithKeyID(c.KeyID),
		oidc.WithScopes(c.Scopes...),
		oidc.WithAuthParams(c.AuthParams),
		oidc.WithAssertionAudience(c.AssertionAudience),
		oidc.WithPostLogoutRedirectURL(c.PostLogoutRedirectURL),
		oidc.WithProviderCA(ca),
		oidc.WithTimeout(timeout),
	}
	if c.ProviderMetadata != nil {
		opts = append(opts, oidc.WithStaticMetadata(c.ProviderMetadata, c.PreferDiscovery))
	}
	if c.VerifyIdToken {
		opts = append(opts, oidc.WithIdTokenVerification(c.IdTokenSigningAlgs...))
	}
	oc, err := oidc.NewConfig(c.Issuer, c.ClientID, c.RedirectURL, clientassertion.Algorithm(c.SigningAlg), key, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return oc, nil
}

// SessionOptions returns the session options configured in the session
// block.
func (c *Config) SessionOptions() ([]session.Option, error) {
	const op = "Config.SessionOptions"
	var result *multierror.Error
	notice, err := parseDuration("session.expiring_notification_time", c.Session.ExpiringNotificationTime)
	if err != nil {
		result = multierror.Append(result, err)
	}
	ttl, err := parseDuration("session.auth_request_ttl", c.Session.AuthRequestTTL)
	if err != nil {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	opts := []session.Option{session.WithAutomaticRenew(c.Session.AutomaticRenew)}
	if notice > 0 {
		opts = append(opts, session.WithExpiringNotificationTime(notice))
	}
	if ttl > 0 {
		opts = append(opts, session.WithAuthRequestTTL(ttl))
	}
	return opts, nil
}

func parseDuration(name, s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s %q: %w: %w", name, s, ErrInvalidConfig, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s %q is negative: %w", name, s, ErrInvalidConfig)
	}
	return d, nil
}

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

type options struct {
	withEnvFile   string
	withLookupEnv func(string) (string, bool)
}

func getOpts(opt ...Option) options {
	opts := options{withLookupEnv: os.LookupEnv}
	for _, o := range opt {
		if o != nil {
			o(&opts)
		}
	}
	return opts
}

// WithEnvFile provides a .env file whose variables are used when they aren't
// set in the environment.
func WithEnvFile(path string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withEnvFile = path
		}
	}
}

// WithLookupEnv provides an optional environment lookup (default:
// os.LookupEnv)
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && fn != nil {
			o.withLookupEnv = fn
		}
	}
}
