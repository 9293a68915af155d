// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/capsession/clientassertion"
	sdkHttp "github.com/hashicorp/capsession/sdk/http"
	"github.com/hashicorp/go-multierror"
)

// ScopeOpenID is the mandatory scope for all OpenID Connect OAuth2 requests.
const ScopeOpenID = oidc.ScopeOpenID

// Config represents the configuration for a typical 3-legged OIDC
// authorization code flow using private_key_jwt client authentication.
type Config struct {
	// ClientID is the relying party id
	ClientID string

	// RedirectURL is the URL where the provider will send the authorization
	// response.
	RedirectURL string

	// SigningKey is the PEM encoded private key used to sign client
	// assertions.  It's never logged.
	SigningKey PrivateKeyPEM

	// KeyID is the optional "kid" header of client assertions; it must match
	// the public key registered with the provider.
	KeyID string

	// SigningAlg is the client assertion signing algorithm.
	SigningAlg clientassertion.Algorithm

	// Scopes is a list of additional oidc scopes to request of the provider.
	// The required "openid" scope is requested by default.
	Scopes []string

	// AuthParams are additional authorization request parameters (for
	// example: acr_values, prompt, login_hint).
	AuthParams map[string]string

	// Issuer is a case-sensitive URL string using the https scheme that
	// contains scheme, host, and optionally, port number and path components
	// and no query or fragment components.  It's required unless
	// StaticMetadata is configured.
	Issuer string

	// StaticMetadata are optional statically configured provider endpoints.
	// When set they are used verbatim and no discovery request is made,
	// unless PreferDiscovery is set, in which case they are the fallback
	// when discovery fails.
	StaticMetadata *ProviderMetadata

	// PreferDiscovery attempts discovery even when StaticMetadata is set.
	PreferDiscovery bool

	// AssertionAudience is the canonical, externally reachable token
	// endpoint used as the client assertion "aud" claim.  Only needed when the
	// configured token endpoint is a locally proxied address; by default the
	// resolved token endpoint is the audience.
	AssertionAudience string

	// VerifyIdToken enables id_token signature, issuer, audience, expiry and
	// nonce verification.  When false, id_token claims are only decoded.
	VerifyIdToken bool

	// IdTokenSigningAlgs are the algorithms accepted when verifying
	// id_tokens.  Defaults to RS256.
	IdTokenSigningAlgs []string

	// PostLogoutRedirectURL is sent to the provider's end session endpoint.
	PostLogoutRedirectURL string

	// ProviderCA is an optional CA cert to use when sending requests to the provider.
	ProviderCA string

	// Timeout bounds every request to the provider.  Zero means the sdk/http
	// default.
	Timeout time.Duration
}

// NewConfig composes a new config for a provider.
//
// Supported options:
//   - WithScopes
//   - WithAuthParams
//   - WithStaticMetadata
//   - WithAssertionAudience
//   - WithIdTokenVerification
//   - WithPostLogoutRedirectURL
//   - WithProviderCA
//   - WithTimeout
func NewConfig(issuer, clientID, redirectURL string, alg clientassertion.Algorithm, signingKey PrivateKeyPEM, opt ...Option) (*Config, error) {
	const op = "NewConfig"
	opts := getConfigOpts(opt...)
	c := &Config{
		Issuer:                issuer,
		ClientID:              clientID,
		RedirectURL:           redirectURL,
		SigningKey:            signingKey,
		SigningAlg:            alg,
		KeyID:                 opts.withKeyID,
		Scopes:                opts.withScopes,
		AuthParams:            opts.withAuthParams,
		StaticMetadata:        opts.withStaticMetadata,
		PreferDiscovery:       opts.withPreferDiscovery,
		AssertionAudience:     opts.withAssertionAudience,
		VerifyIdToken:         opts.withVerifyIdToken,
		IdTokenSigningAlgs:    opts.withIdTokenSigningAlgs,
		PostLogoutRedirectURL: opts.withPostLogoutRedirectURL,
		ProviderCA:            opts.withProviderCA,
		Timeout:               opts.withTimeout,
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid provider config: %w", op, err)
	}
	return c, nil
}

// Validate the provider configuration.  Every problem found is reported,
// combined into a single error.  It verifies the signing key parses and
// matches SigningAlg, but it doesn't verify the Issuer is discoverable via an
// http request.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	var result *multierror.Error
	if c.ClientID == "" {
		result = multierror.Append(result, fmt.Errorf("client id is empty: %w", ErrInvalidParameter))
	}
	if c.RedirectURL == "" {
		result = multierror.Append(result, fmt.Errorf("redirect URL is empty: %w", ErrInvalidParameter))
	} else if !isAbsoluteHTTPURL(c.RedirectURL) {
		result = multierror.Append(result, fmt.Errorf("redirect URL %q is not an absolute http(s) URL: %w", c.RedirectURL, ErrInvalidParameter))
	}
	if c.SigningAlg == "" {
		result = multierror.Append(result, fmt.Errorf("signing algorithm is empty: %w", ErrInvalidParameter))
	} else if !c.SigningAlg.Supported() {
		result = multierror.Append(result, fmt.Errorf("%w %q", clientassertion.ErrUnsupportedAlgorithm, c.SigningAlg))
	} else if key, err := clientassertion.ParsePrivateKeyPEM(string(c.SigningKey)); err != nil {
		result = multierror.Append(result, err)
	} else if err := c.SigningAlg.Validate(key); err != nil {
		result = multierror.Append(result, err)
	}
	switch {
	case c.Issuer == "" && c.StaticMetadata == nil:
		result = multierror.Append(result, fmt.Errorf("issuer is empty and no static metadata is configured: %w", ErrInvalidParameter))
	case c.Issuer == "" && c.PreferDiscovery:
		result = multierror.Append(result, fmt.Errorf("discovery requires an issuer: %w", ErrInvalidParameter))
	case c.Issuer != "" && !isAbsoluteHTTPURL(c.Issuer):
		result = multierror.Append(result, fmt.Errorf("issuer %q is not an absolute http(s) URL: %w", c.Issuer, ErrInvalidIssuer))
	}
	if c.StaticMetadata != nil {
		if err := c.StaticMetadata.Validate(); err != nil {
			result = multierror.Append(result, fmt.Errorf("static metadata: %w", err))
		}
	}
	if c.AssertionAudience != "" && !isAbsoluteHTTPURL(c.AssertionAudience) {
		result = multierror.Append(result, fmt.Errorf("assertion audience %q is not an absolute http(s) URL: %w", c.AssertionAudience, ErrInvalidParameter))
	}
	if c.PostLogoutRedirectURL != "" && !isAbsoluteHTTPURL(c.PostLogoutRedirectURL) {
		result = multierror.Append(result, fmt.Errorf("post logout redirect URL %q is not an absolute http(s) URL: %w", c.PostLogoutRedirectURL, ErrInvalidParameter))
	}
	for _, a := range c.IdTokenSigningAlgs {
		if !clientassertion.Algorithm(a).Supported() {
			result = multierror.Append(result, fmt.Errorf("id_token signing algorithm %q: %w", a, ErrUnsupportedAlg))
		}
	}
	if c.Timeout < 0 {
		result = multierror.Append(result, fmt.Errorf("timeout is negative: %w", ErrInvalidParameter))
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ClientIdentity parses the signing key and returns the client's identity.
func (c *Config) ClientIdentity() (*ClientIdentity, error) {
	const op = "Config.ClientIdentity"
	id, err := NewClientIdentityFromPEM(c.ClientID, c.RedirectURL, c.SigningAlg, c.SigningKey, c.KeyID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return id, nil
}

// HTTPClient is a helper function that creates a new http client for the
// provider configured
func (c *Config) HTTPClient() (*http.Client, error) {
	const op = "Config.HTTPClient"
	client, err := sdkHttp.NewClient(c.ProviderCA, c.Timeout)
	if err != nil {
		if errors.Is(err, sdkHttp.ErrInvalidCertificatePem) {
			return nil, fmt.Errorf("%s: could not parse CA PEM value: %w", op, ErrInvalidCACert)
		}
		return nil, fmt.Errorf("%s: could not get an http client: %w", op, err)
	}
	return client, nil
}

// HTTPClientContext is a helper function that returns a new Context that
// carries the provided HTTP client. This method sets the same context key used
// by the github.com/coreos/go-oidc and golang.org/x/oauth2 packages, so the
// returned context works for those packages as well.
func HTTPClientContext(ctx context.Context, client *http.Client) context.Context {
	return sdkHttp.OidcClientContext(ctx, client)
}

func isAbsoluteHTTPURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "https" || u.Scheme == "http") && u.Host != ""
}

// configOptions is the set of available options
type configOptions struct {
	withKeyID                 string
	withScopes                []string
	withAuthParams            map[string]string
	withStaticMetadata        *ProviderMetadata
	withPreferDiscovery       bool
	withAssertionAudience     string
	withVerifyIdToken         bool
	withIdTokenSigningAlgs    []string
	withPostLogoutRedirectURL string
	withProviderCA            string
	withTimeout               time.Duration
}

// configDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func configDefaults() configOptions {
	return configOptions{}
}

// getConfigOpts gets the defaults and applies the opt overrides passed in.
func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithKeyID provides the "kid" of the client's signing key for the config
func WithKeyID(kid string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withKeyID = kid
		}
	}
}

// WithScopes provides an optional list of scopes for: Config, AuthURL
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *configOptions:
			v.withScopes = scopes
		case *authURLOptions:
			v.withScopes = scopes
		}
	}
}

// WithAuthParams provides optional authorization request parameters for:
// Config, AuthURL
func WithAuthParams(params map[string]string) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *configOptions:
			v.withAuthParams = params
		case *authURLOptions:
			if v.withAuthParams == nil {
				v.withAuthParams = map[string]string{}
			}
			for k, p := range params {
				v.withAuthParams[k] = p
			}
		}
	}
}

// WithStaticMetadata provides statically configured provider endpoints for
// the config.  When preferDiscovery is true they are only a fallback.
func WithStaticMetadata(md *ProviderMetadata, preferDiscovery bool) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withStaticMetadata = md
			o.withPreferDiscovery = preferDiscovery
		}
	}
}

// WithAssertionAudience provides the canonical token endpoint used as the
// client assertion audience for: Config, TokenEndpointClient
func WithAssertionAudience(aud string) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *configOptions:
			v.withAssertionAudience = aud
		case *tokenClientOptions:
			v.withAssertionAudience = aud
		}
	}
}

// WithIdTokenVerification enables id_token verification for the config,
// accepting the algs provided (RS256 if none).
func WithIdTokenVerification(algs ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withVerifyIdToken = true
			o.withIdTokenSigningAlgs = algs
		}
	}
}

// WithPostLogoutRedirectURL provides an optional post logout redirect URL for
// the config
func WithPostLogoutRedirectURL(u string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withPostLogoutRedirectURL = u
		}
	}
}

// WithProviderCA provides an optional CA cert for the provider's config
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withProviderCA = cert
		}
	}
}

// WithTimeout provides an optional request timeout for the config
func WithTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withTimeout = d
		}
	}
}
